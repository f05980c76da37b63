package polar

import (
	"fmt"
	"math"
)

// SkyCoordinate is a position on the celestial sphere in degrees.
// RADeg is taken modulo 360, DecDeg lies in [-90, 90].
type SkyCoordinate struct {
	RADeg  float64 `json:"ra_deg"`
	DecDeg float64 `json:"dec_deg"`
}

// Normalize returns the coordinate with RA wrapped into [0, 360)
// and Dec clamped into [-90, 90].
func (c SkyCoordinate) Normalize() SkyCoordinate {
	ra := math.Mod(c.RADeg, 360)
	if ra < 0 {
		ra += 360
	}
	dec := math.Max(-90, math.Min(90, c.DecDeg))
	return SkyCoordinate{RADeg: ra, DecDeg: dec}
}

// RAHours returns the right ascension in hours.
func (c SkyCoordinate) RAHours() float64 {
	return c.RADeg / 15.0
}

func (c SkyCoordinate) String() string {
	return FormatRA(c.RADeg) + " " + FormatDec(c.DecDeg)
}

// FormatRA formats a right ascension in degrees as HH:MM:SS.ss.
func FormatRA(deg float64) string {
	hours := SkyCoordinate{RADeg: deg}.Normalize().RAHours()
	h := int(hours)
	m := int((hours - float64(h)) * 60)
	s := ((hours-float64(h))*60 - float64(m)) * 60
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}

// FormatDec formats a declination in degrees as sDD:MM:SS.s.
func FormatDec(deg float64) string {
	sign := '+'
	if deg < 0 {
		sign = '-'
	}
	abs := math.Abs(deg)
	d := int(abs)
	m := int((abs - float64(d)) * 60)
	s := ((abs-float64(d))*60 - float64(m)) * 60
	return fmt.Sprintf("%c%02d:%02d:%04.1f", sign, d, m, s)
}

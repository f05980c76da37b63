package polar

import (
	"fmt"
	"math"

	"github.com/cjeanneret/PolarGo/internal/debug"
)

const (
	// minCosDec floors cos(dec) so the azimuth term stays finite within ~6° of the pole.
	minCosDec = 0.1

	// correctionEfficiency is the assumed fraction of residual error left after one
	// correction. Used for ETA display only.
	correctionEfficiency = 0.6

	maxEstimatedIterations = 20
)

// AlignmentError is the polar alignment error derived from one solve.
// Azimuth and altitude are in arcminutes, the total in arcseconds.
type AlignmentError struct {
	AzimuthArcmin  float64 `json:"az_arcmin"`
	AltitudeArcmin float64 `json:"alt_arcmin"`
	TotalArcsec    float64 `json:"total_arcsec"`
}

func (e AlignmentError) String() string {
	return fmt.Sprintf("AZ: %+.2f', ALT: %+.2f', Total: %.1f\"", e.AzimuthArcmin, e.AltitudeArcmin, e.TotalArcsec)
}

// Correction is a signed relative move in arcminutes for each adjuster axis.
type Correction struct {
	AzimuthArcmin  float64 `json:"az_arcmin"`
	AltitudeArcmin float64 `json:"alt_arcmin"`
}

// ComputeAlignmentError compares the solved centre of an image with the
// position the mount reports.
//
// The RA difference is scaled by 1/cos(dec) of the reported position and
// maps to azimuth; the Dec difference maps to altitude. This holds only when
// the mount points near the celestial pole.
//
// latitudeDeg is accepted for the meridian correction term but that term is
// not applied to the result; it is only traced.
func ComputeAlignmentError(solved, reported SkyCoordinate, latitudeDeg float64) AlignmentError {
	deltaRA := wrapDegrees(solved.RADeg - reported.RADeg)
	deltaDec := solved.DecDeg - reported.DecDeg

	deltaRAArcmin := deltaRA * 60
	deltaDecArcmin := deltaDec * 60

	cosDec := math.Max(math.Cos(reported.DecDeg*math.Pi/180), minCosDec)
	az := deltaRAArcmin / cosDec
	alt := deltaDecArcmin

	latRad := latitudeDeg * math.Pi / 180
	debug.Trace("PA error: dRA=%.2f' dDEC=%.2f' -> AZ=%.2f' ALT=%.2f' (lat sin=%.4f cos=%.4f unused)",
		deltaRAArcmin, deltaDecArcmin, az, alt, math.Sin(latRad), math.Cos(latRad))

	return AlignmentError{
		AzimuthArcmin:  az,
		AltitudeArcmin: alt,
		TotalArcsec:    60 * math.Hypot(az, alt),
	}
}

// ComputeCorrection turns an error into the move that cancels it.
// invertAzimuth flips the azimuth sign for drivetrains mounted the other way round.
func ComputeCorrection(e AlignmentError, invertAzimuth bool) Correction {
	az := -e.AzimuthArcmin
	if invertAzimuth {
		az = -az
	}
	return Correction{
		AzimuthArcmin:  az,
		AltitudeArcmin: e.AltitudeArcmin,
	}
}

// IsAligned reports whether the total error is strictly below the target.
func IsAligned(e AlignmentError, targetArcsec float64) bool {
	return e.TotalArcsec < targetArcsec
}

// EstimateIterations guesses how many more corrections are needed to reach
// the target, assuming each one removes 40% of the remaining error.
func EstimateIterations(currentArcsec, targetArcsec float64) int {
	if currentArcsec <= targetArcsec {
		return 0
	}
	n := 0
	for currentArcsec > targetArcsec && n < maxEstimatedIterations {
		currentArcsec *= correctionEfficiency
		n++
	}
	return n
}

// wrapDegrees maps an angle difference into (-180, 180].
func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

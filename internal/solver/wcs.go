package solver

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
)

// WCS is the subset of a FITS world coordinate header the solvers write:
// a TAN projection with a CD matrix.
type WCS struct {
	CRVAL1, CRVAL2 float64 // reference point, degrees
	CRPIX1, CRPIX2 float64 // reference pixel, 1-based
	CD11, CD12     float64 // degrees per pixel
	CD21, CD22     float64
	Width, Height  int // image size in pixels
}

// header is a flat view of FITS header cards.
type header map[string]interface{}

func (h header) float(key string) (float64, bool) {
	switch v := h[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func (h header) floatOr(key string, def float64) float64 {
	if v, ok := h.float(key); ok {
		return v
	}
	return def
}

// ReadWCSFile reads a solver .wcs file. Strict FITS files are decoded with
// fitsio; bare header dumps that are not block-padded fall back to reading
// the 80-column cards directly.
func ReadWCSFile(path string) (WCS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WCS{}, errors.Wrap(err, "read wcs")
	}
	h, err := decodeFITSHeader(data)
	if err != nil {
		debug.Verbose("Solver: fitsio could not decode %s (%v), reading raw cards", path, err)
		h = decodeCards(data)
	}
	return wcsFromHeader(h)
}

func decodeFITSHeader(data []byte) (header, error) {
	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdu := f.HDU(0)
	if hdu == nil {
		return nil, errors.New("no primary HDU")
	}
	h := header{}
	for _, key := range wcsKeys {
		if card := hdu.Header().Get(key); card != nil {
			h[key] = card.Value
		}
	}
	return h, nil
}

var wcsKeys = []string{
	"NAXIS1", "NAXIS2", "IMAGEW", "IMAGEH",
	"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2",
	"CD1_1", "CD1_2", "CD2_1", "CD2_2",
	"CDELT1", "CDELT2", "CROTA2",
}

// decodeCards reads KEY = VALUE / comment cards, one per 80 columns or per line.
func decodeCards(data []byte) header {
	h := header{}
	var lines []string
	if bytes.IndexByte(data, '\n') >= 0 {
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
	} else {
		for i := 0; i+80 <= len(data); i += 80 {
			lines = append(lines, string(data[i:i+80]))
		}
	}
	for _, line := range lines {
		key, rest, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(strings.TrimSpace(rest), "'") {
			s := strings.TrimSpace(rest)[1:]
			if i := strings.IndexByte(s, '\''); i >= 0 {
				s = s[:i]
			}
			h[key] = strings.TrimSpace(s)
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		h[key] = strings.TrimSpace(rest)
	}
	return h
}

func wcsFromHeader(h header) (WCS, error) {
	var w WCS
	var ok bool
	if w.CRVAL1, ok = h.float("CRVAL1"); !ok {
		return WCS{}, errors.New("wcs: missing CRVAL1")
	}
	if w.CRVAL2, ok = h.float("CRVAL2"); !ok {
		return WCS{}, errors.New("wcs: missing CRVAL2")
	}

	w.Width = int(h.floatOr("NAXIS1", h.floatOr("IMAGEW", 0)))
	w.Height = int(h.floatOr("NAXIS2", h.floatOr("IMAGEH", 0)))
	w.CRPIX1 = h.floatOr("CRPIX1", float64(w.Width)/2+0.5)
	w.CRPIX2 = h.floatOr("CRPIX2", float64(w.Height)/2+0.5)

	if cd11, ok := h.float("CD1_1"); ok {
		w.CD11 = cd11
		w.CD12 = h.floatOr("CD1_2", 0)
		w.CD21 = h.floatOr("CD2_1", 0)
		w.CD22 = h.floatOr("CD2_2", 0)
	} else if cdelt1, ok := h.float("CDELT1"); ok {
		cdelt2 := h.floatOr("CDELT2", cdelt1)
		rot := h.floatOr("CROTA2", 0) * math.Pi / 180
		w.CD11 = cdelt1 * math.Cos(rot)
		w.CD12 = -cdelt2 * math.Sin(rot)
		w.CD21 = cdelt1 * math.Sin(rot)
		w.CD22 = cdelt2 * math.Cos(rot)
	}
	return w, nil
}

// PixelToSky deprojects a 1-based pixel position through the TAN projection.
func (w WCS) PixelToSky(x, y float64) polar.SkyCoordinate {
	dx, dy := x-w.CRPIX1, y-w.CRPIX2
	xi := (w.CD11*dx + w.CD12*dy) * math.Pi / 180
	eta := (w.CD21*dx + w.CD22*dy) * math.Pi / 180

	ra0 := w.CRVAL1 * math.Pi / 180
	dec0 := w.CRVAL2 * math.Pi / 180
	den := math.Cos(dec0) - eta*math.Sin(dec0)

	ra := ra0 + math.Atan2(xi, den)
	dec := math.Atan2(math.Sin(dec0)+eta*math.Cos(dec0), math.Hypot(xi, den))
	return polar.SkyCoordinate{RADeg: ra * 180 / math.Pi, DecDeg: dec * 180 / math.Pi}.Normalize()
}

// Center returns the sky position of the image centre. Without image
// dimensions the reference point is used.
func (w WCS) Center() polar.SkyCoordinate {
	if w.Width <= 0 || w.Height <= 0 {
		return polar.SkyCoordinate{RADeg: w.CRVAL1, DecDeg: w.CRVAL2}.Normalize()
	}
	return w.PixelToSky(float64(w.Width)/2+1, float64(w.Height)/2+1)
}

// PixelScaleArcsec is the plate scale in arcseconds per pixel.
func (w WCS) PixelScaleArcsec() float64 {
	return math.Hypot(w.CD11, w.CD21) * 3600
}

// RotationDeg is the field rotation.
func (w WCS) RotationDeg() float64 {
	return math.Atan2(w.CD21, w.CD11) * 180 / math.Pi
}

// Result builds a solve result from the header.
func (w WCS) Result(solverName string) Result {
	scale := w.PixelScaleArcsec()
	return Result{
		Coord:            w.Center(),
		RotationDeg:      w.RotationDeg(),
		PixelScaleArcsec: scale,
		FOVWidthDeg:      float64(w.Width) * scale / 3600,
		FOVHeightDeg:     float64(w.Height) * scale / 3600,
		Solver:           solverName,
	}
}

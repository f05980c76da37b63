package geometry

import (
	"math"

	"github.com/pkg/errors"
)

// arcsecPerRadianMilli converts pixel pitch (um) over focal length (mm) to arcsec.
const arcsecPerRadianMilli = 206.264806

// ErrIncompleteOptics is returned when focal length or sensor size is missing.
var ErrIncompleteOptics = errors.New("focal length and sensor size are required for field of view")

// Optics is the imaging train seen by the plate solver.
type Optics struct {
	FocalLengthMm  float64
	SensorWidthMm  float64
	SensorHeightMm float64
	PixelSizeUm    float64 // optional
}

// Validate reports whether the field of view can be computed.
func (o Optics) Validate() error {
	for _, v := range []float64{o.FocalLengthMm, o.SensorWidthMm, o.SensorHeightMm} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return ErrIncompleteOptics
		}
	}
	return nil
}

// HorizontalFOV calculates the horizontal field of view in degrees.
// Formula: FOV = 2 × arctan(sensor_width / (2 × focal_length))
func (o Optics) HorizontalFOV() float64 {
	return fovDeg(o.SensorWidthMm, o.FocalLengthMm)
}

// VerticalFOV calculates the vertical field of view in degrees.
func (o Optics) VerticalFOV() float64 {
	return fovDeg(o.SensorHeightMm, o.FocalLengthMm)
}

// PixelScaleArcsec is the sky angle covered by one pixel, or 0 when the
// pixel size is unknown.
func (o Optics) PixelScaleArcsec() float64 {
	if o.PixelSizeUm <= 0 || o.FocalLengthMm <= 0 {
		return 0
	}
	return arcsecPerRadianMilli * o.PixelSizeUm / o.FocalLengthMm
}

// SolverHintDeg is the field width handed to a plate solver, or 0 (let the
// solver search) when the optics are incomplete.
func (o Optics) SolverHintDeg() float64 {
	if o.Validate() != nil {
		return 0
	}
	return o.HorizontalFOV()
}

func fovDeg(sensorMm, focalMm float64) float64 {
	return 2.0 * math.Atan(sensorMm/(2.0*focalMm)) * 180.0 / math.Pi
}

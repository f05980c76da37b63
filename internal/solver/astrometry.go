package solver

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
)

// Astrometry runs astrometry.net's solve-field. Success leaves both
// <image>.solved and <image>.wcs.
type Astrometry struct {
	opts Options
}

func NewAstrometry(opts Options) *Astrometry {
	return &Astrometry{opts: opts}
}

func (a *Astrometry) args(imagePath string) []string {
	args := []string{
		imagePath,
		"--no-plots",
		"--overwrite",
		"--no-remove-lines",
		"--uniformize", "0",
	}
	if a.opts.FOVHintDeg > 0 {
		f := a.opts.FOVHintDeg
		args = append(args,
			"--scale-low", strconv.FormatFloat(f*0.8, 'f', -1, 64),
			"--scale-high", strconv.FormatFloat(f*1.2, 'f', -1, 64),
			"--scale-units", "degwidth",
		)
	}
	return args
}

func (a *Astrometry) Solve(ctx context.Context, img camera.Image) (Result, error) {
	if !exists(img.Path) {
		return Result{}, errors.Errorf("image not found: %s", img.Path)
	}
	stderr, err := runSolver(ctx, a.opts.Timeout, a.opts.Path, a.args(img.Path)...)
	if err != nil {
		return Result{}, err
	}

	wcsPath := withExt(img.Path, ".wcs")
	if !exists(withExt(img.Path, ".solved")) || !exists(wcsPath) {
		return Result{}, errors.Wrapf(ErrNotSolved, "astrometry.net: %s", strings.TrimSpace(stderr))
	}
	w, err := ReadWCSFile(wcsPath)
	if err != nil {
		return Result{}, errors.Wrap(err, "astrometry.net")
	}
	res := w.Result("astrometry")
	debug.Live("Solved: %s (scale %.2f\"/px, rotation %.1f°)", res.Coord, res.PixelScaleArcsec, res.RotationDeg)
	return res, nil
}

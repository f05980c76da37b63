// Package solver runs external plate solvers and reads back their
// world coordinate solution.
package solver

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
)

var (
	// ErrNotSolved is returned when the solver ran but found no solution.
	ErrNotSolved = errors.New("plate solve failed")

	// ErrUnsupportedSolver is a configuration error: the selected backend does not exist.
	ErrUnsupportedSolver = errors.New("unsupported solver type")
)

// Result is a plate solution for one image.
type Result struct {
	Coord            polar.SkyCoordinate `json:"coord"`
	RotationDeg      float64             `json:"rotation_deg"`
	PixelScaleArcsec float64             `json:"pixel_scale_arcsec"`
	FOVWidthDeg      float64             `json:"fov_width_deg"`
	FOVHeightDeg     float64             `json:"fov_height_deg"`
	Solver           string              `json:"solver"`
}

// Solver finds the sky position of an image.
type Solver interface {
	Solve(ctx context.Context, img camera.Image) (Result, error)
}

// Options are shared by the external solvers.
type Options struct {
	Path            string
	Timeout         time.Duration
	SearchRadiusDeg float64
	FOVHintDeg      float64 // 0 = no hint
}

// withExt replaces the extension of path.
func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runSolver runs a solver binary bounded by timeout. A non-zero exit is not
// an error by itself: solvers report failure through their output files.
func runSolver(ctx context.Context, timeout time.Duration, path string, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	debug.Verbose("Solver: running %s %s", path, strings.Join(args, " "))
	start := time.Now()
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	debug.Verbose("Solver: %s finished in %v", filepath.Base(path), time.Since(start).Round(time.Millisecond))

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return stderr.String(), errors.Wrapf(ErrNotSolved, "%s timed out after %v", filepath.Base(path), timeout)
		}
		return stderr.String(), ctxErr
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return stderr.String(), errors.Wrapf(err, "run %s", path)
	}
	return stderr.String(), nil
}

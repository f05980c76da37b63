package alignment

import (
	"context"
	"time"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
	"github.com/cjeanneret/PolarGo/internal/solver"
)

// Measurement is the result of a single manual solve.
type Measurement struct {
	Solve    solver.Result         `json:"solved"`
	Reported *polar.SkyCoordinate  `json:"mount,omitempty"`
	Error    *polar.AlignmentError `json:"pa_error,omitempty"`
	Aligned  bool                  `json:"aligned"`
}

// Measure solves img and, when the mount position can be read, computes the
// polar error against it. A mount that cannot be read yields a measurement
// without error; a failed solve is returned as an error.
//
// The result is recorded in the session only if no run started meanwhile;
// a live run's session belongs to its loop.
func (r *Runner) Measure(ctx context.Context, img camera.Image, targetArcsec float64) (Measurement, error) {
	r.mu.Lock()
	if r.sess.running {
		r.mu.Unlock()
		return Measurement{}, ErrAlreadyRunning
	}
	gen, slv, settings := r.gen, r.p.Solver, r.p.Settings
	r.mu.Unlock()

	res, err := slv.Solve(ctx, img)
	if err != nil {
		return Measurement{}, err
	}
	m := Measurement{Solve: res}
	reported, err := readPosition(r.p.Mount)
	if err == nil {
		pe := polar.ComputeAlignmentError(res.Coord, reported, settings.LatitudeDeg)
		m.Reported = &reported
		m.Error = &pe
		m.Aligned = polar.IsAligned(pe, targetArcsec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess.running || r.gen != gen {
		debug.Verbose("Manual measurement not recorded: an alignment run started")
		return m, nil
	}
	r.sess.lastSolve = &res
	if m.Error != nil {
		pe := *m.Error
		r.sess.lastError = &pe
		r.sess.estimate = polar.EstimateIterations(pe.TotalArcsec, targetArcsec)
	}
	return m, nil
}

// Capture takes one frame. Zero exposure or gain selects the configured
// value. It is refused while a run is active.
func (r *Runner) Capture(ctx context.Context, exposure time.Duration, gain int) (camera.Image, error) {
	if r.Running() {
		return camera.Image{}, ErrAlreadyRunning
	}
	settings := r.Settings()
	if exposure <= 0 {
		exposure = settings.Exposure
	}
	if gain <= 0 {
		gain = settings.Gain
	}
	return r.p.Camera.Capture(ctx, exposure, gain)
}

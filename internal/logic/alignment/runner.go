package alignment

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/hw/mount"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
	"github.com/cjeanneret/PolarGo/internal/solver"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("alignment already running")

	// ErrInvalidTarget is returned by Start for a non-positive or NaN target.
	ErrInvalidTarget = errors.New("target accuracy must be a positive number of arcseconds")

	// ErrInvalidSettings is returned by UpdateSettings for out-of-range values.
	ErrInvalidSettings = errors.New("invalid alignment settings")
)

// DefaultMaxIterations bounds a run when Settings.MaxIterations is zero.
const DefaultMaxIterations = 20

// Mount is the part of the mount protocol the loop drives.
type Mount interface {
	Position() (ra, dec string, err error)
	IsAdjusting() (bool, error)
	MoveAzimuth(arcmin float64) error
	MoveAltitude(arcmin float64) error
}

// Camera takes one exposure.
type Camera interface {
	Capture(ctx context.Context, exposure time.Duration, gain int) (camera.Image, error)
}

// Solver plate-solves a captured image.
type Solver interface {
	Solve(ctx context.Context, img camera.Image) (solver.Result, error)
}

// Settings tune a run. A run keeps the settings it started with.
type Settings struct {
	Exposure      time.Duration
	Gain          int
	MaxIterations int
	LatitudeDeg   float64
	InvertAzimuth bool
}

// Validate checks the ranges UpdateSettings accepts.
func (s Settings) Validate() error {
	switch {
	case s.MaxIterations <= 0:
		return errors.Wrapf(ErrInvalidSettings, "max iterations must be positive, got %d", s.MaxIterations)
	case s.Exposure < 0:
		return errors.Wrapf(ErrInvalidSettings, "exposure must not be negative, got %v", s.Exposure)
	case s.Gain < 0:
		return errors.Wrapf(ErrInvalidSettings, "gain must not be negative, got %d", s.Gain)
	case math.IsNaN(s.LatitudeDeg) || s.LatitudeDeg < -90 || s.LatitudeDeg > 90:
		return errors.Wrapf(ErrInvalidSettings, "latitude must be between -90 and 90, got %v", s.LatitudeDeg)
	}
	return nil
}

// Timing holds the loop's waits.
type Timing struct {
	RetryPause   time.Duration // after a failed capture, solve or position read
	PostMove     time.Duration // before the first busy poll
	PollInterval time.Duration
	MaxPolls     int
	Settle       time.Duration // after the adjusters stop
}

// DefaultTiming: 2 s retry pause, 0.5 s post-move wait, 30 polls at 0.5 s, 1 s settle.
func DefaultTiming() Timing {
	return Timing{
		RetryPause:   2 * time.Second,
		PostMove:     500 * time.Millisecond,
		PollInterval: 500 * time.Millisecond,
		MaxPolls:     30,
		Settle:       time.Second,
	}
}

// Params are the collaborators and tuning of a Runner.
type Params struct {
	Mount    Mount
	Camera   Camera
	Solver   Solver
	Sink     EventSink
	Settings Settings
	Timing   Timing
}

// Runner owns the alignment session and runs at most one loop at a time.
type Runner struct {
	p Params

	mu      sync.Mutex
	sess    session
	gen     uint64 // bumped by every Start
	done    chan struct{}
	stopped atomic.Bool
	wake    chan struct{}
	once    *sync.Once
}

func NewRunner(p Params) *Runner {
	if p.Sink == nil {
		p.Sink = discardSink{}
	}
	if p.Settings.MaxIterations <= 0 {
		p.Settings.MaxIterations = DefaultMaxIterations
	}
	if p.Timing.MaxPolls <= 0 {
		p.Timing.MaxPolls = DefaultTiming().MaxPolls
	}
	done := make(chan struct{})
	close(done)
	return &Runner{
		p:    p,
		sess: session{state: StateIdle, maxIterations: p.Settings.MaxIterations},
		done: done,
	}
}

// Start launches a run toward targetArcsec. ctx bounds the whole run and is
// handed to the camera and solver; Stop is the cooperative way to end it.
func (r *Runner) Start(ctx context.Context, targetArcsec float64) error {
	if math.IsNaN(targetArcsec) || math.IsInf(targetArcsec, 0) || targetArcsec <= 0 {
		return errors.Wrapf(ErrInvalidTarget, "got %v", targetArcsec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess.running {
		return ErrAlreadyRunning
	}

	p := r.p
	r.gen++
	r.sess = session{
		maxIterations: p.Settings.MaxIterations,
		target:        targetArcsec,
		running:       true,
		state:         StateIdle,
		startedAt:     time.Now(),
	}
	r.stopped.Store(false)
	r.wake = make(chan struct{})
	r.once = &sync.Once{}
	r.done = make(chan struct{})

	go r.run(ctx, p, r.wake, r.done)
	return nil
}

// Settings returns the settings the next run will use.
func (r *Runner) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p.Settings
}

// UpdateSettings replaces the settings for later runs and manual captures.
// A run in progress keeps its own copy.
func (r *Runner) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p.Settings = s
	return nil
}

// SetSolver swaps the plate solver for later runs and manual solves.
func (r *Runner) SetSolver(s Solver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p.Solver = s
}

// Stop asks the current run to end at its next checkpoint. It is a no-op when idle.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sess.running {
		return
	}
	r.stopped.Store(true)
	wake, once := r.wake, r.once
	once.Do(func() { close(wake) })
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.running
}

// Snapshot returns a copy of the current or last session.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.snapshot()
}

// Done is closed when the current (or last) run has finished.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Wait blocks until the current run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.Done():
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// run owns the session until it clears running, which is its last write.
func (r *Runner) run(ctx context.Context, p Params, wake <-chan struct{}, done chan struct{}) {
	defer close(done)

	debug.Section("Auto-align")
	r.emit(LevelInfo, StateIdle, nil, "Auto-align started (target %.1f\")", r.target())

	outcome, failure := r.loop(ctx, p, wake)

	r.mu.Lock()
	r.sess.outcome = outcome
	if failure != nil {
		r.sess.failure = failure.Error()
	}
	r.mu.Unlock()

	// Aligned is announced by the loop itself.
	state := outcome.terminalState()
	switch outcome {
	case OutcomeCancelled:
		r.emit(LevelWarning, state, nil, "Auto-align cancelled")
	case OutcomeHardwareFault:
		r.emit(LevelError, state, nil, "Mount communication failed: %v", failure)
	case OutcomeMaxIterationsReached:
		r.emit(LevelWarning, state, nil, "Max iterations (%d) reached", p.Settings.MaxIterations)
	}

	r.emit(LevelInfo, StateIdle, nil, "Auto-align finished (%s)", outcome)
	debug.Info("Auto-align finished: %s", outcome)

	r.mu.Lock()
	r.sess.running = false
	r.sess.finishedAt = time.Now()
	r.mu.Unlock()
}

// loop runs iterations until an outcome is reached. Aligned is announced
// inside the loop because the success event carries the final error.
func (r *Runner) loop(ctx context.Context, p Params, wake <-chan struct{}) (Outcome, error) {
	s := p.Settings
	target := r.target()

	for iteration := 1; iteration <= s.MaxIterations; iteration++ {
		if r.stopRequested(ctx) {
			return OutcomeCancelled, nil
		}
		r.setIteration(iteration)

		// 1. Capture
		r.emit(LevelInfo, StateCapturing, nil, "Iteration %d: Capturing...", iteration)
		img, err := p.Camera.Capture(ctx, s.Exposure, s.Gain)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			r.emit(LevelWarning, StateCapturing, nil, "Capture failed: %v", err)
			r.pause(ctx, wake, r.p.Timing.RetryPause)
			continue
		}

		// 2. Solve
		r.emit(LevelInfo, StateSolving, nil, "Iteration %d: Solving...", iteration)
		res, err := p.Solver.Solve(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			r.emit(LevelWarning, StateSolving, nil, "Plate solve failed - check framing (%v)", err)
			r.pause(ctx, wake, r.p.Timing.RetryPause)
			continue
		}
		r.mu.Lock()
		r.sess.lastSolve = &res
		r.mu.Unlock()

		// 3. Measure
		r.emit(LevelInfo, StateMeasuring, nil, "Iteration %d: Solved %s, reading mount position", iteration, res.Coord)
		reported, err := readPosition(p.Mount)
		if err != nil {
			if isHardwareFault(err) {
				return OutcomeHardwareFault, err
			}
			r.emit(LevelError, StateMeasuring, nil, "Cannot read mount position: %v", err)
			r.pause(ctx, wake, r.p.Timing.RetryPause)
			continue
		}

		// 4. Error
		pe := polar.ComputeAlignmentError(res.Coord, reported, s.LatitudeDeg)
		estimate := polar.EstimateIterations(pe.TotalArcsec, target)
		r.mu.Lock()
		r.sess.lastError = &pe
		r.sess.estimate = estimate
		r.mu.Unlock()
		r.emit(LevelInfo, StateMeasuring, &pe, "Iteration %d: Error = %.1f\" (AZ: %+.2f', ALT: %+.2f', ~%d more)",
			iteration, pe.TotalArcsec, pe.AzimuthArcmin, pe.AltitudeArcmin, estimate)

		// 5. Done?
		if polar.IsAligned(pe, target) {
			r.emit(LevelSuccess, StateAligned, &pe, "Aligned! Final error: %.1f\"", pe.TotalArcsec)
			return OutcomeAligned, nil
		}

		// 6. Correct
		corr := polar.ComputeCorrection(pe, s.InvertAzimuth)
		r.emit(LevelInfo, StateCorrecting, &pe, "Applying correction: AZ=%+.2f', ALT=%+.2f'", corr.AzimuthArcmin, corr.AltitudeArcmin)
		debug.Move("azimuth", corr.AzimuthArcmin)
		if err := p.Mount.MoveAzimuth(corr.AzimuthArcmin); err != nil {
			return OutcomeHardwareFault, err
		}
		debug.Move("altitude", corr.AltitudeArcmin)
		if err := p.Mount.MoveAltitude(corr.AltitudeArcmin); err != nil {
			return OutcomeHardwareFault, err
		}

		// 7. Settle
		r.emit(LevelInfo, StateSettling, nil, "Iteration %d: Waiting for adjusters", iteration)
		if err := r.settle(ctx, wake); err != nil {
			return OutcomeHardwareFault, err
		}
	}
	return OutcomeMaxIterationsReached, nil
}

func readPosition(m Mount) (polar.SkyCoordinate, error) {
	raText, decText, err := m.Position()
	if err != nil {
		return polar.SkyCoordinate{}, err
	}
	ra, err := polar.ParseRightAscension(raText)
	if err != nil {
		return polar.SkyCoordinate{}, err
	}
	dec, err := polar.ParseDeclination(decText)
	if err != nil {
		return polar.SkyCoordinate{}, err
	}
	return polar.SkyCoordinate{RADeg: ra, DecDeg: dec}.Normalize(), nil
}

// settle waits for the adjusters: a post-move delay, busy polls up to
// MaxPolls, then the settle delay. A stop request shortens the waits but
// never interrupts a command already sent.
func (r *Runner) settle(ctx context.Context, wake <-chan struct{}) error {
	t := r.p.Timing
	if !r.pause(ctx, wake, t.PostMove) {
		return nil
	}
	for poll := 0; poll < t.MaxPolls; poll++ {
		busy, err := r.p.Mount.IsAdjusting()
		if err != nil {
			return err
		}
		if !busy {
			break
		}
		debug.Verbose("Adjusters moving (poll %d/%d)", poll+1, t.MaxPolls)
		if !r.pause(ctx, wake, t.PollInterval) {
			return nil
		}
	}
	r.pause(ctx, wake, t.Settle)
	return nil
}

// pause sleeps for d. It returns false if woken early by Stop or ctx.
func (r *Runner) pause(ctx context.Context, wake <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-wake:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return r.stopped.Load() || ctx.Err() != nil
}

func (r *Runner) target() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.target
}

func (r *Runner) setIteration(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sess.iteration = i
}

// emit records the state and publishes an event. The sink is called
// without holding the session lock.
func (r *Runner) emit(level Level, state State, pe *polar.AlignmentError, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	r.sess.state = state
	iteration := r.sess.iteration
	r.mu.Unlock()

	ev := Event{Time: time.Now(), Level: level, Message: msg, State: state, Iteration: iteration}
	if pe != nil {
		e := *pe
		ev.Error = &e
	}

	switch level {
	case LevelError, LevelWarning:
		debug.Warn("%s", msg)
	case LevelSuccess:
		debug.Info("%s", msg)
	default:
		debug.Live("%s", msg)
	}
	r.p.Sink.Emit(ev)
}

// isHardwareFault reports mount failures that end the run.
func isHardwareFault(err error) bool {
	return mount.IsTransportError(err) ||
		errors.Is(err, mount.ErrClosed) ||
		errors.Is(err, mount.ErrNotConnected)
}

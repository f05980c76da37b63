package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/config"
	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/hw/gpio"
	"github.com/cjeanneret/PolarGo/internal/hw/mount"
	"github.com/cjeanneret/PolarGo/internal/logic/alignment"
	"github.com/cjeanneret/PolarGo/internal/logic/geometry"
	"github.com/cjeanneret/PolarGo/internal/logic/motion"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
	"github.com/cjeanneret/PolarGo/internal/solver"
	"github.com/cjeanneret/PolarGo/internal/web"
)

// app is the wired hardware and alignment session for one process.
type app struct {
	cfg      *config.Config
	gpio     gpio.Driver
	link     *mount.Link
	sim      *mount.Simulator // nil unless mount.transport is mock
	runner   *alignment.Runner
	controls *motion.Controller

	mu         sync.Mutex // guards solverType
	solverType string
}

// newApp builds the camera, solver and runner around a disconnected mount
// link. Callers connect the link themselves. sink receives alignment events;
// it may be nil.
func newApp(ctx context.Context, cfg *config.Config, sink alignment.EventSink) (*app, error) {
	a := &app{cfg: cfg}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, errors.Wrap(err, "init GPIO")
	}
	a.gpio = g

	debug.Step(2, "Preparing mount link")
	debug.Value("Mount transport", cfg.Mount.Transport)
	debug.PrintStruct("Mount config", cfg.Mount)
	if cfg.Mount.Transport == "mock" {
		t, err := mount.OpenTransport(ctx, cfg.Mount)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sim = t.(*mount.Simulator)
	}
	a.link = mount.NewLink(a.dialMount)

	debug.Step(3, "Initializing camera")
	debug.Value("Camera type", cfg.Camera.Type)
	cam, err := newCamera(cfg, g)
	if err != nil {
		a.Close()
		return nil, err
	}

	debug.Step(4, "Initializing plate solver")
	debug.Value("Solver type", cfg.Solver.Type)
	slv, err := newSolver(cfg, a.truth())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.solverType = cfg.Solver.Type

	debug.PrintStruct("Alignment config", cfg.Alignment)
	a.runner = alignment.NewRunner(alignment.Params{
		Mount:  a.link,
		Camera: cam,
		Solver: slv,
		Sink:   sink,
		Settings: alignment.Settings{
			Exposure:      cfg.Exposure(),
			Gain:          cfg.Camera.Gain,
			MaxIterations: cfg.Alignment.MaxIterations,
			LatitudeDeg:   cfg.Site.LatitudeDeg,
			InvertAzimuth: cfg.Mount.InvertAzimuth,
		},
		Timing: alignment.Timing{
			RetryPause:   cfg.RetryPause(),
			PostMove:     cfg.PostMoveDelay(),
			PollInterval: cfg.PollInterval(),
			MaxPolls:     cfg.Alignment.MaxPolls,
			Settle:       cfg.SettleDelay(),
		},
	})
	a.controls = motion.NewController(a.link, a.runner.Running)
	return a, nil
}

// dialMount opens a fresh connection. The simulator survives reconnects so
// its polar error carries over, like a real mount's.
func (a *app) dialMount(ctx context.Context) (*mount.Client, error) {
	if a.sim != nil {
		a.sim.Reopen()
		return mount.Connect(ctx, a.sim, a.cfg.Mount.Vendor, 0)
	}
	t, err := mount.OpenTransport(ctx, a.cfg.Mount)
	if err != nil {
		return nil, err
	}
	return mount.Connect(ctx, t, a.cfg.Mount.Vendor, a.cfg.ConnectSettle())
}

// Configure applies settings from the web UI to the next run. The solver is
// rebuilt only when its type changes. Nothing is written back to the file.
func (a *app) Configure(s web.Settings) error {
	next := alignment.Settings{
		Exposure:      time.Duration(s.ExposureSec * float64(time.Second)),
		Gain:          s.Gain,
		MaxIterations: s.MaxIterations,
		LatitudeDeg:   s.LatitudeDeg,
		InvertAzimuth: s.InvertAzimuth,
	}
	if err := next.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s.SolverType != a.solverType {
		cfg := *a.cfg
		cfg.Solver.Type = s.SolverType
		slv, err := newSolver(&cfg, a.truth())
		if err != nil {
			return err
		}
		a.runner.SetSolver(slv)
		a.solverType = s.SolverType
		debug.Value("Solver type", s.SolverType)
	}
	return a.runner.UpdateSettings(next)
}

// truth returns where the simulated telescope really points, or nil when
// the mount is real.
func (a *app) truth() func() polar.SkyCoordinate {
	if a.sim == nil {
		return nil
	}
	return a.sim.TruePointing
}

// webDeps exposes the app to the HTTP surface.
func (a *app) webDeps(b *web.StatusBroadcaster) web.Deps {
	return web.Deps{
		Aligner:     a.runner,
		Controls:    a.controls,
		Mount:       a.link,
		Connection:  a.link,
		Configurer:  a,
		Broadcaster: b,
		Settings: web.Settings{
			TargetAccuracyArcsec: a.cfg.Alignment.TargetAccuracyArcsec,
			MaxIterations:        a.cfg.Alignment.MaxIterations,
			ExposureSec:          a.cfg.Camera.ExposureSec,
			Gain:                 a.cfg.Camera.Gain,
			MountTransport:       a.cfg.Mount.Transport,
			CameraType:           a.cfg.Camera.Type,
			SolverType:           a.cfg.Solver.Type,
			LatitudeDeg:          a.cfg.Site.LatitudeDeg,
			InvertAzimuth:        a.cfg.Mount.InvertAzimuth,
		},
	}
}

// Close stops any run, then releases the mount and GPIO.
func (a *app) Close() {
	if a.runner != nil {
		a.runner.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := a.runner.Wait(ctx); err != nil {
			debug.Warn("alignment did not stop in time: %v", err)
		}
		cancel()
	}
	if a.link != nil {
		if err := a.link.Disconnect(); err != nil {
			debug.Warn("closing mount failed: %v", err)
		}
	}
	if a.gpio != nil {
		if err := a.gpio.Close(); err != nil {
			debug.Warn("closing GPIO driver failed: %v", err)
		}
	}
}

// newCamera selects a camera implementation based on configuration.
func newCamera(cfg *config.Config, g gpio.Driver) (alignment.Camera, error) {
	switch cfg.Camera.Type {
	case "command":
		return camera.NewCommandCamera(cfg.Camera.Command, cfg.Camera.Args, cfg.Camera.CaptureDir), nil
	case "gpio_shutter":
		debug.Value("Focus pin", cfg.Camera.FocusPin)
		debug.Value("Shutter pin", cfg.Camera.ShutterPin)
		rr, err := camera.NewRemoteRelease(g,
			cfg.Camera.FocusPin,
			cfg.Camera.ShutterPin,
			cfg.FocusDelay(),
			cfg.DownloadTimeout(),
			cfg.Camera.WatchDir,
		)
		if err != nil {
			return nil, err
		}
		return rr, nil
	case "mock":
		return camera.NewMockCamera(cfg.Camera.CaptureDir), nil
	default:
		return nil, errors.Wrapf(camera.ErrUnsupportedCamera, "%q", cfg.Camera.Type)
	}
}

// newSolver selects a plate solver. The mock solver needs truth, which only
// the simulated mount can provide.
func newSolver(cfg *config.Config, truth func() polar.SkyCoordinate) (alignment.Solver, error) {
	opts := solver.Options{
		Path:            cfg.Solver.Path,
		Timeout:         cfg.SolverTimeout(),
		SearchRadiusDeg: cfg.Solver.SearchRadiusDeg,
		FOVHintDeg:      cfg.Solver.FOVHintDeg,
	}
	if opts.FOVHintDeg <= 0 {
		optics := geometry.Optics{
			FocalLengthMm:  cfg.Camera.FocalLengthMm,
			SensorWidthMm:  cfg.Camera.SensorWidthMm,
			SensorHeightMm: cfg.Camera.SensorHeightMm,
			PixelSizeUm:    cfg.Camera.PixelSizeUm,
		}
		opts.FOVHintDeg = optics.SolverHintDeg()
		if opts.FOVHintDeg > 0 {
			debug.Value("Field of view (deg)", fmt.Sprintf("%.2f x %.2f", optics.HorizontalFOV(), optics.VerticalFOV()))
		}
		if scale := optics.PixelScaleArcsec(); scale > 0 {
			debug.Value("Expected pixel scale (arcsec)", fmt.Sprintf("%.2f", scale))
		}
	}
	switch cfg.Solver.Type {
	case "astap":
		return solver.NewASTAP(opts), nil
	case "astrometry":
		return solver.NewAstrometry(opts), nil
	case "mock":
		if truth == nil {
			return nil, errors.Wrap(solver.ErrUnsupportedSolver, "mock solver requires mount.transport mock")
		}
		return solver.NewMockSolver(truth), nil
	default:
		return nil, errors.Wrapf(solver.ErrUnsupportedSolver, "%q", cfg.Solver.Type)
	}
}

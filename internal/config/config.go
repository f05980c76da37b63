package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// SimulatorConfig seeds the in-process mount simulator (mount.transport: mock).
type SimulatorConfig struct {
	AzimuthErrorArcmin  float64 `yaml:"az_error_arcmin"`  // initial polar error, azimuth
	AltitudeErrorArcmin float64 `yaml:"alt_error_arcmin"` // initial polar error, altitude
	Efficiency          float64 `yaml:"efficiency"`       // fraction of each commanded move actually applied (0-1]
	BusyPolls           int     `yaml:"busy_polls"`       // status queries reporting "moving" after a move
}

// MountConfig describes how to reach the mount.
// Transport selects the backend: "serial", "tcp" or "mock".
type MountConfig struct {
	Transport       string          `yaml:"transport"`
	Port            string          `yaml:"port"`              // serial device, e.g. /dev/ttyACM0
	BaudRate        int             `yaml:"baud_rate"`         // serial speed (OAT: 19200)
	Address         string          `yaml:"address"`           // host:port for tcp
	Vendor          string          `yaml:"vendor"`            // substring expected in the :GVP# reply
	InvertAzimuth   bool            `yaml:"invert_azimuth"`    // drivetrain-dependent azimuth sign
	ConnectSettleMs int             `yaml:"connect_settle_ms"` // wait after opening before the handshake
	Simulator       SimulatorConfig `yaml:"simulator"`
}

// CameraConfig describes how images are captured.
// Type selects a concrete implementation ("command", "gpio_shutter", "mock").
type CameraConfig struct {
	Type              string   `yaml:"type"`
	Command           string   `yaml:"command"`             // capture program for type=command
	Args              []string `yaml:"args"`                // templated args: {output} {exposure_us} {exposure_s} {gain}
	CaptureDir        string   `yaml:"capture_dir"`         // where captures are written
	ExposureSec       float64  `yaml:"exposure_s"`          // exposure used by the alignment loop
	Gain              int      `yaml:"gain"`                // gain used by the alignment loop
	FocusPin          int      `yaml:"focus_pin"`           // GPIO pin for the remote FOCUS line
	ShutterPin        int      `yaml:"shutter_pin"`         // GPIO pin for the remote SHUTTER line
	FocusDelayMs      int      `yaml:"focus_delay_ms"`      // autofocus delay before opening the shutter
	DownloadTimeoutMs int      `yaml:"download_timeout_ms"` // how long to wait for the camera's file
	WatchDir          string   `yaml:"watch_dir"`           // directory the tethered camera writes into
	FocalLengthMm     float64  `yaml:"focal_length_mm"`     // optics, used for the solver's field hint
	SensorWidthMm     float64  `yaml:"sensor_width_mm"`
	SensorHeightMm    float64  `yaml:"sensor_height_mm"`
	PixelSizeUm       float64  `yaml:"pixel_size_um"`
}

// SolverConfig selects the plate solver.
type SolverConfig struct {
	Type            string  `yaml:"type"` // "astap", "astrometry" or "mock"
	Path            string  `yaml:"path"`
	TimeoutS        int     `yaml:"timeout_s"`
	SearchRadiusDeg float64 `yaml:"search_radius_deg"`
	FOVHintDeg      float64 `yaml:"fov_hint_deg"` // optional, 0 = let the solver guess
}

// AlignmentConfig tunes the control loop.
type AlignmentConfig struct {
	TargetAccuracyArcsec float64 `yaml:"target_accuracy_arcsec"`
	MaxIterations        int     `yaml:"max_iterations"`
	RetryPauseMs         int     `yaml:"retry_pause_ms"`   // pause after a failed capture/solve/read
	PostMoveMs           int     `yaml:"post_move_ms"`     // wait before the first busy poll
	PollIntervalMs       int     `yaml:"poll_interval_ms"` // spacing of busy polls
	MaxPolls             int     `yaml:"max_polls"`        // cap on busy polls
	SettleMs             int     `yaml:"settle_ms"`        // settle time after motors stop
}

// SiteConfig is the observing location.
type SiteConfig struct {
	LatitudeDeg  float64 `yaml:"latitude"`
	LongitudeDeg float64 `yaml:"longitude"`
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	LogFormat  string `yaml:"log_format"`  // "text" or "json"
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Mount     MountConfig     `yaml:"mount"`
	Camera    CameraConfig    `yaml:"camera"`
	Solver    SolverConfig    `yaml:"solver"`
	Alignment AlignmentConfig `yaml:"alignment"`
	Site      SiteConfig      `yaml:"site"`
	Web       WebConfig       `yaml:"web"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files directly inside a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return errors.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return errors.Wrapf(err, "resolve config path %s", path)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return errors.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if len(data) > MaxConfigFileBytes {
		return nil, errors.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	// Mount
	switch cfg.Mount.Transport {
	case "":
		return fmt.Errorf("mount.transport is required")
	case "serial":
		if cfg.Mount.Port == "" {
			cfg.Mount.Port = "/dev/ttyACM0"
		}
	case "tcp":
		if cfg.Mount.Address == "" {
			return fmt.Errorf("mount.address is required for tcp transport")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported mount.transport: %s", cfg.Mount.Transport)
	}
	if cfg.Mount.BaudRate <= 0 {
		cfg.Mount.BaudRate = 19200
	}
	if cfg.Mount.Vendor == "" {
		cfg.Mount.Vendor = "OpenAstro"
	}
	if cfg.Mount.ConnectSettleMs <= 0 {
		cfg.Mount.ConnectSettleMs = 500
	}
	if cfg.Mount.Simulator.Efficiency <= 0 || cfg.Mount.Simulator.Efficiency > 1 {
		cfg.Mount.Simulator.Efficiency = 0.8
	}
	if cfg.Mount.Simulator.BusyPolls < 0 {
		cfg.Mount.Simulator.BusyPolls = 0
	}

	// Camera
	switch cfg.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case "command":
		if cfg.Camera.Command == "" {
			return fmt.Errorf("camera.command is required for command camera")
		}
	case "gpio_shutter":
		if cfg.Camera.ShutterPin <= 0 {
			return fmt.Errorf("camera.shutter_pin is required for gpio_shutter camera")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported camera.type: %s", cfg.Camera.Type)
	}
	if cfg.Camera.CaptureDir == "" {
		cfg.Camera.CaptureDir = filepath.Join(os.TempDir(), "polargo-captures")
	}
	if cfg.Camera.WatchDir == "" {
		cfg.Camera.WatchDir = cfg.Camera.CaptureDir
	}
	if cfg.Camera.ExposureSec <= 0 {
		cfg.Camera.ExposureSec = 2.0
	}
	if cfg.Camera.Gain <= 0 {
		cfg.Camera.Gain = 100
	}
	if cfg.Camera.FocusDelayMs <= 0 {
		cfg.Camera.FocusDelayMs = 500
	}
	if cfg.Camera.DownloadTimeoutMs <= 0 {
		cfg.Camera.DownloadTimeoutMs = 30000
	}
	for name, v := range map[string]float64{
		"focal_length_mm":  cfg.Camera.FocalLengthMm,
		"sensor_width_mm":  cfg.Camera.SensorWidthMm,
		"sensor_height_mm": cfg.Camera.SensorHeightMm,
		"pixel_size_um":    cfg.Camera.PixelSizeUm,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("camera.%s must not be negative, got %v", name, v)
		}
	}

	// Solver
	switch cfg.Solver.Type {
	case "":
		cfg.Solver.Type = "astap"
	case "astap", "astrometry", "mock":
	default:
		return fmt.Errorf("unsupported solver.type: %s", cfg.Solver.Type)
	}
	if cfg.Solver.Path == "" {
		switch cfg.Solver.Type {
		case "astap":
			cfg.Solver.Path = "/usr/bin/astap_cli"
		case "astrometry":
			cfg.Solver.Path = "/usr/bin/solve-field"
		}
	}
	if cfg.Solver.TimeoutS <= 0 {
		cfg.Solver.TimeoutS = 60
	}
	if cfg.Solver.SearchRadiusDeg <= 0 {
		cfg.Solver.SearchRadiusDeg = 30
	}

	// Alignment
	a := &cfg.Alignment
	if math.IsNaN(a.TargetAccuracyArcsec) || a.TargetAccuracyArcsec < 0 {
		return fmt.Errorf("alignment.target_accuracy_arcsec must be > 0, got %v", a.TargetAccuracyArcsec)
	}
	if a.TargetAccuracyArcsec == 0 {
		a.TargetAccuracyArcsec = 60
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = 20
	}
	if a.RetryPauseMs <= 0 {
		a.RetryPauseMs = 2000
	}
	if a.PostMoveMs <= 0 {
		a.PostMoveMs = 500
	}
	if a.PollIntervalMs <= 0 {
		a.PollIntervalMs = 500
	}
	if a.MaxPolls <= 0 {
		a.MaxPolls = 30
	}
	if a.SettleMs <= 0 {
		a.SettleMs = 1000
	}

	// Site
	if cfg.Site.LatitudeDeg < -90 || cfg.Site.LatitudeDeg > 90 {
		return fmt.Errorf("site.latitude must be between -90 and 90, got %.2f", cfg.Site.LatitudeDeg)
	}
	if cfg.Site.LongitudeDeg < -180 || cfg.Site.LongitudeDeg > 180 {
		return fmt.Errorf("site.longitude must be between -180 and 180, got %.2f", cfg.Site.LongitudeDeg)
	}

	if cfg.Web.Addr == "" {
		cfg.Web.Addr = ":5000"
	}
	if cfg.Defaults.LogFormat == "" {
		cfg.Defaults.LogFormat = "text"
	}
	return nil
}

// Exposure returns the capture exposure used by the alignment loop.
func (c *Config) Exposure() time.Duration {
	return time.Duration(c.Camera.ExposureSec * float64(time.Second))
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// DownloadTimeout returns how long to wait for a tethered camera's file.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Camera.DownloadTimeoutMs) * time.Millisecond
}

// SolverTimeout returns the maximum plate solve duration.
func (c *Config) SolverTimeout() time.Duration {
	return time.Duration(c.Solver.TimeoutS) * time.Second
}

// ConnectSettle returns the wait between opening the mount link and the handshake.
func (c *Config) ConnectSettle() time.Duration {
	return time.Duration(c.Mount.ConnectSettleMs) * time.Millisecond
}

// RetryPause returns the pause after a failed capture, solve or position read.
func (c *Config) RetryPause() time.Duration {
	return time.Duration(c.Alignment.RetryPauseMs) * time.Millisecond
}

// PostMoveDelay returns the wait before polling the motors after a move.
func (c *Config) PostMoveDelay() time.Duration {
	return time.Duration(c.Alignment.PostMoveMs) * time.Millisecond
}

// PollInterval returns the spacing between motor busy polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Alignment.PollIntervalMs) * time.Millisecond
}

// SettleDelay returns the settle time applied after the motors stop.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Alignment.SettleMs) * time.Millisecond
}

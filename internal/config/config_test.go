package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"/tmp/default.yaml",
		"../../etc/passwd.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
mount:
  transport: "serial"
  port: "/dev/ttyUSB0"
  baud_rate: 9600
  invert_azimuth: true
camera:
  type: "gpio_shutter"
  focus_pin: 24
  shutter_pin: 25
  exposure_s: 4
  gain: 200
solver:
  type: "astrometry"
  timeout_s: 90
alignment:
  target_accuracy_arcsec: 30
  max_iterations: 12
site:
  latitude: 46.2
  longitude: 6.1
defaults:
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mount.Transport != "serial" || cfg.Mount.Port != "/dev/ttyUSB0" || cfg.Mount.BaudRate != 9600 {
		t.Errorf("mount = %+v", cfg.Mount)
	}
	if !cfg.Mount.InvertAzimuth {
		t.Error("mount.invert_azimuth should be true")
	}
	if cfg.Camera.Type != "gpio_shutter" || cfg.Camera.ShutterPin != 25 {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Exposure() != 4*time.Second {
		t.Errorf("Exposure() = %v, want 4s", cfg.Exposure())
	}
	if cfg.Solver.Path != "/usr/bin/solve-field" {
		t.Errorf("solver.path default = %q", cfg.Solver.Path)
	}
	if cfg.SolverTimeout() != 90*time.Second {
		t.Errorf("SolverTimeout() = %v", cfg.SolverTimeout())
	}
	if cfg.Alignment.TargetAccuracyArcsec != 30 || cfg.Alignment.MaxIterations != 12 {
		t.Errorf("alignment = %+v", cfg.Alignment)
	}
	if cfg.Site.LatitudeDeg != 46.2 {
		t.Errorf("site.latitude = %v", cfg.Site.LatitudeDeg)
	}
}

func TestLoad_MissingTransport(t *testing.T) {
	path := writeConfig(t, `
camera:
  type: "mock"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing mount.transport, got nil")
	}
}

func TestLoad_UnsupportedSelections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"mount", "mount:\n  transport: indi\ncamera:\n  type: mock\n"},
		{"camera", "mount:\n  transport: mock\ncamera:\n  type: v4l2\n"},
		{"solver", "mount:\n  transport: mock\ncamera:\n  type: mock\nsolver:\n  type: platesolve2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), "unsupported") {
				t.Errorf("expected unsupported error, got %v", err)
			}
		})
	}
}

func TestLoad_BackendRequirements(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"tcp_without_address", "mount:\n  transport: tcp\ncamera:\n  type: mock\n"},
		{"command_without_program", "mount:\n  transport: mock\ncamera:\n  type: command\n"},
		{"gpio_without_shutter", "mount:\n  transport: mock\ncamera:\n  type: gpio_shutter\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_OutOfRange(t *testing.T) {
	cases := []struct {
		name  string
		extra string
	}{
		{"negative_target", "alignment:\n  target_accuracy_arcsec: " + formatFloat(-5)},
		{"latitude_over_90", "site:\n  latitude: " + formatFloat(91)},
		{"longitude_under_-180", "site:\n  longitude: " + formatFloat(-181)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			yaml := "mount:\n  transport: mock\ncamera:\n  type: mock\n" + tc.extra + "\n"
			if _, err := Load(writeConfig(t, yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_Optics(t *testing.T) {
	base := "mount:\n  transport: mock\ncamera:\n  type: mock\n"

	cfg, err := Load(writeConfig(t, base+"  focal_length_mm: 50\n  sensor_width_mm: 6.29\n  sensor_height_mm: 4.71\n  pixel_size_um: 1.55\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.FocalLengthMm != 50 || cfg.Camera.PixelSizeUm != 1.55 {
		t.Errorf("optics = %+v", cfg.Camera)
	}

	if _, err := Load(writeConfig(t, base+"  focal_length_mm: -50\n")); err == nil {
		t.Error("expected error for negative focal length, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, `
mount:
  transport: "serial"
camera:
  type: "mock"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mount.Port != "/dev/ttyACM0" {
		t.Errorf("mount.port default = %q", cfg.Mount.Port)
	}
	if cfg.Mount.BaudRate != 19200 {
		t.Errorf("mount.baud_rate default = %d, want 19200", cfg.Mount.BaudRate)
	}
	if cfg.Mount.Vendor != "OpenAstro" {
		t.Errorf("mount.vendor default = %q", cfg.Mount.Vendor)
	}
	if cfg.Mount.InvertAzimuth {
		t.Error("mount.invert_azimuth must default to false")
	}
	if cfg.Solver.Type != "astap" || cfg.Solver.Path != "/usr/bin/astap_cli" {
		t.Errorf("solver defaults = %+v", cfg.Solver)
	}
	if cfg.Camera.ExposureSec != 2.0 || cfg.Camera.Gain != 100 {
		t.Errorf("camera exposure/gain defaults = %v/%d", cfg.Camera.ExposureSec, cfg.Camera.Gain)
	}
	if cfg.Camera.WatchDir != cfg.Camera.CaptureDir {
		t.Errorf("watch_dir should default to capture_dir")
	}
	if cfg.Alignment.TargetAccuracyArcsec != 60 || cfg.Alignment.MaxIterations != 20 {
		t.Errorf("alignment defaults = %+v", cfg.Alignment)
	}
	if cfg.Alignment.MaxPolls != 30 || cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("poll defaults = %d x %v", cfg.Alignment.MaxPolls, cfg.PollInterval())
	}
	if cfg.RetryPause() != 2*time.Second || cfg.SettleDelay() != time.Second || cfg.PostMoveDelay() != 500*time.Millisecond {
		t.Errorf("timing defaults = %v %v %v", cfg.RetryPause(), cfg.SettleDelay(), cfg.PostMoveDelay())
	}
	if cfg.Web.Addr != ":5000" {
		t.Errorf("web.addr default = %q", cfg.Web.Addr)
	}
	if cfg.Mount.Simulator.Efficiency != 0.8 {
		t.Errorf("simulator.efficiency default = %v", cfg.Mount.Simulator.Efficiency)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	if _, err := Load(path); err == nil {
		t.Error("expected error for empty config (mount.transport missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	path := writeConfig(t, `
mount:
  transport: "mock"
camera:
  type: "mock"
unknown_section:
  foo: bar
`)
	if _, err := Load(path); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_ShippedDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("shipped config must load: %v", err)
	}
	if cfg.Mount.Transport != "mock" || cfg.Camera.Type != "mock" || cfg.Solver.Type != "mock" {
		t.Errorf("shipped config should run fully simulated, got %s/%s/%s",
			cfg.Mount.Transport, cfg.Camera.Type, cfg.Solver.Type)
	}
}

// ---------- Helper methods ----------

func TestConfig_DurationAccessors(t *testing.T) {
	cfg := &Config{
		Mount:     MountConfig{ConnectSettleMs: 250},
		Camera:    CameraConfig{ExposureSec: 1.5, FocusDelayMs: 400, DownloadTimeoutMs: 10000},
		Solver:    SolverConfig{TimeoutS: 45},
		Alignment: AlignmentConfig{RetryPauseMs: 100, PostMoveMs: 200, PollIntervalMs: 300, SettleMs: 400},
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"Exposure", cfg.Exposure(), 1500 * time.Millisecond},
		{"FocusDelay", cfg.FocusDelay(), 400 * time.Millisecond},
		{"DownloadTimeout", cfg.DownloadTimeout(), 10 * time.Second},
		{"SolverTimeout", cfg.SolverTimeout(), 45 * time.Second},
		{"ConnectSettle", cfg.ConnectSettle(), 250 * time.Millisecond},
		{"RetryPause", cfg.RetryPause(), 100 * time.Millisecond},
		{"PostMoveDelay", cfg.PostMoveDelay(), 200 * time.Millisecond},
		{"PollInterval", cfg.PollInterval(), 300 * time.Millisecond},
		{"SettleDelay", cfg.SettleDelay(), 400 * time.Millisecond},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s() = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

// formatFloat is a test helper for embedding floats into YAML strings.
func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/PolarGo/internal/config"
	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/mount"
	"github.com/cjeanneret/PolarGo/internal/logic/alignment"
	"github.com/cjeanneret/PolarGo/internal/web"
)

// errNotAligned makes `polargo align` exit non-zero when a run ends without alignment.
var errNotAligned = errors.New("polar alignment not reached")

var (
	cfgPath  = filepath.Join("configs", "default.yaml")
	logLevel string
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewCommand builds the polargo command tree.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "polargo",
		Short:         "Automated polar alignment for LX200 mounts with motorized adjusters",
		SilenceUsage:  true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&cfgPath, "config", "c", cfgPath, "path to config file (configs/*.yaml)")
	globalFlags.StringVarP(&logLevel, "log-level", "l", "", "debug level: off, info, live, verbose, trace or 0-4 (default from config)")

	cmd.AddCommand(
		NewServeCommand(),
		NewAlignCommand(),
		NewStatusCommand(),
	)
	return cmd
}

// NewServeCommand runs the web UI and API until interrupted.
func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Web.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			broadcaster := web.NewStatusBroadcaster()
			a, err := newApp(ctx, cfg, broadcaster)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.link.Connect(ctx); err != nil {
				debug.Warn("Mount not connected, use Connect in the web UI: %v", err)
			}

			srv, err := web.NewServer(cfg.Web.Addr, a.webDeps(broadcaster))
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config web.addr)")
	return cmd
}

// NewAlignCommand runs one alignment in the terminal.
func NewAlignCommand() *cobra.Command {
	var (
		target        float64
		maxIterations int
	)
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Run one automated alignment and exit 0 only when aligned",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateAlignFlags(target, maxIterations); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyAlignFlags(cfg, target, maxIterations)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, printSink(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.link.Connect(ctx); err != nil {
				return err
			}

			snap, err := runAlignment(ctx, a.runner, cfg.Alignment.TargetAccuracyArcsec)
			if err != nil {
				return err
			}
			if snap.Outcome != alignment.OutcomeAligned {
				return errors.Wrapf(errNotAligned, "outcome %s", snap.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().Float64VarP(&target, "target", "t", 0, "target accuracy in arcseconds (default from config)")
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "m", 0, "iteration limit (default from config)")
	return cmd
}

// NewStatusCommand prints one live mount status query.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the mount once and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, err := mount.Dial(ctx, cfg.Mount)
			if err != nil {
				return err
			}
			defer client.Close()
			return printStatus(cmd.OutOrStdout(), client)
		},
	}
}

// runAlignment starts a run and waits for its outcome.
func runAlignment(ctx context.Context, r *alignment.Runner, target float64) (alignment.Snapshot, error) {
	if err := r.Start(ctx, target); err != nil {
		return alignment.Snapshot{}, err
	}
	// The run observes ctx itself; Wait must outlive it to collect the outcome.
	return r.Wait(context.Background())
}

type statusReader interface {
	Status() (mount.Status, error)
	Position() (ra, dec string, err error)
}

func printStatus(w io.Writer, m statusReader) error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	ra, dec, err := m.Position()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "RA:        %s\n", ra)
	fmt.Fprintf(w, "Dec:       %s\n", dec)
	fmt.Fprintf(w, "Tracking:  %t\n", st.Tracking)
	fmt.Fprintf(w, "Slewing:   %t\n", st.Slewing)
	fmt.Fprintf(w, "Adjusting: %t (az %t, alt %t)\n", st.Adjusting(), st.AzimuthBusy, st.AltitudeBusy)
	return nil
}

var levelColors = map[alignment.Level]*color.Color{
	alignment.LevelInfo:    color.New(color.FgCyan),
	alignment.LevelWarning: color.New(color.FgYellow),
	alignment.LevelError:   color.New(color.Bold, color.FgRed),
	alignment.LevelSuccess: color.New(color.Bold, color.FgGreen),
}

// printSink writes each alignment event as one line. Colours are dropped
// when stdout is not a terminal.
func printSink(w io.Writer) alignment.EventSink {
	return alignment.EventSinkFunc(func(ev alignment.Event) {
		tag := fmt.Sprintf("%-7s", ev.Level)
		if c, ok := levelColors[ev.Level]; ok {
			tag = c.Sprint(tag)
		}
		fmt.Fprintf(w, "%s [%s] %s\n", ev.Time.Format("15:04:05"), tag, ev.Message)
	})
}

// loadConfig validates the path, loads the file and initialises logging.
func loadConfig() (*config.Config, error) {
	if err := config.ValidateConfigPath(cfgPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if logLevel != "" {
		lvl, err := parseLogLevel(logLevel)
		if err != nil {
			return nil, err
		}
		cfg.Defaults.DebugLevel = lvl
	}

	debug.Init(cfg.Defaults.DebugLevel, cfg.Defaults.LogFormat)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return cfg, nil
}

var logLevelNames = map[string]int{
	"off":     debug.LevelOff,
	"info":    debug.LevelInfo,
	"live":    debug.LevelLive,
	"verbose": debug.LevelVerbose,
	"trace":   debug.LevelTrace,
}

// parseLogLevel accepts a level name or its number.
func parseLogLevel(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if lvl, ok := logLevelNames[s]; ok {
		return lvl, nil
	}
	lvl, err := strconv.Atoi(s)
	if err != nil || lvl < debug.LevelOff || lvl > debug.LevelTrace {
		return 0, errors.Errorf("invalid log level %q (off, info, live, verbose, trace or 0-4)", s)
	}
	return lvl, nil
}

// validateAlignFlags checks the align overrides. Zero means "use config default".
func validateAlignFlags(target float64, maxIterations int) error {
	if target != 0 && (math.IsNaN(target) || math.IsInf(target, 0) || target < 0) {
		return errors.Wrapf(alignment.ErrInvalidTarget, "--target %g", target)
	}
	if maxIterations < 0 {
		return errors.Errorf("--max-iterations must be positive, got %d", maxIterations)
	}
	return nil
}

// applyAlignFlags mutates cfg with non-zero overrides.
func applyAlignFlags(cfg *config.Config, target float64, maxIterations int) {
	if target > 0 {
		cfg.Alignment.TargetAccuracyArcsec = target
	}
	if maxIterations > 0 {
		cfg.Alignment.MaxIterations = maxIterations
	}
}

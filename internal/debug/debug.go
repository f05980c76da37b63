package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (connection, run start/end, alignment result)
	LevelLive    = 2 // Live info (iterations, moves, captures)
	LevelVerbose = 3 // Verbose (error components, solver details)
	LevelTrace   = 4 // Trace (serial commands, GPIO, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	logger = newLogger(os.Stdout, "text")
)

func newLogger(w io.Writer, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.TraceLevel)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return l
	}
	tf := &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"}
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		tf.DisableColors = true
	}
	l.SetFormatter(tf)
	return l
}

// Init initializes the debug system with a level (0-4) and an output format
// ("text" or "json").
// 0 = no output
// 1 = important info (connection, run start and outcome)
// 2 = live info (iterations, moves, captures)
// 3 = verbose (error components, solver details)
// 4 = trace (serial traffic, GPIO)
func Init(debugLevel int, format string) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logger = newLogger(logger.Out, format)
}

// SetOutput redirects debug output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func logAt(minLevel int, lvl logrus.Level, tag, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel {
		return
	}
	logger.WithField("tag", tag).Logf(lvl, format, args...)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	logAt(LevelInfo, logrus.InfoLevel, "info", format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	logAt(LevelInfo, logrus.WarnLevel, "info", format, args...)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level >= LevelInfo {
		logger.WithField(name, value).Info("value")
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if err == nil {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	if level >= LevelInfo {
		logger.WithError(err).Error("error")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	logAt(LevelLive, logrus.InfoLevel, "live", format, args...)
}

// Move prints an adjuster move (level 2).
func Move(axis string, arcmin float64) {
	mu.RLock()
	defer mu.RUnlock()
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{"axis": axis, "arcmin": fmt.Sprintf("%+.2f", arcmin)}).Info("move")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	logAt(LevelVerbose, logrus.DebugLevel, "verbose", format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	logAt(LevelVerbose, logrus.DebugLevel, "verbose", "%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	logAt(LevelVerbose, logrus.DebugLevel, "section", "━━━━━━━━ %s ━━━━━━━━", name)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	logAt(LevelVerbose, logrus.DebugLevel, "step", "Step %d: %s", num, description)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	logAt(LevelTrace, logrus.TraceLevel, "trace", format, args...)
}

// Command prints one leg of serial traffic (level 4). dir is "tx" or "rx".
func Command(dir string, payload string) {
	mu.RLock()
	defer mu.RUnlock()
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"dir": dir, "payload": payload}).Trace("lx200")
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"op": operation, "pin": pin, "value": value}).Trace("gpio")
	}
}

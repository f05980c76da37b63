package mount

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
)

// SimulatorOptions seeds a Simulator.
type SimulatorOptions struct {
	AzimuthErrorArcmin  float64
	AltitudeErrorArcmin float64
	Efficiency          float64 // fraction of each move applied, (0,1]
	BusyPolls           int     // :GX# queries reporting a moving adjuster after each move
	InvertAzimuth       bool    // azimuth drivetrain wired backwards
}

// Simulator is an in-process OpenAstroTracker. It implements Transport and
// keeps a polar misalignment that the adjuster commands reduce.
type Simulator struct {
	mu sync.Mutex

	opts SimulatorOptions

	raDeg, decDeg   float64 // reported pointing
	azErr, altErr   float64 // arcmin
	azBusy, altBusy int
	azSteps         int
	altSteps        int
	tracking        bool
	slewing         bool

	in          []byte
	out         []byte
	commands    []string
	muted       map[string]bool
	writeErr    error
	readTimeout time.Duration
	closed      bool
}

// NewSimulator returns a simulator pointing near the celestial pole.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Efficiency <= 0 || opts.Efficiency > 1 {
		opts.Efficiency = 1
	}
	return &Simulator{
		opts:        opts,
		raDeg:       37.95, // 02:31:48
		decDeg:      89.26, // +89*15'36"
		azErr:       opts.AzimuthErrorArcmin,
		altErr:      opts.AltitudeErrorArcmin,
		tracking:    true,
		muted:       make(map[string]bool),
		readTimeout: ResponseTimeout,
	}
}

// TruePointing is where the optical axis actually points: the reported
// position offset by the remaining polar error.
func (s *Simulator) TruePointing() polar.SkyCoordinate {
	s.mu.Lock()
	defer s.mu.Unlock()
	cosDec := math.Max(math.Cos(s.decDeg*math.Pi/180), 0.1)
	return polar.SkyCoordinate{
		RADeg:  s.raDeg + s.azErr*cosDec/60,
		DecDeg: s.decDeg + s.altErr/60,
	}.Normalize()
}

// PolarError returns the remaining azimuth and altitude error in arcmin.
func (s *Simulator) PolarError() (az, alt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.azErr, s.altErr
}

// SetPointing changes the reported pointing.
func (s *Simulator) SetPointing(raDeg, decDeg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raDeg, s.decDeg = raDeg, decDeg
}

// Mute makes the simulator swallow replies to cmd (e.g. ":GR#").
func (s *Simulator) Mute(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[cmd] = true
}

// FailWrites makes every following Write return err.
func (s *Simulator) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Commands returns the commands received so far.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.in = append(s.in, p...)
	for {
		end := bytes.IndexByte(s.in, '#')
		if end < 0 {
			break
		}
		cmd := string(s.in[:end+1])
		s.in = s.in[end+1:]
		s.commands = append(s.commands, cmd)
		reply, ok := s.handle(cmd)
		if ok && !s.muted[cmd] {
			s.out = append(s.out, reply...)
		}
	}
	return len(p), nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if len(s.out) > 0 {
		n := copy(p, s.out)
		s.out = s.out[n:]
		s.mu.Unlock()
		return n, nil
	}
	wait := s.readTimeout
	s.mu.Unlock()
	time.Sleep(wait)
	return 0, nil
}

func (s *Simulator) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
	return nil
}

func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = s.out[:0]
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reopen undoes Close, as replugging the cable would. The polar error and
// pointing are kept.
func (s *Simulator) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.in, s.out = s.in[:0], s.out[:0]
}

// handle must be called with s.mu held. ok is false for commands without a reply.
func (s *Simulator) handle(cmd string) (reply string, ok bool) {
	body := strings.TrimSuffix(strings.TrimPrefix(cmd, ":"), "#")
	switch {
	case body == "GVP":
		return "OpenAstroTracker#", true
	case body == "GR":
		return formatLX200RA(s.raDeg) + "#", true
	case body == "GD":
		return formatLX200Dec(s.decDeg) + "#", true
	case body == "GX":
		return s.statusRecord() + "#", true
	case body == "GIS":
		return boolFlag(s.slewing) + "#", true
	case body == "GIT":
		return boolFlag(s.tracking) + "#", true
	case body == "MT1" || body == "MT0":
		s.tracking = body == "MT1"
		return "1", true
	case body == "XGAA":
		return fmt.Sprintf("%d|%d|0#", s.azSteps, s.altSteps), true
	case body == "MAAH":
		s.azSteps, s.altSteps = 0, 0
	case body == "Mn" || body == "Ms" || body == "Me" || body == "Mw":
		s.slewing = true
	case body == "Q" || body == "Qn" || body == "Qs" || body == "Qe" || body == "Qw":
		s.slewing = false
	case strings.HasPrefix(body, "MAZ"):
		if v, err := strconv.ParseFloat(body[3:], 64); err == nil {
			if s.opts.InvertAzimuth {
				v = -v
			}
			s.azErr += s.opts.Efficiency * v
			s.azSteps += int(math.Round(v * 100))
			s.azBusy = s.opts.BusyPolls
			debug.Trace("simulator: azimuth error now %.3f'", s.azErr)
		}
	case strings.HasPrefix(body, "MAL"):
		if v, err := strconv.ParseFloat(body[3:], 64); err == nil {
			s.altErr -= s.opts.Efficiency * v
			s.altSteps += int(math.Round(v * 100))
			s.altBusy = s.opts.BusyPolls
			debug.Trace("simulator: altitude error now %.3f'", s.altErr)
		}
	}
	return "", false
}

// statusRecord builds a :GX# record. Field 1 holds one flag per motor:
// RA, DEC, TRK, AZ, ALT, then a filler.
func (s *Simulator) statusRecord() string {
	motors := []byte("------")
	state := "Idle"
	if s.tracking {
		motors[2] = 'T'
		state = "Tracking"
	}
	if s.slewing {
		motors[0], motors[1] = 'R', 'D'
		state = "Slewing"
	}
	if s.azBusy > 0 {
		motors[3] = 'Z'
		s.azBusy--
	}
	if s.altBusy > 0 {
		motors[4] = 'A'
		s.altBusy--
	}
	return fmt.Sprintf("%s,%s,%d,%d,0,%s,%s,", state, motors, s.azSteps, s.altSteps,
		strings.ReplaceAll(formatLX200RA(s.raDeg), ":", ""),
		strings.NewReplacer("*", "", "'", "").Replace(formatLX200Dec(s.decDeg)))
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatLX200RA(deg float64) string {
	secs := int(math.Round(deg / 15 * 3600))
	secs = ((secs % 86400) + 86400) % 86400
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

func formatLX200Dec(deg float64) string {
	sign := byte('+')
	if deg < 0 {
		sign = '-'
		deg = -deg
	}
	secs := int(math.Round(deg * 3600))
	return fmt.Sprintf("%c%02d*%02d'%02d", sign, secs/3600, secs/60%60, secs%60)
}

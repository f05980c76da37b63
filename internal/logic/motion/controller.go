package motion

import (
	"math"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/mount"
)

var (
	// ErrAlignmentActive is returned for manual commands while an automated run owns the mount.
	ErrAlignmentActive = errors.New("auto-align is running")

	// ErrInvalidNudge is returned for a non-finite adjuster move.
	ErrInvalidNudge = errors.New("adjuster move must be a finite number of arcminutes")
)

// Mount is the part of the mount protocol the operator controls reach.
type Mount interface {
	StartSlew(d mount.Direction) error
	StopSlew(d mount.Direction) error
	SetSlewRate(r mount.Rate) error
	MoveAzimuth(arcmin float64) error
	MoveAltitude(arcmin float64) error
	SetTracking(on bool) error
	HomeAzAlt() error
}

// Controller sits between the operator's jog buttons and the mount. It
// refuses every command while busy reports true so manual moves never
// interleave with an automated correction.
type Controller struct {
	mount Mount
	busy  func() bool
}

// NewController wraps m. busy may be nil when nothing else drives the mount.
func NewController(m Mount, busy func() bool) *Controller {
	if busy == nil {
		busy = func() bool { return false }
	}
	return &Controller{
		mount: m,
		busy:  busy,
	}
}

func (c *Controller) guard() error {
	if c.busy() {
		return ErrAlignmentActive
	}
	return nil
}

func (c *Controller) StartSlew(d mount.Direction) error {
	if err := c.guard(); err != nil {
		return err
	}
	debug.Verbose("Manual slew start: %s", d)
	return c.mount.StartSlew(d)
}

// StopSlew is always allowed so an operator can halt a slew they started
// just before a run began.
func (c *Controller) StopSlew(d mount.Direction) error {
	debug.Verbose("Manual slew stop: %s", d)
	return c.mount.StopSlew(d)
}

func (c *Controller) SetSlewRate(r mount.Rate) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.mount.SetSlewRate(r)
}

func (c *Controller) NudgeAzimuth(arcmin float64) error {
	if err := checkNudge(arcmin); err != nil {
		return err
	}
	if err := c.guard(); err != nil {
		return err
	}
	debug.Move("azimuth", arcmin)
	return c.mount.MoveAzimuth(arcmin)
}

func (c *Controller) NudgeAltitude(arcmin float64) error {
	if err := checkNudge(arcmin); err != nil {
		return err
	}
	if err := c.guard(); err != nil {
		return err
	}
	debug.Move("altitude", arcmin)
	return c.mount.MoveAltitude(arcmin)
}

func (c *Controller) SetTracking(on bool) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.mount.SetTracking(on)
}

// Home returns both adjusters to their reference position.
func (c *Controller) Home() error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.mount.HomeAzAlt()
}

func checkNudge(arcmin float64) error {
	if math.IsNaN(arcmin) || math.IsInf(arcmin, 0) {
		return errors.Wrapf(ErrInvalidNudge, "got %v", arcmin)
	}
	return nil
}

package mount

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/config"
)

var (
	ErrInvalidDirection = errors.New("invalid slew direction")
	ErrInvalidRate      = errors.New("invalid slew rate")
)

// Direction is a manual slew direction.
type Direction string

const (
	North Direction = "n"
	South Direction = "s"
	East  Direction = "e"
	West  Direction = "w"
	All   Direction = "all" // StopSlew only
)

// Rate is a manual slew speed.
type Rate string

const (
	RateSlew   Rate = "slew"
	RateFind   Rate = "find"
	RateCenter Rate = "center"
	RateGuide  Rate = "guide"
)

var rateCommands = map[Rate]string{
	RateSlew:   ":RS#",
	RateFind:   ":RM#",
	RateCenter: ":RC#",
	RateGuide:  ":RG#",
}

// Status is a live snapshot of the mount; it is never cached.
type Status struct {
	Tracking     bool   `json:"tracking"`
	Slewing      bool   `json:"slewing"`
	AzimuthBusy  bool   `json:"az_busy"`
	AltitudeBusy bool   `json:"alt_busy"`
	Raw          string `json:"raw"`
}

// Adjusting reports whether either polar adjuster motor is moving.
func (s Status) Adjusting() bool { return s.AzimuthBusy || s.AltitudeBusy }

// Dial opens the configured transport and performs the handshake.
func Dial(ctx context.Context, cfg config.MountConfig) (*Client, error) {
	t, err := OpenTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	settle := cfg.ConnectSettleMs
	if cfg.Transport == "mock" {
		settle = 0
	}
	return Connect(ctx, t, cfg.Vendor, msDuration(settle))
}

// Position returns the raw RA and Dec strings the mount reports.
// Both queries are issued under one lock so the pair is consistent.
func (c *Client) Position() (ra, dec string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raResp, err := c.roundTrip(":GR#", true)
	if err != nil {
		return "", "", err
	}
	if !raResp.OK() {
		return "", "", &ResponseError{Cmd: ":GR#", Response: raResp}
	}
	decResp, err := c.roundTrip(":GD#", true)
	if err != nil {
		return "", "", err
	}
	if !decResp.OK() {
		return "", "", &ResponseError{Cmd: ":GD#", Response: decResp}
	}
	return strings.TrimSpace(raResp.Text), strings.TrimSpace(decResp.Text), nil
}

// StatusText returns the raw :GX# status record.
func (c *Client) StatusText() (string, error) {
	resp, err := c.Query(":GX#")
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", &ResponseError{Cmd: ":GX#", Response: resp}
	}
	return resp.Text, nil
}

// IsSlewing reports whether a slew is in progress.
func (c *Client) IsSlewing() (bool, error) {
	return c.queryFlag(":GIS#")
}

// IsTracking reports whether sidereal tracking is on.
func (c *Client) IsTracking() (bool, error) {
	return c.queryFlag(":GIT#")
}

func (c *Client) queryFlag(cmd string) (bool, error) {
	resp, err := c.Query(cmd)
	if err != nil {
		return false, err
	}
	return resp.OK() && strings.TrimSpace(resp.Text) == "1", nil
}

// IsAdjusting reports whether an azimuth or altitude adjuster is moving.
func (c *Client) IsAdjusting() (bool, error) {
	text, err := c.StatusText()
	if err != nil {
		if IsTransportError(err) {
			return false, err
		}
		return false, nil
	}
	az, alt := parseAdjusterFlags(text)
	return az || alt, nil
}

// parseAdjusterFlags reads field 1 of a :GX# record. Offset 3 is the azimuth
// motor and offset 4 the altitude motor; '-' means stopped. Records too short
// to carry the flags are treated as idle.
func parseAdjusterFlags(record string) (az, alt bool) {
	fields := strings.Split(record, ",")
	if len(fields) < 2 {
		return false, false
	}
	motors := fields[1]
	if len(motors) < 5 {
		return false, false
	}
	return motors[3] != '-', motors[4] != '-'
}

// Status queries tracking, slewing and the adjuster motors.
func (c *Client) Status() (Status, error) {
	var s Status
	var err error
	if s.Tracking, err = c.IsTracking(); err != nil {
		return Status{}, err
	}
	if s.Slewing, err = c.IsSlewing(); err != nil {
		return Status{}, err
	}
	resp, err := c.Query(":GX#")
	if err != nil {
		return Status{}, err
	}
	if resp.OK() {
		s.Raw = resp.Text
		s.AzimuthBusy, s.AltitudeBusy = parseAdjusterFlags(resp.Text)
	}
	return s, nil
}

// StartSlew starts a manual slew. The mount keeps moving until StopSlew.
func (c *Client) StartSlew(d Direction) error {
	switch d {
	case North, South, East, West:
		return c.Send(":M" + string(d) + "#")
	default:
		return errors.Wrapf(ErrInvalidDirection, "%q", d)
	}
}

// StopSlew stops motion in one direction, or all motion for All.
func (c *Client) StopSlew(d Direction) error {
	switch d {
	case All:
		return c.Send(":Q#")
	case North, South, East, West:
		return c.Send(":Q" + string(d) + "#")
	default:
		return errors.Wrapf(ErrInvalidDirection, "%q", d)
	}
}

// SetSlewRate selects the manual slew speed.
func (c *Client) SetSlewRate(r Rate) error {
	cmd, ok := rateCommands[r]
	if !ok {
		return errors.Wrapf(ErrInvalidRate, "%q", r)
	}
	return c.Send(cmd)
}

// MoveAzimuth asks the azimuth adjuster to move by arcmin. The mount does not
// acknowledge the move; completion is observed through IsAdjusting.
func (c *Client) MoveAzimuth(arcmin float64) error {
	return c.Send(fmt.Sprintf(":MAZ%+.2f#", arcmin))
}

// MoveAltitude asks the altitude adjuster to move by arcmin.
func (c *Client) MoveAltitude(arcmin float64) error {
	return c.Send(fmt.Sprintf(":MAL%+.2f#", arcmin))
}

// SetTracking switches sidereal tracking. The mount's one-character reply
// is read to keep the stream in step, but its value is not checked.
func (c *Client) SetTracking(on bool) error {
	cmd := ":MT0#"
	if on {
		cmd = ":MT1#"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.roundTrip(cmd, false); err != nil {
		return err
	}
	if err := c.t.SetReadTimeout(c.timeout); err != nil {
		return &TransportError{Op: "read", Cmd: cmd, Err: err}
	}
	one := make([]byte, 1)
	if _, err := c.t.Read(one); err != nil {
		return &TransportError{Op: "read", Cmd: cmd, Err: err}
	}
	return nil
}

// AzAltSteps returns the adjuster motor positions in steps (:XGAA#, "az|alt|").
func (c *Client) AzAltSteps() (az, alt int, err error) {
	resp, err := c.Query(":XGAA#")
	if err != nil {
		return 0, 0, err
	}
	if !resp.OK() {
		return 0, 0, &ResponseError{Cmd: ":XGAA#", Response: resp}
	}
	parts := strings.Split(resp.Text, "|")
	if len(parts) < 2 {
		return 0, 0, errors.Errorf("mount :XGAA#: malformed reply %q", resp.Text)
	}
	if az, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, errors.Wrapf(err, "mount :XGAA#: azimuth %q", parts[0])
	}
	if alt, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, errors.Wrapf(err, "mount :XGAA#: altitude %q", parts[1])
	}
	return az, alt, nil
}

// HomeAzAlt sends both adjusters to their home position.
func (c *Client) HomeAzAlt() error {
	return c.Send(":MAAH#")
}

package mount

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
)

// ResponseTimeout bounds how long a single response read may take.
const ResponseTimeout = 2 * time.Second

var (
	// ErrHandshake is returned when the product reply does not name the expected vendor.
	ErrHandshake = errors.New("mount handshake failed")

	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("mount connection closed")
)

// ReadOutcome tells how a response read ended.
type ReadOutcome int

const (
	ReadEmpty    ReadOutcome = iota // timeout, nothing received
	ReadPartial                     // timeout, some bytes but no terminator
	ReadComplete                    // terminator received
)

func (o ReadOutcome) String() string {
	switch o {
	case ReadEmpty:
		return "empty"
	case ReadPartial:
		return "partial"
	case ReadComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Response is the text received before the '#' terminator (or before the
// timeout) and how the read ended.
type Response struct {
	Text    string
	Outcome ReadOutcome
}

// OK reports whether a complete response was received.
func (r Response) OK() bool { return r.Outcome == ReadComplete }

// ResponseError reports a command whose reply was missing or cut short.
type ResponseError struct {
	Cmd      string
	Response Response
}

func (e *ResponseError) Error() string {
	return "mount " + e.Cmd + ": " + e.Response.Outcome.String() + " response " + strings.TrimSpace(e.Response.Text)
}

// Client speaks the LX200 command set over a Transport.
// Exactly one command is in flight at a time.
type Client struct {
	mu      sync.Mutex
	t       Transport
	timeout time.Duration
	closed  bool
}

// NewClient wraps an already open transport without a handshake.
func NewClient(t Transport) *Client {
	return &Client{t: t, timeout: ResponseTimeout}
}

// Connect waits for the link to settle, then asks for the product name and
// checks that it contains vendor. On failure the transport is closed.
func Connect(ctx context.Context, t Transport, vendor string, settle time.Duration) (*Client, error) {
	if settle > 0 {
		select {
		case <-ctx.Done():
			_ = t.Close()
			return nil, ctx.Err()
		case <-time.After(settle):
		}
	}

	c := NewClient(t)
	resp, err := c.Query(":GVP#")
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if !resp.OK() || !strings.Contains(resp.Text, vendor) {
		_ = t.Close()
		return nil, &TransportError{
			Op:  "handshake",
			Cmd: ":GVP#",
			Err: errors.Wrapf(ErrHandshake, "unexpected product %q (%s), want %q", resp.Text, resp.Outcome, vendor),
		}
	}
	debug.Info("Connected to mount: %s", resp.Text)
	return c, nil
}

// Query sends cmd and reads one '#'-terminated response.
func (c *Client) Query(cmd string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundTrip(cmd, true)
}

// Send writes cmd without waiting for a response.
func (c *Client) Send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.roundTrip(cmd, false)
	return err
}

// Close closes the transport. Further commands fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	debug.Info("Disconnected from mount")
	return c.t.Close()
}

// roundTrip must be called with c.mu held.
func (c *Client) roundTrip(cmd string, expectResponse bool) (Response, error) {
	if c.closed {
		return Response{}, ErrClosed
	}
	if err := c.t.ResetInputBuffer(); err != nil {
		return Response{}, &TransportError{Op: "write", Cmd: cmd, Err: errors.Wrap(err, "reset input")}
	}

	debug.Command("tx", cmd)
	if _, err := c.t.Write([]byte(cmd)); err != nil {
		return Response{}, &TransportError{Op: "write", Cmd: cmd, Err: err}
	}
	if !expectResponse {
		return Response{}, nil
	}

	resp, err := c.readResponse()
	if err != nil {
		return resp, &TransportError{Op: "read", Cmd: cmd, Err: err}
	}
	debug.Command("rx", resp.Text+" ("+resp.Outcome.String()+")")
	return resp, nil
}

// readResponse reads byte by byte until '#' or the response timeout.
// A timeout is not an error: whatever arrived is returned with its outcome.
func (c *Client) readResponse() (Response, error) {
	deadline := time.Now().Add(c.timeout)
	var text []byte
	one := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if len(text) == 0 {
				return Response{Outcome: ReadEmpty}, nil
			}
			return Response{Text: string(text), Outcome: ReadPartial}, nil
		}
		if err := c.t.SetReadTimeout(remaining); err != nil {
			return Response{Text: string(text)}, err
		}
		n, err := c.t.Read(one)
		if err != nil {
			return Response{Text: string(text)}, err
		}
		if n == 0 {
			continue
		}
		if one[0] == '#' {
			return Response{Text: string(text), Outcome: ReadComplete}, nil
		}
		text = append(text, one[0])
	}
}

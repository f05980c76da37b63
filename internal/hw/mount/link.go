package mount

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
)

// ErrNotConnected is returned by a Link with no open connection.
var ErrNotConnected = errors.New("mount not connected")

// DialFunc opens and handshakes a new connection.
type DialFunc func(ctx context.Context) (*Client, error)

// Link is a mount connection that can be opened and closed at runtime.
// Every command goes to the current Client; with none, commands fail with
// ErrNotConnected. A command racing a Disconnect fails with ErrClosed.
type Link struct {
	dial DialFunc

	connMu sync.Mutex // serialises Connect and Disconnect
	mu     sync.RWMutex
	client *Client
}

// NewLink returns a disconnected link that connects through dial.
func NewLink(dial DialFunc) *Link {
	return &Link{dial: dial}
}

// Connect opens the connection. It is a no-op when already connected.
func (l *Link) Connect(ctx context.Context) error {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.Connected() {
		return nil
	}
	c, err := l.dial(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.client = c
	l.mu.Unlock()
	debug.Info("Mount connected")
	return nil
}

// Disconnect closes the connection. It is a no-op when disconnected.
func (l *Link) Disconnect() error {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.mu.Lock()
	c := l.client
	l.client = nil
	l.mu.Unlock()
	if c == nil {
		return nil
	}
	debug.Info("Mount disconnected")
	return c.Close()
}

// Connected reports whether a connection is open.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client != nil
}

func (l *Link) current() (*Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.client == nil {
		return nil, ErrNotConnected
	}
	return l.client, nil
}

func (l *Link) Position() (ra, dec string, err error) {
	c, err := l.current()
	if err != nil {
		return "", "", err
	}
	return c.Position()
}

func (l *Link) IsAdjusting() (bool, error) {
	c, err := l.current()
	if err != nil {
		return false, err
	}
	return c.IsAdjusting()
}

func (l *Link) Status() (Status, error) {
	c, err := l.current()
	if err != nil {
		return Status{}, err
	}
	return c.Status()
}

func (l *Link) StartSlew(d Direction) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.StartSlew(d)
}

func (l *Link) StopSlew(d Direction) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.StopSlew(d)
}

func (l *Link) SetSlewRate(r Rate) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.SetSlewRate(r)
}

func (l *Link) MoveAzimuth(arcmin float64) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.MoveAzimuth(arcmin)
}

func (l *Link) MoveAltitude(arcmin float64) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.MoveAltitude(arcmin)
}

func (l *Link) SetTracking(on bool) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.SetTracking(on)
}

func (l *Link) HomeAzAlt() error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.HomeAzAlt()
}

package mount

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/cjeanneret/PolarGo/internal/config"
	"github.com/cjeanneret/PolarGo/internal/debug"
)

// Transport is a reliable, ordered byte stream to the mount.
// Read must return (0, nil) when the read timeout elapses without data.
type Transport interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// ErrUnsupportedTransport is a configuration error: the selected backend does not exist.
var ErrUnsupportedTransport = errors.New("unsupported mount transport")

// OpenTransport opens the backend selected by cfg.Transport.
// For "mock" the returned Transport is a *Simulator.
func OpenTransport(ctx context.Context, cfg config.MountConfig) (Transport, error) {
	switch cfg.Transport {
	case "serial":
		return OpenSerial(cfg.Port, cfg.BaudRate)
	case "tcp":
		return DialTCP(ctx, cfg.Address)
	case "mock":
		debug.Info("Using simulated mount (development mode)")
		return NewSimulator(SimulatorOptions{
			AzimuthErrorArcmin:  cfg.Simulator.AzimuthErrorArcmin,
			AltitudeErrorArcmin: cfg.Simulator.AltitudeErrorArcmin,
			Efficiency:          cfg.Simulator.Efficiency,
			BusyPolls:           cfg.Simulator.BusyPolls,
			InvertAzimuth:       cfg.InvertAzimuth,
		}), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedTransport, "%q", cfg.Transport)
	}
}

// OpenSerial opens a serial port at 8N1 with the given speed.
func OpenSerial(port string, baud int) (Transport, error) {
	debug.Info("Opening serial port %s at %d baud", port, baud)
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &TransportError{Op: "open", Err: errors.Wrapf(err, "serial port %s", port)}
	}
	return p, nil
}

// tcpTransport carries the LX200 stream over TCP (OAT WiFi, ser2net bridges).
type tcpTransport struct {
	conn        net.Conn
	readTimeout time.Duration
}

// DialTCP connects to an LX200 server at addr (host:port).
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	debug.Info("Connecting to mount at tcp://%s", addr)
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: errors.Wrapf(err, "dial %s", addr)}
	}
	return &tcpTransport{conn: conn, readTimeout: ResponseTimeout}, nil
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(ResponseTimeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (t *tcpTransport) SetReadTimeout(d time.Duration) error {
	t.readTimeout = d
	return nil
}

// ResetInputBuffer discards whatever the server already sent.
func (t *tcpTransport) ResetInputBuffer() error {
	buf := make([]byte, 256)
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		n, err := t.conn.Read(buf)
		if n > 0 {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// TransportError is a connection-level failure: open, handshake, write or read.
// It is never retried silently.
type TransportError struct {
	Op  string // "open", "write", "read", "handshake"
	Cmd string
	Err error
}

func (e *TransportError) Error() string {
	if e.Cmd != "" {
		return fmt.Sprintf("mount %s %s: %v", e.Op, e.Cmd, e.Err)
	}
	return fmt.Sprintf("mount %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

package mount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedTransport answers each command with a canned reply and records
// what was written.
type scriptedTransport struct {
	mu       sync.Mutex
	replies  map[string]string
	written  []string
	out      []byte
	readErr  error
	writeErr error
	resets   int
	closed   bool
}

func newScripted(replies map[string]string) *scriptedTransport {
	return &scriptedTransport{replies: replies}
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	cmd := string(p)
	s.written = append(s.written, cmd)
	s.out = append(s.out, s.replies[cmd]...)
	return len(p), nil
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.out) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *scriptedTransport) SetReadTimeout(time.Duration) error { return nil }

func (s *scriptedTransport) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.out = nil
	return nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedTransport) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

func fastClient(t Transport) *Client {
	c := NewClient(t)
	c.timeout = 50 * time.Millisecond
	return c
}

func TestQuery_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		outcome ReadOutcome
	}{
		{"complete", "12:34:56#", "12:34:56", ReadComplete},
		{"empty complete", "#", "", ReadComplete},
		{"partial", "12:34", "12:34", ReadPartial},
		{"nothing", "", "", ReadEmpty},
		{"stops at first terminator", "1#2#", "1", ReadComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fastClient(newScripted(map[string]string{":GR#": tt.reply}))
			resp, err := c.Query(":GR#")
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if resp.Text != tt.want || resp.Outcome != tt.outcome {
				t.Errorf("got %q/%s, want %q/%s", resp.Text, resp.Outcome, tt.want, tt.outcome)
			}
		})
	}
}

func TestQuery_ResetsInputBeforeEachWrite(t *testing.T) {
	tr := newScripted(map[string]string{":GR#": "01:00:00#"})
	c := fastClient(tr)
	for i := 0; i < 3; i++ {
		if _, err := c.Query(":GR#"); err != nil {
			t.Fatal(err)
		}
	}
	if tr.resets != 3 {
		t.Errorf("expected 3 input resets, got %d", tr.resets)
	}
}

func TestQuery_TransportFailures(t *testing.T) {
	tr := newScripted(nil)
	tr.writeErr = errors.New("unplugged")
	c := fastClient(tr)
	_, err := c.Query(":GR#")
	if !IsTransportError(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	tr = newScripted(nil)
	tr.readErr = errors.New("io error")
	c = fastClient(tr)
	_, err = c.Query(":GR#")
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "read" || te.Cmd != ":GR#" {
		t.Fatalf("expected read TransportError for :GR#, got %v", err)
	}
}

func TestClose_RejectsFurtherCommands(t *testing.T) {
	tr := newScripted(nil)
	c := fastClient(tr)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if !tr.closed {
		t.Error("transport not closed")
	}
	if err := c.Send(":Q#"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConnect_Handshake(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{"openastro", "OpenAstroTracker#", false},
		{"other vendor", "LX200 Classic#", true},
		{"silent", "", true},
		{"partial", "OpenAstro", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newScripted(map[string]string{":GVP#": tt.reply})
			c, err := Connect(context.Background(), tr, "OpenAstro", 0)
			if tt.wantErr {
				if !errors.Is(err, ErrHandshake) {
					t.Fatalf("expected ErrHandshake, got %v", err)
				}
				if !tr.closed {
					t.Error("transport should be closed after a failed handshake")
				}
				return
			}
			if err != nil || c == nil {
				t.Fatalf("Connect: %v", err)
			}
		})
	}
}

func TestConnect_CancelledDuringSettle(t *testing.T) {
	tr := newScripted(map[string]string{":GVP#": "OpenAstroTracker#"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Connect(ctx, tr, "OpenAstro", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !tr.closed {
		t.Error("transport should be closed")
	}
}

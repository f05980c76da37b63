package camera

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
)

// MockCamera writes a placeholder file per capture. It is paired with the
// mock solver, which ignores image content.
type MockCamera struct {
	dir string

	mu       sync.Mutex
	failNext int
	captures int
}

func NewMockCamera(dir string) *MockCamera {
	return &MockCamera{dir: dir}
}

// FailNext makes the next n captures fail.
func (m *MockCamera) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Captures returns how many captures succeeded.
func (m *MockCamera) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

func (m *MockCamera) Capture(ctx context.Context, exposure time.Duration, gain int) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	m.mu.Lock()
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return Image{}, errors.New("mock camera: simulated capture failure")
	}
	m.mu.Unlock()

	path, err := nextCapturePath(m.dir, ".fits")
	if err != nil {
		return Image{}, err
	}
	if err := os.WriteFile(path, []byte("SIMPLE  =                    T"), 0o644); err != nil {
		return Image{}, errors.Wrap(err, "mock camera")
	}

	m.mu.Lock()
	m.captures++
	m.mu.Unlock()
	debug.Live("Mock capture %s (exposure %v, gain %d)", path, exposure, gain)
	return Image{Path: path, CapturedAt: time.Now()}, nil
}

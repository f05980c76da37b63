package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrCaptureTimeout is returned when a triggered camera never delivers its file.
	ErrCaptureTimeout = errors.New("capture timed out waiting for image")

	// ErrUnsupportedCamera is a configuration error: the selected backend does not exist.
	ErrUnsupportedCamera = errors.New("unsupported camera type")
)

// Image is a captured frame on disk.
type Image struct {
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}

// Camera is the high-level interface used by the alignment loop.
// It represents an abstract camera, regardless of how it's controlled
// (external program, remote release cable, simulation).
type Camera interface {
	// Capture takes one exposure and returns the file it produced.
	Capture(ctx context.Context, exposure time.Duration, gain int) (Image, error)
}

var captureSeq atomic.Uint64

// nextCapturePath returns a fresh file name in dir, creating dir if needed.
func nextCapturePath(dir, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create capture dir %s", dir)
	}
	name := fmt.Sprintf("capture_%s_%04d%s", time.Now().Format("20060102_150405"), captureSeq.Add(1), ext)
	return filepath.Join(dir, name), nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

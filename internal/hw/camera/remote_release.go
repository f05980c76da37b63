package camera

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/gpio"
)

// imageExts are the file types a tethered camera may deliver.
var imageExts = map[string]bool{
	".fits": true, ".fit": true, ".fts": true,
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true,
	".nef": true, ".cr2": true, ".cr3": true, ".arw": true,
}

// fileQuiet is how long a new file must stay unchanged before it is used.
const fileQuiet = 250 * time.Millisecond

// RemoteRelease is a DSLR fired through its wired remote connector:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus/wake (active LOW)
// - SHUTTER: release (active LOW)
//
// The body is in bulb mode, so the shutter line is held for the exposure.
// The image reaches the host through a tethering tool writing into watchDir.
//
// Capture sequence:
// 1. FOCUS to LOW, wait focusDelay
// 2. SHUTTER to LOW for the exposure
// 3. SHUTTER and FOCUS back to HIGH
// 4. Wait for a new image file in watchDir
type RemoteRelease struct {
	gpio            gpio.Driver
	focusPin        int
	shutterPin      int
	focusDelay      time.Duration
	downloadTimeout time.Duration
	watchDir        string
}

// NewRemoteRelease configures both lines as outputs, released (HIGH).
func NewRemoteRelease(g gpio.Driver, focusPin, shutterPin int, focusDelay, downloadTimeout time.Duration, watchDir string) (*RemoteRelease, error) {
	for _, pin := range []int{focusPin, shutterPin} {
		if pin <= 0 {
			continue
		}
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, errors.Wrapf(err, "setup pin %d", pin)
		}
		if err := g.WritePin(pin, gpio.High); err != nil {
			return nil, errors.Wrapf(err, "release pin %d", pin)
		}
	}
	return &RemoteRelease{
		gpio:            g,
		focusPin:        focusPin,
		shutterPin:      shutterPin,
		focusDelay:      focusDelay,
		downloadTimeout: downloadTimeout,
		watchDir:        watchDir,
	}, nil
}

// Capture fires one bulb exposure. gain is set on the camera body and ignored here.
func (r *RemoteRelease) Capture(ctx context.Context, exposure time.Duration, gain int) (Image, error) {
	// Watch before firing so a fast download is not missed.
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return Image{}, errors.Wrap(err, "create watcher")
	}
	defer w.Close()
	if err := w.Add(r.watchDir); err != nil {
		return Image{}, errors.Wrapf(err, "watch %s", r.watchDir)
	}

	if err := r.fire(ctx, exposure); err != nil {
		return Image{}, err
	}

	path, err := waitForImage(ctx, w, r.downloadTimeout)
	if err != nil {
		return Image{}, err
	}
	debug.Live("Captured image: %s", path)
	return Image{Path: path, CapturedAt: time.Now()}, nil
}

func (r *RemoteRelease) fire(ctx context.Context, exposure time.Duration) (err error) {
	debug.Verbose("Camera: firing (focus=%d, shutter=%d, bulb %v)", r.focusPin, r.shutterPin, exposure)

	// Both lines end released whatever happens.
	defer func() {
		if rerr := r.release(); err == nil {
			err = rerr
		}
	}()

	if r.focusPin > 0 {
		if err := r.gpio.WritePin(r.focusPin, gpio.Low); err != nil {
			return err
		}
		if err := sleepCtx(ctx, r.focusDelay); err != nil {
			return err
		}
	}
	if err := r.gpio.WritePin(r.shutterPin, gpio.Low); err != nil {
		return err
	}
	return sleepCtx(ctx, exposure)
}

func (r *RemoteRelease) release() error {
	if err := r.gpio.WritePin(r.shutterPin, gpio.High); err != nil {
		return err
	}
	if r.focusPin > 0 {
		return r.gpio.WritePin(r.focusPin, gpio.High)
	}
	return nil
}

// waitForImage returns the first image file that appears in the watched
// directory and then stays quiet for fileQuiet.
func waitForImage(ctx context.Context, w *fsnotify.Watcher, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	var candidate string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", errors.Wrapf(ErrCaptureTimeout, "after %v", timeout)
		case err, ok := <-w.Errors:
			if !ok {
				return "", errors.New("watcher closed")
			}
			debug.Error(err)
		case ev, ok := <-w.Events:
			if !ok {
				return "", errors.New("watcher closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !imageExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			if candidate == "" {
				candidate = ev.Name
			}
			if ev.Name == candidate {
				quiet.Reset(fileQuiet)
			}
		case <-quiet.C:
			return candidate, nil
		}
	}
}

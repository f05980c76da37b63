package camera

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
)

// DefaultCommandArgs suit libcamera-still on a Raspberry Pi camera module.
var DefaultCommandArgs = []string{
	"-n", "--immediate",
	"-o", "{output}",
	"--shutter", "{exposure_us}",
	"--gain", "{gain}",
}

// CommandCamera captures by running an external program (libcamera-still,
// fswebcam, gphoto2, ...). Arguments may contain the placeholders {output},
// {exposure_us}, {exposure_s} and {gain}.
type CommandCamera struct {
	program string
	args    []string
	dir     string
	ext     string
}

// NewCommandCamera returns a camera that runs program with args and writes into dir.
// Empty args select DefaultCommandArgs.
func NewCommandCamera(program string, args []string, dir string) *CommandCamera {
	if len(args) == 0 {
		args = DefaultCommandArgs
	}
	return &CommandCamera{program: program, args: args, dir: dir, ext: ".jpg"}
}

func (c *CommandCamera) Capture(ctx context.Context, exposure time.Duration, gain int) (Image, error) {
	out, err := nextCapturePath(c.dir, c.ext)
	if err != nil {
		return Image{}, err
	}

	r := strings.NewReplacer(
		"{output}", out,
		"{exposure_us}", strconv.FormatInt(exposure.Microseconds(), 10),
		"{exposure_s}", strconv.FormatFloat(exposure.Seconds(), 'f', -1, 64),
		"{gain}", strconv.Itoa(gain),
	)
	args := make([]string, len(c.args))
	for i, a := range c.args {
		args[i] = r.Replace(a)
	}

	debug.Verbose("Camera: running %s %s", c.program, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.program, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Image{}, ctx.Err()
		}
		return Image{}, errors.Wrapf(err, "%s: %s", c.program, strings.TrimSpace(stderr.String()))
	}

	if _, err := os.Stat(out); err != nil {
		return Image{}, errors.Wrapf(err, "%s produced no image", c.program)
	}
	debug.Live("Captured image: %s", out)
	return Image{Path: out, CapturedAt: time.Now()}, nil
}

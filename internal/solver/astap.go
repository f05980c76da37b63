package solver

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
)

// ASTAP runs astap_cli. A solved image leaves <image>.wcs next to it;
// <image>.ini always carries the outcome.
type ASTAP struct {
	opts Options
}

func NewASTAP(opts Options) *ASTAP {
	return &ASTAP{opts: opts}
}

func (a *ASTAP) args(imagePath string) []string {
	args := []string{
		"-f", imagePath,
		"-r", strconv.FormatFloat(a.opts.SearchRadiusDeg, 'f', -1, 64),
		"-z", "0",
	}
	if a.opts.FOVHintDeg > 0 {
		args = append(args, "-fov", strconv.FormatFloat(a.opts.FOVHintDeg, 'f', -1, 64))
	}
	return args
}

func (a *ASTAP) Solve(ctx context.Context, img camera.Image) (Result, error) {
	if !exists(img.Path) {
		return Result{}, errors.Errorf("image not found: %s", img.Path)
	}
	stderr, err := runSolver(ctx, a.opts.Timeout, a.opts.Path, a.args(img.Path)...)
	if err != nil {
		return Result{}, err
	}

	ini, _ := readINI(withExt(img.Path, ".ini"))
	wcsPath := withExt(img.Path, ".wcs")
	if !exists(wcsPath) {
		reason := ini["ERROR"]
		if reason == "" {
			reason = strings.TrimSpace(stderr)
		}
		return Result{}, errors.Wrapf(ErrNotSolved, "astap: %s", reason)
	}

	w, err := ReadWCSFile(wcsPath)
	if err != nil {
		// The .ini repeats the reference point.
		h := header(toAny(ini))
		ra, raOK := h.float("CRVAL1")
		dec, decOK := h.float("CRVAL2")
		if !raOK || !decOK {
			return Result{}, errors.Wrap(err, "astap")
		}
		debug.Verbose("Solver: using CRVAL from %s", withExt(img.Path, ".ini"))
		return Result{Coord: polar.SkyCoordinate{RADeg: ra, DecDeg: dec}.Normalize(), Solver: "astap"}, nil
	}

	res := w.Result("astap")
	debug.Live("Solved: %s (scale %.2f\"/px, rotation %.1f°)", res.Coord, res.PixelScaleArcsec, res.RotationDeg)
	return res, nil
}

// readINI reads KEY=VALUE lines.
func readINI(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return map[string]string{}, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, sc.Err()
}

func toAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package solver

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/logic/polar"
)

// MockSolver returns whatever truth reports, typically the simulated
// mount's actual pointing.
type MockSolver struct {
	truth func() polar.SkyCoordinate

	mu       sync.Mutex
	failNext int
}

func NewMockSolver(truth func() polar.SkyCoordinate) *MockSolver {
	return &MockSolver{truth: truth}
}

// FailNext makes the next n solves fail.
func (m *MockSolver) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MockSolver) Solve(ctx context.Context, img camera.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return Result{}, errors.Wrap(ErrNotSolved, "mock")
	}
	m.mu.Unlock()
	return Result{Coord: m.truth().Normalize(), PixelScaleArcsec: 3.6, Solver: "mock"}, nil
}

package alignment

import (
	"time"

	"github.com/cjeanneret/PolarGo/internal/logic/polar"
	"github.com/cjeanneret/PolarGo/internal/solver"
)

// State is a step of the alignment state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateCapturing            State = "capturing"
	StateSolving              State = "solving"
	StateMeasuring            State = "measuring"
	StateCorrecting           State = "correcting"
	StateSettling             State = "settling"
	StateAligned              State = "aligned"
	StateMaxIterationsReached State = "max_iterations_reached"
	StateCancelled            State = "cancelled"
	StateHardwareFault        State = "hardware_fault"
)

// Outcome is how a run ended. Empty while running or before the first run.
type Outcome string

const (
	OutcomeNone                 Outcome = ""
	OutcomeAligned              Outcome = "aligned"
	OutcomeMaxIterationsReached Outcome = "max_iterations_reached"
	OutcomeCancelled            Outcome = "cancelled"
	OutcomeHardwareFault        Outcome = "hardware_fault"
)

// terminalState maps an outcome to the state announced when the run ends.
func (o Outcome) terminalState() State {
	switch o {
	case OutcomeAligned:
		return StateAligned
	case OutcomeMaxIterationsReached:
		return StateMaxIterationsReached
	case OutcomeCancelled:
		return StateCancelled
	case OutcomeHardwareFault:
		return StateHardwareFault
	}
	return StateIdle
}

// session is owned by the run goroutine; readers get a Snapshot.
type session struct {
	iteration     int
	maxIterations int
	target        float64
	running       bool
	state         State
	lastError     *polar.AlignmentError
	lastSolve     *solver.Result
	estimate      int
	outcome       Outcome
	failure       string
	startedAt     time.Time
	finishedAt    time.Time
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	Iteration            int                   `json:"iteration"`
	MaxIterations        int                   `json:"max_iterations"`
	TargetAccuracyArcsec float64               `json:"target_accuracy_arcsec"`
	Running              bool                  `json:"running"`
	State                State                 `json:"state"`
	LastError            *polar.AlignmentError `json:"last_error,omitempty"`
	LastSolve            *solver.Result        `json:"last_solve,omitempty"`
	EstimatedIterations  int                   `json:"estimated_iterations"`
	Outcome              Outcome               `json:"outcome,omitempty"`
	Failure              string                `json:"failure,omitempty"`
	StartedAt            time.Time             `json:"started_at"`
	FinishedAt           time.Time             `json:"finished_at"`
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		Iteration:            s.iteration,
		MaxIterations:        s.maxIterations,
		TargetAccuracyArcsec: s.target,
		Running:              s.running,
		State:                s.state,
		EstimatedIterations:  s.estimate,
		Outcome:              s.outcome,
		Failure:              s.failure,
		StartedAt:            s.startedAt,
		FinishedAt:           s.finishedAt,
	}
	if s.lastError != nil {
		e := *s.lastError
		snap.LastError = &e
	}
	if s.lastSolve != nil {
		r := *s.lastSolve
		snap.LastSolve = &r
	}
	if snap.State == "" {
		snap.State = StateIdle
	}
	return snap
}

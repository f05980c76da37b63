package alignment

import (
	"time"

	"github.com/cjeanneret/PolarGo/internal/logic/polar"
)

// Level classifies an event for display.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Event is one progress report. Events are passed by value; Error, when
// set, points to a copy owned by the event.
type Event struct {
	Time      time.Time             `json:"t"`
	Level     Level                 `json:"level"`
	Message   string                `json:"msg"`
	State     State                 `json:"state"`
	Iteration int                   `json:"iteration"`
	Error     *polar.AlignmentError `json:"error,omitempty"`
}

// EventSink receives events in emission order. Emit must not block the loop.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// MultiSink forwards every event to each sink in turn.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}

// Package engine runs the supervised segmentation training loop. It exposes
// an event-driven surface: lifecycle events fire at fixed points of the
// loop, and handlers attached to those events inspect the engine state to
// emit diagnostics, notifications or metrics.
package engine

import (
	"reflect"

	"github.com/kbressem/ai-template/datasets"
)

// Event marks a point in the training lifecycle.
type Event string

const (
	EventStarted           Event = "started"
	EventEpochStarted      Event = "epoch_started"
	EventGetBatchCompleted Event = "get_batch_completed"
	EventIterationComplete Event = "iteration_completed"
	EventEpochCompleted    Event = "epoch_completed"
	EventCompleted         Event = "completed"
	EventTerminated        Event = "terminated"
	EventExceptionRaised   Event = "exception_raised"
)

// Handler reacts to one event. Handlers run synchronously in attach order.
type Handler func(*Engine)

// State is the mutable loop state handlers observe.
type State struct {
	Epoch     int
	MaxEpochs int
	Iteration int

	// Batch is the most recently fetched mini-batch.
	Batch *datasets.BatchFlat

	// Metrics holds the latest metric values (loss, val_mean_dice, ...).
	Metrics map[string]float64

	// Err is set before EventExceptionRaised fires.
	Err error
}

// Engine dispatches lifecycle events to attached handlers.
type Engine struct {
	State State

	handlers   map[Event][]Handler
	terminated bool
}

// New returns an engine with empty state.
func New() *Engine {
	return &Engine{
		State:    State{Metrics: map[string]float64{}},
		handlers: map[Event][]Handler{},
	}
}

// AddEventHandler attaches h to ev.
func (e *Engine) AddEventHandler(ev Event, h Handler) {
	e.handlers[ev] = append(e.handlers[ev], h)
}

// HasEventHandler reports whether h is attached to ev. Handlers compare by
// function identity, so method values of the same method match.
func (e *Engine) HasEventHandler(ev Event, h Handler) bool {
	want := reflect.ValueOf(h).Pointer()
	for _, got := range e.handlers[ev] {
		if reflect.ValueOf(got).Pointer() == want {
			return true
		}
	}
	return false
}

// Fire runs all handlers attached to ev.
func (e *Engine) Fire(ev Event) {
	for _, h := range e.handlers[ev] {
		h(e)
	}
}

// Terminate requests the loop to stop after the current iteration.
func (e *Engine) Terminate() { e.terminated = true }

// Terminated reports whether Terminate was called.
func (e *Engine) Terminated() bool { return e.terminated }

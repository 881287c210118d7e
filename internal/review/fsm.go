package review

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/joescharf/tfreview/internal/models"
)

// ErrIllegalTransition is returned when a status change is not allowed from
// the review's current status.
var ErrIllegalTransition = errors.New("illegal status transition")

// State constants for statekit. These must stay untyped string constants
// for statekit.StateID and match the models.ReviewStatus values.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Events accepted by the review lifecycle.
const (
	EventStart    = "start"
	EventComplete = "complete"
	EventFail     = "fail"
	EventRetry    = "retry"
)

func init() {
	stateMap := map[string]models.ReviewStatus{
		StatePending:    models.ReviewStatusPending,
		StateInProgress: models.ReviewStatusInProgress,
		StateCompleted:  models.ReviewStatusCompleted,
		StateFailed:     models.ReviewStatusFailed,
	}
	for fsmState, status := range stateMap {
		if fsmState != string(status) {
			panic(fmt.Sprintf("FSM state %q does not match ReviewStatus %q", fsmState, status))
		}
	}
}

// lifecycleContext is the statekit machine context; the lifecycle carries
// no data of its own.
type lifecycleContext struct {
	ReviewID string
}

// lifecycle drives one review version's status.
type lifecycle struct {
	interpreter *statekit.Interpreter[lifecycleContext]
}

// newLifecycle builds the machine positioned at the given status.
//
//	pending -> in_progress -> completed | failed
//	completed | failed -> pending (retry, as a new version)
func newLifecycle(reviewID string, current models.ReviewStatus) (*lifecycle, error) {
	if !current.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, current)
	}

	builder := statekit.NewMachine[lifecycleContext]("review-lifecycle").
		WithInitial(statekit.StateID(string(current))).
		WithContext(lifecycleContext{ReviewID: reviewID})

	builder.State(StatePending).
		On(EventStart).Target(StateInProgress).
		Done()

	builder.State(StateInProgress).
		On(EventComplete).Target(StateCompleted).
		On(EventFail).Target(StateFailed).
		Done()

	builder.State(StateCompleted).
		On(EventRetry).Target(StatePending).
		Done()

	builder.State(StateFailed).
		On(EventRetry).Target(StatePending).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build review lifecycle: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &lifecycle{interpreter: interp}, nil
}

func (l *lifecycle) current() models.ReviewStatus {
	return models.ReviewStatus(l.interpreter.State().Value)
}

// fire sends event and returns the resulting status. An event the current
// status does not accept leaves the machine where it was.
func (l *lifecycle) fire(event string) (models.ReviewStatus, error) {
	before := l.current()
	l.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := l.current()
	if before == after {
		return before, fmt.Errorf("%w: %q not allowed from %s", ErrIllegalTransition, event, before)
	}
	return after, nil
}

// Transition returns the status reached by applying event to from.
func Transition(from models.ReviewStatus, event string) (models.ReviewStatus, error) {
	l, err := newLifecycle("", from)
	if err != nil {
		return from, err
	}
	return l.fire(event)
}

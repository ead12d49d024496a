package capture

import (
	"context"
	"errors"
	"log"

	"github.com/looplab/fsm"
)

// State is the lifecycle position of the capture screen.
type State string

const (
	StateIdle       State = "idle"
	StateArming     State = "arming"
	StateCapturing  State = "capturing"
	StateProcessing State = "processing"
	StateReviewing  State = "reviewing"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Events driving the machine.
const (
	evFocus         = "focus"
	evShutter       = "shutter"
	evAbort         = "abort"
	evAcquired      = "acquired"
	evCaptureFailed = "capture_failed"
	evImport        = "import"
	evProcessed     = "processed"
	evProcessFailed = "process_failed"
	evRetake        = "retake"
	evSubmit        = "submit"
	evSubmitted     = "submitted"
	evSubmitFailed  = "submit_failed"
	evBlur          = "blur"
)

func names(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// newMachine builds the transition table. Callbacks only log; all side
// effects live in the Sequencer so they run under its lock in a known order.
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evFocus, Src: names(StateIdle), Dst: string(StateArming)},
			{Name: evShutter, Src: names(StateArming), Dst: string(StateCapturing)},
			{Name: evAbort, Src: names(StateCapturing), Dst: string(StateArming)},
			{Name: evAcquired, Src: names(StateCapturing), Dst: string(StateProcessing)},
			{Name: evCaptureFailed, Src: names(StateCapturing), Dst: string(StateArming)},
			{Name: evImport, Src: names(StateArming), Dst: string(StateProcessing)},
			{Name: evProcessed, Src: names(StateProcessing), Dst: string(StateReviewing)},
			{Name: evProcessFailed, Src: names(StateProcessing), Dst: string(StateFailed)},
			{Name: evRetake, Src: names(StateReviewing, StateFailed, StateDone), Dst: string(StateArming)},
			{Name: evSubmit, Src: names(StateReviewing, StateFailed), Dst: string(StateSubmitting)},
			{Name: evSubmitted, Src: names(StateSubmitting), Dst: string(StateDone)},
			{Name: evSubmitFailed, Src: names(StateSubmitting), Dst: string(StateFailed)},
			{Name: evBlur, Src: names(StateArming, StateCapturing, StateProcessing,
				StateReviewing, StateSubmitting, StateDone, StateFailed), Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Printf("[Capture] %s: %s -> %s", e.Event, e.Src, e.Dst)
			},
		},
	)
}

// stateMachine adapts fsm.FSM to the sequencer: events are fired with a
// background context and a no-op transition is not an error.
type stateMachine struct {
	*fsm.FSM
}

func (m *stateMachine) fire(event string) error {
	err := m.Event(context.Background(), event)
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return nil
	}
	return err
}

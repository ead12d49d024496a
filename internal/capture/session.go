package capture

import (
	"errors"

	"github.com/google/uuid"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/flash"
	"capture-station-go/internal/match"
	"capture-station-go/internal/postprocess"
)

// Target selects where a reviewed photo is sent.
type Target int

const (
	TargetMatch Target = iota
	TargetUpload
)

func (t Target) String() string {
	if t == TargetUpload {
		return "upload"
	}
	return "match"
}

// Outcome is the reply to a successful submission.
type Outcome struct {
	Target Target
	Match  *match.Result
	Upload *match.UploadAck

	// Swapped is set once the matched artwork was saved to the gallery.
	Swapped *match.UploadAck
}

// Session is a snapshot of the current capture session. The Sequencer
// owns the live copy; callers only ever see copies.
type Session struct {
	ID     string
	Facing camera.Facing
	Flash  flash.Strategy
	State  State
	Dark   bool
	// PriorBrightness is set while a screen flash is engaged.
	PriorBrightness *float64
	Image           *postprocess.Payload
	Err             error
	Outcome         *Outcome

	// Swapping is true while the matched artwork is being saved.
	Swapping bool
}

func newSession(facing camera.Facing) *Session {
	return &Session{ID: uuid.NewString(), Facing: facing, State: StateArming}
}

func (s *Session) clone() Session {
	c := *s
	if s.PriorBrightness != nil {
		p := *s.PriorBrightness
		c.PriorBrightness = &p
	}
	return c
}

// token identifies the session generation an asynchronous step belongs
// to. Any focus, blur or retake bumps the generation.
type token struct {
	gen uint64
	id  string
}

// Sentinel errors for requests the current state does not allow.
var (
	ErrNotArming       = errors.New("capture: camera is not ready")
	ErrCannotRetake    = errors.New("capture: nothing to retake")
	ErrNothingToSubmit = errors.New("capture: no photo to submit")
	ErrSubmitInFlight  = errors.New("capture: submission already in progress")
	ErrNothingToSwap   = errors.New("capture: no swappable match")
	ErrAborted         = errors.New("capture: attempt aborted")
	ErrStale           = errors.New("capture: session ended before the step finished")
)

// Package capture sequences one photo from the live preview through
// flash, acquisition, processing, review and submission, and guarantees
// the screen brightness and torch are put back on every exit path.
package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/faults"
	"capture-station-go/internal/flash"
	"capture-station-go/internal/light"
	"capture-station-go/internal/match"
	"capture-station-go/internal/postprocess"
)

// Timing defaults.
const (
	DefaultSettleDelay = 300 * time.Millisecond
	DefaultHapticPulse = 100 * time.Millisecond
)

// LightSource is the ambient light monitor as seen by the sequencer.
type LightSource interface {
	Start(ctx context.Context)
	Stop()
	Subscribe(fn func(light.Reading)) error
	Unsubscribe(fn func(light.Reading)) error
}

// ScreenFlash engages and restores the full-brightness screen.
type ScreenFlash interface {
	Engage() error
	Restore() error
	Prior() (float64, bool)
}

// Processor turns a raw frame into a submittable payload.
type Processor interface {
	Process(ctx context.Context, frame camera.Frame) (*postprocess.Payload, error)
}

// Submitter sends payloads to the matching service.
type Submitter interface {
	Match(ctx context.Context, photo match.Photo) (*match.Result, error)
	Upload(ctx context.Context, photo match.Photo) (*match.UploadAck, error)
}

// Haptics gives tactile feedback. Vibrate must not block.
type Haptics interface {
	Vibrate(d time.Duration)
}

// Deps are the collaborators of a Sequencer. Haptics may be nil.
type Deps struct {
	Camera    camera.Device
	Light     LightSource
	Flash     ScreenFlash
	Processor Processor
	Submitter Submitter
	Haptics   Haptics
}

// Options tunes a Sequencer.
type Options struct {
	SettleDelay   time.Duration
	HapticPulse   time.Duration
	InitialFacing camera.Facing
	// After replaces time.After for the settle delay.
	After func(time.Duration) <-chan time.Time
}

// Sequencer is the capture screen's state machine. Every mutation runs
// under mu; the settle delay, acquisition, processing and submission run
// unlocked and commit only if their token is still current.
type Sequencer struct {
	deps Deps
	opts Options

	// lifecycle serializes Focus, Blur and SetFacing, which start and
	// stop collaborators outside mu.
	lifecycle sync.Mutex

	mu            sync.Mutex
	machine       *stateMachine
	gen           uint64
	session       *Session
	facing        camera.Facing
	focused       bool
	dark          bool
	pendingDark   *bool
	strategy      flash.Strategy
	torchOn       bool
	scopeCtx      context.Context
	scopeCancel   context.CancelFunc
	attemptCancel context.CancelFunc

	onReading func(light.Reading)
	changes   chan struct{}
}

// NewSequencer creates an idle sequencer.
func NewSequencer(deps Deps, opts Options) *Sequencer {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.HapticPulse <= 0 {
		opts.HapticPulse = DefaultHapticPulse
	}
	if opts.After == nil {
		opts.After = time.After
	}
	s := &Sequencer{
		deps:    deps,
		opts:    opts,
		machine: &stateMachine{newMachine()},
		facing:  opts.InitialFacing,
		changes: make(chan struct{}, 1),
	}
	s.onReading = s.handleReading
	return s
}

// Changes signals (coalesced) whenever the session changes; read
// Snapshot to see what changed.
func (s *Sequencer) Changes() <-chan struct{} {
	return s.changes
}

// =============================================================================
// Scope
// =============================================================================

// Focus starts a session: arms the camera, subscribes to light readings
// and starts the monitor. No-op when already focused.
func (s *Sequencer) Focus(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state() != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	s.scopeCtx, s.scopeCancel = context.WithCancel(context.Background())
	s.session = newSession(s.facing)
	s.focused = true
	s.dark = false
	s.pendingDark = nil
	s.fire(evFocus)
	s.enterArming()
	s.notify()
	scope, facing := s.scopeCtx, s.facing
	s.mu.Unlock()

	if err := s.deps.Light.Subscribe(s.onReading); err != nil {
		log.Printf("[Capture] WARNING: light subscription failed: %v", err)
	}
	s.deps.Light.Start(scope)

	if err := s.deps.Camera.Start(ctx, facing); err != nil {
		log.Printf("[Capture] Camera start failed: %v", err)
		return faults.Wrap(faults.KindCaptureDevice, "capture.focus", "start camera", err)
	}
	return nil
}

// Blur ends the session from any state. Brightness is restored and the
// torch switched off before the machine reaches idle; in-flight steps are
// invalidated and their results dropped.
func (s *Sequencer) Blur() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state() == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	if s.attemptCancel != nil {
		s.attemptCancel()
		s.attemptCancel = nil
	}
	s.scopeCancel()

	restoreErr := s.deps.Flash.Restore()
	s.setTorch(false)

	s.focused = false
	s.strategy = flash.None
	s.pendingDark = nil
	s.fire(evBlur)
	s.session = nil
	s.notify()
	s.mu.Unlock()

	if err := s.deps.Light.Unsubscribe(s.onReading); err != nil {
		log.Printf("[Capture] WARNING: light unsubscribe failed: %v", err)
	}
	s.deps.Light.Stop()
	s.deps.Camera.Stop()
	return restoreErr
}

// SetFacing switches camera. A screen flash still priming is aborted
// first; the new strategy applies once the machine is back in arming.
func (s *Sequencer) SetFacing(ctx context.Context, facing camera.Facing) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if facing == s.facing {
		s.mu.Unlock()
		return nil
	}
	s.facing = facing
	st := s.state()
	if s.session != nil {
		s.session.Facing = facing
	}
	switch st {
	case StateCapturing:
		if s.attemptCancel != nil {
			s.attemptCancel()
		}
	case StateArming:
		s.applyStrategy()
	}
	s.notify()
	s.mu.Unlock()

	if st == StateIdle {
		return nil
	}
	if err := s.deps.Camera.Start(ctx, facing); err != nil {
		return faults.Wrap(faults.KindCaptureDevice, "capture.facing", "restart camera", err)
	}
	return nil
}

func (s *Sequencer) handleReading(r light.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state() {
	case StateIdle:
		return
	case StateArming:
		s.dark = r.Dark
		s.pendingDark = nil
		s.applyStrategy()
	default:
		dark := r.Dark
		s.pendingDark = &dark
	}
	s.notify()
}

// =============================================================================
// Capture
// =============================================================================

// Shutter takes a photo. It returns once the attempt has reached
// reviewing (nil), failed (the cause), or was aborted back to arming
// (ErrAborted). Cancelling ctx aborts the attempt.
func (s *Sequencer) Shutter(ctx context.Context) error {
	s.mu.Lock()
	if s.state() != StateArming {
		s.mu.Unlock()
		return ErrNotArming
	}
	s.fire(evShutter)
	s.session.Err = nil
	tok := s.token()
	strategy := s.strategy
	attempt, cancel := s.newAttempt(ctx)
	s.notify()
	s.mu.Unlock()
	defer cancel()

	log.Printf("[Capture] Shutter (%s, flash=%s)", s.facingOf(tok), strategy)

	if strategy == flash.ScreenFlash && s.engageFlash(tok) {
		select {
		case <-s.opts.After(s.opts.SettleDelay):
		case <-attempt.Done():
		}
		if attempt.Err() != nil {
			return s.abortAttempt(tok)
		}
	}

	if s.deps.Haptics != nil {
		s.deps.Haptics.Vibrate(s.opts.HapticPulse)
	}

	frame, captureErr := s.deps.Camera.Capture(attempt)
	s.restoreFlash(tok)

	s.mu.Lock()
	if !s.valid(tok) {
		s.mu.Unlock()
		return ErrStale
	}
	if attempt.Err() != nil {
		s.mu.Unlock()
		return s.abortAttempt(tok)
	}
	s.setTorch(false)
	if captureErr != nil {
		// the device error ends this attempt only; the camera stays armed
		err := faults.Wrap(faults.KindCaptureDevice, "capture.shutter", "acquire frame", captureErr)
		s.session.Err = err
		s.fire(evCaptureFailed)
		s.enterArming()
		s.notify()
		s.mu.Unlock()
		log.Printf("[Capture] %s: %v", evCaptureFailed, err)
		return err
	}
	s.fire(evAcquired)
	s.notify()
	s.mu.Unlock()

	return s.process(attempt, tok, frame)
}

// CancelShutter aborts an attempt still in capturing. It reports whether
// there was one.
func (s *Sequencer) CancelShutter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state() != StateCapturing || s.attemptCancel == nil {
		return false
	}
	s.attemptCancel()
	return true
}

// Import feeds an existing picture (a gallery file) through processing
// without using the camera.
func (s *Sequencer) Import(ctx context.Context, frame camera.Frame) error {
	s.mu.Lock()
	if s.state() != StateArming {
		s.mu.Unlock()
		return ErrNotArming
	}
	s.fire(evImport)
	s.session.Err = nil
	s.setTorch(false)
	tok := s.token()
	attempt, cancel := s.newAttempt(ctx)
	s.notify()
	s.mu.Unlock()
	defer cancel()

	log.Printf("[Capture] Importing %s", frame.URI)
	return s.process(attempt, tok, frame)
}

func (s *Sequencer) process(ctx context.Context, tok token, frame camera.Frame) error {
	payload, err := s.deps.Processor.Process(ctx, frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(tok) {
		return ErrStale
	}
	s.attemptCancel = nil
	if err != nil {
		err = faults.Wrap(faults.KindPostProcess, "capture.process", "process frame", err)
		s.session.Image = nil
		s.fail(evProcessFailed, err)
		return err
	}
	s.session.Image = payload
	s.fire(evProcessed)
	s.notify()
	log.Printf("[Capture] Ready for review: %dx%d, %d bytes", payload.Width, payload.Height, payload.Size())
	return nil
}

// Retake discards the photo and re-arms. After a completed submission a
// fresh session is started.
func (s *Sequencer) Retake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state()
	if st != StateReviewing && st != StateFailed && st != StateDone {
		return ErrCannotRetake
	}
	s.gen++
	if st == StateDone {
		s.session = newSession(s.facing)
	} else {
		s.session.Image = nil
		s.session.Err = nil
		s.session.Outcome = nil
	}
	s.fire(evRetake)
	s.enterArming()
	s.notify()
	return nil
}

// =============================================================================
// Submission
// =============================================================================

// Confirm submits the reviewed photo. It is allowed from reviewing and,
// after a failed submission, from failed; the photo is kept so Confirm
// can be retried. A second Confirm while one is in flight is rejected.
func (s *Sequencer) Confirm(ctx context.Context, target Target) (*Outcome, error) {
	s.mu.Lock()
	switch st := s.state(); {
	case st == StateSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	case st == StateReviewing, st == StateFailed && s.session.Image != nil:
	default:
		s.mu.Unlock()
		return nil, ErrNothingToSubmit
	}
	s.session.Err = nil
	s.fire(evSubmit)
	tok := s.token()
	payload := s.session.Image
	attempt, cancel := s.newAttempt(ctx)
	s.notify()
	s.mu.Unlock()
	defer cancel()

	out := &Outcome{Target: target}
	var err error
	switch target {
	case TargetUpload:
		out.Upload, err = s.deps.Submitter.Upload(attempt, payload)
	default:
		out.Match, err = s.deps.Submitter.Match(attempt, payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(tok) {
		return nil, ErrStale
	}
	s.attemptCancel = nil
	if err != nil {
		err = faults.Wrap(faults.KindSubmitTransport, "capture.confirm", "submit "+target.String(), err)
		s.fail(evSubmitFailed, err)
		return nil, err
	}
	s.session.Outcome = out
	s.fire(evSubmitted)
	s.notify()
	return out, nil
}

// Swap saves the matched artwork to the user's gallery through the upload
// endpoint. It is offered once a match reply allows swapping; the session
// stays done whatever the outcome.
func (s *Sequencer) Swap(ctx context.Context) (*match.UploadAck, error) {
	s.mu.Lock()
	if s.state() != StateDone || s.session.Outcome == nil || s.session.Outcome.Match == nil ||
		!s.session.Outcome.Match.CanSwap {
		s.mu.Unlock()
		return nil, ErrNothingToSwap
	}
	if s.session.Swapping {
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	s.session.Swapping = true
	s.session.Err = nil
	tok := s.token()
	photo := match.EncodedPhoto(s.session.Outcome.Match.MatchedPhoto)
	attempt, cancel := s.newAttempt(ctx)
	s.notify()
	s.mu.Unlock()
	defer cancel()

	ack, err := s.deps.Submitter.Upload(attempt, photo)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(tok) {
		return nil, ErrStale
	}
	s.attemptCancel = nil
	s.session.Swapping = false
	if err != nil {
		err = faults.Wrap(faults.KindSubmitTransport, "capture.swap", "save matched photo", err)
		s.session.Err = err
		s.notify()
		log.Printf("[Capture] swap: %v", err)
		return nil, err
	}
	next := *s.session.Outcome
	next.Swapped = ack
	s.session.Outcome = &next
	s.notify()
	log.Printf("[Capture] Matched photo saved: %s", ack.Message)
	return ack, nil
}

// =============================================================================
// Queries
// =============================================================================

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// Strategy returns the flash strategy in effect.
func (s *Sequencer) Strategy() flash.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Facing returns the selected camera.
func (s *Sequencer) Facing() camera.Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// Snapshot returns a copy of the session; ok is false when idle.
func (s *Sequencer) Snapshot() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{State: StateIdle, Facing: s.facing}, false
	}
	snap := s.session.clone()
	snap.State = s.state()
	snap.Flash = s.strategy
	snap.Dark = s.dark
	return snap, true
}

// =============================================================================
// Internals (mu held unless noted)
// =============================================================================

func (s *Sequencer) state() State {
	return State(s.machine.Current())
}

func (s *Sequencer) fire(event string) {
	if err := s.machine.fire(event); err != nil {
		// the table and the guards above disagree; keep running but say so
		log.Printf("[Capture] ERROR: %s from %s: %v", event, s.state(), err)
	}
	if s.session != nil {
		s.session.State = s.state()
	}
}

func (s *Sequencer) token() token {
	return token{gen: s.gen, id: s.session.ID}
}

func (s *Sequencer) valid(t token) bool {
	return s.session != nil && s.gen == t.gen && s.session.ID == t.id
}

func (s *Sequencer) newAttempt(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(s.scopeCtx)
	stop := context.AfterFunc(parent, cancel)
	s.attemptCancel = cancel
	return ctx, func() {
		stop()
		cancel()
	}
}

// enterArming applies any light change recorded while busy.
func (s *Sequencer) enterArming() {
	s.attemptCancel = nil
	if s.pendingDark != nil {
		s.dark = *s.pendingDark
		s.pendingDark = nil
	}
	s.applyStrategy()
}

func (s *Sequencer) applyStrategy() {
	s.strategy = flash.Select(s.facing, s.dark, s.focused)
	if s.session != nil {
		s.session.Flash = s.strategy
		s.session.Dark = s.dark
	}
	s.setTorch(s.strategy == flash.Torch)
}

func (s *Sequencer) setTorch(on bool) {
	if on == s.torchOn {
		return
	}
	if err := s.deps.Camera.SetTorch(on); err != nil {
		log.Printf("[Capture] WARNING: torch %v failed: %v", on, err)
		if on {
			return
		}
	}
	s.torchOn = on
}

func (s *Sequencer) fail(event string, err error) {
	s.attemptCancel = nil
	if s.session != nil {
		s.session.Err = err
	}
	s.fire(event)
	s.notify()
	log.Printf("[Capture] %s: %v", event, err)
}

func (s *Sequencer) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// abortAttempt restores the flash and returns to arming. Takes mu.
func (s *Sequencer) abortAttempt(tok token) error {
	s.restoreFlash(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid(tok) {
		return ErrStale
	}
	s.fire(evAbort)
	s.enterArming()
	s.notify()
	log.Printf("[Capture] Attempt aborted")
	return ErrAborted
}

// engageFlash raises the screen and reports whether it did. Unsupported
// brightness degrades the shot to no screen flash. Takes mu.
func (s *Sequencer) engageFlash(tok token) bool {
	if err := s.deps.Flash.Engage(); err != nil {
		log.Printf("[Capture] Screen flash unavailable, shooting without it: %v", err)
		return false
	}
	prior, ok := s.deps.Flash.Prior()
	s.mu.Lock()
	if ok && s.valid(tok) {
		s.session.PriorBrightness = &prior
	}
	s.mu.Unlock()
	return true
}

// restoreFlash runs on every exit of an attempt, stale or not. Takes mu.
func (s *Sequencer) restoreFlash(tok token) {
	if err := s.deps.Flash.Restore(); err != nil {
		log.Printf("[Capture] WARNING: %v", err)
	}
	s.mu.Lock()
	if s.valid(tok) {
		s.session.PriorBrightness = nil
	}
	s.mu.Unlock()
}

func (s *Sequencer) facingOf(tok token) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid(tok) {
		return s.session.Facing.String()
	}
	return fmt.Sprintf("stale session %s", tok.id)
}

// Package ui is the fyne front end of the capture station: a live
// preview, the shutter and review controls, and the screen-flash overlay.
package ui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/capture"
	"capture-station-go/internal/match"
	"capture-station-go/internal/postprocess"
)

// Controller is the capture sequencer as driven by the screen.
type Controller interface {
	Focus(ctx context.Context) error
	Blur() error
	SetFacing(ctx context.Context, f camera.Facing) error
	Facing() camera.Facing
	Shutter(ctx context.Context) error
	CancelShutter() bool
	Import(ctx context.Context, frame camera.Frame) error
	Retake() error
	Confirm(ctx context.Context, target capture.Target) (*capture.Outcome, error)
	Swap(ctx context.Context) (*match.UploadAck, error)
	Snapshot() (capture.Session, bool)
	Changes() <-chan struct{}
}

// PreviewSource supplies the latest live frame, or nil.
type PreviewSource interface {
	Preview() image.Image
}

// RateSource paces the preview refresh.
type RateSource interface {
	Interval() time.Duration
}

// Options configures a Screen.
type Options struct {
	Title      string
	Fullscreen bool
	// PreviewInterval is used when no RateSource is given.
	PreviewInterval time.Duration
}

// =============================================================================
// Screen
// =============================================================================

// Screen is the single capture window. It focuses the sequencer when the
// app comes to the foreground and blurs it when the app is backgrounded
// or the window closes.
type Screen struct {
	app      fyne.App
	window   fyne.Window
	ctrl     Controller
	preview  PreviewSource
	rate     RateSource
	whiteout *Whiteout
	opts     Options

	pad        *PreviewPad
	previewImg *canvas.Image
	matchedImg *canvas.Image
	status     *widget.Label
	result     *widget.Label

	shutterBtn *widget.Button
	cancelBtn  *widget.Button
	flipBtn    *widget.Button
	importBtn  *widget.Button
	retakeBtn  *widget.Button
	matchBtn   *widget.Button
	uploadBtn  *widget.Button
	swapBtn    *widget.Button

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	renderMu    sync.Mutex
	shownPhoto  *postprocess.Payload
	shownResult *capture.Outcome
	live        atomic.Bool
	closeOnce   sync.Once
}

// NewScreen builds the window. whiteout may be nil when the device has no
// screen flash; preview and rate may be nil.
func NewScreen(a fyne.App, ctrl Controller, preview PreviewSource, rate RateSource, whiteout *Whiteout, opts Options) *Screen {
	if opts.Title == "" {
		opts.Title = "Capture Station"
	}
	if opts.PreviewInterval <= 0 {
		opts.PreviewInterval = time.Second / 15
	}
	if whiteout == nil {
		whiteout = NewWhiteout()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Screen{
		app:      a,
		window:   a.NewWindow(opts.Title),
		ctrl:     ctrl,
		preview:  preview,
		rate:     rate,
		whiteout: whiteout,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.window.Resize(fyne.NewSize(480, 800))
	s.window.SetFullScreen(opts.Fullscreen)
	s.setupUI()
	return s
}

func (s *Screen) setupUI() {
	s.previewImg = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 4, 3)))
	s.previewImg.FillMode = canvas.ImageFillContain
	s.pad = NewPreviewPad(s.previewImg, s.onShutter, s.onFlip)

	s.matchedImg = canvas.NewImageFromImage(nil)
	s.matchedImg.FillMode = canvas.ImageFillContain
	s.matchedImg.SetMinSize(fyne.NewSize(120, 120))
	s.matchedImg.Hide()

	s.status = widget.NewLabel("")
	s.status.Alignment = fyne.TextAlignCenter
	s.status.Wrapping = fyne.TextWrapWord
	s.result = widget.NewLabel("")
	s.result.Wrapping = fyne.TextWrapWord

	s.shutterBtn = widget.NewButton("Capture", s.onShutter)
	s.shutterBtn.Importance = widget.HighImportance
	s.cancelBtn = widget.NewButton("Cancel", s.onCancel)
	s.flipBtn = widget.NewButton("Flip", s.onFlip)
	s.importBtn = widget.NewButton("Gallery", s.onImport)
	s.retakeBtn = widget.NewButton("Retake", s.onRetake)
	s.matchBtn = widget.NewButton("Match", func() { s.onConfirm(capture.TargetMatch) })
	s.matchBtn.Importance = widget.HighImportance
	s.uploadBtn = widget.NewButton("Upload", func() { s.onConfirm(capture.TargetUpload) })
	s.swapBtn = widget.NewButton("Save match", s.onSwap)

	controlsRow := container.NewGridWithColumns(4, s.flipBtn, s.shutterBtn, s.cancelBtn, s.importBtn)
	reviewRow := container.NewGridWithColumns(4, s.retakeBtn, s.matchBtn, s.uploadBtn, s.swapBtn)
	resultRow := container.NewBorder(nil, nil, s.matchedImg, nil, s.result)
	bottom := container.NewVBox(s.status, resultRow, controlsRow, reviewRow)

	background := canvas.NewRectangle(color.RGBA{20, 20, 20, 255})
	body := container.NewBorder(nil, bottom, nil, nil, s.pad)
	s.window.SetContent(container.NewStack(background, body, s.whiteout.Object()))
	s.render(capture.Session{State: capture.StateIdle}, nil)
}

// Window returns the fyne window.
func (s *Screen) Window() fyne.Window { return s.window }

// Start wires lifecycle hooks, shows the window, focuses the sequencer and
// starts the refresh loops. It does not block.
func (s *Screen) Start() {
	lc := s.app.Lifecycle()
	lc.SetOnEnteredForeground(s.focus)
	lc.SetOnExitedForeground(s.blur)
	s.window.SetCloseIntercept(func() {
		s.Close()
		s.window.Close()
	})

	s.window.Show()
	s.focus()

	s.wg.Add(2)
	go s.watchLoop()
	go s.previewLoop()
}

// Run starts the screen and blocks in the fyne event loop.
func (s *Screen) Run() {
	s.Start()
	s.app.Run()
	s.Close()
}

// Close blurs the sequencer and stops the refresh loops. Safe to call
// more than once.
func (s *Screen) Close() {
	s.closeOnce.Do(func() {
		log.Println("[UI] Closing capture screen")
		s.cancel()
		if err := s.ctrl.Blur(); err != nil {
			log.Printf("[UI] Blur: %v", err)
		}
		s.wg.Wait()
	})
}

func (s *Screen) focus() {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.ctrl.Focus(s.ctx); err != nil {
		log.Printf("[UI] Focus: %v", err)
	}
	s.refresh()
}

func (s *Screen) blur() {
	if err := s.ctrl.Blur(); err != nil {
		log.Printf("[UI] Blur: %v", err)
	}
	s.refresh()
}

// =============================================================================
// Actions
// =============================================================================

func (s *Screen) onShutter() {
	go func() {
		if err := s.ctrl.Shutter(s.ctx); err != nil && !quiet(err) {
			log.Printf("[UI] Shutter: %v", err)
		}
	}()
}

func (s *Screen) onCancel() {
	if s.ctrl.CancelShutter() {
		log.Println("[UI] Capture cancelled")
	}
}

func (s *Screen) onFlip() {
	next := camera.FacingFront
	if s.ctrl.Facing() == camera.FacingFront {
		next = camera.FacingBack
	}
	go func() {
		if err := s.ctrl.SetFacing(s.ctx, next); err != nil {
			log.Printf("[UI] Switch to %s camera: %v", next, err)
		}
	}()
}

func (s *Screen) onRetake() {
	if err := s.ctrl.Retake(); err != nil {
		log.Printf("[UI] Retake: %v", err)
	}
}

func (s *Screen) onConfirm(target capture.Target) {
	go func() {
		if _, err := s.ctrl.Confirm(s.ctx, target); err != nil && !quiet(err) {
			log.Printf("[UI] Submit %s: %v", target, err)
		}
	}()
}

func (s *Screen) onSwap() {
	go func() {
		if _, err := s.ctrl.Swap(s.ctx); err != nil && !quiet(err) {
			log.Printf("[UI] Save matched photo: %v", err)
		}
	}()
}

func (s *Screen) onImport() {
	fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil {
			log.Printf("[UI] Gallery: %v", err)
			return
		}
		if rc == nil {
			return
		}
		s.importFrom(rc)
	}, s.window)
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}))
	fd.Show()
}

// importFrom reads a picked file and hands it to the sequencer.
func (s *Screen) importFrom(rc fyne.URIReadCloser) {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		log.Printf("[UI] Gallery read: %v", err)
		return
	}
	frame := camera.Frame{URI: rc.URI().Path(), Data: data, CapturedAt: time.Now()}
	go func() {
		if err := s.ctrl.Import(s.ctx, frame); err != nil && !quiet(err) {
			log.Printf("[UI] Import: %v", err)
		}
	}()
}

// quiet errors are expected outcomes of user actions, not failures.
func quiet(err error) bool {
	return errors.Is(err, capture.ErrAborted) || errors.Is(err, capture.ErrStale) ||
		errors.Is(err, capture.ErrNotArming) || errors.Is(err, context.Canceled)
}

// =============================================================================
// Rendering
// =============================================================================

func (s *Screen) watchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ctrl.Changes():
			s.refresh()
		}
	}
}

func (s *Screen) previewLoop() {
	defer s.wg.Done()
	interval := s.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last image.Image
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if next := s.interval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
		if !s.live.Load() || s.preview == nil {
			continue
		}
		img := s.preview.Preview()
		if img == nil || img == last {
			continue
		}
		last = img
		s.previewImg.Image = img
		s.previewImg.Refresh()
	}
}

func (s *Screen) interval() time.Duration {
	if s.rate != nil {
		if d := s.rate.Interval(); d > 0 {
			return d
		}
	}
	return s.opts.PreviewInterval
}

// refresh re-renders from the sequencer's current snapshot.
func (s *Screen) refresh() {
	snap, _ := s.ctrl.Snapshot()
	s.render(snap, s.preview)
}

func (s *Screen) render(snap capture.Session, preview PreviewSource) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	c := controlsFor(snap)
	setEnabled(s.shutterBtn, c.Shutter)
	setEnabled(s.cancelBtn, c.Cancel)
	setEnabled(s.flipBtn, c.Flip)
	setEnabled(s.importBtn, c.Import)
	setEnabled(s.retakeBtn, c.Retake)
	setEnabled(s.matchBtn, c.Match)
	setEnabled(s.uploadBtn, c.Upload)
	setEnabled(s.swapBtn, c.Swap)

	s.status.SetText(statusText(snap))
	s.pad.SetLowLight(snap.Dark && snap.State == capture.StateArming)

	live := showsPreview(snap.State)
	s.live.Store(live)
	switch {
	case snap.State == capture.StateIdle:
		s.pad.SetHint("Camera paused")
	case live:
		s.pad.SetHint("")
		s.shownPhoto = nil
		if preview != nil {
			if img := preview.Preview(); img != nil {
				s.previewImg.Image = img
				s.previewImg.Refresh()
			}
		}
	case snap.Image != nil && snap.Image != s.shownPhoto:
		s.pad.SetHint("")
		if img, err := decodePayload(snap.Image); err == nil {
			s.previewImg.Image = img
			s.previewImg.Refresh()
		} else {
			log.Printf("[UI] Review image: %v", err)
		}
		s.shownPhoto = snap.Image
	}

	s.renderOutcome(snap.Outcome)
}

func (s *Screen) renderOutcome(out *capture.Outcome) {
	if out == s.shownResult {
		return
	}
	s.shownResult = out
	s.result.SetText(resultText(out))

	if out == nil || out.Match == nil || out.Match.MatchedPhoto == "" {
		s.matchedImg.Hide()
		return
	}
	img, err := decodeMatched(out.Match.MatchedPhoto)
	if err != nil {
		log.Printf("[UI] %v", err)
		s.matchedImg.Hide()
		return
	}
	s.matchedImg.Image = img
	s.matchedImg.Show()
	s.matchedImg.Refresh()
}

func setEnabled(b *widget.Button, on bool) {
	if on {
		b.Enable()
	} else {
		b.Disable()
	}
}

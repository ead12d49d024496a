package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/flash"
	"capture-station-go/internal/light"
	"capture-station-go/internal/match"
	"capture-station-go/internal/postprocess"
)

// journal records side effects across fakes in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) has(entry string) bool {
	for _, e := range j.all() {
		if e == entry {
			return true
		}
	}
	return false
}

// ---- light ----

type fakeLight struct {
	mu       sync.Mutex
	handlers []func(light.Reading)
	starts   int
	stops    int
}

func (l *fakeLight) Start(context.Context) { l.mu.Lock(); l.starts++; l.mu.Unlock() }
func (l *fakeLight) Stop()                 { l.mu.Lock(); l.stops++; l.mu.Unlock() }

func (l *fakeLight) Subscribe(fn func(light.Reading)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, fn)
	return nil
}

func (l *fakeLight) Unsubscribe(func(light.Reading)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = nil
	return nil
}

func (l *fakeLight) emit(lux float64) {
	l.mu.Lock()
	hs := append([]func(light.Reading){}, l.handlers...)
	l.mu.Unlock()
	r := light.Reading{Lux: lux, ObservedAt: time.Now(), Dark: light.IsDark(lux, light.DefaultThreshold)}
	for _, h := range hs {
		h(r)
	}
}

func (l *fakeLight) subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers)
}

// ---- brightness / overlay ----

type fakeBrightness struct {
	j     *journal
	mu    sync.Mutex
	level float64
}

func (b *fakeBrightness) Get() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level, nil
}

func (b *fakeBrightness) Set(v float64) error {
	b.mu.Lock()
	b.level = v
	b.mu.Unlock()
	b.j.add("brightness %.2f", v)
	return nil
}

func (b *fakeBrightness) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// ---- camera ----

type fakeCamera struct {
	j        *journal
	mu       sync.Mutex
	facing   camera.Facing
	started  int
	stopped  int
	captures int
	torch    bool
	// capture overrides the default success when set
	capture func(ctx context.Context) (camera.Frame, error)
}

func (c *fakeCamera) Start(_ context.Context, f camera.Facing) error {
	c.mu.Lock()
	c.facing = f
	c.started++
	c.mu.Unlock()
	c.j.add("camera start %s", f)
	return nil
}

func (c *fakeCamera) Stop() {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
	c.j.add("camera stop")
}

func (c *fakeCamera) Capture(ctx context.Context) (camera.Frame, error) {
	c.mu.Lock()
	c.captures++
	fn := c.capture
	c.mu.Unlock()
	c.j.add("capture")
	if fn != nil {
		return fn(ctx)
	}
	return testFrame(), nil
}

func (c *fakeCamera) SetTorch(on bool) error {
	c.mu.Lock()
	c.torch = on
	c.mu.Unlock()
	c.j.add("torch %v", on)
	return nil
}

func (c *fakeCamera) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

func (c *fakeCamera) Torch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torch
}

func testFrame() camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return camera.Frame{URI: "/tmp/test.jpg", Data: buf.Bytes(), CapturedAt: time.Now()}
}

// ---- haptics ----

type fakeHaptics struct{ j *journal }

func (h fakeHaptics) Vibrate(d time.Duration) { h.j.add("vibrate %v", d) }

// ---- processor ----

type failingProcessor struct{ err error }

func (p failingProcessor) Process(context.Context, camera.Frame) (*postprocess.Payload, error) {
	return nil, p.err
}

// ---- submitter ----

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	match   func(ctx context.Context, call int) (*match.Result, error)
	upload  func(ctx context.Context, photo match.Photo) (*match.UploadAck, error)
	entered chan struct{}
}

func (f *fakeSubmitter) Match(ctx context.Context, _ match.Photo) (*match.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.match != nil {
		return f.match(ctx, call)
	}
	return &match.Result{MatchedPhoto: "QUJD", Name: "Water Lilies", SimilarityDistance: "0.2"}, nil
}

func (f *fakeSubmitter) Upload(ctx context.Context, photo match.Photo) (*match.UploadAck, error) {
	if f.upload != nil {
		return f.upload(ctx, photo)
	}
	return &match.UploadAck{Message: "saved"}, nil
}

// ---- settle timer ----

type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
	hold  bool
	j     *journal
	armed chan struct{}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	c.j.add("settle %v", d)
	if c.armed != nil {
		close(c.armed)
	}
	if c.hold {
		return make(chan time.Time) // never fires
	}
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// ---- rig ----

type rig struct {
	j          *journal
	light      *fakeLight
	brightness *fakeBrightness
	flash      *flash.Controller
	camera     *fakeCamera
	submitter  *fakeSubmitter
	clock      *fakeClock
	seq        *Sequencer
}

type rigOption func(*rig, *Deps)

func withProcessor(p Processor) rigOption {
	return func(_ *rig, d *Deps) { d.Processor = p }
}

func withSubmitter(sub Submitter) rigOption {
	return func(_ *rig, d *Deps) { d.Submitter = sub }
}

func withoutBrightness() rigOption {
	return func(r *rig, d *Deps) {
		r.flash = flash.NewController(nil, nil)
		d.Flash = r.flash
	}
}

func newRig(t *testing.T, facing camera.Facing, opts ...rigOption) *rig {
	t.Helper()
	j := &journal{}
	r := &rig{
		j:          j,
		light:      &fakeLight{},
		brightness: &fakeBrightness{j: j, level: 0.4},
		camera:     &fakeCamera{j: j},
		submitter:  &fakeSubmitter{},
		clock:      &fakeClock{j: j},
	}
	r.flash = flash.NewController(r.brightness, nil)

	deps := Deps{
		Camera:    r.camera,
		Light:     r.light,
		Flash:     r.flash,
		Processor: postprocess.NewProcessor(),
		Submitter: r.submitter,
		Haptics:   fakeHaptics{j: j},
	}
	for _, o := range opts {
		o(r, &deps)
	}
	r.seq = NewSequencer(deps, Options{InitialFacing: facing, After: r.clock.After})
	t.Cleanup(func() { _ = r.seq.Blur() })
	return r
}

func (r *rig) focus(t *testing.T) {
	t.Helper()
	require.NoError(t, r.seq.Focus(context.Background()))
	require.Equal(t, StateArming, r.seq.State())
}

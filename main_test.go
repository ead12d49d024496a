package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/capture"
	"capture-station-go/internal/config"
	"capture-station-go/internal/flash"
	"capture-station-go/internal/light"
	"capture-station-go/internal/match"
)

type fakeShot struct {
	calls      []string
	imported   camera.Frame
	shutterErr error
	canSwap    bool
}

func (f *fakeShot) Focus(context.Context) error { f.calls = append(f.calls, "focus"); return nil }
func (f *fakeShot) Blur() error                 { f.calls = append(f.calls, "blur"); return nil }

func (f *fakeShot) Shutter(context.Context) error {
	f.calls = append(f.calls, "shutter")
	return f.shutterErr
}

func (f *fakeShot) Import(_ context.Context, fr camera.Frame) error {
	f.calls = append(f.calls, "import")
	f.imported = fr
	return nil
}

func (f *fakeShot) Confirm(_ context.Context, t capture.Target) (*capture.Outcome, error) {
	f.calls = append(f.calls, "confirm "+t.String())
	if t == capture.TargetUpload {
		return &capture.Outcome{Target: t, Upload: &match.UploadAck{Message: "Photo uploaded successfully"}}, nil
	}
	return &capture.Outcome{Target: t, Match: &match.Result{Name: "Irises", MatchedPhoto: "QUJD", CanSwap: f.canSwap}}, nil
}

func (f *fakeShot) Swap(context.Context) (*match.UploadAck, error) {
	f.calls = append(f.calls, "swap")
	return &match.UploadAck{Message: "Photo uploaded successfully"}, nil
}

func (f *fakeShot) Snapshot() (capture.Session, bool) {
	return capture.Session{ID: "s-1", Facing: camera.FacingFront, Flash: flash.ScreenFlash, Dark: true}, true
}

func TestShootOnceCapturesAndMatches(t *testing.T) {
	seq := &fakeShot{}
	var out bytes.Buffer

	err := shootOnce(context.Background(), seq, headlessOptions{Target: "match", Out: &out, Warmup: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []string{"focus", "shutter", "confirm match", "blur"}, seq.calls)
	assert.Contains(t, out.String(), `"flash": "screen-flash"`)
	assert.Contains(t, out.String(), `"name": "Irises"`)
}

func TestShootOnceSwapsWhenAllowed(t *testing.T) {
	seq := &fakeShot{canSwap: true}
	var out bytes.Buffer
	err := shootOnce(context.Background(), seq, headlessOptions{Swap: true, Out: &out, Warmup: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []string{"focus", "shutter", "confirm match", "swap", "blur"}, seq.calls)
	assert.Contains(t, out.String(), `"swapped"`)

	seq = &fakeShot{}
	out.Reset()
	require.NoError(t, shootOnce(context.Background(), seq, headlessOptions{Swap: true, Out: &out, Warmup: time.Millisecond}))
	assert.NotContains(t, seq.calls, "swap")
	assert.NotContains(t, out.String(), `"swapped"`)
}

func TestShootOnceImportsAndUploads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))
	seq := &fakeShot{}
	var out bytes.Buffer

	err := shootOnce(context.Background(), seq, headlessOptions{Target: "upload", ImportPath: path, Out: &out})
	require.NoError(t, err)
	assert.Equal(t, []string{"focus", "import", "confirm upload", "blur"}, seq.calls)
	assert.Equal(t, []byte("jpeg bytes"), seq.imported.Data)
	assert.Contains(t, out.String(), "Photo uploaded successfully")
}

func TestShootOnceBlursOnFailure(t *testing.T) {
	seq := &fakeShot{shutterErr: errors.New("no frame")}
	err := shootOnce(context.Background(), seq, headlessOptions{Warmup: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, []string{"focus", "shutter", "blur"}, seq.calls)
}

func TestShootOnceRejectsUnknownTarget(t *testing.T) {
	seq := &fakeShot{}
	require.Error(t, shootOnce(context.Background(), seq, headlessOptions{Target: "print"}))
	assert.Empty(t, seq.calls)
}

func TestShootOnceCancelledDuringWarmup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := &fakeShot{}
	err := shootOnce(ctx, seq, headlessOptions{Warmup: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"focus", "blur"}, seq.calls)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.PatternOnly = true
	cfg.DevDir = dir
	cfg.IIORoot = filepath.Join(dir, "iio")
	cfg.BacklightRoot = filepath.Join(dir, "backlight")
	cfg.LEDRoot = filepath.Join(dir, "leds")
	cfg.VibratorPath = filepath.Join(dir, "vibrator")
	cfg.SpoolDir = filepath.Join(dir, "spool")
	return cfg
}

func TestSelectSensor(t *testing.T) {
	cfg := testConfig(t)
	device := camera.NewLocalDevice(camera.LocalConfig{PatternOnly: true}, nil)

	cfg.LightSource = "none"
	assert.Nil(t, selectSensor(cfg, device))

	cfg.LightSource = "iio"
	assert.Nil(t, selectSensor(cfg, device), "no IIO device in the temp tree")

	cfg.LightSource = "auto"
	_, isFrame := selectSensor(cfg, device).(*light.FrameSensor)
	assert.True(t, isFrame, "falls back to preview frames")
}

func TestBuildStationWithoutHardware(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitialFacing = "front"

	st := buildStation(cfg, nil)
	require.NotNil(t, st.seq)
	assert.Equal(t, camera.FacingFront, st.seq.Facing())
	assert.Equal(t, capture.StateIdle, st.seq.State())
	assert.NotNil(t, st.governor)

	cfg.DynamicPreview = false
	assert.Nil(t, buildStation(cfg, nil).governor)
}

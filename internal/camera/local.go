package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"capture-station-go/internal/faults"
)

// spoolQuality is the JPEG quality of the raw capture written to disk.
// Post-processing recompresses it, so this only needs to be near-lossless.
const spoolQuality = 95

// LocalConfig configures a LocalDevice.
type LocalConfig struct {
	BackPath  string
	FrontPath string
	Width     int
	Height    int
	FPS       int
	Format    string
	SpoolDir  string
	// FreeHolders kills stale processes holding the node before streaming.
	FreeHolders bool
	// PatternOnly never touches hardware.
	PatternOnly bool
}

// TorchSwitch toggles the rear flash LED.
type TorchSwitch interface {
	SetTorch(on bool) error
}

// LocalDevice is a Device backed by the V4L2 nodes of this machine. One
// stream runs at a time; switching facing restarts it.
type LocalDevice struct {
	cfg    LocalConfig
	torch  TorchSwitch
	buffer *FrameBuffer

	mu     sync.Mutex
	worker *StreamWorker
	facing Facing
}

// NewLocalDevice creates a stopped device. torch may be nil.
func NewLocalDevice(cfg LocalConfig, torch TorchSwitch) *LocalDevice {
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = filepath.Join(os.TempDir(), "capture-station")
	}
	return &LocalDevice{cfg: cfg, torch: torch, buffer: NewFrameBuffer()}
}

func (d *LocalDevice) pathFor(f Facing) string {
	if f == FacingFront {
		return d.cfg.FrontPath
	}
	return d.cfg.BackPath
}

// Start opens the stream for facing.
func (d *LocalDevice) Start(ctx context.Context, facing Facing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.worker != nil {
		if d.facing == facing {
			return nil
		}
		d.worker.Stop()
		d.worker = nil
	}

	path := d.pathFor(facing)
	patternOnly := d.cfg.PatternOnly || path == ""
	if !patternOnly && d.cfg.FreeHolders && deviceExists(path) {
		FreeDevice(path)
	}

	d.buffer.Reset()
	w := NewStreamWorker(StreamConfig{
		DevicePath:  path,
		Width:       d.cfg.Width,
		Height:      d.cfg.Height,
		FPS:         d.cfg.FPS,
		Format:      d.cfg.Format,
		PatternOnly: patternOnly,
	}, facing, d.buffer)
	if err := w.Start(); err != nil {
		return faults.Wrap(faults.KindCaptureDevice, "camera.start", "start stream", err)
	}
	d.worker = w
	d.facing = facing
	log.Printf("[Camera] Streaming %s camera (%s)", facing, describePath(path, patternOnly))
	return nil
}

// Stop ends the stream and switches the torch off.
func (d *LocalDevice) Stop() {
	d.mu.Lock()
	w := d.worker
	d.worker = nil
	d.mu.Unlock()

	if w == nil {
		return
	}
	w.Stop()
	if d.torch != nil {
		if err := d.torch.SetTorch(false); err != nil {
			log.Printf("[Camera] WARNING: torch off failed: %v", err)
		}
	}
	log.Printf("[Camera] Stream stopped")
}

// Capture waits for a frame newer than the call, spools it as JPEG and
// returns both the file and the bytes.
func (d *LocalDevice) Capture(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	running := d.worker != nil
	d.mu.Unlock()
	if !running {
		return Frame{}, faults.New(faults.KindCaptureDevice, "camera.capture", "camera not started")
	}

	img, err := waitFresh(ctx, d.buffer)
	if err != nil {
		return Frame{}, faults.Wrap(faults.KindCaptureDevice, "camera.capture", "no frame from stream", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: spoolQuality}); err != nil {
		return Frame{}, faults.Wrap(faults.KindCaptureDevice, "camera.capture", "encode frame", err)
	}

	if err := os.MkdirAll(d.cfg.SpoolDir, 0o755); err != nil {
		return Frame{}, faults.Wrap(faults.KindCaptureDevice, "camera.capture", "create spool dir", err)
	}
	uri := filepath.Join(d.cfg.SpoolDir, fmt.Sprintf("capture-%s.jpg", uuid.NewString()))
	if err := os.WriteFile(uri, buf.Bytes(), 0o644); err != nil {
		return Frame{}, faults.Wrap(faults.KindCaptureDevice, "camera.capture", "spool frame", err)
	}

	return Frame{URI: uri, Data: buf.Bytes(), CapturedAt: time.Now()}, nil
}

// SetTorch switches the rear LED. Without a torch, "off" is a no-op and
// "on" reports a device error.
func (d *LocalDevice) SetTorch(on bool) error {
	if d.torch == nil {
		if on {
			return faults.New(faults.KindCaptureDevice, "camera.torch", "no torch on this device")
		}
		return nil
	}
	return d.torch.SetTorch(on)
}

// Preview returns the latest streamed frame, or nil.
func (d *LocalDevice) Preview() image.Image {
	img, _ := d.buffer.Read()
	return img
}

// Buffer exposes the frame buffer to frame-based light estimation.
func (d *LocalDevice) Buffer() *FrameBuffer {
	return d.buffer
}

// SetPatternExposure dims the synthetic scene of a pattern-mode stream.
func (d *LocalDevice) SetPatternExposure(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.worker != nil {
		d.worker.Pattern().SetExposure(v)
	}
}

func deviceExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func describePath(path string, patternOnly bool) string {
	if patternOnly {
		return "test pattern"
	}
	return path
}

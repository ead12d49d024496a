package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// StreamConfig describes how a preview stream is opened.
type StreamConfig struct {
	DevicePath string
	Width      int
	Height     int
	FPS        int
	Format     string // "mjpeg" or "yuyv"
	// PatternOnly skips FFmpeg entirely and serves the test pattern.
	PatternOnly bool
	// RetryInterval is how often a pattern-mode stream retries the device.
	RetryInterval time.Duration
}

// StreamWorker keeps a V4L2 device streaming into a FrameBuffer through
// FFmpeg. When the device is missing or FFmpeg fails it serves a test
// pattern and periodically retries the device.
type StreamWorker struct {
	cfg     StreamConfig
	facing  Facing
	buffer  *FrameBuffer
	pattern *Pattern

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}

	ffmpegMu  sync.Mutex
	ffmpegCmd *exec.Cmd

	frameCount atomic.Uint64
	errorCount atomic.Uint32
}

// NewStreamWorker creates a worker writing into buffer.
func NewStreamWorker(cfg StreamConfig, facing Facing, buffer *FrameBuffer) *StreamWorker {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Format == "" {
		cfg.Format = "mjpeg"
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 10 * time.Second
	}
	return &StreamWorker{
		cfg:     cfg,
		facing:  facing,
		buffer:  buffer,
		pattern: NewPattern(cfg.Width, cfg.Height, facing),
	}
}

// Start launches the stream goroutine.
func (sw *StreamWorker) Start() error {
	if sw.running.Swap(true) {
		return fmt.Errorf("camera: stream worker already running")
	}
	sw.stopCh = make(chan struct{})
	sw.done = make(chan struct{})
	go sw.loop()
	return nil
}

// Stop terminates FFmpeg and waits for the stream goroutine to exit.
func (sw *StreamWorker) Stop() {
	if !sw.running.Swap(false) {
		return
	}
	close(sw.stopCh)
	sw.killFFmpeg()
	<-sw.done
}

// Pattern returns the generator used in pattern mode.
func (sw *StreamWorker) Pattern() *Pattern {
	return sw.pattern
}

// Stats returns frames delivered and read/decode errors.
func (sw *StreamWorker) Stats() (frames uint64, errs uint32) {
	return sw.frameCount.Load(), sw.errorCount.Load()
}

func (sw *StreamWorker) loop() {
	defer close(sw.done)

	for sw.running.Load() {
		if !sw.cfg.PatternOnly && sw.streamFFmpeg() {
			// stream ended cleanly or was stopped
		} else if sw.running.Load() {
			if !sw.cfg.PatternOnly {
				log.Printf("[Stream] %s (%s): device unavailable, serving test pattern",
					sw.cfg.DevicePath, sw.facing)
			}
			sw.runPattern()
		}

		select {
		case <-sw.stopCh:
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (sw *StreamWorker) ffmpegArgs(inputFormat string) []string {
	args := []string{"-loglevel", "error", "-thread_queue_size", "512",
		"-probesize", "32", "-analyzeduration", "0", "-f", "v4l2"}
	if inputFormat != "" {
		args = append(args, "-input_format", inputFormat)
	}
	args = append(args,
		"-video_size", fmt.Sprintf("%dx%d", sw.cfg.Width, sw.cfg.Height),
		"-framerate", fmt.Sprintf("%d", sw.cfg.FPS),
		"-i", sw.cfg.DevicePath,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-")
	return args
}

// streamFFmpeg tries the configured input format, the other format, then
// auto-detection. Returns true if any of them produced frames.
func (sw *StreamWorker) streamFFmpeg() bool {
	formats := []string{"mjpeg", "yuyv422", ""}
	if sw.cfg.Format == "yuyv" {
		formats = []string{"yuyv422", "mjpeg", ""}
	}
	for _, f := range formats {
		if !sw.running.Load() {
			return true
		}
		if sw.runFFmpeg(sw.ffmpegArgs(f)) {
			return true
		}
	}
	return false
}

func (sw *StreamWorker) runFFmpeg(args []string) bool {
	sw.ffmpegMu.Lock()
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		sw.ffmpegMu.Unlock()
		log.Printf("[Stream] %s: stdout pipe: %v", sw.cfg.DevicePath, err)
		return false
	}
	if err := cmd.Start(); err != nil {
		sw.ffmpegMu.Unlock()
		log.Printf("[Stream] %s: failed to start FFmpeg: %v", sw.cfg.DevicePath, err)
		return false
	}
	sw.ffmpegCmd = cmd
	sw.ffmpegMu.Unlock()

	defer sw.killFFmpeg()

	log.Printf("[Stream] %s (%s): FFmpeg started %dx%d @ %d FPS (PID %d)",
		sw.cfg.DevicePath, sw.facing, sw.cfg.Width, sw.cfg.Height, sw.cfg.FPS, cmd.Process.Pid)

	reader := NewMJPEGReader(stdout)
	delivered := false
	consecutive := 0
	for sw.running.Load() {
		data, err := reader.Next()
		if err == nil {
			var img image.Image
			if img, err = jpeg.Decode(bytes.NewReader(data)); err == nil {
				consecutive = 0
				delivered = true
				sw.deliver(img)
				continue
			}
		}
		if errors.Is(err, io.EOF) {
			log.Printf("[Stream] %s: FFmpeg stream ended", sw.cfg.DevicePath)
			return delivered
		}
		sw.errorCount.Add(1)
		if consecutive++; consecutive >= maxConsecutiveErrors {
			log.Printf("[Stream] %s: giving up after %d consecutive errors: %v",
				sw.cfg.DevicePath, consecutive, err)
			return delivered
		}
	}
	return true
}

func (sw *StreamWorker) killFFmpeg() {
	sw.ffmpegMu.Lock()
	defer sw.ffmpegMu.Unlock()
	if sw.ffmpegCmd != nil && sw.ffmpegCmd.Process != nil {
		sw.ffmpegCmd.Process.Kill()
		sw.ffmpegCmd.Wait() // reap
	}
	sw.ffmpegCmd = nil
}

// runPattern serves generated frames until stopped or, when a device is
// configured, until a retry tick finds the device working again.
func (sw *StreamWorker) runPattern() {
	interval := time.Second / time.Duration(sw.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var retry <-chan time.Time
	if !sw.cfg.PatternOnly {
		retryTicker := time.NewTicker(sw.cfg.RetryInterval)
		defer retryTicker.Stop()
		retry = retryTicker.C
	}

	for sw.running.Load() {
		select {
		case <-sw.stopCh:
			return
		case <-retry:
			if deviceExists(sw.cfg.DevicePath) {
				log.Printf("[Stream] %s: device present again, leaving pattern mode", sw.cfg.DevicePath)
				return
			}
		case <-ticker.C:
			sw.deliver(sw.pattern.Next())
		}
	}
}

func (sw *StreamWorker) deliver(img image.Image) {
	n := sw.frameCount.Add(1)
	if n%150 == 1 {
		b := img.Bounds()
		log.Printf("[Stream] %s (%s): frame #%d (%dx%d), errors=%d",
			sw.cfg.DevicePath, sw.facing, n, b.Dx(), b.Dy(), sw.errorCount.Load())
	}
	sw.buffer.Write(img)
}

// =============================================================================
// MJPEG stream splitting
// =============================================================================

const (
	maxConsecutiveErrors = 50

	mjpegReadChunk   = 8192
	mjpegMaxFrame    = 4 << 20
	mjpegFrameBudget = 500 * time.Millisecond
)

// MJPEGReader splits a concatenated JPEG stream (FFmpeg image2pipe output)
// into individual frames by scanning for SOI (FFD8) and EOI (FFD9).
type MJPEGReader struct {
	r       io.Reader
	chunk   []byte
	pending []byte
}

// NewMJPEGReader wraps r.
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{r: r, chunk: make([]byte, mjpegReadChunk)}
}

// Next returns the next complete JPEG. Data before the first SOI is
// dropped. io.EOF is returned once the stream ends without a full frame.
func (m *MJPEGReader) Next() ([]byte, error) {
	start := time.Now()
	for {
		if soi := bytes.Index(m.pending, []byte{0xFF, 0xD8}); soi >= 0 {
			m.pending = m.pending[soi:]
			if eoi := bytes.Index(m.pending[2:], []byte{0xFF, 0xD9}); eoi >= 0 {
				end := eoi + 4
				frame := make([]byte, end)
				copy(frame, m.pending[:end])
				m.pending = append(m.pending[:0], m.pending[end:]...)
				return frame, nil
			}
		} else if len(m.pending) > 1 {
			// keep a trailing 0xFF in case it starts the next SOI
			m.pending = append(m.pending[:0], m.pending[len(m.pending)-1])
		}

		if len(m.pending) > mjpegMaxFrame {
			m.pending = m.pending[:0]
			return nil, fmt.Errorf("camera: mjpeg frame exceeds %d bytes", mjpegMaxFrame)
		}
		if time.Since(start) > mjpegFrameBudget {
			return nil, fmt.Errorf("camera: timeout assembling mjpeg frame")
		}

		n, err := m.r.Read(m.chunk)
		m.pending = append(m.pending, m.chunk[:n]...)
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				continue
			}
			return nil, err
		}
	}
}

// captureTimeout bounds how long Capture waits for a fresh frame.
const captureTimeout = 3 * time.Second

func waitFresh(ctx context.Context, fb *FrameBuffer) (image.Image, error) {
	_, seq := fb.Read()
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	img, _, err := fb.WaitNewer(ctx, seq)
	return img, err
}

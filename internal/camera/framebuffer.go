package camera

import (
	"context"
	"image"
	"sync"
	"time"
)

// FrameBuffer holds the most recent preview frame. The stream worker
// writes at capture rate; the preview and the shutter read the latest.
type FrameBuffer struct {
	mu          sync.Mutex
	frame       image.Image
	frameCount  uint64
	lastFrameAt time.Time
	// notify is closed and replaced on every write
	notify chan struct{}
}

// NewFrameBuffer creates an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{notify: make(chan struct{})}
}

// Write stores a new frame and wakes any waiter. Never blocks on readers.
func (fb *FrameBuffer) Write(frame image.Image) {
	fb.mu.Lock()
	fb.frame = frame
	fb.frameCount++
	fb.lastFrameAt = time.Now()
	close(fb.notify)
	fb.notify = make(chan struct{})
	fb.mu.Unlock()
}

// Read returns the latest frame and its sequence number (0 = none yet).
func (fb *FrameBuffer) Read() (image.Image, uint64) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.frame, fb.frameCount
}

// WaitNewer blocks until a frame with sequence number greater than after
// is available, or ctx is done.
func (fb *FrameBuffer) WaitNewer(ctx context.Context, after uint64) (image.Image, uint64, error) {
	for {
		fb.mu.Lock()
		if fb.frameCount > after {
			frame, count := fb.frame, fb.frameCount
			fb.mu.Unlock()
			return frame, count, nil
		}
		ch := fb.notify
		fb.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-ch:
		}
	}
}

// LastFrameTime returns when the last frame was written.
func (fb *FrameBuffer) LastFrameTime() time.Time {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.lastFrameAt
}

// Reset drops the stored frame, e.g. when the stream switches camera.
func (fb *FrameBuffer) Reset() {
	fb.mu.Lock()
	fb.frame = nil
	fb.lastFrameAt = time.Time{}
	fb.mu.Unlock()
}

package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Facing selects the rear or the front (selfie) camera.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// ParseFacing accepts "front" or "back" (case-insensitive).
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "rear", "":
		return FacingBack, nil
	case "front", "selfie":
		return FacingFront, nil
	default:
		return FacingBack, fmt.Errorf("camera: unknown facing %q", s)
	}
}

// Frame is the raw output of one acquisition, before post-processing.
// URI points at the spooled JPEG on disk; Data holds the same bytes.
type Frame struct {
	URI        string
	Data       []byte
	CapturedAt time.Time
}

// Device is the camera collaborator driven by the capture sequencer.
// Start is idempotent for the same facing and restarts the stream when
// the facing changes.
type Device interface {
	Start(ctx context.Context, facing Facing) error
	Stop()
	Capture(ctx context.Context) (Frame, error)
	SetTorch(on bool) error
}

// Camera describes one V4L2 capture node.
type Camera struct {
	DeviceID   string
	DevicePath string
	Name       string
	Facing     Facing
}

// DiscoverCameras lists /dev/video* character devices under devDir.
// Handsets expose the rear sensor first, so the first node is treated as
// the back camera and the next even-numbered node as the front one; odd
// nodes are UVC metadata endpoints and are skipped.
func DiscoverCameras(devDir string) ([]Camera, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, fmt.Errorf("camera: scan %s: %w", devDir, err)
	}

	var nodes []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "video%d", &n); err != nil {
			continue
		}
		if n%2 != 0 {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&os.ModeDevice == 0 {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	var cameras []Camera
	for i, n := range nodes {
		if i > 1 {
			break
		}
		id := fmt.Sprintf("video%d", n)
		facing := FacingBack
		if i == 1 {
			facing = FacingFront
		}
		cameras = append(cameras, Camera{
			DeviceID:   id,
			DevicePath: filepath.Join(devDir, id),
			Name:       fmt.Sprintf("Camera %s (%s)", id, facing),
			Facing:     facing,
		})
	}
	return cameras, nil
}

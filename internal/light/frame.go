package light

import (
	"errors"
	"image"
	"math"
)

// =============================================================================
// Frame-based estimate
// =============================================================================
// Handsets without an IIO light sensor still have a preview stream. The
// mean ITU-R BT.601 luma of the latest frame is gamma-decoded to linear
// light and scaled so a fully white frame reads FullScale lux. It is a
// rough estimate, good enough for a dark / not-dark decision.
// =============================================================================

// DefaultFullScale is the lux reported for a fully white frame.
const DefaultFullScale = 400.0

// frameStride samples every Nth pixel in both directions.
const frameStride = 4

// errNoFrame is a missed sample, not an unavailable sensor.
var errNoFrame = errors.New("light: no preview frame yet")

// FrameSource yields the latest preview frame; camera.FrameBuffer fits.
type FrameSource interface {
	Read() (image.Image, uint64)
}

// FrameSensor estimates illuminance from preview frames.
type FrameSensor struct {
	src       FrameSource
	fullScale float64
}

// NewFrameSensor wraps src. fullScale <= 0 uses DefaultFullScale.
func NewFrameSensor(src FrameSource, fullScale float64) *FrameSensor {
	if fullScale <= 0 {
		fullScale = DefaultFullScale
	}
	return &FrameSensor{src: src, fullScale: fullScale}
}

// Illuminance implements Sensor.
func (s *FrameSensor) Illuminance() (float64, error) {
	img, _ := s.src.Read()
	if img == nil || img.Bounds().Empty() {
		return 0, errNoFrame
	}
	luma := meanLuma(img) / 255
	return math.Pow(luma, 2.2) * s.fullScale, nil
}

// meanLuma returns the average BT.601 luma (0-255) over a sparse grid.
func meanLuma(img image.Image) float64 {
	b := img.Bounds()
	var sum uint64
	var n uint64

	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y += frameStride {
			off := rgba.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x += frameStride {
				p := rgba.Pix[off : off+3 : off+3]
				sum += uint64(luma601(p[0], p[1], p[2]))
				n++
				off += 4 * frameStride
			}
		}
		return float64(sum) / float64(n)
	}

	for y := b.Min.Y; y < b.Max.Y; y += frameStride {
		for x := b.Min.X; x < b.Max.X; x += frameStride {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += uint64(luma601(uint8(r>>8), uint8(g>>8), uint8(bl>>8)))
			n++
		}
	}
	return float64(sum) / float64(n)
}

func luma601(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

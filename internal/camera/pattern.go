package camera

import (
	"image"
	"image/color"
	"math"
	"sync"
)

// Pattern generates synthetic frames when no camera is attached: a sky
// gradient for the back camera and a face-like disc for the front one.
// Exposure scales every pixel so a dark scene can be simulated.
type Pattern struct {
	mu       sync.Mutex
	width    int
	height   int
	facing   Facing
	exposure float64
	frameNum int
}

// NewPattern creates a generator of width×height frames.
func NewPattern(width, height int, facing Facing) *Pattern {
	return &Pattern{width: width, height: height, facing: facing, exposure: 1.0}
}

// SetExposure scales scene brightness, 0 (black) to 1 (full).
func (p *Pattern) SetExposure(v float64) {
	p.mu.Lock()
	p.exposure = math.Max(0, math.Min(1, v))
	p.mu.Unlock()
}

// Next renders the next frame.
func (p *Pattern) Next() image.Image {
	p.mu.Lock()
	exposure := p.exposure
	n := p.frameNum
	p.frameNum++
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	cx, cy := float64(p.width)/2, float64(p.height)/2
	radius := math.Min(cx, cy) * 0.6

	for y := 0; y < p.height; y++ {
		gradient := float64(y) / float64(p.height)
		for x := 0; x < p.width; x++ {
			var r, g, b float64
			switch p.facing {
			case FacingFront:
				dx, dy := float64(x)-cx, float64(y)-cy
				if dx*dx+dy*dy < radius*radius {
					r, g, b = 224, 172, 140
				} else {
					r, g, b = 60, 60, 70
				}
			default:
				r = 135 * (1 - gradient)
				g = 206 * (1 - gradient)
				b = 250 * (1 - gradient)
				// drifting clouds so consecutive frames differ
				if (x+n*4)%80 < 20 && y%60 < 15 {
					r, g, b = 230, 230, 230
				}
			}
			off := y*img.Stride + x*4
			img.Pix[off+0] = uint8(r * exposure)
			img.Pix[off+1] = uint8(g * exposure)
			img.Pix[off+2] = uint8(b * exposure)
			img.Pix[off+3] = 255
		}
	}
	return img
}

// Solid returns a uniform frame, handy for tests and placeholders.
func Solid(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	r, g, b, a := c.RGBA()
	row := img.Pix[:img.Stride]
	for x := 0; x < width; x++ {
		off := x * 4
		row[off+0] = uint8(r >> 8)
		row[off+1] = uint8(g >> 8)
		row[off+2] = uint8(b >> 8)
		row[off+3] = uint8(a >> 8)
	}
	for y := 1; y < height; y++ {
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], row)
	}
	return img
}

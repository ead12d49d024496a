// Package flash decides how a shot is lit and drives the temporary
// full-brightness screen used as a front-camera flash.
package flash

import "capture-station-go/internal/camera"

// Strategy is the lighting applied to one shot.
type Strategy int

const (
	None Strategy = iota
	Torch
	ScreenFlash
)

func (s Strategy) String() string {
	switch s {
	case Torch:
		return "torch"
	case ScreenFlash:
		return "screen-flash"
	default:
		return "none"
	}
}

// Select maps the facing, the darkness state and screen focus to a
// strategy. Without focus nothing is lit.
func Select(facing camera.Facing, dark, focused bool) Strategy {
	if !focused || !dark {
		return None
	}
	if facing == camera.FacingFront {
		return ScreenFlash
	}
	return Torch
}

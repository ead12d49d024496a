package ui

import (
	"image/color"
	"log"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
)

const longPressDelay = 500 * time.Millisecond

// PreviewPad shows the live preview or the photo under review. A tap
// fires the shutter and a long press (or right click) flips the camera.
// The border turns amber while the scene is dark.
type PreviewPad struct {
	widget.BaseWidget
	image     *canvas.Image
	bg        *canvas.Rectangle
	border    *canvas.Rectangle
	hint      *canvas.Text
	onTap     func()
	onLongTap func()

	mu             sync.Mutex
	longPressTimer *time.Timer
	longPressFired bool
	tapHandled     bool
	lowLight       bool
}

// NewPreviewPad wraps img. Either callback may be nil.
func NewPreviewPad(img *canvas.Image, onTap, onLongTap func()) *PreviewPad {
	p := &PreviewPad{
		image:     img,
		bg:        canvas.NewRectangle(color.RGBA{25, 25, 25, 255}),
		border:    canvas.NewRectangle(color.Transparent),
		onTap:     onTap,
		onLongTap: onLongTap,
	}
	p.border.StrokeWidth = 4
	p.border.StrokeColor = color.Transparent

	p.hint = canvas.NewText("Camera paused", color.RGBA{180, 180, 180, 255})
	p.hint.TextSize = 18
	p.hint.Alignment = fyne.TextAlignCenter
	p.hint.Hidden = true

	p.ExtendBaseWidget(p)
	return p
}

func (p *PreviewPad) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewStack(p.bg, p.image, container.NewCenter(p.hint), p.border)
	return widget.NewSimpleRenderer(c)
}

// SetLowLight toggles the dark-scene border.
func (p *PreviewPad) SetLowLight(on bool) {
	p.mu.Lock()
	changed := p.lowLight != on
	p.lowLight = on
	p.mu.Unlock()
	if !changed {
		return
	}

	if on {
		p.border.StrokeColor = color.RGBA{255, 170, 0, 255}
	} else {
		p.border.StrokeColor = color.Transparent
	}
	p.border.Refresh()
}

// LowLight reports whether the dark-scene border is shown.
func (p *PreviewPad) LowLight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lowLight
}

// SetHint shows text over the image; an empty string hides it.
func (p *PreviewPad) SetHint(text string) {
	p.hint.Text = text
	p.hint.Hidden = text == ""
	p.hint.Refresh()
}

// MouseDown starts the long-press timer.
func (p *PreviewPad) MouseDown(*desktop.MouseEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.longPressFired = false
	p.tapHandled = false

	if p.longPressTimer != nil {
		p.longPressTimer.Stop()
	}
	p.longPressTimer = time.AfterFunc(longPressDelay, func() {
		p.mu.Lock()
		p.longPressFired = true
		p.tapHandled = true
		p.mu.Unlock()

		log.Println("[UI] Preview long press")
		if p.onLongTap != nil {
			p.onLongTap()
		}
	})
}

// MouseUp fires a tap unless the long press already did.
func (p *PreviewPad) MouseUp(*desktop.MouseEvent) {
	p.mu.Lock()
	if p.longPressTimer != nil {
		p.longPressTimer.Stop()
		p.longPressTimer = nil
	}
	fire := !p.longPressFired && !p.tapHandled
	if fire {
		p.tapHandled = true
	}
	p.mu.Unlock()

	if fire && p.onTap != nil {
		p.onTap()
	}
}

// Tapped handles touch input, which arrives without mouse events. It
// ends the gesture either way.
func (p *PreviewPad) Tapped(*fyne.PointEvent) {
	p.mu.Lock()
	fire := !p.longPressFired && !p.tapHandled
	p.tapHandled = false
	p.longPressFired = false
	p.mu.Unlock()

	if fire && p.onTap != nil {
		p.onTap()
	}
}

// TappedSecondary maps a right click to the long-press action.
func (p *PreviewPad) TappedSecondary(*fyne.PointEvent) {
	if p.onLongTap != nil {
		p.onLongTap()
	}
}

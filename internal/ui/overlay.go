package ui

import (
	"image/color"
	"log"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
)

// Whiteout is the full-window white surface raised during a screen flash.
// It satisfies flash.Overlay and must sit on top of the screen's stack.
type Whiteout struct {
	rect  *canvas.Rectangle
	shown atomic.Bool
}

// NewWhiteout creates a hidden overlay.
func NewWhiteout() *Whiteout {
	r := canvas.NewRectangle(color.White)
	r.Hide()
	return &Whiteout{rect: r}
}

// Show raises the overlay.
func (w *Whiteout) Show() {
	if w.shown.Swap(true) {
		return
	}
	log.Println("[UI] Screen flash on")
	w.rect.Show()
	w.rect.Refresh()
}

// Hide lowers the overlay.
func (w *Whiteout) Hide() {
	if !w.shown.Swap(false) {
		return
	}
	log.Println("[UI] Screen flash off")
	w.rect.Hide()
	w.rect.Refresh()
}

// Visible reports whether the overlay is up.
func (w *Whiteout) Visible() bool { return w.shown.Load() }

// Object is the canvas object to place in the window.
func (w *Whiteout) Object() fyne.CanvasObject { return w.rect }

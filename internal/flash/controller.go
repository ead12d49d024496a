package flash

import (
	"log"
	"sync"

	"capture-station-go/internal/faults"
)

// MaxBrightness is the level applied while the screen flash is engaged.
const MaxBrightness = 1.0

// Brightness reads and writes the display level in [0,1]. Devices that
// cannot control it return errors of kind BrightnessUnsupported.
type Brightness interface {
	Get() (float64, error)
	Set(level float64) error
}

// Overlay is the full-screen white surface shown during a screen flash.
type Overlay interface {
	Show()
	Hide()
}

// Controller engages and restores the screen flash. At most one prior
// brightness is held at a time, so repeated Engage calls never overwrite
// the level the user had.
type Controller struct {
	brightness Brightness
	overlay    Overlay

	mu       sync.Mutex
	prior    float64
	hasPrior bool
}

// NewController creates a controller. brightness and overlay may be nil;
// a nil brightness makes Engage report BrightnessUnsupported.
func NewController(brightness Brightness, overlay Overlay) *Controller {
	return &Controller{brightness: brightness, overlay: overlay}
}

// Engage stores the current level, raises the display to MaxBrightness
// and shows the overlay. It does nothing when already engaged.
func (c *Controller) Engage() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasPrior {
		return nil
	}
	if c.brightness == nil {
		return faults.New(faults.KindBrightnessUnsupported, "flash.engage", "no brightness control")
	}

	prior, err := c.brightness.Get()
	if err != nil {
		return faults.Wrap(faults.KindBrightnessUnsupported, "flash.engage", "read brightness", err)
	}
	if err := c.brightness.Set(MaxBrightness); err != nil {
		return faults.Wrap(faults.KindBrightnessUnsupported, "flash.engage", "raise brightness", err)
	}

	c.prior = prior
	c.hasPrior = true
	if c.overlay != nil {
		c.overlay.Show()
	}
	log.Printf("[Flash] Screen flash engaged (prior %.2f)", prior)
	return nil
}

// Restore puts back the stored level and hides the overlay. The stored
// level is cleared even if writing it fails. No-op when not engaged.
func (c *Controller) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPrior {
		return nil
	}
	prior := c.prior
	c.prior = 0
	c.hasPrior = false

	if c.overlay != nil {
		c.overlay.Hide()
	}
	if err := c.brightness.Set(prior); err != nil {
		log.Printf("[Flash] WARNING: restoring brightness %.2f failed: %v", prior, err)
		return faults.Wrap(faults.KindBrightnessUnsupported, "flash.restore", "restore brightness", err)
	}
	log.Printf("[Flash] Screen flash restored (%.2f)", prior)
	return nil
}

// Engaged reports whether a prior level is held.
func (c *Controller) Engaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPrior
}

// Prior returns the held level, if any.
func (c *Controller) Prior() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prior, c.hasPrior
}

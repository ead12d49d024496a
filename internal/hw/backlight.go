package hw

import (
	"fmt"
	"log"
	"math"
	"path/filepath"
	"sync"

	"capture-station-go/internal/faults"
)

// Backlight controls the display brightness of one backlight device as a
// fraction of its max_brightness.
type Backlight struct {
	dir string
	max int
	mu  sync.Mutex
}

// FindBacklight returns the first backlight under root that exposes a
// usable max_brightness. Without one, the error is BrightnessUnsupported.
func FindBacklight(root string) (*Backlight, error) {
	for _, dir := range listDirs(root) {
		maxRaw, err := readInt(filepath.Join(dir, "max_brightness"))
		if err != nil || maxRaw <= 0 {
			continue
		}
		if !fileExists(filepath.Join(dir, "brightness")) {
			continue
		}
		log.Printf("[Backlight] Using %s (max %d)", filepath.Base(dir), maxRaw)
		return &Backlight{dir: dir, max: maxRaw}, nil
	}
	return nil, faults.New(faults.KindBrightnessUnsupported, "hw.backlight",
		fmt.Sprintf("no backlight under %s", root))
}

// Get returns the current level in [0,1].
func (b *Backlight) Get() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := readInt(filepath.Join(b.dir, "brightness"))
	if err != nil {
		return 0, faults.Wrap(faults.KindBrightnessUnsupported, "hw.backlight.get", "read brightness", err)
	}
	return math.Max(0, math.Min(1, float64(raw)/float64(b.max))), nil
}

// Set applies level, clamped to [0,1].
func (b *Backlight) Set(level float64) error {
	level = math.Max(0, math.Min(1, level))
	raw := int(math.Round(level * float64(b.max)))

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := writeValue(filepath.Join(b.dir, "brightness"), raw); err != nil {
		return faults.Wrap(faults.KindBrightnessUnsupported, "hw.backlight.set", "write brightness", err)
	}
	return nil
}

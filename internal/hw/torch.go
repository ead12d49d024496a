package hw

import (
	"log"
	"path/filepath"
	"strings"

	"capture-station-go/internal/faults"
)

// Torch is the rear flash LED, driven in continuous (torch) mode.
type Torch struct {
	dir string
	max int
}

// FindTorch looks for an LED class device whose name contains "torch" or
// "flash". Devices named "torch" win over "flash".
func FindTorch(root string) (*Torch, error) {
	var fallback *Torch
	for _, dir := range listDirs(root) {
		name := strings.ToLower(filepath.Base(dir))
		isTorch := strings.Contains(name, "torch")
		if !isTorch && !strings.Contains(name, "flash") {
			continue
		}
		maxRaw, err := readInt(filepath.Join(dir, "max_brightness"))
		if err != nil || maxRaw <= 0 {
			continue
		}
		t := &Torch{dir: dir, max: maxRaw}
		if isTorch {
			log.Printf("[Torch] Using %s", filepath.Base(dir))
			return t, nil
		}
		if fallback == nil {
			fallback = t
		}
	}
	if fallback != nil {
		log.Printf("[Torch] Using %s", filepath.Base(fallback.dir))
		return fallback, nil
	}
	return nil, faults.New(faults.KindCaptureDevice, "hw.torch", "no torch LED under "+root)
}

// SetTorch switches the LED fully on or off.
func (t *Torch) SetTorch(on bool) error {
	v := 0
	if on {
		v = t.max
	}
	if err := writeValue(filepath.Join(t.dir, "brightness"), v); err != nil {
		return faults.Wrap(faults.KindCaptureDevice, "hw.torch", "write brightness", err)
	}
	return nil
}

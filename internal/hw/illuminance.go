package hw

import (
	"fmt"
	"log"
	"path/filepath"

	"capture-station-go/internal/faults"
)

// IlluminanceSensor reads an IIO ambient light sensor. Drivers expose
// either a processed in_illuminance_input (lux) or in_illuminance_raw
// with an optional in_illuminance_scale.
type IlluminanceSensor struct {
	input string
	raw   string
	scale float64
}

// FindIlluminance scans root for the first IIO device with an
// illuminance channel. Without one, the error is SensorUnavailable.
func FindIlluminance(root string) (*IlluminanceSensor, error) {
	for _, dir := range listDirs(root) {
		if p := filepath.Join(dir, "in_illuminance_input"); fileExists(p) {
			log.Printf("[Light] Using %s (processed)", filepath.Base(dir))
			return &IlluminanceSensor{input: p}, nil
		}
		if p := filepath.Join(dir, "in_illuminance_raw"); fileExists(p) {
			scale := 1.0
			if s, err := readFloat(filepath.Join(dir, "in_illuminance_scale")); err == nil && s > 0 {
				scale = s
			}
			log.Printf("[Light] Using %s (raw x %.3f)", filepath.Base(dir), scale)
			return &IlluminanceSensor{raw: p, scale: scale}, nil
		}
	}
	return nil, faults.New(faults.KindSensorUnavailable, "hw.illuminance",
		fmt.Sprintf("no illuminance channel under %s", root))
}

// Illuminance returns the current reading in lux.
func (s *IlluminanceSensor) Illuminance() (float64, error) {
	if s.input != "" {
		return readFloat(s.input)
	}
	v, err := readFloat(s.raw)
	if err != nil {
		return 0, err
	}
	return v * s.scale, nil
}

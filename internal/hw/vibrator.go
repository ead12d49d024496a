package hw

import (
	"log"
	"time"
)

// Vibrator pulses the timed_output vibrator. Writes happen in the
// background so callers are never delayed by the motor driver.
type Vibrator struct {
	path string
}

// FindVibrator returns nil when path does not exist.
func FindVibrator(path string) *Vibrator {
	if !fileExists(path) {
		return nil
	}
	return &Vibrator{path: path}
}

// Vibrate starts a pulse of duration d and returns immediately.
func (v *Vibrator) Vibrate(d time.Duration) {
	if v == nil {
		return
	}
	go v.pulse(d)
}

func (v *Vibrator) pulse(d time.Duration) {
	if err := writeValue(v.path, int(d/time.Millisecond)); err != nil {
		log.Printf("[Vibrator] pulse failed: %v", err)
	}
}

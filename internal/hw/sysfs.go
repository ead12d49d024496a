// Package hw drives the handset peripherals the capture pipeline touches
// through sysfs: display backlight, rear torch LED, vibrator and the IIO
// ambient light sensor. Each Find function takes the sysfs root so tests
// can point it at a fake tree.
package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Default sysfs locations.
const (
	BacklightRoot = "/sys/class/backlight"
	LEDRoot       = "/sys/class/leds"
	IIORoot       = "/sys/bus/iio/devices"
	VibratorPath  = "/sys/class/timed_output/vibrator/enable"
)

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readInt(path string) (int, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("hw: parse %s: %w", path, err)
	}
	return v, nil
}

func readFloat(path string) (float64, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("hw: parse %s: %w", path, err)
	}
	return v, nil
}

func writeValue(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// listDirs returns the sorted entries of root, following symlinks the
// way sysfs class directories need.
func listDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			dirs = append(dirs, p)
		}
	}
	sort.Strings(dirs)
	return dirs
}

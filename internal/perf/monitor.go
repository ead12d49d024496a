// Package perf samples system load and temperature and throttles the
// live preview when the device is struggling.
package perf

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Errors
var (
	ErrInvalidLoadAverage  = errors.New("invalid load average format")
	ErrTemperatureNotFound = errors.New("temperature sensors not found")
)

// Sample is one reading of system health.
type Sample struct {
	LoadAvg     float64
	Temperature float64 // Celsius; 0 when no thermal zone is readable
	MemoryUsage float64 // percent used
}

// Monitor reads /proc and /sys. The roots are fields so tests can point
// them at a temp tree.
type Monitor struct {
	ProcRoot string
	SysRoot  string

	mu   sync.RWMutex
	last Sample
}

// NewMonitor creates a monitor reading the live system.
func NewMonitor() *Monitor {
	return &Monitor{ProcRoot: "/proc", SysRoot: "/sys"}
}

// Update refreshes the sample. Load average is required; a missing thermal
// zone or meminfo leaves those fields at zero.
func (m *Monitor) Update() (Sample, error) {
	var s Sample
	var err error

	if s.LoadAvg, err = m.readLoadAverage(); err != nil {
		return Sample{}, err
	}
	s.Temperature, _ = m.readTemperature()
	s.MemoryUsage, _ = m.readMemoryUsage()

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s, nil
}

// Last returns the most recent successful sample.
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) readLoadAverage() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.ProcRoot, "loadavg"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, ErrInvalidLoadAverage
	}
	return strconv.ParseFloat(fields[0], 64)
}

// readTemperature averages every readable thermal zone.
func (m *Monitor) readTemperature() (float64, error) {
	zones, _ := filepath.Glob(filepath.Join(m.SysRoot, "class", "thermal", "thermal_zone*", "temp"))

	var total float64
	var count int
	for _, path := range zones {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		total += milli / 1000.0
		count++
	}
	if count == 0 {
		return 0, ErrTemperatureNotFound
	}
	return total / float64(count), nil
}

func (m *Monitor) readMemoryUsage() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.ProcRoot, "meminfo"))
	if err != nil {
		return 0, err
	}

	var memTotal, memAvailable int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			memAvailable, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if memTotal <= 0 {
		return 0, nil
	}
	return 100.0 * float64(memTotal-memAvailable) / float64(memTotal), nil
}

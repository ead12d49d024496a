package perf

import (
	"sync"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Source produces system health samples.
type Source interface {
	Update() (Sample, error)
}

// HostSource samples through gopsutil, which also covers hosts without
// thermal_zone nodes (hwmon, coretemp).
type HostSource struct {
	mu   sync.RWMutex
	last Sample
}

// NewHostSource creates a gopsutil-backed source.
func NewHostSource() *HostSource {
	return &HostSource{}
}

// Update refreshes the sample. Load average is required; temperature and
// memory are best effort.
func (h *HostSource) Update() (Sample, error) {
	avg, err := load.Avg()
	if err != nil {
		return Sample{}, err
	}
	s := Sample{LoadAvg: avg.Load1}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsage = vm.UsedPercent
	}

	// partial results come back alongside a warnings error
	temps, _ := host.SensorsTemperatures()
	var total float64
	var count int
	for _, t := range temps {
		if t.Temperature > 0 {
			total += t.Temperature
			count++
		}
	}
	if count > 0 {
		s.Temperature = total / float64(count)
	}

	h.mu.Lock()
	h.last = s
	h.mu.Unlock()
	return s, nil
}

// Last returns the most recent successful sample.
func (h *HostSource) Last() Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

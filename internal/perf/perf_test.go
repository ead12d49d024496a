package perf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSystem(t *testing.T, load, meminfo string, tempsMilli ...string) *Monitor {
	t.Helper()
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	sys := filepath.Join(root, "sys")
	require.NoError(t, os.MkdirAll(proc, 0o755))
	if load != "" {
		require.NoError(t, os.WriteFile(filepath.Join(proc, "loadavg"), []byte(load), 0o644))
	}
	if meminfo != "" {
		require.NoError(t, os.WriteFile(filepath.Join(proc, "meminfo"), []byte(meminfo), 0o644))
	}
	for i, temp := range tempsMilli {
		zone := filepath.Join(sys, "class", "thermal", "thermal_zone"+string(rune('0'+i)))
		require.NoError(t, os.MkdirAll(zone, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(zone, "temp"), []byte(temp+"\n"), 0o644))
	}
	return &Monitor{ProcRoot: proc, SysRoot: sys}
}

func TestMonitorUpdate(t *testing.T) {
	m := fakeSystem(t,
		"1.25 0.80 0.50 1/200 1234\n",
		"MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n",
		"50000", "60000")

	s, err := m.Update()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, s.LoadAvg, 1e-9)
	assert.InDelta(t, 55.0, s.Temperature, 1e-9)
	assert.InDelta(t, 75.0, s.MemoryUsage, 1e-9)
	assert.Equal(t, s, m.Last())
}

func TestMonitorWithoutThermalZones(t *testing.T) {
	m := fakeSystem(t, "0.10 0.10 0.10 1/1 1\n", "")
	s, err := m.Update()
	require.NoError(t, err)
	assert.Zero(t, s.Temperature)
	assert.Zero(t, s.MemoryUsage)
}

func TestMonitorMissingLoadAverage(t *testing.T) {
	m := fakeSystem(t, "", "")
	_, err := m.Update()
	assert.Error(t, err)

	m = fakeSystem(t, "   \n", "")
	_, err = m.Update()
	assert.ErrorIs(t, err, ErrInvalidLoadAverage)
}

func TestGovernorThrottlesAndRecovers(t *testing.T) {
	g := NewGovernor(nil, GovernorConfig{MaxFPS: 15, MinFPS: 5, LoadThreshold: 2, TempThreshold: 70})
	hot := Sample{LoadAvg: 4}
	calm := Sample{LoadAvg: 0.5, Temperature: 40}

	g.Observe(hot)
	assert.True(t, g.Stressed())
	assert.Equal(t, 13, g.FPS())

	// Short stress spells hold the rate.
	g.Observe(hot)
	g.Observe(hot)
	assert.Equal(t, 13, g.FPS())

	// Prolonged stress keeps stepping down to the floor.
	for i := 0; i < 10; i++ {
		g.Observe(hot)
	}
	assert.Equal(t, 5, g.FPS())

	// Two calm samples are not enough to leave the stressed state.
	g.Observe(calm)
	g.Observe(calm)
	assert.True(t, g.Stressed())
	assert.Equal(t, 5, g.FPS())

	g.Observe(calm)
	assert.False(t, g.Stressed())
	assert.Equal(t, 7, g.FPS())

	for i := 0; i < 10; i++ {
		g.Observe(calm)
	}
	assert.Equal(t, 15, g.FPS())
	assert.Equal(t, time.Second/15, g.Interval())
}

func TestGovernorTemperatureCountsAsStress(t *testing.T) {
	g := NewGovernor(nil, GovernorConfig{MaxFPS: 10, MinFPS: 2, LoadThreshold: 5, TempThreshold: 60})
	g.Observe(Sample{LoadAvg: 0.1, Temperature: 61})
	assert.True(t, g.Stressed())
	assert.Equal(t, 8, g.FPS())
}

func TestGovernorDefaults(t *testing.T) {
	g := NewGovernor(nil, GovernorConfig{MaxFPS: 12, MinFPS: 40})
	assert.Equal(t, 12, g.FPS())
	for i := 0; i < 10; i++ {
		g.Observe(Sample{LoadAvg: 100})
	}
	assert.Equal(t, 12, g.FPS(), "min above max pins the rate")
}

func TestGovernorLoopSamplesMonitor(t *testing.T) {
	m := fakeSystem(t, "9.00 9.00 9.00 1/1 1\n", "")
	g := NewGovernor(m, GovernorConfig{MaxFPS: 15, MinFPS: 5, Interval: 10 * time.Millisecond, LoadThreshold: 1})

	g.Start(context.Background())
	g.Start(context.Background())
	require.Eventually(t, g.Stressed, time.Second, 5*time.Millisecond)
	g.Stop()
	g.Stop()
	assert.Less(t, g.FPS(), 15)
}

func TestHostSourceSamplesLiveSystem(t *testing.T) {
	h := NewHostSource()
	s, err := h.Update()
	if err != nil {
		t.Skipf("load average unavailable here: %v", err)
	}
	assert.GreaterOrEqual(t, s.LoadAvg, 0.0)
	assert.GreaterOrEqual(t, s.MemoryUsage, 0.0)
	assert.LessOrEqual(t, s.MemoryUsage, 100.0)
	assert.Equal(t, s, h.Last())
}

type stubSource struct{ s Sample }

func (f stubSource) Update() (Sample, error) { return f.s, nil }

func TestGovernorAcceptsAnySource(t *testing.T) {
	g := NewGovernor(stubSource{Sample{Temperature: 99}}, GovernorConfig{
		MaxFPS: 10, MinFPS: 2, Interval: 5 * time.Millisecond, TempThreshold: 70,
	})
	g.Start(context.Background())
	defer g.Stop()
	require.Eventually(t, g.Stressed, time.Second, 5*time.Millisecond)
}

package light

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capture-station-go/internal/faults"
)

// scriptedSensor returns queued values; once exhausted it repeats the last.
type scriptedSensor struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	lux float64
	err error
}

func (s *scriptedSensor) Illuminance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].lux, s.steps[i].err
}

func (s *scriptedSensor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type collector struct {
	mu       sync.Mutex
	readings []Reading
}

func (c *collector) on(r Reading) {
	c.mu.Lock()
	c.readings = append(c.readings, r)
	c.mu.Unlock()
}

func (c *collector) all() []Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reading(nil), c.readings...)
}

func TestIsDarkBoundary(t *testing.T) {
	assert.True(t, IsDark(14.99, DefaultThreshold))
	assert.False(t, IsDark(15, DefaultThreshold))
	assert.False(t, IsDark(300, DefaultThreshold))
	assert.True(t, IsDark(0, DefaultThreshold))
}

func TestMonitorPublishesClassifiedReadings(t *testing.T) {
	sensor := &scriptedSensor{steps: []step{{lux: 3}, {lux: 15}, {lux: 200}}}
	m := NewMonitor(sensor, Options{Interval: 5 * time.Millisecond})

	c := &collector{}
	require.NoError(t, m.Subscribe(c.on))

	m.Start(context.Background())
	require.Eventually(t, func() bool { return len(c.all()) >= 3 }, time.Second, time.Millisecond)
	m.Stop()

	got := c.all()
	assert.Equal(t, 3.0, got[0].Lux)
	assert.True(t, got[0].Dark)
	assert.False(t, got[1].Dark, "15 lux is not dark")
	assert.False(t, got[2].Dark)
	assert.False(t, got[0].ObservedAt.IsZero())
}

func TestMonitorFirstSampleIsImmediate(t *testing.T) {
	sensor := &scriptedSensor{steps: []step{{lux: 1}}}
	m := NewMonitor(sensor, Options{Interval: time.Hour})

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, m.Dark, time.Second, time.Millisecond)
}

func TestMonitorMissedSampleIsNotDark(t *testing.T) {
	sensor := &scriptedSensor{steps: []step{{lux: 2}, {err: errors.New("i2c timeout")}}}
	m := NewMonitor(sensor, Options{Interval: 5 * time.Millisecond})

	c := &collector{}
	require.NoError(t, m.Subscribe(c.on))
	m.Start(context.Background())
	require.Eventually(t, func() bool { return len(c.all()) >= 2 }, time.Second, time.Millisecond)
	m.Stop()

	got := c.all()
	assert.True(t, got[0].Dark)
	assert.True(t, got[1].Missing)
	assert.False(t, got[1].Dark)
	assert.False(t, m.Degraded(), "transient errors keep polling")
}

func TestMonitorDegradesOnUnavailableSensor(t *testing.T) {
	sensor := &scriptedSensor{steps: []step{
		{err: faults.New(faults.KindSensorUnavailable, "test", "gone")},
	}}
	m := NewMonitor(sensor, Options{Interval: 5 * time.Millisecond})

	c := &collector{}
	require.NoError(t, m.Subscribe(c.on))
	m.Start(context.Background())
	require.Eventually(t, m.Degraded, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.Equal(t, 1, sensor.Calls(), "no retries after the sensor is gone")
	got := c.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Dark)
	assert.True(t, got[0].Missing)

	// a later scope publishes the constant reading without polling
	m.Start(context.Background())
	m.Stop()
	assert.Len(t, c.all(), 2)
	assert.Equal(t, 1, sensor.Calls())
}

func TestMonitorWithoutSensor(t *testing.T) {
	m := NewMonitor(nil, Options{})
	c := &collector{}
	require.NoError(t, m.Subscribe(c.on))

	m.Start(context.Background())
	assert.True(t, m.Degraded())
	assert.False(t, m.Dark())
	assert.Len(t, c.all(), 1)
}

func TestMonitorNoPublishAfterStop(t *testing.T) {
	sensor := &scriptedSensor{steps: []step{{lux: 1}}}
	m := NewMonitor(sensor, Options{Interval: 2 * time.Millisecond})
	c := &collector{}
	require.NoError(t, m.Subscribe(c.on))

	m.Start(context.Background())
	require.Eventually(t, func() bool { return len(c.all()) > 0 }, time.Second, time.Millisecond)
	m.Stop()
	m.Stop()

	n := len(c.all())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.all(), n)
}

func TestMonitorUnsubscribe(t *testing.T) {
	sensor := &scriptedSensor{steps: []step{{lux: 1}}}
	m := NewMonitor(sensor, Options{Interval: 2 * time.Millisecond})
	c := &collector{}
	require.NoError(t, m.Subscribe(c.on))
	require.NoError(t, m.Unsubscribe(c.on))

	m.Start(context.Background())
	require.Eventually(t, func() bool { return sensor.Calls() >= 2 }, time.Second, time.Millisecond)
	m.Stop()
	assert.Empty(t, c.all())
}

type staticFrames struct{ img image.Image }

func (s staticFrames) Read() (image.Image, uint64) { return s.img, 1 }

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestFrameSensor(t *testing.T) {
	white := NewFrameSensor(staticFrames{solid(color.RGBA{255, 255, 255, 255})}, 0)
	lux, err := white.Illuminance()
	require.NoError(t, err)
	assert.InDelta(t, DefaultFullScale, lux, 0.01)

	black := NewFrameSensor(staticFrames{solid(color.RGBA{0, 0, 0, 255})}, 0)
	lux, err = black.Illuminance()
	require.NoError(t, err)
	assert.True(t, IsDark(lux, DefaultThreshold))

	gray := NewFrameSensor(staticFrames{image.NewGray(image.Rect(0, 0, 8, 8))}, 100)
	lux, err = gray.Illuminance()
	require.NoError(t, err)
	assert.Zero(t, lux)

	_, err = NewFrameSensor(staticFrames{}, 0).Illuminance()
	assert.Error(t, err)
	assert.False(t, faults.IsKind(err, faults.KindSensorUnavailable))
}

// Package light samples ambient illuminance and tells subscribers whether
// the scene is dark enough to need a flash.
package light

import (
	"context"
	"log"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"

	"capture-station-go/internal/faults"
)

const (
	// DefaultThreshold is the lux level below which a scene is dark.
	// A reading of exactly 15 is not dark.
	DefaultThreshold = 15.0
	// DefaultInterval is the sensor polling period.
	DefaultInterval = 500 * time.Millisecond

	// TopicReading carries a Reading to every subscriber.
	TopicReading = "light:reading"
)

// Reading is one polling sample. Missing marks a tick where the sensor
// produced nothing; such a tick is never dark.
type Reading struct {
	Lux        float64
	ObservedAt time.Time
	Dark       bool
	Missing    bool
}

// IsDark classifies lux against threshold.
func IsDark(lux, threshold float64) bool {
	return lux < threshold
}

// Sensor reports illuminance in lux. An error of kind SensorUnavailable
// means the sensor will never work; any other error is a missed sample.
type Sensor interface {
	Illuminance() (float64, error)
}

// Options tunes a Monitor. Zero values take the defaults.
type Options struct {
	Interval  time.Duration
	Threshold float64
	// Verbose logs every sample.
	Verbose bool
}

// Monitor polls a Sensor while started and publishes every Reading on its
// own bus. A nil or unavailable sensor degrades the monitor to a constant
// not-dark reading that is published once per Start.
type Monitor struct {
	sensor    Sensor
	interval  time.Duration
	threshold float64
	verbose   bool
	bus       evbus.Bus
	now       func() time.Time

	mu       sync.Mutex
	latest   Reading
	hasValue bool
	degraded bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(sensor Sensor, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Monitor{
		sensor:    sensor,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		verbose:   opts.Verbose,
		bus:       evbus.New(),
		now:       time.Now,
		degraded:  sensor == nil,
	}
}

// Subscribe registers fn for every published Reading. Handlers run on the
// polling goroutine and must not call Stop.
func (m *Monitor) Subscribe(fn func(Reading)) error {
	return m.bus.Subscribe(TopicReading, fn)
}

// Unsubscribe removes a handler registered with Subscribe.
func (m *Monitor) Unsubscribe(fn func(Reading)) error {
	return m.bus.Unsubscribe(TopicReading, fn)
}

// Start begins polling until ctx is done or Stop is called. The first
// sample is taken immediately. Calling Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	if m.degraded {
		m.mu.Unlock()
		m.publishDegraded()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	log.Printf("[Light] Monitor started (every %v, dark below %.1f lux)", m.interval, m.threshold)
	go m.loop(ctx, done)
}

// Stop ends polling and waits for the polling goroutine. After Stop
// returns no further Reading is published. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[Light] Monitor stopped")
}

// Latest returns the most recent Reading, if any.
func (m *Monitor) Latest() (Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasValue
}

// Dark reports the current darkness state. No reading yet means not dark.
func (m *Monitor) Dark() bool {
	r, ok := m.Latest()
	return ok && r.Dark
}

// Degraded reports whether the sensor has been given up on.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if !m.sample(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sample takes one reading and publishes it. It returns false when the
// monitor should stop polling.
func (m *Monitor) sample(ctx context.Context) bool {
	lux, err := m.sensor.Illuminance()
	if ctx.Err() != nil {
		return false
	}

	if faults.IsKind(err, faults.KindSensorUnavailable) {
		log.Printf("[Light] Sensor unavailable, assuming not dark: %v", err)
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		m.publishDegraded()
		return false
	}

	r := Reading{ObservedAt: m.now()}
	if err != nil {
		r.Missing = true
		if m.verbose {
			log.Printf("[Light] Sample missed: %v", err)
		}
	} else {
		r.Lux = lux
		r.Dark = IsDark(lux, m.threshold)
		if m.verbose {
			log.Printf("[Light] %.1f lux (dark=%v)", lux, r.Dark)
		}
	}
	m.publish(r)
	return true
}

func (m *Monitor) publishDegraded() {
	m.publish(Reading{ObservedAt: m.now(), Missing: true})
}

func (m *Monitor) publish(r Reading) {
	m.mu.Lock()
	m.latest = r
	m.hasValue = true
	m.mu.Unlock()
	m.bus.Publish(TopicReading, r)
}

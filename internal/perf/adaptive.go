package perf

import (
	"context"
	"log"
	"sync"
	"time"
)

// GovernorConfig bounds the preview rate and sets the stress thresholds.
type GovernorConfig struct {
	MaxFPS        int
	MinFPS        int
	Interval      time.Duration
	LoadThreshold float64
	TempThreshold float64
}

// Governor lowers the preview refresh rate while the system is stressed and
// raises it again after a few calm samples. The capture path is never
// throttled; only the on-screen preview reads FPS().
type Governor struct {
	source Source
	cfg    GovernorConfig

	mu            sync.RWMutex
	fps           int
	stressed      bool
	stressCount   int
	recoveryCount int

	stop chan struct{}
	done chan struct{}
}

// NewGovernor creates a governor starting at cfg.MaxFPS. A nil source
// reads /proc and /sys directly.
func NewGovernor(source Source, cfg GovernorConfig) *Governor {
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = 15
	}
	if cfg.MinFPS <= 0 || cfg.MinFPS > cfg.MaxFPS {
		cfg.MinFPS = cfg.MaxFPS
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.LoadThreshold <= 0 {
		cfg.LoadThreshold = 3.0
	}
	if cfg.TempThreshold <= 0 {
		cfg.TempThreshold = 75.0
	}
	if source == nil {
		source = NewMonitor()
	}
	return &Governor{source: source, cfg: cfg, fps: cfg.MaxFPS}
}

// Start runs the sampling loop until ctx is done or Stop is called.
func (g *Governor) Start(ctx context.Context) {
	g.mu.Lock()
	if g.stop != nil {
		g.mu.Unlock()
		return
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	stop, done := g.stop, g.done
	g.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s, err := g.source.Update()
				if err != nil {
					continue
				}
				g.Observe(s)
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (g *Governor) Stop() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Observe folds one sample into the rate decision.
func (g *Governor) Observe(s Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()

	before := g.fps
	hot := s.LoadAvg > g.cfg.LoadThreshold || s.Temperature > g.cfg.TempThreshold

	switch {
	case hot && !g.stressed:
		g.stressed = true
		g.stressCount = 1
		g.recoveryCount = 0
		g.step(-2)
	case hot:
		g.stressCount++
		g.recoveryCount = 0
		if g.stressCount > 3 {
			g.step(-2)
		}
	case g.stressed:
		g.recoveryCount++
		if g.recoveryCount > 2 {
			g.stressed = false
			g.stressCount = 0
			g.recoveryCount = 0
			g.step(+2)
		}
	default:
		g.step(+2)
	}

	if g.fps != before {
		log.Printf("[Perf] preview fps %d -> %d (load %.2f, temp %.1fC)", before, g.fps, s.LoadAvg, s.Temperature)
	}
}

func (g *Governor) step(delta int) {
	g.fps = min(max(g.fps+delta, g.cfg.MinFPS), g.cfg.MaxFPS)
}

// FPS returns the current preview rate.
func (g *Governor) FPS() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fps
}

// Interval returns the preview refresh period for the current rate.
func (g *Governor) Interval() time.Duration {
	return time.Second / time.Duration(g.FPS())
}

// Stressed reports whether the last samples crossed a threshold.
func (g *Governor) Stressed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stressed
}

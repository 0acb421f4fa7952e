package layout

import (
	"sync"
	"time"
)

// Scheduler drives simulation frames.
type Scheduler interface {
	// Start calls frame repeatedly until frame returns false or stop is
	// called. Start must not call frame before returning. Calling stop more
	// than once is safe.
	Start(frame func() bool) (stop func())
}

// DefaultFrameInterval is roughly one display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// TickerScheduler runs frames on its own goroutine at a fixed interval.
type TickerScheduler struct {
	Interval time.Duration
}

// Start implements Scheduler.
func (s TickerScheduler) Start(frame func() bool) func() {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if !frame() {
					stop()
					return
				}
			}
		}
	}()
	return stop
}

// ManualScheduler runs frames only when stepped. It makes frame timing
// deterministic in tests and headless runs.
type ManualScheduler struct {
	mu     sync.Mutex
	runs   []*manualRun
	starts int
}

type manualRun struct {
	frame   func() bool
	stopped bool
}

// NewManualScheduler returns an idle scheduler.
func NewManualScheduler() *ManualScheduler { return &ManualScheduler{} }

// Start implements Scheduler.
func (m *ManualScheduler) Start(frame func() bool) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &manualRun{frame: frame}
	m.runs = append(m.runs, r)
	m.starts++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		r.stopped = true
	}
}

// Step runs up to n frames of every active run and returns how many frames
// ran in total.
func (m *ManualScheduler) Step(n int) int {
	var ran int
	for i := 0; i < n; i++ {
		active := m.active()
		if len(active) == 0 {
			break
		}
		for _, r := range active {
			ran++
			if !r.frame() {
				m.mu.Lock()
				r.stopped = true
				m.mu.Unlock()
			}
		}
	}
	return ran
}

func (m *ManualScheduler) active() []*manualRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualRun
	kept := m.runs[:0]
	for _, r := range m.runs {
		if !r.stopped {
			out = append(out, r)
			kept = append(kept, r)
		}
	}
	m.runs = kept
	return out
}

// Active returns the number of runs that have not stopped.
func (m *ManualScheduler) Active() int { return len(m.active()) }

// Starts returns how many times Start has been called.
func (m *ManualScheduler) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

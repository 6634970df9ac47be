package clock

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTickInterval is the nominal period between clock advances
	DefaultTickInterval = 50 * time.Millisecond
	// DefaultMaxDrift bounds the per-tick drift in seconds
	DefaultMaxDrift = 0.01
)

// LogicalClock is a simulated local clock. A background loop advances it by
// the nominal tick plus random drift, and a correction offset is layered on
// top by clock synchronization.
//
// accumulated is written only by the tick loop, offset only by Adjust, and
// both are read together by Now under the same mutex.
type LogicalClock struct {
	mu          sync.Mutex
	accumulated float64
	offset      float64
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}

	clock    clockwork.Clock
	interval time.Duration
	drift    func() float64
}

// Option configures a LogicalClock
type Option func(*LogicalClock)

// WithClock sets the time source driving the tick loop.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(lc *LogicalClock) { lc.clock = c }
}

// WithTickInterval overrides the nominal tick period
func WithTickInterval(d time.Duration) Option {
	return func(lc *LogicalClock) { lc.interval = d }
}

// WithMaxDrift draws each tick's drift uniformly from [-max, +max] seconds
func WithMaxDrift(max float64) Option {
	return func(lc *LogicalClock) { lc.drift = uniformDrift(max) }
}

// WithDrift replaces the drift source entirely
func WithDrift(f func() float64) Option {
	return func(lc *LogicalClock) { lc.drift = f }
}

// New creates a stopped clock reading zero
func New(opts ...Option) *LogicalClock {
	lc := &LogicalClock{
		clock:    clockwork.NewRealClock(),
		interval: DefaultTickInterval,
		drift:    uniformDrift(DefaultMaxDrift),
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

func uniformDrift(max float64) func() float64 {
	return func() float64 {
		return (rand.Float64()*2 - 1) * max
	}
}

// Start launches the tick loop. Calling Start on a running clock does nothing.
func (lc *LogicalClock) Start() {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.running {
		return
	}
	lc.running = true
	lc.stopCh = make(chan struct{})
	lc.doneCh = make(chan struct{})

	// the ticker is created before returning so fake clocks see it immediately
	ticker := lc.clock.NewTicker(lc.interval)
	go lc.run(ticker, lc.stopCh, lc.doneCh)
}

func (lc *LogicalClock) run(ticker clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			lc.tick()
		}
	}
}

func (lc *LogicalClock) tick() {
	step := lc.interval.Seconds() + lc.drift()

	lc.mu.Lock()
	lc.accumulated += step
	lc.mu.Unlock()
}

// Now returns the corrected local time in seconds
func (lc *LogicalClock) Now() float64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.accumulated + lc.offset
}

// Adjust adds delta to the correction offset. Repeated calls accumulate.
func (lc *LogicalClock) Adjust(delta float64) {
	lc.mu.Lock()
	lc.offset += delta
	lc.mu.Unlock()
}

// Offset returns the total correction applied so far
func (lc *LogicalClock) Offset() float64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.offset
}

// Running reports whether the tick loop is active
func (lc *LogicalClock) Running() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.running
}

// Stop halts the tick loop and waits for it to exit. After Stop returns the
// accumulated time no longer changes. Safe to call more than once.
func (lc *LogicalClock) Stop() {
	lc.mu.Lock()
	if !lc.running {
		lc.mu.Unlock()
		return
	}
	lc.running = false
	stop, done := lc.stopCh, lc.doneCh
	lc.mu.Unlock()

	close(stop)
	<-done
}

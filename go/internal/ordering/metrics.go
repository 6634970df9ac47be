package ordering

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// MetricsCollector defines the interface for collecting ordering metrics
type MetricsCollector interface {
	RecordEventIngested(playerID int)
	RecordBatchFlushed(size int, duration time.Duration)
	RecordSinkError(sink string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventIngested(playerID int)                     {}
func (n *NoOpMetricsCollector) RecordBatchFlushed(size int, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordSinkError(sink string)                          {}

// Stats is an in-memory MetricsCollector backing the /stats and /metrics
// endpoints.
type Stats struct {
	clock clockwork.Clock

	eventsIngested  atomic.Uint64
	eventsFlushed   atomic.Uint64
	batchesFlushed  atomic.Uint64
	sinkErrors      atomic.Uint64
	largestBatch    atomic.Int64
	lastFlushUnixNs atomic.Int64
	lastFlushNs     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	EventsIngested    uint64        `json:"events_ingested"`
	EventsFlushed     uint64        `json:"events_flushed"`
	BatchesFlushed    uint64        `json:"batches_flushed"`
	SinkErrors        uint64        `json:"sink_errors"`
	LargestBatch      int           `json:"largest_batch"`
	LastFlushAt       time.Time     `json:"last_flush_at"`
	LastFlushDuration time.Duration `json:"last_flush_duration_ns"`
}

// NewStats creates empty counters timestamped from clock
func NewStats(clock clockwork.Clock) *Stats {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stats{clock: clock}
}

func (s *Stats) RecordEventIngested(playerID int) {
	s.eventsIngested.Add(1)
}

func (s *Stats) RecordBatchFlushed(size int, duration time.Duration) {
	s.batchesFlushed.Add(1)
	s.eventsFlushed.Add(uint64(size))
	s.lastFlushUnixNs.Store(s.clock.Now().UnixNano())
	s.lastFlushNs.Store(int64(duration))

	for {
		cur := s.largestBatch.Load()
		if int64(size) <= cur || s.largestBatch.CompareAndSwap(cur, int64(size)) {
			return
		}
	}
}

func (s *Stats) RecordSinkError(sink string) {
	s.sinkErrors.Add(1)
}

// Snapshot returns the current counters
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		EventsIngested:    s.eventsIngested.Load(),
		EventsFlushed:     s.eventsFlushed.Load(),
		BatchesFlushed:    s.batchesFlushed.Load(),
		SinkErrors:        s.sinkErrors.Load(),
		LargestBatch:      int(s.largestBatch.Load()),
		LastFlushDuration: time.Duration(s.lastFlushNs.Load()),
	}
	if ns := s.lastFlushUnixNs.Load(); ns != 0 {
		snap.LastFlushAt = time.Unix(0, ns)
	}
	return snap
}

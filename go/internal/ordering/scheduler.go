package ordering

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultFlushInterval is the nominal period between flush cycles
const DefaultFlushInterval = 100 * time.Millisecond

// Sink receives each ordered batch. Deliver must not retain batch.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, batch []ActionEvent) error
}

// Scheduler periodically drains the buffer, orders the batch and hands it
// to every sink in turn.
type Scheduler struct {
	buffer   *Buffer
	sinks    []Sink
	clock    clockwork.Clock
	interval time.Duration
	metrics  MetricsCollector
}

// NewScheduler creates a flush scheduler. Sinks are delivered to in the
// order given.
func NewScheduler(buffer *Buffer, clock clockwork.Clock, interval time.Duration, metrics MetricsCollector, sinks ...Sink) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Scheduler{
		buffer:   buffer,
		sinks:    sinks,
		clock:    clock,
		interval: interval,
		metrics:  metrics,
	}
}

// Run flushes every interval until ctx is cancelled. Events still pending at
// cancellation are flushed once more before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.interval).
		Int("sinks", len(s.sinks)).
		Msg("flush scheduler started")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := s.FlushOnce(context.WithoutCancel(ctx)); n > 0 {
				log.Info().Int("events", n).Msg("flushed pending events on shutdown")
			}
			log.Info().Msg("flush scheduler stopped")
			return nil
		case <-ticker.Chan():
			s.FlushOnce(ctx)
		}
	}
}

// FlushOnce runs a single drain, sort and deliver cycle and returns the
// number of events delivered. An empty buffer skips the cycle.
func (s *Scheduler) FlushOnce(ctx context.Context) int {
	batch := s.buffer.Drain()
	if len(batch) == 0 {
		return 0
	}

	start := s.clock.Now()
	SortBatch(batch)

	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, batch); err != nil {
			s.metrics.RecordSinkError(sink.Name())
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Int("batch_size", len(batch)).
				Msg("failed to deliver batch")
		}
	}

	s.metrics.RecordBatchFlushed(len(batch), s.clock.Since(start))
	log.Debug().
		Int("batch_size", len(batch)).
		Float64("first_ts", batch[0].ClientTimestamp).
		Float64("last_ts", batch[len(batch)-1].ClientTimestamp).
		Msg("batch flushed")

	return len(batch)
}

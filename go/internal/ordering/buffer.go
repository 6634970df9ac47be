package ordering

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/protocol"
	"github.com/mcdev12/ordersync/go/internal/timesync"
)

// Buffer holds the events ingested since the last flush. Producers append
// and the flush scheduler drains; the lock is never held across I/O.
type Buffer struct {
	mu      sync.Mutex
	pending []ActionEvent
	oldest  time.Time // arrival of pending[0]

	clock   clockwork.Clock
	metrics MetricsCollector
}

// NewBuffer creates an empty buffer stamping arrivals from clock
func NewBuffer(clock clockwork.Clock, metrics MetricsCollector) *Buffer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Buffer{
		clock:   clock,
		metrics: metrics,
	}
}

// Ingest stamps an action with the server's arrival time and queues it for
// the next flush.
func (b *Buffer) Ingest(playerID int, action protocol.Action) ActionEvent {
	event := ActionEvent{
		ID:              uuid.New(),
		PlayerID:        playerID,
		Action:          action.Action,
		ClientTimestamp: action.Timestamp,
	}

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.oldest = b.clock.Now()
	}
	event.ServerReceiveTime = timesync.ReferenceTime(b.clock)
	b.pending = append(b.pending, event)
	b.mu.Unlock()

	b.metrics.RecordEventIngested(playerID)
	return event
}

// Drain takes every pending event and leaves the buffer empty. Events
// ingested afterwards start the next batch.
func (b *Buffer) Drain() []ActionEvent {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.oldest = time.Time{}
	b.mu.Unlock()
	return batch
}

// Len returns the number of pending events
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// OldestPending returns when the longest-waiting pending event arrived. It
// reports false when nothing is pending.
func (b *Buffer) OldestPending() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return time.Time{}, false
	}
	return b.oldest, true
}

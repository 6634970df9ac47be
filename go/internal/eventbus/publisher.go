package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/ordering"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// MsgPublisher is the part of *nats.Conn the publisher needs
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher mirrors every ordered batch onto NATS. It runs as a flush sink
// after the participant broadcast, so the mirrored order is the broadcast
// order.
type Publisher struct {
	conn   MsgPublisher
	prefix string
	clock  clockwork.Clock
	epoch  uuid.UUID

	mu       sync.Mutex
	sequence uint64
	batch    uint64
}

// NewPublisher creates a mirror publishing on conn under prefix. Each
// publisher numbers its events under a fresh epoch.
func NewPublisher(conn MsgPublisher, prefix string, clock clockwork.Clock) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{conn: conn, prefix: prefix, clock: clock, epoch: uuid.New()}
}

// Epoch identifies this publisher's sequence numbering
func (p *Publisher) Epoch() uuid.UUID {
	return p.epoch
}

// Name identifies the mirror as a flush sink
func (p *Publisher) Name() string {
	return "nats"
}

// Deliver publishes each event of batch in order. Sequence numbers are
// consumed even when a publish fails, so subscribers can see the gap.
func (p *Publisher) Deliver(ctx context.Context, batch []ordering.ActionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batch++
	publishedAt := p.clock.Now().UTC()

	for _, event := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.sequence++
		msg, err := NewMsg(p.prefix, Envelope{
			Epoch:       p.epoch,
			Sequence:    p.sequence,
			Batch:       p.batch,
			Event:       event,
			PublishedAt: publishedAt,
		})
		if err != nil {
			return err
		}

		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish event %s: %w", event.ID, err)
		}
	}

	log.Debug().
		Str("epoch", p.epoch.String()).
		Uint64("batch", p.batch).
		Int("events", len(batch)).
		Uint64("last_sequence", p.sequence).
		Msg("batch mirrored to NATS")

	return nil
}

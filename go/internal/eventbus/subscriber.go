package eventbus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subscriber reads the mirrored stream back in publish order
type Subscriber struct {
	nc     *nats.Conn
	prefix string
	epoch  uuid.UUID
	last   uint64
}

func NewSubscriber(nc *nats.Conn, prefix string) *Subscriber {
	return &Subscriber{nc: nc, prefix: prefix}
}

// Run delivers each envelope to handle until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context, handle func(Envelope)) error {
	msgs := make(chan *nats.Msg, 256)
	sub, err := s.nc.ChanSubscribe(WildcardSubject(s.prefix), msgs)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", WildcardSubject(s.prefix), err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe")
		}
	}()

	log.Info().Str("subject", sub.Subject).Msg("subscribed to ordered stream")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			env, ok := s.accept(msg)
			if ok {
				handle(env)
			}
		}
	}
}

// accept decodes msg and tracks the sequence within the publisher's epoch,
// warning when events were lost
func (s *Subscriber) accept(msg *nats.Msg) (Envelope, bool) {
	env, err := DecodeMsg(msg)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable event")
		return Envelope{}, false
	}

	if env.Epoch != s.epoch {
		if s.epoch != uuid.Nil {
			log.Info().
				Str("previous_epoch", s.epoch.String()).
				Str("epoch", env.Epoch.String()).
				Uint64("last_sequence", s.last).
				Msg("publisher restarted, following new sequence")
		}
		s.epoch = env.Epoch
		s.last = 0
	}

	switch {
	case s.last != 0 && env.Sequence <= s.last:
		log.Debug().Uint64("sequence", env.Sequence).Msg("dropping duplicate event")
		return Envelope{}, false
	case s.last != 0 && env.Sequence > s.last+1:
		log.Warn().
			Uint64("expected", s.last+1).
			Uint64("received", env.Sequence).
			Msg("gap in ordered stream")
	}

	s.last = env.Sequence
	return env, true
}

package client

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/protocol"
	"github.com/mcdev12/ordersync/go/internal/timesync"
	"github.com/mcdev12/ordersync/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// ErrEmptyAction is returned by SubmitAction for a blank action
var ErrEmptyAction = errors.New("empty action")

// Config holds session timing
type Config struct {
	SyncInterval time.Duration
	PollInterval time.Duration
	LatencyMin   time.Duration
	LatencyMax   time.Duration
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		SyncInterval: 3 * time.Second,
		PollInterval: 100 * time.Millisecond,
		LatencyMin:   50 * time.Millisecond,
		LatencyMax:   500 * time.Millisecond,
	}
}

// Handlers receive what the server sends. Nil handlers are skipped.
type Handlers struct {
	OnWelcome   func(playerID int)
	OnSync      func(sample timesync.Sample)
	OnBroadcast func(broadcast protocol.ActionBroadcast)
}

// Session is one participant's connection: it keeps the logical clock
// synchronized and stamps outgoing actions with it.
type Session struct {
	conn     transport.Conn
	local    timesync.Clock
	exchange *timesync.Exchange
	clock    clockwork.Clock
	config   Config
	handlers Handlers
	latency  func() time.Duration

	playerID atomic.Int64
}

// Option configures a Session
type Option func(*Session)

// WithClock sets the wall clock driving the sync period and send latency
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLatency replaces the simulated send latency source
func WithLatency(f func() time.Duration) Option {
	return func(s *Session) { s.latency = f }
}

// NewSession creates a session over conn. local is the clock actions are
// stamped with; the session's sync exchange corrects it.
func NewSession(conn transport.Conn, local timesync.Clock, config Config, handlers Handlers, opts ...Option) *Session {
	s := &Session{
		conn:     conn,
		local:    local,
		exchange: timesync.NewExchange(local),
		clock:    clockwork.NewRealClock(),
		config:   config,
		handlers: handlers,
	}
	s.latency = uniformLatency(config.LatencyMin, config.LatencyMax)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func uniformLatency(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		return lo + rand.N(hi-lo+1)
	}
}

// PlayerID returns the id assigned by WELCOME, or 0 before it arrives
func (s *Session) PlayerID() int {
	return int(s.playerID.Load())
}

// LastSync returns the most recent completed sync exchange
func (s *Session) LastSync() (timesync.Sample, bool) {
	return s.exchange.Last()
}

// Run syncs immediately, then every SyncInterval, and dispatches incoming
// messages until the server disconnects or ctx is cancelled. It returns nil
// on cancellation and an error wrapping transport.ErrDisconnected when the
// stream ends.
func (s *Session) Run(ctx context.Context) error {
	lastSync := s.clock.Now()
	if err := s.sync(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.clock.Since(lastSync) >= s.config.SyncInterval {
			lastSync = s.clock.Now()
			if err := s.sync(); err != nil {
				return err
			}
		}

		msg, err := transport.ReceiveNext(s.conn, s.config.PollInterval)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) sync() error {
	return transport.Send(s.conn, s.exchange.IssueRequest())
}

func (s *Session) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Welcome:
		s.playerID.Store(int64(m.PlayerID))
		log.Debug().Int("player_id", m.PlayerID).Msg("welcomed")
		if s.handlers.OnWelcome != nil {
			s.handlers.OnWelcome(m.PlayerID)
		}

	case protocol.TimeResponse:
		sample, ok := s.exchange.OnResponse(m.ServerTime)
		if !ok {
			log.Debug().Float64("server_time", m.ServerTime).Msg("discarding stale time response")
			return
		}
		log.Debug().
			Float64("delta", sample.Delta).
			Float64("rtt", sample.RTT).
			Msg("clock synchronized")
		if s.handlers.OnSync != nil {
			s.handlers.OnSync(sample)
		}

	case protocol.ActionBroadcast:
		if s.handlers.OnBroadcast != nil {
			s.handlers.OnBroadcast(m)
		}

	default:
		log.Debug().Str("type", string(msg.Type())).Msg("ignoring unexpected message type")
	}
}

// SubmitAction waits out the simulated send latency, stamps action with the
// synchronized clock and sends it. The stamp is the clock reading at send
// time.
func (s *Session) SubmitAction(ctx context.Context, action string) (protocol.Action, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return protocol.Action{}, ErrEmptyAction
	}

	if d := s.latency(); d > 0 {
		select {
		case <-s.clock.After(d):
		case <-ctx.Done():
			return protocol.Action{}, ctx.Err()
		}
	}

	msg := protocol.Action{Action: action, Timestamp: s.local.Now()}
	if err := transport.Send(s.conn, msg); err != nil {
		return protocol.Action{}, err
	}
	return msg, nil
}

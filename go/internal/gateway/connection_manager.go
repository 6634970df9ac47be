package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/ordering"
	"github.com/mcdev12/ordersync/go/internal/protocol"
	"github.com/mcdev12/ordersync/go/internal/timesync"
	"github.com/mcdev12/ordersync/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// ErrServerFull is returned when every participant slot is taken
var ErrServerFull = errors.New("server full")

// ConnectionManager is the participant registry. It assigns player ids,
// serves each connection, feeds actions into the ordering buffer and fans
// ordered batches out to every participant.
type ConnectionManager struct {
	connections map[int]*Connection
	nextID      int
	mu          sync.RWMutex

	buffer *ordering.Buffer
	clock  clockwork.Clock
	config ConnectionConfig
}

// Connection represents one registered participant
type Connection struct {
	ID       string
	PlayerID int
	Conn     transport.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// ConnectionConfig holds configuration for participant connections
type ConnectionConfig struct {
	MaxPlayers     int
	SendBufferSize int
	PollInterval   time.Duration
	Transport      transport.Config
}

// DefaultConnectionConfig returns default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxPlayers:     2,
		SendBufferSize: 256,
		PollInterval:   500 * time.Millisecond,
		Transport:      transport.DefaultConfig(),
	}
}

// NewConnectionManager creates a registry feeding buffer
func NewConnectionManager(config ConnectionConfig, buffer *ordering.Buffer, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		connections: make(map[int]*Connection),
		nextID:      1,
		buffer:      buffer,
		clock:       clock,
		config:      config,
	}
}

// Serve registers conn as a new participant and handles it until the peer
// disconnects or ctx is cancelled. The connection is closed on return.
func (cm *ConnectionManager) Serve(ctx context.Context, conn transport.Conn) error {
	c, err := cm.registerConnection(conn)
	if err != nil {
		log.Warn().
			Err(err).
			Str("remote_addr", conn.RemoteAddr()).
			Int("max_players", cm.config.MaxPlayers).
			Msg("rejecting participant")
		conn.Close()
		return err
	}

	log.Info().
		Int("player_id", c.PlayerID).
		Str("connection_id", c.ID).
		Str("remote_addr", conn.RemoteAddr()).
		Msg("player connected")

	go c.writePump()
	c.readPump(ctx)

	cm.unregisterConnection(c)
	return nil
}

// registerConnection adds a connection to the manager with its WELCOME
// already queued
func (cm *ConnectionManager) registerConnection(conn transport.Conn) (*Connection, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config.MaxPlayers > 0 && len(cm.connections) >= cm.config.MaxPlayers {
		return nil, ErrServerFull
	}

	c := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    cm.nextID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
		done:        make(chan struct{}),
	}
	cm.nextID++

	// queued before the connection is visible to Deliver, so it is always
	// the first record written
	c.enqueueMessage(protocol.Welcome{PlayerID: c.PlayerID})
	cm.connections[c.PlayerID] = c

	log.Debug().
		Str("connection_id", c.ID).
		Int("player_id", c.PlayerID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")

	return c, nil
}

// unregisterConnection removes a connection from the manager and closes it.
// Safe to call from both pumps and from broadcast.
func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	existing, ok := cm.connections[c.PlayerID]
	if ok && existing == c {
		delete(cm.connections, c.PlayerID)
	}
	remaining := len(cm.connections)
	cm.mu.Unlock()

	c.close()

	if ok && existing == c {
		log.Info().
			Int("player_id", c.PlayerID).
			Str("connection_id", c.ID).
			Int("remaining", remaining).
			Msg("player disconnected")
	}
}

// Full reports whether every participant slot is taken
func (cm *ConnectionManager) Full() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.MaxPlayers > 0 && len(cm.connections) >= cm.config.MaxPlayers
}

// Players returns the ids of the registered participants in ascending order
func (cm *ConnectionManager) Players() []int {
	cm.mu.RLock()
	ids := make([]int, 0, len(cm.connections))
	for id := range cm.connections {
		ids = append(ids, id)
	}
	cm.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Name identifies the registry as a flush sink
func (cm *ConnectionManager) Name() string {
	return "participants"
}

// Deliver broadcasts each event of an ordered batch, in order, to every
// registered participant. A participant that cannot keep up is dropped
// without affecting delivery to the others.
func (cm *ConnectionManager) Deliver(ctx context.Context, batch []ordering.ActionEvent) error {
	// snapshot the registry so no lock is held while queueing
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	failed := make(map[*Connection]bool)
	for _, event := range batch {
		data, err := protocol.Encode(event.Broadcast())
		if err != nil {
			return fmt.Errorf("encode broadcast: %w", err)
		}

		for _, c := range targets {
			if failed[c] {
				continue
			}
			if !c.enqueue(data) {
				failed[c] = true
			}
		}
	}

	for c := range failed {
		log.Warn().
			Str("connection_id", c.ID).
			Int("player_id", c.PlayerID).
			Msg("connection send buffer full or closed, dropping participant")
		cm.unregisterConnection(c)
	}

	log.Debug().
		Int("events", len(batch)).
		Int("connections", len(targets)-len(failed)).
		Msg("batch broadcasted")

	return nil
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	players := cm.Players()
	return map[string]interface{}{
		"total_connections": len(players),
		"max_players":       cm.config.MaxPlayers,
		"players":           players,
	}
}

// enqueue queues one encoded record for the writer. It never blocks and
// reports false when the connection is closed or its queue is full.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *Connection) enqueueMessage(msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type())).Msg("failed to encode message")
		return false
	}
	return c.enqueue(data)
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// writePump is the only writer to the underlying connection
func (c *Connection) writePump() {
	defer c.Manager.unregisterConnection(c)

	for {
		select {
		case <-c.done:
			return
		case data := <-c.Send:
			if err := c.Conn.WriteRecord(data); err != nil {
				log.Debug().
					Err(err).
					Int("player_id", c.PlayerID).
					Msg("failed to write record")
				return
			}
		}
	}
}

// readPump handles the records a participant sends until it disconnects
func (c *Connection) readPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		msg, err := transport.ReceiveNext(c.Conn, c.Manager.config.PollInterval)
		if err != nil {
			log.Debug().Err(err).Int("player_id", c.PlayerID).Msg("read loop ended")
			return
		}
		if msg == nil {
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage processes one decoded record from the participant
func (c *Connection) handleClientMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.TimeRequest:
		if !c.enqueueMessage(timesync.Respond(c.Manager.clock)) {
			log.Warn().Int("player_id", c.PlayerID).Msg("dropped time response, send buffer full")
		}

	case protocol.Action:
		event := c.Manager.buffer.Ingest(c.PlayerID, m)
		log.Debug().
			Int("player_id", c.PlayerID).
			Str("action", event.Action).
			Float64("timestamp", event.ClientTimestamp).
			Float64("received_at", event.ServerReceiveTime).
			Msg("action ingested")

	default:
		log.Debug().
			Int("player_id", c.PlayerID).
			Str("type", string(msg.Type())).
			Msg("ignoring unexpected message type")
	}
}

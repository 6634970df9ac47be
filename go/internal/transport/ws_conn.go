package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WSConn carries one record per websocket text frame. A background reader
// feeds frames into a channel so ReadRecord can poll without tripping
// gorilla's permanent read-deadline failure.
type WSConn struct {
	conn   *websocket.Conn
	config Config
	clock  clockwork.Clock

	frames  chan []byte
	readErr error
	done    chan struct{}

	closeOnce sync.Once
	wmu       sync.Mutex
}

// NewWSConn wraps an upgraded or dialed websocket and starts its reader and
// keepalive goroutines.
func NewWSConn(conn *websocket.Conn, config Config, clock clockwork.Clock) *WSConn {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &WSConn{
		conn:   conn,
		config: config,
		clock:  clock,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	if config.MaxRecordSize > 0 {
		conn.SetReadLimit(int64(config.MaxRecordSize))
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.readLoop()
	if config.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

// DialWS connects to a websocket participant endpoint
func DialWS(ctx context.Context, url string, config Config) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSConn(conn, config, nil), nil
}

func (c *WSConn) extendReadDeadline() {
	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}

func (c *WSConn) readLoop() {
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("remote_addr", c.RemoteAddr()).
					Msg("unexpected websocket close error")
			}
			c.readErr = err
			return
		}
		c.extendReadDeadline()

		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WSConn) pingLoop() {
	ticker := c.clock.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("remote_addr", c.RemoteAddr()).Msg("failed to send ping")
				return
			}
		}
	}
}

// WriteRecord sends b as a single text frame
func (c *WSConn) WriteRecord(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// ReadRecord returns the next frame, ErrTimeout after poll, or ErrClosed
func (c *WSConn) ReadRecord(poll time.Duration) ([]byte, error) {
	var timeout <-chan time.Time
	if poll > 0 {
		timer := c.clock.NewTimer(poll)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	select {
	case data, ok := <-c.frames:
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		return data, nil
	case <-timeout:
		return nil, ErrTimeout
	case <-c.done:
		return nil, ErrClosed
	}
}

// Close sends a close frame and tears the connection down. Idempotent.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *WSConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// LineConn frames records as newline-terminated lines over a net.Conn
type LineConn struct {
	conn   net.Conn
	r      *bufio.Reader
	config Config

	// partial line carried across poll timeouts
	pending    []byte
	discarding bool

	wmu sync.Mutex
}

// NewLineConn wraps an established stream connection
func NewLineConn(conn net.Conn, config Config) *LineConn {
	return &LineConn{
		conn:   conn,
		r:      bufio.NewReader(conn),
		config: config,
	}
}

// DialTCP connects to a line-framed server
func DialTCP(ctx context.Context, addr string, config Config) (*LineConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewLineConn(conn, config), nil
}

// WriteRecord writes b followed by a newline in a single write
func (c *LineConn) WriteRecord(b []byte) error {
	line := make([]byte, 0, len(b)+1)
	line = append(line, b...)
	line = append(line, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
	}
	if _, err := c.conn.Write(line); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// ReadRecord returns the next non-blank line without its terminator
func (c *LineConn) ReadRecord(poll time.Duration) ([]byte, error) {
	for {
		var deadline time.Time
		if poll > 0 {
			deadline = time.Now().Add(poll)
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		if err := c.readLine(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrTimeout
			}
			c.pending = nil
			if errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		// complete line
		if c.discarding {
			c.discarding = false
			c.pending = nil
			return nil, ErrRecordTooLarge
		}
		record := bytes.TrimRight(c.pending, "\r\n")
		c.pending = nil
		if len(bytes.TrimSpace(record)) == 0 {
			continue
		}
		return record, nil
	}
}

// readLine consumes input up to and including the next newline. Bytes past
// MaxRecordSize are discarded as they arrive rather than accumulated.
func (c *LineConn) readLine() error {
	for {
		chunk, err := c.r.ReadSlice('\n')
		c.buffer(chunk)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

func (c *LineConn) buffer(chunk []byte) {
	if len(chunk) == 0 || c.discarding {
		return
	}
	c.pending = append(c.pending, chunk...)
	if c.config.MaxRecordSize > 0 && len(c.pending) > c.config.MaxRecordSize+2 {
		c.pending = nil
		c.discarding = true
	}
}

func (c *LineConn) Close() error {
	return c.conn.Close()
}

func (c *LineConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

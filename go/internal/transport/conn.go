package transport

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by ReadRecord when the poll interval elapses
	// without a complete record.
	ErrTimeout = errors.New("read poll timed out")

	// ErrClosed is returned once the underlying stream has ended.
	ErrClosed = errors.New("connection closed")

	// ErrRecordTooLarge is returned for a record exceeding the configured
	// limit. The record is discarded and the stream stays usable.
	ErrRecordTooLarge = errors.New("record too large")
)

// Conn is one bidirectional stream of framed text records
type Conn interface {
	// WriteRecord sends a single record. Safe for concurrent use.
	WriteRecord(b []byte) error
	// ReadRecord blocks for at most poll (forever when poll <= 0) and returns
	// the next complete record. Not safe for concurrent use.
	ReadRecord(poll time.Duration) ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Config holds settings shared by the Conn implementations
type Config struct {
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration // websocket only: idle limit refreshed by pongs
	PingInterval  time.Duration // websocket only
	MaxRecordSize int
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:  10 * time.Second,
		ReadTimeout:   60 * time.Second,
		PingInterval:  30 * time.Second,
		MaxRecordSize: 4096,
	}
}

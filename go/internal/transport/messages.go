package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/ordersync/go/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ErrDisconnected is returned by ReceiveNext when the peer's stream has ended
var ErrDisconnected = errors.New("peer disconnected")

// Send encodes msg and writes it as one record
func Send(conn Conn, msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := conn.WriteRecord(b); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

// ReceiveNext waits up to poll for the next message. It returns (nil, nil)
// when the poll elapses or the record was malformed, and an error wrapping
// ErrDisconnected once the stream has ended.
func ReceiveNext(conn Conn, poll time.Duration) (protocol.Message, error) {
	b, err := conn.ReadRecord(poll)
	if err != nil {
		switch {
		case errors.Is(err, ErrTimeout):
			return nil, nil
		case errors.Is(err, ErrRecordTooLarge):
			log.Debug().Str("remote_addr", conn.RemoteAddr()).Msg("dropped oversize record")
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
	}

	msg, err := protocol.Decode(b)
	if err != nil {
		log.Debug().
			Err(err).
			Str("remote_addr", conn.RemoteAddr()).
			Msg("dropped malformed record")
		return nil, nil
	}
	return msg, nil
}

package eventbus

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/ordersync/go/internal/ordering"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// Header keys set on every mirrored event
const (
	HeaderEventID  = "Event-ID"
	HeaderPlayerID = "Player-ID"
	HeaderSequence = "Sequence"
	HeaderEpoch    = "Publisher-Epoch"
)

// Envelope is the msgpack body of one mirrored event. Sequence numbers the
// events in broadcast order across all batches; Batch numbers the flush
// cycle the event was delivered in. Both restart from 1 with each new
// publisher, which is told apart by Epoch.
type Envelope struct {
	Epoch       uuid.UUID            `msgpack:"epoch"`
	Sequence    uint64               `msgpack:"seq"`
	Batch       uint64               `msgpack:"batch"`
	Event       ordering.ActionEvent `msgpack:"event"`
	PublishedAt time.Time            `msgpack:"published_at"`
}

// Subject returns the subject an event from playerID is published on
func Subject(prefix string, playerID int) string {
	return fmt.Sprintf("%s.player.%d", prefix, playerID)
}

// WildcardSubject matches every player's subject under prefix
func WildcardSubject(prefix string) string {
	return prefix + ".>"
}

// NewMsg encodes env as a NATS message under prefix
func NewMsg(prefix string, env Envelope) (*nats.Msg, error) {
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	return &nats.Msg{
		Subject: Subject(prefix, env.Event.PlayerID),
		Data:    data,
		Header: nats.Header{
			HeaderEventID:  []string{env.Event.ID.String()},
			HeaderPlayerID: []string{strconv.Itoa(env.Event.PlayerID)},
			HeaderSequence: []string{strconv.FormatUint(env.Sequence, 10)},
			HeaderEpoch:    []string{env.Epoch.String()},
		},
	}, nil
}

// DecodeMsg reads the envelope carried by msg
func DecodeMsg(msg *nats.Msg) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(msg.Data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope from %s: %w", msg.Subject, err)
	}

	if id := msg.Header.Get(HeaderEventID); id != "" && id != env.Event.ID.String() {
		return Envelope{}, fmt.Errorf("event id header %s does not match body %s", id, env.Event.ID)
	}

	if epoch := msg.Header.Get(HeaderEpoch); epoch != "" && epoch != env.Epoch.String() {
		return Envelope{}, fmt.Errorf("epoch header %s does not match body %s", epoch, env.Epoch)
	}

	return env, nil
}

package ordering

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/mcdev12/ordersync/go/internal/protocol"
)

// ActionEvent is one ingested client action. It is never mutated after
// ingest and is discarded once its batch has been delivered.
type ActionEvent struct {
	ID                uuid.UUID `json:"id" msgpack:"id"` // bus de-duplication only, never ordered on
	PlayerID          int       `json:"player_id" msgpack:"player_id"`
	Action            string    `json:"action" msgpack:"action"`
	ClientTimestamp   float64   `json:"client_timestamp" msgpack:"client_timestamp"`
	ServerReceiveTime float64   `json:"server_receive_time" msgpack:"server_receive_time"`
}

// Broadcast converts the event into its outbound wire form
func (e ActionEvent) Broadcast() protocol.ActionBroadcast {
	return protocol.ActionBroadcast{
		PlayerID:  e.PlayerID,
		Action:    e.Action,
		Timestamp: e.ClientTimestamp,
	}
}

// Compare orders events by client timestamp, then by server receive time
func Compare(a, b ActionEvent) int {
	if c := cmp.Compare(a.ClientTimestamp, b.ClientTimestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ServerReceiveTime, b.ServerReceiveTime)
}

// SortBatch puts batch into its broadcast order in place. Events with equal
// keys keep their ingest order.
func SortBatch(batch []ActionEvent) {
	slices.SortStableFunc(batch, Compare)
}

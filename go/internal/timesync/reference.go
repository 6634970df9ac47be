package timesync

import (
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/protocol"
)

// ReferenceTime reads the server wall clock as float seconds since the Unix
// epoch. It is the ground truth clients synchronize against.
func ReferenceTime(c clockwork.Clock) float64 {
	return float64(c.Now().UnixNano()) / 1e9
}

// Respond builds the server's half of the exchange. The server keeps no
// per-request state; it only reports its reference time.
func Respond(c clockwork.Clock) protocol.TimeResponse {
	return protocol.TimeResponse{ServerTime: ReferenceTime(c)}
}

package protocol

// MessageType is the value of the "type" tag carried by every record
type MessageType string

const (
	TypeWelcome         MessageType = "WELCOME"
	TypeTimeRequest     MessageType = "TIME_REQUEST"
	TypeTimeResponse    MessageType = "TIME_RESPONSE"
	TypeAction          MessageType = "ACTION"
	TypeActionBroadcast MessageType = "ACTION_BROADCAST"
)

// Message is implemented by every wire variant
type Message interface {
	Type() MessageType
}

// Welcome is sent once by the server right after a participant is registered
type Welcome struct {
	PlayerID int `json:"player_id"`
}

// TimeRequest asks the server for its reference time. The client keeps its
// own send time, so the request has no payload.
type TimeRequest struct{}

// TimeResponse carries the server wall clock in seconds since the Unix epoch
type TimeResponse struct {
	ServerTime float64 `json:"server_time"`
}

// Action is a client submission stamped with the client's corrected clock
type Action struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
}

// ActionBroadcast is one ordered event fanned out to every participant
type ActionBroadcast struct {
	PlayerID  int     `json:"player_id"`
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
}

func (Welcome) Type() MessageType         { return TypeWelcome }
func (TimeRequest) Type() MessageType     { return TypeTimeRequest }
func (TimeResponse) Type() MessageType    { return TypeTimeResponse }
func (Action) Type() MessageType          { return TypeAction }
func (ActionBroadcast) Type() MessageType { return TypeActionBroadcast }

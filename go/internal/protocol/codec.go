package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned for records that cannot be turned into a Message:
// invalid JSON, an unknown type tag or a missing required field.
var ErrMalformed = errors.New("malformed message")

// Encode renders msg as a single JSON object with its type tag. The result
// carries no trailing newline; framing belongs to the transport.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("trying to encode nil message")
	}

	var body any
	switch m := msg.(type) {
	case Welcome:
		body = struct {
			Type     MessageType `json:"type"`
			PlayerID int         `json:"player_id"`
		}{m.Type(), m.PlayerID}
	case TimeRequest:
		body = struct {
			Type MessageType `json:"type"`
		}{m.Type()}
	case TimeResponse:
		body = struct {
			Type       MessageType `json:"type"`
			ServerTime float64     `json:"server_time"`
		}{m.Type(), m.ServerTime}
	case Action:
		body = struct {
			Type      MessageType `json:"type"`
			Action    string      `json:"action"`
			Timestamp float64     `json:"timestamp"`
		}{m.Type(), m.Action, m.Timestamp}
	case ActionBroadcast:
		body = struct {
			Type      MessageType `json:"type"`
			PlayerID  int         `json:"player_id"`
			Action    string      `json:"action"`
			Timestamp float64     `json:"timestamp"`
		}{m.Type(), m.PlayerID, m.Action, m.Timestamp}
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}

	return json.Marshal(body)
}

// record mirrors every field any variant may carry. Pointers tell an absent
// field apart from a zero value.
type record struct {
	Type       MessageType `json:"type"`
	PlayerID   *int        `json:"player_id"`
	ServerTime *float64    `json:"server_time"`
	Action     *string     `json:"action"`
	Timestamp  *float64    `json:"timestamp"`
}

// Decode parses one record into its variant. Any failure wraps ErrMalformed.
func Decode(b []byte) (Message, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrMalformed)
	}

	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch r.Type {
	case TypeWelcome:
		if r.PlayerID == nil {
			return nil, missing(r.Type, "player_id")
		}
		return Welcome{PlayerID: *r.PlayerID}, nil

	case TypeTimeRequest:
		return TimeRequest{}, nil

	case TypeTimeResponse:
		if r.ServerTime == nil {
			return nil, missing(r.Type, "server_time")
		}
		return TimeResponse{ServerTime: *r.ServerTime}, nil

	case TypeAction:
		if r.Action == nil {
			return nil, missing(r.Type, "action")
		}
		if r.Timestamp == nil {
			return nil, missing(r.Type, "timestamp")
		}
		return Action{Action: *r.Action, Timestamp: *r.Timestamp}, nil

	case TypeActionBroadcast:
		if r.PlayerID == nil {
			return nil, missing(r.Type, "player_id")
		}
		if r.Action == nil {
			return nil, missing(r.Type, "action")
		}
		if r.Timestamp == nil {
			return nil, missing(r.Type, "timestamp")
		}
		return ActionBroadcast{PlayerID: *r.PlayerID, Action: *r.Action, Timestamp: *r.Timestamp}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, r.Type)
	}
}

func missing(t MessageType, field string) error {
	return fmt.Errorf("%w: %s without %s", ErrMalformed, t, field)
}

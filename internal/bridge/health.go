package bridge

import (
	"fmt"
	"time"
)

// State is the relay's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Stats counts loop outcomes since start.
type Stats struct {
	Received          uint64 `json:"received"`
	Forwarded         uint64 `json:"forwarded"`
	DecodeFailures    uint64 `json:"decode_failures"`
	ReceiveErrors     uint64 `json:"receive_errors"`
	BroadcastFailures uint64 `json:"broadcast_failures"`
}

// Dropped is every received message that did not reach the sink.
func (s Stats) Dropped() uint64 { return s.DecodeFailures + s.BroadcastFailures }

// Health is a point-in-time snapshot of the relay.
type Health struct {
	State         State     `json:"state"`
	Transport     string    `json:"transport"`
	Endpoint      string    `json:"endpoint"`
	Topic         string    `json:"topic"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitzero"`
	Stats         Stats     `json:"stats"`
}

func (h Health) Connected() bool { return h.State == StateConnected }

package transport

import (
	"encoding/json"

	"github.com/osa030/syncroom/internal/protocol"
)

// Control frame types exchanged between the hub and its clients, outside
// the event protocol proper.
const (
	controlHello = "hello" // hub -> client: assigned connection id
	controlLeft  = "left"  // hub -> all: a peer disconnected
)

// frame is the websocket wire unit: either a control frame or an event
// envelope.
type frame struct {
	Control   string          `json:"control,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Name      protocol.Kind   `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (f frame) envelope() protocol.Envelope {
	return protocol.Envelope{
		ClientID:  f.ClientID,
		Timestamp: f.Timestamp,
		Name:      f.Name,
		Data:      f.Data,
	}
}

func frameFromEnvelope(env protocol.Envelope) frame {
	return frame{
		ClientID:  env.ClientID,
		Timestamp: env.Timestamp,
		Name:      env.Name,
		Data:      env.Data,
	}
}

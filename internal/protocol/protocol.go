// Package protocol defines the wire protocol spoken over the broadcast
// transport: event kinds, the envelope, payload shapes and the total order
// used to arbitrate concurrent events.
package protocol

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/osa030/syncroom/internal/domain/track"
)

// ErrMalformedEvent indicates an inbound event that could not be decoded.
// It is always recovered locally: the event is logged and dropped.
var ErrMalformedEvent = errors.New("malformed event")

// Kind identifies an event on the wire.
type Kind string

const (
	KindPlay           Kind = "play"
	KindPause          Kind = "pause"
	KindSeekTo         Kind = "seekTo"
	KindSetTrack       Kind = "setTrack"
	KindSetTrackData   Kind = "setTrackData"
	KindPositionUpdate Kind = "positionUpdate"
	KindJoined         Kind = "joined"
)

// Restricted reports whether inbound events of this kind must pass the
// role gate. Position updates and join pings are unrestricted.
func (k Kind) Restricted() bool {
	switch k {
	case KindPositionUpdate, KindJoined:
		return false
	default:
		return true
	}
}

// Stamp orders events. Events are compared by timestamp with the
// lexicographically smaller sender id winning ties, which yields a total
// order without a central sequencer.
type Stamp struct {
	Timestamp int64
	SenderID  string
}

// Supersedes reports whether an event stamped s replaces state stamped o:
// a later timestamp always wins, and on a timestamp collision the smaller
// sender id wins. Replaying the same stamp never supersedes, which makes
// last-writer-wins application idempotent.
func (s Stamp) Supersedes(o Stamp) bool {
	if s.Timestamp != o.Timestamp {
		return s.Timestamp > o.Timestamp
	}
	if o.SenderID == "" && s.SenderID != "" {
		return true
	}
	return s.SenderID != "" && s.SenderID < o.SenderID
}

// Envelope is the transport frame carrying one event.
type Envelope struct {
	ClientID  string          `json:"clientId"`
	Timestamp int64           `json:"timestamp"`
	Name      Kind            `json:"name"`
	Data      json.RawMessage `json:"data"`
}

// Stamp returns the envelope's ordering stamp.
func (e Envelope) Stamp() Stamp {
	return Stamp{Timestamp: e.Timestamp, SenderID: e.ClientID}
}

// Command is the payload of play, pause and seekTo events.
type Command struct {
	Track    track.Metadata `json:"track"`
	Position float64        `json:"position"`
}

// SetTrack is the payload of setTrack events.
type SetTrack struct {
	Metadata   track.Metadata    `json:"metadata"`
	WaitPoints []track.WaitPoint `json:"waitPoints"`
}

// SetTrackData is the payload of setTrackData events.
type SetTrackData struct {
	Data map[string]any `json:"data"`
}

// PositionUpdate is the payload of positionUpdate events. WaitPoint, when
// present, announces a dynamic wait point for the current track.
type PositionUpdate struct {
	PlaybackState string           `json:"playbackState"`
	Track         track.Metadata   `json:"track"`
	Position      float64          `json:"position"`
	PlaybackRate  float64          `json:"playbackRate"`
	TrackData     map[string]any   `json:"trackData,omitempty"`
	WaitPoint     *track.WaitPoint `json:"waitPoint,omitempty"`
}

// Joined is the payload of joined events.
type Joined struct{}

// Encode builds a stamped envelope for the given payload.
func Encode(clientID string, timestamp int64, kind Kind, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "encode %s", kind)
	}
	return Envelope{
		ClientID:  clientID,
		Timestamp: timestamp,
		Name:      kind,
		Data:      data,
	}, nil
}

// Decode unmarshals an envelope's payload into T.
func Decode[T any](e Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return payload, errors.Wrapf(ErrMalformedEvent, "%s from %s: %v", e.Name, e.ClientID, err)
	}
	return payload, nil
}

// Package player defines the media player binding. The player is an
// external collaborator: the coordinator only reads its state and drives
// it through the action callbacks.
package player

import (
	"github.com/osa030/syncroom/internal/domain/playback"
	"github.com/osa030/syncroom/internal/domain/track"
)

// PositionState is a point-in-time position sample from the media element.
type PositionState struct {
	Position     float64 // seconds
	PlaybackRate float64
	Timestamp    int64 // reference time of the sample, ms
}

// State is the player's self-reported state.
type State struct {
	Metadata  track.Metadata
	TrackData map[string]any
	Playback  playback.State
	Position  *PositionState
}

// ProjectedPosition extrapolates the player's position at reference time
// now from its last sample.
func (s State) ProjectedPosition(now int64) float64 {
	if s.Position == nil {
		return 0
	}
	pos := s.Position.Position
	if s.Playback.Advancing() {
		pos += float64(now-s.Position.Timestamp) / 1000.0 * s.Position.PlaybackRate
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Player is implemented by the local media element binding.
type Player interface {
	// State returns the player's current state.
	State() State

	// Action callbacks. Positions are in seconds. OnCatchup is a
	// corrective re-align; bindings for adaptive formats may implement
	// it as a rate adjustment instead of a seek.
	OnPlay(position float64)
	OnPause(position float64)
	OnSeek(position float64)
	OnCatchup(position float64)
	OnLoadTrack(metadata track.Metadata)
	OnTrackData(data map[string]any)
}

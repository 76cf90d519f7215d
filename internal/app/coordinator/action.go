package coordinator

import "github.com/osa030/syncroom/internal/domain/track"

// ActionType identifies a local action the media player should perform.
type ActionType int

const (
	ActionNone      ActionType = iota
	ActionPlay                 // Start playback at Position
	ActionPause                // Hold playback at Position
	ActionSeek                 // Move playback to Position
	ActionCatchup              // Corrective re-align to Position after drift
	ActionLoadTrack            // Load Metadata (nil unloads)
	ActionTrackData            // Replace the shared track data
)

// String returns the string representation of the action type.
func (a ActionType) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPlay:
		return "play"
	case ActionPause:
		return "pause"
	case ActionSeek:
		return "seek"
	case ActionCatchup:
		return "catchup"
	case ActionLoadTrack:
		return "load_track"
	case ActionTrackData:
		return "track_data"
	default:
		return "unknown"
	}
}

// Action is one instruction for the local player.
type Action struct {
	Type     ActionType
	Position float64
	Metadata track.Metadata
	Data     map[string]any
}

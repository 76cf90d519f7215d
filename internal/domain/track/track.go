// Package track provides the track metadata and wait point domain types.
package track

import (
	"github.com/mitchellh/mapstructure"
)

// Metadata is the opaque track description exchanged between peers.
// The coordinator only interprets the track_identity and wait_points keys;
// everything else is carried through untouched for the player binding.
type Metadata map[string]any

// WaitPoint is a playback offset at which participants hold until the
// release condition is satisfied.
type WaitPoint struct {
	Position   float64 `json:"position" mapstructure:"position"`
	MaxClients int     `json:"maxClients,omitempty" mapstructure:"max_clients"`
}

// knownKeys are the metadata fields the coordinator understands.
type knownKeys struct {
	Identity   string      `mapstructure:"track_identity"`
	WaitPoints []WaitPoint `mapstructure:"wait_points"`
}

func (m Metadata) decode() knownKeys {
	var k knownKeys
	// Decode errors are ignored. A track without a usable identity has
	// the identity "", so it equals every other such track and never nil.
	_ = mapstructure.Decode(map[string]any(m), &k)
	return k
}

// Identity returns the track identity key, or "" if absent.
func (m Metadata) Identity() string {
	if m == nil {
		return ""
	}
	return m.decode().Identity
}

// StaticWaitPoints returns the wait points declared in the metadata.
func (m Metadata) StaticWaitPoints() []WaitPoint {
	if m == nil {
		return nil
	}
	return m.decode().WaitPoints
}

// Equal reports whether two tracks are the same. Two tracks are equal iff
// their identities match; nil means "no track loaded".
func (m Metadata) Equal(other Metadata) bool {
	if m == nil || other == nil {
		return m == nil && other == nil
	}
	return m.Identity() == other.Identity()
}

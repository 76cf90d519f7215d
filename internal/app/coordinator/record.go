package coordinator

import (
	"sort"

	"github.com/osa030/syncroom/internal/domain/playback"
	"github.com/osa030/syncroom/internal/domain/track"
	"github.com/osa030/syncroom/internal/protocol"
)

// Record is the last observed playback report from one peer. At most one
// record exists per live peer; the latest (timestamp, sender_id) wins.
type Record struct {
	State        playback.State
	Track        track.Metadata
	Position     float64
	PlaybackRate float64
	Stamp        protocol.Stamp
}

// ProjectAt extrapolates the peer's position at reference time now (ms).
// Clamped to [0, inf).
func (r Record) ProjectAt(now int64) float64 {
	pos := r.Position
	if r.State.Advancing() {
		pos += float64(now-r.Stamp.Timestamp) / 1000.0 * r.PlaybackRate
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Waiting reports whether the peer is holding at a wait point.
func (r Record) Waiting() bool {
	return r.State == playback.StateWaiting
}

// median returns the median of xs. xs must be non-empty.
func median(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

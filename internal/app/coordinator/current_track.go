package coordinator

import (
	"github.com/osa030/syncroom/internal/domain/track"
	"github.com/osa030/syncroom/internal/protocol"
)

// CurrentTrack tracks the currently selected track, its wait points, and
// which wait points have been consumed since the track was loaded.
// Dynamic wait points are merged in at broadcast time and persist only for
// the remainder of the current track. Not safe for concurrent use; owned
// by State.
type CurrentTrack struct {
	meta     track.Metadata
	stamp    protocol.Stamp
	static   []track.WaitPoint
	dynamic  []track.WaitPoint
	consumed map[int]struct{}
}

func newCurrentTrack() *CurrentTrack {
	return &CurrentTrack{consumed: make(map[int]struct{})}
}

// Loaded reports whether a track is loaded.
func (t *CurrentTrack) Loaded() bool {
	return t.meta != nil
}

// Metadata returns the current track metadata, nil if none.
func (t *CurrentTrack) Metadata() track.Metadata {
	return t.meta
}

// Stamp returns the stamp of the accepted set_track event.
func (t *CurrentTrack) Stamp() protocol.Stamp {
	return t.stamp
}

// SetCurrent applies a set_track event. The most recent event under
// (timestamp, sender_id) ordering wins; anything else is stale and
// rejected. Accepting a different track identity resets consumed wait
// points and drops dynamic ones. Accepting the same identity replaces the
// static wait point list and resets consumed wait points.
// Returns (identity changed, event accepted).
func (t *CurrentTrack) SetCurrent(meta track.Metadata, waitPoints []track.WaitPoint, stamp protocol.Stamp) (changed, accepted bool) {
	if !stamp.Supersedes(t.stamp) {
		return false, false
	}
	t.stamp = stamp

	if t.meta.Equal(meta) {
		t.static = waitPoints
		t.consumed = make(map[int]struct{})
		return false, true
	}

	t.meta = meta
	t.static = waitPoints
	t.dynamic = nil
	t.consumed = make(map[int]struct{})
	return true, true
}

// AddDynamic merges a dynamic wait point for the current track. Replayed
// announcements of the same position are folded into one point.
func (t *CurrentTrack) AddDynamic(wp track.WaitPoint) {
	for _, existing := range t.dynamic {
		if existing.Position == wp.Position {
			return
		}
	}
	t.dynamic = append(t.dynamic, wp)
}

// points returns the combined wait point list. Indexes into this list are
// stable until the static list is replaced, because dynamic points are
// append-only; replacing the static list resets the consumed marks.
func (t *CurrentTrack) points() []track.WaitPoint {
	if len(t.dynamic) == 0 {
		return t.static
	}
	combined := make([]track.WaitPoint, 0, len(t.static)+len(t.dynamic))
	combined = append(combined, t.static...)
	combined = append(combined, t.dynamic...)
	return combined
}

// NextWaitPoint returns the lowest-position unconsumed wait point whose
// position is strictly greater than after.
func (t *CurrentTrack) NextWaitPoint(after float64) (track.WaitPoint, int, bool) {
	var (
		best    track.WaitPoint
		bestIdx = -1
	)
	for i, wp := range t.points() {
		if wp.Position <= after {
			continue
		}
		if _, done := t.consumed[i]; done {
			continue
		}
		if bestIdx < 0 || wp.Position < best.Position {
			best = wp
			bestIdx = i
		}
	}
	return best, bestIdx, bestIdx >= 0
}

// Consume marks a wait point as consumed.
func (t *CurrentTrack) Consume(idx int) {
	t.consumed[idx] = struct{}{}
}

// Consumed reports whether a wait point has been consumed.
func (t *CurrentTrack) Consumed(idx int) bool {
	_, done := t.consumed[idx]
	return done
}

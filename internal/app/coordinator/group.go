// Package coordinator implements the group coordinator state machine. It
// merges transport, track and position events into the authoritative group
// state and decides the local actions the media player should perform.
package coordinator

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/syncroom/internal/app/player"
	"github.com/osa030/syncroom/internal/domain/playback"
	"github.com/osa030/syncroom/internal/domain/track"
	"github.com/osa030/syncroom/internal/infra/clock"
	"github.com/osa030/syncroom/internal/protocol"
)

// positionTolerance is the slack, in seconds, applied when matching a
// reported position against a wait point.
const positionTolerance = 0.25

// Config holds coordinator configuration.
type Config struct {
	MaxPlaybackDrift       float64       // seconds of tolerated drift before a catchup
	PositionUpdateInterval time.Duration // cadence of local position broadcasts
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxPlaybackDrift:       1.0,
		PositionUpdateInterval: 2 * time.Second,
	}
}

// State is the group coordinator state machine. All mutations are
// serialized through one mutex; ingest handlers, the position ticker and
// the facade synchronize on it, so two coordinators seeing the same set of
// events reach identical state regardless of delivery order.
type State struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg Config

	selfID string
	peers  map[string]Record
	track  *CurrentTrack

	trackData      map[string]any
	trackDataStamp protocol.Stamp

	// lastCommand orders transport commands; an arriving command older
	// than the last applied one is stale and ignored.
	lastCommand protocol.Stamp

	suspended    bool
	waiting      bool
	waitingIdx   int
	lastLocalPos float64

	pendingAnnounce   *track.WaitPoint // dynamic wait point to attach to the next broadcast
	pendingResumeSeek *float64         // deferred seek from Suspension.End

	lastCatchupAt int64 // reference ms of the last emitted catchup, for debouncing

	actionCh chan Action
	closed   chan struct{}
}

// New creates a coordinator state machine.
func New(clk clock.Clock, cfg Config) *State {
	return &State{
		clk:        clk,
		cfg:        cfg,
		peers:      make(map[string]Record),
		track:      newCurrentTrack(),
		waitingIdx: -1,
		actionCh:   make(chan Action, 32),
		closed:     make(chan struct{}),
	}
}

// Actions returns the channel of local actions for the player binding.
func (s *State) Actions() <-chan Action {
	return s.actionCh
}

// Close releases the state machine. In-flight actions may still be read.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// SetSelfID records the local connection id once known.
func (s *State) SetSelfID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = id
}

// CurrentTrack returns the authoritative track metadata, nil if none.
func (s *State) CurrentTrack() track.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track.Metadata()
}

// TrackData returns the shared track data.
func (s *State) TrackData() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackData
}

// IsSuspended reports whether the local peer is suspended.
func (s *State) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// IsWaiting reports whether the local peer is holding at a wait point.
func (s *State) IsWaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// PeerRecords returns a copy of the group position records.
func (s *State) PeerRecords() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.peers))
	for id, r := range s.peers {
		out[id] = r
	}
	return out
}

// GroupPlaybackState computes the authoritative group playback state.
func (s *State) GroupPlaybackState() playback.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupStateLocked(s.clk.NowMillis())
}

func (s *State) groupStateLocked(now int64) playback.State {
	if len(s.peers) == 0 && !s.track.Loaded() {
		return playback.StateNone
	}
	if _, _, active := s.activeWaitLocked(); active {
		return playback.StatePaused
	}
	if s.majorityAdvancingLocked() {
		return playback.StatePlaying
	}
	return playback.StatePaused
}

// ApplyCommand ingests a play, pause or seekTo transport command.
func (s *State) ApplyCommand(kind protocol.Kind, env protocol.Envelope, cmd protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.track.Loaded() || !s.track.Metadata().Equal(cmd.Track) {
		zlog.Debug().Msgf("coordinator: dropped %s from %s: stale track", kind, env.ClientID)
		return
	}
	if s.suspended {
		return
	}

	stamp := env.Stamp()
	if !stamp.Supersedes(s.lastCommand) {
		zlog.Debug().Msgf("coordinator: dropped %s from %s: superseded", kind, env.ClientID)
		return
	}
	s.lastCommand = stamp

	now := s.clk.NowMillis()

	// The sender's own record arrives with its next position update; the
	// command only moves the local projection and the local player.
	switch kind {
	case protocol.KindPlay:
		if _, _, active := s.activeWaitLocked(); active {
			// No play while a wait point holds the group.
			return
		}
		if env.ClientID != s.selfID {
			if local, known := s.localProjectionLocked(now); known && cmd.Position-local > s.cfg.MaxPlaybackDrift {
				s.emitLocked(Action{Type: ActionCatchup, Position: cmd.Position})
			}
		}
		s.emitLocked(Action{Type: ActionPlay, Position: cmd.Position})
		s.setSelfLocked(playback.StatePlaying, cmd.Position, stamp)
	case protocol.KindPause:
		s.emitLocked(Action{Type: ActionPause, Position: cmd.Position})
		s.setSelfLocked(playback.StatePaused, cmd.Position, stamp)
	case protocol.KindSeekTo:
		s.emitLocked(Action{Type: ActionSeek, Position: cmd.Position})
		self := s.peers[s.selfID]
		st := self.State
		if st == playback.StateNone {
			st = playback.StatePaused
		}
		s.setSelfLocked(st, cmd.Position, stamp)
		s.lastLocalPos = cmd.Position
	}
}

// ApplySetTrack ingests a setTrack event.
func (s *State) ApplySetTrack(env protocol.Envelope, p protocol.SetTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waitPoints := p.WaitPoints
	if len(waitPoints) == 0 {
		waitPoints = p.Metadata.StaticWaitPoints()
	}

	changed, accepted := s.track.SetCurrent(p.Metadata, waitPoints, env.Stamp())
	if !accepted {
		zlog.Debug().Msgf("coordinator: dropped setTrack from %s: superseded", env.ClientID)
		return
	}
	if !changed {
		return
	}

	// Track data belongs to the departing track unless a newer
	// setTrackData has already been folded in.
	if env.Stamp().Supersedes(s.trackDataStamp) {
		s.trackData = nil
		s.trackDataStamp = env.Stamp()
	}
	s.waiting = false
	s.waitingIdx = -1
	s.lastLocalPos = 0
	for id, r := range s.peers {
		if !r.Track.Equal(p.Metadata) {
			delete(s.peers, id)
		}
	}

	if !s.suspended {
		s.emitLocked(Action{Type: ActionLoadTrack, Metadata: p.Metadata})
		s.emitLocked(Action{Type: ActionPause, Position: 0})
	}
}

// ApplySetTrackData ingests a setTrackData event. Last writer wins.
func (s *State) ApplySetTrackData(env protocol.Envelope, p protocol.SetTrackData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !env.Stamp().Supersedes(s.trackDataStamp) {
		return
	}
	s.trackData = p.Data
	s.trackDataStamp = env.Stamp()

	if !s.suspended {
		s.emitLocked(Action{Type: ActionTrackData, Data: p.Data})
	}
}

// ApplyPositionUpdate ingests a peer's position report.
func (s *State) ApplyPositionUpdate(env protocol.Envelope, p protocol.PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := playback.Parse(p.PlaybackState)
	if !ok {
		zlog.Warn().Msgf("coordinator: dropped positionUpdate from %s: unknown state %q", env.ClientID, p.PlaybackState)
		return
	}

	stamp := env.Stamp()

	if !s.track.Loaded() {
		if p.Track == nil {
			return
		}
		// Late joiner: adopt the track carried by the first report.
		changed, accepted := s.track.SetCurrent(p.Track, p.Track.StaticWaitPoints(), stamp)
		if accepted && changed && !s.suspended {
			s.emitLocked(Action{Type: ActionLoadTrack, Metadata: p.Track})
			s.emitLocked(Action{Type: ActionPause, Position: 0})
		}
	} else if !s.track.Metadata().Equal(p.Track) {
		// Report against another track; the peer has not converged yet.
		return
	}

	if p.WaitPoint != nil {
		s.track.AddDynamic(*p.WaitPoint)
	}

	rate := p.PlaybackRate
	if rate == 0 {
		rate = 1
	}
	s.upsertLocked(env.ClientID, Record{
		State:        st,
		Track:        p.Track,
		Position:     p.Position,
		PlaybackRate: rate,
		Stamp:        stamp,
	})

	if p.TrackData != nil && stamp.Supersedes(s.trackDataStamp) {
		s.trackData = p.TrackData
		s.trackDataStamp = stamp
		if !s.suspended {
			s.emitLocked(Action{Type: ActionTrackData, Data: p.TrackData})
		}
	}

	s.recomputeLocked(s.clk.NowMillis())
}

// PeerGone reaps a disconnected peer's record. A wait point held open by
// the departed peer may release as a result.
func (s *State) PeerGone(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[clientID]; !ok {
		return
	}
	delete(s.peers, clientID)
	s.recomputeLocked(s.clk.NowMillis())
}

// UpdateLocal folds a local player sample into the group state and returns
// the position update to broadcast. ok is false when no track is loaded or
// the connection id is not yet known.
func (s *State) UpdateLocal(ps player.State) (protocol.PositionUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selfID == "" || !s.track.Loaded() {
		return protocol.PositionUpdate{}, false
	}

	now := s.clk.NowMillis()
	st := ps.Playback.Shareable()
	pos := ps.ProjectedPosition(now)
	rate := 1.0
	if ps.Position != nil && ps.Position.PlaybackRate != 0 {
		rate = ps.Position.PlaybackRate
	}

	if s.waiting {
		if wp, held := s.heldWaitPointLocked(); held {
			st = playback.StateWaiting
			pos = wp.Position
		} else {
			s.waiting = false
			s.waitingIdx = -1
		}
	} else if !s.suspended && st.Advancing() {
		// Wait point crossing since the last sample.
		if wp, idx, ok := s.track.NextWaitPoint(s.lastLocalPos); ok && pos >= wp.Position-positionTolerance {
			s.enterWaitingLocked(idx, wp, pos)
			st = playback.StateWaiting
			pos = wp.Position
		}
	}

	s.upsertLocked(s.selfID, Record{
		State:        st,
		Track:        s.track.Metadata(),
		Position:     pos,
		PlaybackRate: rate,
		Stamp:        protocol.Stamp{Timestamp: now, SenderID: s.selfID},
	})
	s.lastLocalPos = pos

	s.recomputeLocked(now)

	update := protocol.PositionUpdate{
		PlaybackState: s.peers[s.selfID].State.String(),
		Track:         s.track.Metadata(),
		Position:      s.peers[s.selfID].Position,
		PlaybackRate:  rate,
		TrackData:     s.trackData,
		WaitPoint:     s.pendingAnnounce,
	}
	s.pendingAnnounce = nil
	return update, true
}

// enterWaitingLocked holds the local player at a wait point.
func (s *State) enterWaitingLocked(idx int, wp track.WaitPoint, localPos float64) {
	s.waiting = true
	s.waitingIdx = idx
	if localPos > wp.Position+positionTolerance {
		s.emitLocked(Action{Type: ActionSeek, Position: wp.Position})
	}
	s.emitLocked(Action{Type: ActionPause, Position: wp.Position})
}

// heldWaitPointLocked returns the wait point the local peer is holding at.
func (s *State) heldWaitPointLocked() (track.WaitPoint, bool) {
	if s.waitingIdx < 0 {
		return track.WaitPoint{}, false
	}
	points := s.track.points()
	if s.waitingIdx >= len(points) || s.track.Consumed(s.waitingIdx) {
		return track.WaitPoint{}, false
	}
	return points[s.waitingIdx], true
}

// activeWaitLocked returns the lowest unconsumed wait point some peer
// (including the local one) is holding at.
func (s *State) activeWaitLocked() (track.WaitPoint, int, bool) {
	var (
		best    track.WaitPoint
		bestIdx = -1
	)
	consider := func(wp track.WaitPoint, idx int) {
		if bestIdx < 0 || wp.Position < best.Position {
			best = wp
			bestIdx = idx
		}
	}
	if wp, held := s.heldWaitPointLocked(); held {
		consider(wp, s.waitingIdx)
	}
	for _, r := range s.peers {
		if !r.Waiting() {
			continue
		}
		for idx, wp := range s.track.points() {
			if s.track.Consumed(idx) {
				continue
			}
			if diff := r.Position - wp.Position; diff >= -positionTolerance && diff <= positionTolerance {
				consider(wp, idx)
			}
		}
	}
	return best, bestIdx, bestIdx >= 0
}

// recomputeLocked re-derives the authoritative group state and emits the
// resulting local action, if any.
func (s *State) recomputeLocked(now int64) {
	if wp, idx, active := s.activeWaitLocked(); active {
		s.reconcileWaitLocked(now, wp, idx)
		return
	}

	if s.suspended {
		return
	}

	// Deferred seek from a suspension that ended while the group waited.
	if s.pendingResumeSeek != nil && !s.waiting {
		pos := *s.pendingResumeSeek
		s.pendingResumeSeek = nil
		s.emitLocked(Action{Type: ActionSeek, Position: pos})
		s.lastLocalPos = pos
	}

	if !s.majorityAdvancingLocked() {
		return
	}

	self, known := s.peers[s.selfID]
	if known && !self.State.Advancing() && self.State != playback.StateEnded {
		pos, ok := s.groupPositionLocked(now)
		if !ok {
			return
		}
		s.emitLocked(Action{Type: ActionPlay, Position: pos})
		s.setSelfLocked(playback.StatePlaying, pos, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
		return
	}

	s.checkDriftLocked(now)
}

// reconcileWaitLocked applies wait point semantics: the group is paused
// while the point holds, and releases once all online peers, or
// max_clients of them, have reached it.
func (s *State) reconcileWaitLocked(now int64, wp track.WaitPoint, idx int) {
	total := len(s.peers)
	if total == 0 {
		return
	}

	reached := 0
	for _, r := range s.peers {
		if r.ProjectAt(now) >= wp.Position-positionTolerance {
			reached++
		}
	}

	need := total
	if wp.MaxClients > 0 && wp.MaxClients < total {
		need = wp.MaxClients
	}

	if reached >= need {
		s.track.Consume(idx)
		wasWaiting := s.waiting
		s.waiting = false
		s.waitingIdx = -1
		if s.suspended {
			return
		}
		if s.pendingResumeSeek != nil {
			pos := *s.pendingResumeSeek
			s.pendingResumeSeek = nil
			s.emitLocked(Action{Type: ActionSeek, Position: pos})
			s.lastLocalPos = pos
			return
		}
		s.emitLocked(Action{Type: ActionPlay, Position: wp.Position})
		s.setSelfLocked(playback.StatePlaying, wp.Position, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
		if wasWaiting {
			s.lastLocalPos = wp.Position
		}
		return
	}

	if s.suspended || s.waiting {
		return
	}

	// Hold the local player if it has reached (or passed) the point.
	if local, known := s.localProjectionLocked(now); known && local >= wp.Position-positionTolerance {
		s.enterWaitingLocked(idx, wp, local)
		s.setSelfLocked(playback.StateWaiting, wp.Position, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
		s.lastLocalPos = wp.Position
	}
}

// checkDriftLocked emits a catchup when the local projection has drifted
// from the median of the playing peers beyond the configured bound.
func (s *State) checkDriftLocked(now int64) {
	self, known := s.peers[s.selfID]
	if !known || !self.State.Advancing() {
		return
	}

	projections := make([]float64, 0, len(s.peers))
	for id, r := range s.peers {
		if id == s.selfID || !r.State.Advancing() {
			continue
		}
		projections = append(projections, r.ProjectAt(now))
	}
	if len(projections) == 0 {
		return
	}

	local := self.ProjectAt(now)
	projected := median(projections)
	diff := projected - local
	if diff < 0 {
		diff = -diff
	}
	if diff <= s.cfg.MaxPlaybackDrift {
		return
	}

	// Debounce: at most one catchup per update interval.
	if now-s.lastCatchupAt < s.cfg.PositionUpdateInterval.Milliseconds() {
		return
	}
	s.lastCatchupAt = now

	s.emitLocked(Action{Type: ActionCatchup, Position: projected})
	s.setSelfLocked(playback.StatePlaying, projected, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
	s.lastLocalPos = projected
}

// majorityAdvancingLocked reports whether the majority of peer records are
// in a playing state.
func (s *State) majorityAdvancingLocked() bool {
	advancing := 0
	for _, r := range s.peers {
		if r.State.Advancing() {
			advancing++
		}
	}
	return advancing*2 > len(s.peers)
}

// groupPositionLocked estimates the group's current position: the median
// of the playing peers' projections, falling back to the most recent
// record.
func (s *State) groupPositionLocked(now int64) (float64, bool) {
	projections := make([]float64, 0, len(s.peers))
	for id, r := range s.peers {
		if id == s.selfID || !r.State.Advancing() {
			continue
		}
		projections = append(projections, r.ProjectAt(now))
	}
	if len(projections) > 0 {
		return median(projections), true
	}

	var (
		latest Record
		found  bool
	)
	for id, r := range s.peers {
		if id == s.selfID {
			continue
		}
		if !found || r.Stamp.Supersedes(latest.Stamp) {
			latest = r
			found = true
		}
	}
	if found {
		return latest.ProjectAt(now), true
	}
	if self, ok := s.peers[s.selfID]; ok {
		return self.ProjectAt(now), true
	}
	return 0, false
}

// localProjectionLocked projects the local peer's position at now.
func (s *State) localProjectionLocked(now int64) (float64, bool) {
	r, ok := s.peers[s.selfID]
	if !ok {
		return 0, false
	}
	return r.ProjectAt(now), true
}

// upsertLocked applies a peer record, latest (timestamp, sender_id) wins.
// Replays and reordered deliveries of older reports are no-ops.
func (s *State) upsertLocked(id string, rec Record) {
	if existing, ok := s.peers[id]; ok && !rec.Stamp.Supersedes(existing.Stamp) {
		return
	}
	s.peers[id] = rec
}

// setSelfLocked updates the local peer record.
func (s *State) setSelfLocked(st playback.State, pos float64, stamp protocol.Stamp) {
	if s.selfID == "" {
		return
	}
	rate := s.rateLocked(s.selfID)
	s.peers[s.selfID] = Record{
		State:        st,
		Track:        s.track.Metadata(),
		Position:     pos,
		PlaybackRate: rate,
		Stamp:        stamp,
	}
}

// rateLocked returns the peer's last known playback rate, defaulting to 1.
func (s *State) rateLocked(id string) float64 {
	if r, ok := s.peers[id]; ok && r.PlaybackRate != 0 {
		return r.PlaybackRate
	}
	return 1
}

// emitLocked queues a local action without blocking. Suspended peers never
// receive actions.
func (s *State) emitLocked(a Action) {
	if s.suspended {
		return
	}
	select {
	case <-s.closed:
	case s.actionCh <- a:
	default:
		zlog.Warn().Msgf("coordinator: action channel full, dropped %s", a.Type)
	}
}

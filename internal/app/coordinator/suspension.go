package coordinator

import (
	"github.com/osa030/syncroom/internal/app/player"
	"github.com/osa030/syncroom/internal/domain/playback"
	"github.com/osa030/syncroom/internal/domain/track"
	"github.com/osa030/syncroom/internal/protocol"
)

// Suspend detaches the local peer from group synchronization. No local
// actions are emitted until Resume. The peer keeps broadcasting position
// updates; a supplied wait point is merged locally and attached to the
// next broadcast as a dynamic wait point.
func (s *State) Suspend(wp *track.WaitPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suspended = true
	if wp != nil && s.track.Loaded() {
		s.track.AddDynamic(*wp)
		s.pendingAnnounce = wp
	}
}

// Resume reattaches the local peer and reconciles it with the
// authoritative group state in one pass: set the track if it changed, set
// the position, then play or pause. A resume position, when supplied, is
// seeked to once the group is neither suspended nor waiting.
func (s *State) Resume(ps player.State, resumePosition *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suspended = false
	now := s.clk.NowMillis()

	s.syncLocalLocked(ps, now)

	if resumePosition != nil {
		if _, _, active := s.activeWaitLocked(); active {
			s.pendingResumeSeek = resumePosition
		} else {
			s.emitLocked(Action{Type: ActionSeek, Position: *resumePosition})
			s.lastLocalPos = *resumePosition
			self := s.peers[s.selfID]
			st := self.State
			if st == playback.StateNone {
				st = playback.StatePaused
			}
			s.setSelfLocked(st, *resumePosition, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
		}
	}
}

// SyncLocal re-applies the latest authoritative group state to the local
// player. Also invoked after a rejected seek so the player does not drift
// out of sync due to the failed command.
func (s *State) SyncLocal(ps player.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocalLocked(ps, s.clk.NowMillis())
}

func (s *State) syncLocalLocked(ps player.State, now int64) {
	if s.suspended {
		return
	}
	if !s.track.Loaded() {
		if ps.Metadata != nil {
			s.emitLocked(Action{Type: ActionLoadTrack, Metadata: nil})
		}
		return
	}

	if !ps.Metadata.Equal(s.track.Metadata()) {
		s.emitLocked(Action{Type: ActionLoadTrack, Metadata: s.track.Metadata()})
	}
	if s.trackData != nil {
		s.emitLocked(Action{Type: ActionTrackData, Data: s.trackData})
	}

	pos, known := s.groupPositionLocked(now)
	if !known {
		pos = ps.ProjectedPosition(now)
	}
	s.emitLocked(Action{Type: ActionSeek, Position: pos})
	s.lastLocalPos = pos

	// The local record is stale after a suspension; follow the remotes.
	remotes, advancing := 0, 0
	for id, r := range s.peers {
		if id == s.selfID {
			continue
		}
		remotes++
		if r.State.Advancing() {
			advancing++
		}
	}
	playing := advancing*2 > remotes
	if remotes == 0 {
		playing = ps.Playback.Advancing()
	}

	_, _, holding := s.activeWaitLocked()
	if !holding && playing {
		s.emitLocked(Action{Type: ActionPlay, Position: pos})
		s.setSelfLocked(playback.StatePlaying, pos, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
	} else {
		s.emitLocked(Action{Type: ActionPause, Position: pos})
		s.setSelfLocked(playback.StatePaused, pos, protocol.Stamp{Timestamp: now, SenderID: s.selfID})
	}
}

// Package session provides the public coordinator surface: the facade the
// application drives, the position-update ticker and the suspension
// lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/syncroom/internal/app/channel"
	"github.com/osa030/syncroom/internal/app/coordinator"
	"github.com/osa030/syncroom/internal/app/player"
	"github.com/osa030/syncroom/internal/app/roles"
	"github.com/osa030/syncroom/internal/domain/track"
	"github.com/osa030/syncroom/internal/infra/clock"
	"github.com/osa030/syncroom/internal/protocol"
)

// Errors
var (
	ErrNotInitialized = errors.New("session not initialized")
	ErrNoTrack        = errors.New("no track loaded")
	ErrBlocked        = errors.New("operation blocked by policy")
)

// Policy holds the advisory capability flags. They gate the facade only;
// the role gate remains the authoritative filter.
type Policy struct {
	CanPlayPause    bool
	CanSeek         bool
	CanSetTrack     bool
	CanSetTrackData bool
}

// AllowAll returns a policy permitting every operation.
func AllowAll() Policy {
	return Policy{CanPlayPause: true, CanSeek: true, CanSetTrack: true, CanSetTrackData: true}
}

// Session is the public entry point of the coordinator.
type Session struct {
	mu sync.Mutex

	cfg    coordinator.Config
	policy Policy
	clk    clock.Clock
	ch     *channel.Channel
	gate   *roles.Gate
	group  *coordinator.State
	player player.Player

	initialized bool
	done        chan struct{}
	closeOnce   sync.Once
}

// New creates a session. Initialize must be called before use.
func New(ch *channel.Channel, gate *roles.Gate, clk clock.Clock, p player.Player, cfg coordinator.Config, policy Policy) *Session {
	return &Session{
		cfg:    cfg,
		policy: policy,
		clk:    clk,
		ch:     ch,
		gate:   gate,
		group:  coordinator.New(clk, cfg),
		player: p,
		done:   make(chan struct{}),
	}
}

// Initialize binds the event handlers, announces the local peer once the
// connection id is known and starts the position-update ticker. Calling it
// twice is a no-op.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	s.ch.Bind(channel.Handlers{
		OnPlay: func(env protocol.Envelope, cmd protocol.Command) {
			s.group.ApplyCommand(protocol.KindPlay, env, cmd)
		},
		OnPause: func(env protocol.Envelope, cmd protocol.Command) {
			s.group.ApplyCommand(protocol.KindPause, env, cmd)
		},
		OnSeekTo: func(env protocol.Envelope, cmd protocol.Command) {
			s.group.ApplyCommand(protocol.KindSeekTo, env, cmd)
		},
		OnSetTrack:       s.group.ApplySetTrack,
		OnSetTrackData:   s.group.ApplySetTrackData,
		OnPositionUpdate: s.group.ApplyPositionUpdate,
		OnJoined: func(env protocol.Envelope) {
			if env.ClientID == s.ch.ClientID() {
				return
			}
			// Re-broadcast so the newcomer learns current state.
			s.broadcastPosition(context.Background())
		},
		OnPeerGone: s.group.PeerGone,
	})

	go s.pumpActions()
	go s.run()

	s.initialized = true
	return nil
}

// Close stops the ticker and the action pump. In-flight sends complete.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.group.Close()
	})
}

// run waits for the first connection id, announces the peer and drives the
// position-update ticker.
func (s *Session) run() {
	select {
	case <-s.done:
		return
	case <-s.ch.Ready():
	}

	s.group.SetSelfID(s.ch.ClientID())

	if err := s.ch.Send(context.Background(), protocol.KindJoined, protocol.Joined{}); err != nil {
		zlog.Warn().Msgf("session: join announcement failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.PositionUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.broadcastPosition(context.Background())
		}
	}
}

// pumpActions dispatches coordinator actions to the player binding.
func (s *Session) pumpActions() {
	for {
		select {
		case <-s.done:
			return
		case a := <-s.group.Actions():
			s.dispatch(a)
		}
	}
}

func (s *Session) dispatch(a coordinator.Action) {
	switch a.Type {
	case coordinator.ActionPlay:
		s.player.OnPlay(a.Position)
	case coordinator.ActionPause:
		s.player.OnPause(a.Position)
	case coordinator.ActionSeek:
		s.player.OnSeek(a.Position)
	case coordinator.ActionCatchup:
		s.player.OnCatchup(a.Position)
	case coordinator.ActionLoadTrack:
		s.player.OnLoadTrack(a.Metadata)
	case coordinator.ActionTrackData:
		s.player.OnTrackData(a.Data)
	}
}

// broadcastPosition samples the player, folds the sample into the group
// state and broadcasts the resulting position update. When the role gate
// denies the send the local record is still updated, keeping the
// coordinator self-consistent, but no event goes out.
func (s *Session) broadcastPosition(ctx context.Context) {
	update, ok := s.group.UpdateLocal(s.player.State())
	if !ok {
		return
	}

	allowed, err := s.gate.Verify(ctx, s.ch.ClientID())
	if err != nil {
		zlog.Warn().Msgf("session: role check failed: %v", err)
		return
	}
	if !allowed {
		return
	}

	if err := s.ch.Send(ctx, protocol.KindPositionUpdate, update); err != nil {
		zlog.Warn().Msgf("session: position update failed: %v", err)
	}
}

// Play broadcasts a play command at the projected local position.
func (s *Session) Play(ctx context.Context) error {
	return s.sendCommand(ctx, protocol.KindPlay, s.policy.CanPlayPause, nil)
}

// Pause broadcasts a pause command at the projected local position.
func (s *Session) Pause(ctx context.Context) error {
	return s.sendCommand(ctx, protocol.KindPause, s.policy.CanPlayPause, nil)
}

// SeekTo broadcasts a seek command. A rejected seek triggers an automatic
// local re-sync before the error is returned.
func (s *Session) SeekTo(ctx context.Context, position float64) error {
	err := s.sendCommand(ctx, protocol.KindSeekTo, s.policy.CanSeek, &position)
	if err != nil {
		s.group.SyncLocal(s.player.State())
	}
	return err
}

func (s *Session) sendCommand(ctx context.Context, kind protocol.Kind, allowed bool, position *float64) error {
	if !s.IsInitialized() {
		return errors.Wrapf(ErrNotInitialized, "%s", kind)
	}
	current := s.group.CurrentTrack()
	if current == nil {
		return errors.Wrapf(ErrNoTrack, "%s", kind)
	}
	if !allowed {
		return errors.Wrapf(ErrBlocked, "%s", kind)
	}
	if err := s.gate.Require(ctx, s.ch.ClientID()); err != nil {
		return err
	}

	pos := s.player.State().ProjectedPosition(s.clk.NowMillis())
	if position != nil {
		pos = *position
	}

	return s.ch.Send(ctx, kind, protocol.Command{Track: current, Position: pos})
}

// SetTrack broadcasts a track change. Nil metadata unloads the track.
// Explicit wait points override the ones declared in the metadata.
func (s *Session) SetTrack(ctx context.Context, metadata track.Metadata, waitPoints []track.WaitPoint) error {
	if !s.IsInitialized() {
		return errors.Wrap(ErrNotInitialized, "setTrack")
	}
	if !s.policy.CanSetTrack {
		return errors.Wrap(ErrBlocked, "setTrack")
	}
	if err := s.gate.Require(ctx, s.ch.ClientID()); err != nil {
		return err
	}
	if len(waitPoints) == 0 {
		waitPoints = metadata.StaticWaitPoints()
	}
	return s.ch.Send(ctx, protocol.KindSetTrack, protocol.SetTrack{Metadata: metadata, WaitPoints: waitPoints})
}

// SetTrackData broadcasts replacement track data for the current track.
func (s *Session) SetTrackData(ctx context.Context, data map[string]any) error {
	if !s.IsInitialized() {
		return errors.Wrap(ErrNotInitialized, "setTrackData")
	}
	if s.group.CurrentTrack() == nil {
		return errors.Wrap(ErrNoTrack, "setTrackData")
	}
	if !s.policy.CanSetTrackData {
		return errors.Wrap(ErrBlocked, "setTrackData")
	}
	if err := s.gate.Require(ctx, s.ch.ClientID()); err != nil {
		return err
	}
	return s.ch.Send(ctx, protocol.KindSetTrackData, protocol.SetTrackData{Data: data})
}

// BeginSuspension detaches the local player from the group. The optional
// wait point is announced to the group as a dynamic wait point.
func (s *Session) BeginSuspension(ctx context.Context, wp *track.WaitPoint) (*Suspension, error) {
	if !s.IsInitialized() {
		return nil, errors.Wrap(ErrNotInitialized, "beginSuspension")
	}

	s.group.Suspend(wp)
	if wp != nil {
		// Announce promptly instead of waiting for the next tick.
		s.broadcastPosition(ctx)
	}
	return &Suspension{session: s}, nil
}

// Suspension is the handle returned by BeginSuspension.
type Suspension struct {
	session *Session
	once    sync.Once
}

// End clears the local suspension and reconciles the player with the
// group. When resumePosition is supplied, the player seeks there once the
// group is neither suspended nor waiting.
func (sp *Suspension) End(ctx context.Context, resumePosition *float64) error {
	sp.once.Do(func() {
		sp.session.group.Resume(sp.session.player.State(), resumePosition)
		sp.session.broadcastPosition(ctx)
	})
	return nil
}

// IsInitialized reports whether Initialize has run.
func (s *Session) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// IsSuspended reports whether the local peer is suspended.
func (s *Session) IsSuspended() bool {
	return s.group.IsSuspended()
}

// MaxPlaybackDrift returns the configured drift bound in seconds.
func (s *Session) MaxPlaybackDrift() float64 {
	return s.cfg.MaxPlaybackDrift
}

// PositionUpdateInterval returns the position broadcast cadence.
func (s *Session) PositionUpdateInterval() time.Duration {
	return s.cfg.PositionUpdateInterval
}

// CanPlayPause reports the advisory play/pause flag.
func (s *Session) CanPlayPause() bool { return s.policy.CanPlayPause }

// CanSeek reports the advisory seek flag.
func (s *Session) CanSeek() bool { return s.policy.CanSeek }

// CanSetTrack reports the advisory track-change flag.
func (s *Session) CanSetTrack() bool { return s.policy.CanSetTrack }

// CanSetTrackData reports the advisory track-data flag.
func (s *Session) CanSetTrackData() bool { return s.policy.CanSetTrackData }

// Group exposes the coordinator state machine.
func (s *Session) Group() *coordinator.State {
	return s.group
}

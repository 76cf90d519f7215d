package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/syncroom/internal/app/channel"
	"github.com/osa030/syncroom/internal/app/coordinator"
	"github.com/osa030/syncroom/internal/app/player"
	"github.com/osa030/syncroom/internal/app/roles"
	"github.com/osa030/syncroom/internal/domain/playback"
	"github.com/osa030/syncroom/internal/domain/track"
	"github.com/osa030/syncroom/internal/infra/clock"
	infraroles "github.com/osa030/syncroom/internal/infra/roles"
	"github.com/osa030/syncroom/internal/infra/transport"
)

// fakePlayer records the actions the coordinator drives it with.
type fakePlayer struct {
	mu    sync.Mutex
	state player.State

	plays    []float64
	pauses   []float64
	seeks    []float64
	catchups []float64
	loads    []track.Metadata
}

func (p *fakePlayer) State() player.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) setState(st player.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = st
}

func (p *fakePlayer) OnPlay(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, pos)
}

func (p *fakePlayer) OnPause(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, pos)
}

func (p *fakePlayer) OnSeek(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, pos)
}

func (p *fakePlayer) OnCatchup(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catchups = append(p.catchups, pos)
}

func (p *fakePlayer) OnLoadTrack(meta track.Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, meta)
}

func (p *fakePlayer) OnTrackData(map[string]any) {}

func (p *fakePlayer) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loads)
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

type testPeer struct {
	session *Session
	player  *fakePlayer
	conn    *transport.LoopbackConn
}

func newTestPeer(t *testing.T, bus *transport.Loopback, clk clock.Clock, svc roles.Service, allowed []string, policy Policy) *testPeer {
	t.Helper()

	conn := bus.Connect()
	gate := roles.NewGate(svc, allowed)
	ch := channel.New(conn, clk, gate)
	p := &fakePlayer{state: player.State{Playback: playback.StateNone}}

	cfg := coordinator.DefaultConfig()
	cfg.PositionUpdateInterval = 25 * time.Millisecond

	s := New(ch, gate, clk, p, cfg, policy)
	t.Cleanup(s.Close)
	return &testPeer{session: s, player: p, conn: conn}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSession_NotInitialized(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	peer := newTestPeer(t, bus, clk, infraroles.NewStatic(), nil, AllowAll())

	err := peer.session.Play(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInitialized))

	_, err = peer.session.BeginSuspension(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrNotInitialized))

	assert.False(t, peer.session.IsInitialized())
}

func TestSession_NoTrack(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	peer := newTestPeer(t, bus, clk, infraroles.NewStatic(), nil, AllowAll())

	require.NoError(t, peer.session.Initialize(context.Background()))
	assert.True(t, peer.session.IsInitialized())

	err := peer.session.Play(context.Background())
	assert.True(t, errors.Is(err, ErrNoTrack))

	err = peer.session.SetTrackData(context.Background(), map[string]any{"x": 1})
	assert.True(t, errors.Is(err, ErrNoTrack))
}

func TestSession_Blocked(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	policy := Policy{CanSetTrack: true} // play/pause/seek blocked
	peer := newTestPeer(t, bus, clk, infraroles.NewStatic(), nil, policy)

	require.NoError(t, peer.session.Initialize(context.Background()))

	meta := track.Metadata{"track_identity": "t1"}
	require.NoError(t, peer.session.SetTrack(context.Background(), meta, nil))
	waitFor(t, func() bool { return peer.session.Group().CurrentTrack() != nil })

	err := peer.session.Play(context.Background())
	assert.True(t, errors.Is(err, ErrBlocked))
	err = peer.session.SeekTo(context.Background(), 5)
	assert.True(t, errors.Is(err, ErrBlocked))

	assert.True(t, peer.session.CanSetTrack())
	assert.False(t, peer.session.CanPlayPause())
	assert.False(t, peer.session.CanSeek())
	assert.False(t, peer.session.CanSetTrackData())
}

func TestSession_RoleDenied(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	svc := infraroles.NewStatic() // nobody holds any role
	peer := newTestPeer(t, bus, clk, svc, []string{"presenter"}, AllowAll())

	require.NoError(t, peer.session.Initialize(context.Background()))

	err := peer.session.SetTrack(context.Background(), track.Metadata{"track_identity": "t1"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, roles.ErrRoleDenied))
	assert.Nil(t, peer.session.Group().CurrentTrack(), "a denied send must not mutate state")
}

func TestSession_TwoPeersConverge(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	svc := infraroles.NewStatic()

	a := newTestPeer(t, bus, clk, svc, nil, AllowAll())
	b := newTestPeer(t, bus, clk, svc, nil, AllowAll())

	require.NoError(t, a.session.Initialize(context.Background()))
	require.NoError(t, b.session.Initialize(context.Background()))

	meta := track.Metadata{"track_identity": "T"}
	require.NoError(t, a.session.SetTrack(context.Background(), meta, nil))

	// Both coordinators load the track and pause at 0.
	waitFor(t, func() bool { return a.player.loadCount() == 1 && b.player.loadCount() == 1 })
	assert.True(t, meta.Equal(a.session.Group().CurrentTrack()))
	assert.True(t, meta.Equal(b.session.Group().CurrentTrack()))

	a.player.setState(player.State{
		Metadata: meta,
		Playback: playback.StatePaused,
		Position: &player.PositionState{Position: 0, PlaybackRate: 1, Timestamp: clk.NowMillis()},
	})
	b.player.setState(player.State{
		Metadata: meta,
		Playback: playback.StatePaused,
		Position: &player.PositionState{Position: 0, PlaybackRate: 1, Timestamp: clk.NowMillis()},
	})

	clk.Advance(1000)
	require.NoError(t, a.session.Play(context.Background()))

	waitFor(t, func() bool { return a.player.playCount() >= 1 && b.player.playCount() >= 1 })

	// Position tickers exchange records.
	clk.Advance(1000)
	waitFor(t, func() bool {
		recs := a.session.Group().PeerRecords()
		_, ok := recs[b.conn.ClientID()]
		return ok
	})
}

func TestSession_SuspensionLifecycle(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	peer := newTestPeer(t, bus, clk, infraroles.NewStatic(), nil, AllowAll())

	require.NoError(t, peer.session.Initialize(context.Background()))
	require.NoError(t, peer.session.SetTrack(context.Background(), track.Metadata{"track_identity": "T"}, nil))
	waitFor(t, func() bool { return peer.session.Group().CurrentTrack() != nil })

	assert.False(t, peer.session.IsSuspended())

	sus, err := peer.session.BeginSuspension(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, peer.session.IsSuspended())

	require.NoError(t, sus.End(context.Background(), nil))
	assert.False(t, peer.session.IsSuspended())

	// Ending twice is harmless.
	require.NoError(t, sus.End(context.Background(), nil))
}

func TestSession_Properties(t *testing.T) {
	clk := clock.NewManual(1000)
	bus := transport.NewLoopback(clk)
	peer := newTestPeer(t, bus, clk, infraroles.NewStatic(), nil, AllowAll())

	assert.Equal(t, 1.0, peer.session.MaxPlaybackDrift())
	assert.Equal(t, 25*time.Millisecond, peer.session.PositionUpdateInterval())
}

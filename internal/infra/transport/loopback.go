// Package transport provides broadcast transport implementations: an
// in-process loopback for tests and demos, and a websocket client plus
// relay hub for distributed sessions.
package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/osa030/syncroom/internal/infra/clock"
	"github.com/osa030/syncroom/internal/protocol"
)

// Loopback is an in-process broadcast bus wiring several connections in
// one process. Every published envelope is restamped with the shared
// reference clock and delivered to all connections, including the sender.
type Loopback struct {
	mu    sync.Mutex
	clk   clock.Clock
	conns map[string]*LoopbackConn
}

// NewLoopback creates a loopback bus using the given reference clock.
func NewLoopback(clk clock.Clock) *Loopback {
	return &Loopback{
		clk:   clk,
		conns: make(map[string]*LoopbackConn),
	}
}

// Connect attaches a new connection with a fresh connection id.
func (l *Loopback) Connect() *LoopbackConn {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := &LoopbackConn{
		bus:   l,
		id:    uuid.New().String(),
		ready: make(chan struct{}),
	}
	close(c.ready)
	l.conns[c.id] = c
	return c
}

// broadcast restamps and delivers an envelope to every connection.
func (l *Loopback) broadcast(env protocol.Envelope) {
	env.Timestamp = l.clk.NowMillis()

	l.mu.Lock()
	targets := make([]*LoopbackConn, 0, len(l.conns))
	for _, c := range l.conns {
		targets = append(targets, c)
	}
	l.mu.Unlock()

	for _, c := range targets {
		c.deliver(env)
	}
}

// disconnect removes a connection and signals its departure to the rest.
func (l *Loopback) disconnect(id string) {
	l.mu.Lock()
	delete(l.conns, id)
	targets := make([]*LoopbackConn, 0, len(l.conns))
	for _, c := range l.conns {
		targets = append(targets, c)
	}
	l.mu.Unlock()

	for _, c := range targets {
		c.deliverGone(id)
	}
}

// LoopbackConn is one participant's connection to the loopback bus.
// It implements channel.Transport.
type LoopbackConn struct {
	bus   *Loopback
	id    string
	ready chan struct{}

	mu       sync.Mutex
	receiver func(protocol.Envelope)
	peerGone func(string)
}

// Publish broadcasts an envelope to all connections on the bus.
func (c *LoopbackConn) Publish(_ context.Context, env protocol.Envelope) error {
	env.ClientID = c.id
	c.bus.broadcast(env)
	return nil
}

// SetReceiver registers the inbound envelope receiver.
func (c *LoopbackConn) SetReceiver(fn func(protocol.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = fn
}

// SetPeerGone registers the peer-departure receiver.
func (c *LoopbackConn) SetPeerGone(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerGone = fn
}

// ClientID returns the connection id.
func (c *LoopbackConn) ClientID() string {
	return c.id
}

// Ready is closed as soon as the connection exists.
func (c *LoopbackConn) Ready() <-chan struct{} {
	return c.ready
}

// Close detaches the connection from the bus.
func (c *LoopbackConn) Close() {
	c.bus.disconnect(c.id)
}

func (c *LoopbackConn) deliver(env protocol.Envelope) {
	c.mu.Lock()
	fn := c.receiver
	c.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

func (c *LoopbackConn) deliverGone(id string) {
	c.mu.Lock()
	fn := c.peerGone
	c.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

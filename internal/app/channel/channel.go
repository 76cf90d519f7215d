// Package channel provides typed publish/subscribe over the broadcast
// transport. Outgoing events are stamped with the sender id and reference
// time; inbound events are dispatched through the role gate into a closed
// set of handlers.
package channel

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/syncroom/internal/app/roles"
	"github.com/osa030/syncroom/internal/infra/clock"
	"github.com/osa030/syncroom/internal/protocol"
)

// ErrTransport indicates the underlying transport failed to send.
var ErrTransport = errors.New("transport send failed")

// Transport is the broadcast layer the channel runs over. The transport
// delivers published envelopes to every peer, including the sender, and
// signals peer departures.
type Transport interface {
	// Publish broadcasts an envelope to all peers.
	Publish(ctx context.Context, env protocol.Envelope) error
	// SetReceiver registers the single inbound envelope receiver.
	SetReceiver(fn func(protocol.Envelope))
	// SetPeerGone registers the peer-departure receiver.
	SetPeerGone(fn func(clientID string))
	// ClientID returns this peer's connection id, or "" if not yet known.
	ClientID() string
	// Ready is closed once the connection id is known.
	Ready() <-chan struct{}
}

// Handlers is the subscription table: one receiver per event kind.
// Nil entries drop the corresponding events.
type Handlers struct {
	OnPlay           func(protocol.Envelope, protocol.Command)
	OnPause          func(protocol.Envelope, protocol.Command)
	OnSeekTo         func(protocol.Envelope, protocol.Command)
	OnSetTrack       func(protocol.Envelope, protocol.SetTrack)
	OnSetTrackData   func(protocol.Envelope, protocol.SetTrackData)
	OnPositionUpdate func(protocol.Envelope, protocol.PositionUpdate)
	OnJoined         func(protocol.Envelope)
	OnPeerGone       func(clientID string)
}

// Channel stamps and sends outgoing events and routes inbound ones.
type Channel struct {
	transport Transport
	clk       clock.Clock
	gate      *roles.Gate
	handlers  Handlers
}

// New creates a channel over the given transport.
func New(transport Transport, clk clock.Clock, gate *roles.Gate) *Channel {
	return &Channel{
		transport: transport,
		clk:       clk,
		gate:      gate,
	}
}

// Bind registers the handlers and starts receiving. Only one bind is
// supported; later calls replace the table.
func (c *Channel) Bind(h Handlers) {
	c.handlers = h
	c.transport.SetReceiver(c.dispatch)
	c.transport.SetPeerGone(func(clientID string) {
		c.gate.Forget(clientID)
		if c.handlers.OnPeerGone != nil {
			c.handlers.OnPeerGone(clientID)
		}
	})
}

// ClientID returns this peer's connection id, or "" if not yet connected.
func (c *Channel) ClientID() string {
	return c.transport.ClientID()
}

// Ready is closed once the first connection id is known.
func (c *Channel) Ready() <-chan struct{} {
	return c.transport.Ready()
}

// Send stamps the payload with the sender id and current reference time
// and broadcasts it. Failures surface as ErrTransport.
func (c *Channel) Send(ctx context.Context, kind protocol.Kind, payload any) error {
	env, err := protocol.Encode(c.transport.ClientID(), c.clk.NowMillis(), kind, payload)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(ctx, env); err != nil {
		return errors.Wrapf(ErrTransport, "%s: %v", kind, err)
	}
	return nil
}

// dispatch routes one inbound envelope. Events failing the role check are
// dropped silently apart from the telemetry counter; malformed events are
// logged and dropped.
func (c *Channel) dispatch(env protocol.Envelope) {
	if env.Name.Restricted() {
		ok, err := c.gate.Verify(context.Background(), env.ClientID)
		if err != nil {
			zlog.Warn().Msgf("channel: role lookup failed for %s: %v", env.ClientID, err)
			return
		}
		if !ok {
			c.gate.CountDenied()
			zlog.Debug().Msgf("channel: dropped %s from %s: role denied", env.Name, env.ClientID)
			return
		}
	}

	switch env.Name {
	case protocol.KindPlay:
		dispatchPayload(env, c.handlers.OnPlay)
	case protocol.KindPause:
		dispatchPayload(env, c.handlers.OnPause)
	case protocol.KindSeekTo:
		dispatchPayload(env, c.handlers.OnSeekTo)
	case protocol.KindSetTrack:
		dispatchPayload(env, c.handlers.OnSetTrack)
	case protocol.KindSetTrackData:
		dispatchPayload(env, c.handlers.OnSetTrackData)
	case protocol.KindPositionUpdate:
		dispatchPayload(env, c.handlers.OnPositionUpdate)
	case protocol.KindJoined:
		if c.handlers.OnJoined != nil {
			c.handlers.OnJoined(env)
		}
	default:
		zlog.Debug().Msgf("channel: dropped unknown event %q from %s", env.Name, env.ClientID)
	}
}

// dispatchPayload decodes the envelope and invokes the handler.
// Receive errors never terminate the coordinator.
func dispatchPayload[T any](env protocol.Envelope, handler func(protocol.Envelope, T)) {
	if handler == nil {
		return
	}
	payload, err := protocol.Decode[T](env)
	if err != nil {
		zlog.Warn().Msgf("channel: %v", err)
		return
	}
	handler(env, payload)
}

package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/syncroom/internal/protocol"
)

const clientWriteWait = 5 * time.Second

// Websocket is the client side of the relay hub. It implements
// channel.Transport.
type Websocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	id       string
	receiver func(protocol.Envelope)
	peerGone func(string)

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// DialWebsocket connects to a relay hub.
func DialWebsocket(ctx context.Context, url string) (*Websocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	w := &Websocket{
		conn:  conn,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// Publish sends an envelope to the hub for fan-out. The hub restamps the
// sender id and reference time authoritatively.
func (w *Websocket) Publish(_ context.Context, env protocol.Envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	if err := w.conn.WriteJSON(frameFromEnvelope(env)); err != nil {
		return errors.Wrap(err, "websocket write")
	}
	return nil
}

// SetReceiver registers the inbound envelope receiver.
func (w *Websocket) SetReceiver(fn func(protocol.Envelope)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.receiver = fn
}

// SetPeerGone registers the peer-departure receiver.
func (w *Websocket) SetPeerGone(fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.peerGone = fn
}

// ClientID returns the hub-assigned connection id, "" until the hello
// frame arrives.
func (w *Websocket) ClientID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

// Ready is closed once the hub has assigned a connection id.
func (w *Websocket) Ready() <-chan struct{} {
	return w.ready
}

// Close tears the connection down.
func (w *Websocket) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
}

func (w *Websocket) readLoop() {
	defer w.Close()

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				zlog.Warn().Msgf("websocket: read failed: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			zlog.Warn().Msgf("websocket: dropped unreadable frame: %v", err)
			continue
		}

		switch f.Control {
		case controlHello:
			w.mu.Lock()
			w.id = f.ClientID
			w.mu.Unlock()
			w.readyOnce.Do(func() { close(w.ready) })
		case controlLeft:
			w.mu.Lock()
			fn := w.peerGone
			w.mu.Unlock()
			if fn != nil {
				fn(f.ClientID)
			}
		default:
			w.mu.Lock()
			fn := w.receiver
			w.mu.Unlock()
			if fn != nil {
				fn(f.envelope())
			}
		}
	}
}

// Package ws implements the event-stream transport over a WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/pkg/logger"
)

// Config holds WebSocket transport settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Token is the bearer credential, sent as a header and as the first
	// frame's auth payload.
	Token string

	// Time allowed to write a message to the peer.
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration

	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration

	// Wait between redial attempts after a drop.
	ReconnectWait time.Duration

	// Maximum message size allowed from peer.
	MaxMessageSize int64
}

// authPayload is the first frame sent after dialing.
type authPayload struct {
	Token string `json:"token"`
}

// Transport is a WebSocket-backed event-stream connection. It redials on
// drops until closed; consumers see drops and re-establishments as Status
// changes.
type Transport struct {
	cfg    Config
	logger *logger.Logger

	events   chan transport.Event
	statuses chan transport.Status
	send     chan []byte

	mu      sync.Mutex
	pending map[string]transport.AckFunc

	done      chan struct{}
	closeOnce sync.Once
}

var errClosed = errors.New("transport closed")

// New creates a WebSocket transport. Connect must be called before use.
func New(cfg Config, log *logger.Logger) *Transport {
	return &Transport{
		cfg:      cfg,
		logger:   log,
		events:   make(chan transport.Event, 64),
		statuses: make(chan transport.Status, 8),
		send:     make(chan []byte, 256),
		pending:  make(map[string]transport.AckFunc),
		done:     make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the connection loop. The first dial
// failure is returned; later drops are retried internally.
func (t *Transport) Connect(ctx context.Context) error {
	t.setStatus(transport.StatusConnecting)

	conn, err := t.dial(ctx)
	if err != nil {
		t.setStatus(transport.StatusDisconnected)
		return &model.ConnectionError{Err: err}
	}

	go t.run(conn)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("x-auth-token", t.cfg.Token)
	header.Set("Authorization", "Bearer "+t.cfg.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	// Credential also travels as the first frame's payload.
	auth, _ := json.Marshal(model.Envelope{
		Event: "auth",
		Data:  mustMarshal(authPayload{Token: t.cfg.Token}),
	})
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// run owns one connection at a time, redialing after drops until Close.
func (t *Transport) run(conn *websocket.Conn) {
	for {
		t.setStatus(transport.StatusConnected)

		readDone := make(chan struct{})
		go t.readPump(conn, readDone)
		t.writePump(conn, readDone)

		conn.Close()
		// readPump is the only events sender; wait it out so no send can
		// happen once run moves on. The channel itself is never closed.
		<-readDone
		t.failPending("connection lost")
		t.setStatus(transport.StatusDisconnected)

		select {
		case <-t.done:
			return
		case <-time.After(t.cfg.ReconnectWait):
		}

		t.setStatus(transport.StatusConnecting)
		var err error
		for {
			conn, err = t.dial(context.Background())
			if err == nil {
				break
			}
			t.logger.Warn("websocket redial failed", zap.Error(err))
			select {
			case <-t.done:
				return
			case <-time.After(t.cfg.ReconnectWait):
			}
		}
	}
}

// readPump pumps envelopes from the connection to the event channel.
func (t *Transport) readPump(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	conn.SetReadLimit(t.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.logger.Warn("unparseable frame dropped", zap.Error(err))
			continue
		}

		if env.Event == model.EventAck {
			t.resolveAck(env)
			continue
		}

		select {
		case t.events <- transport.Event{Name: env.Event, Data: env.Data}:
		case <-t.done:
			return
		}
	}
}

// writePump pumps queued frames to the connection and keeps the ping cycle.
// Returns when the read side ends or the transport closes.
func (t *Transport) writePump(conn *websocket.Conn, readDone chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-t.done:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Emit queues a named event for writing.
func (t *Transport) Emit(ctx context.Context, event model.EventKind, payload any) error {
	return t.enqueue(ctx, model.Envelope{Event: event, Data: mustMarshal(payload)})
}

// EmitWithAck queues a named event carrying a correlation id and registers
// the ack callback for the reply.
func (t *Transport) EmitWithAck(ctx context.Context, event model.EventKind, payload any, ack transport.AckFunc) error {
	ackID := uuid.New().String()

	t.mu.Lock()
	t.pending[ackID] = ack
	t.mu.Unlock()

	err := t.enqueue(ctx, model.Envelope{Event: event, Data: mustMarshal(payload), Ack: ackID})
	if err != nil {
		t.mu.Lock()
		delete(t.pending, ackID)
		t.mu.Unlock()
	}
	return err
}

func (t *Transport) enqueue(ctx context.Context, env model.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) resolveAck(env model.Envelope) {
	t.mu.Lock()
	ack, ok := t.pending[env.Ack]
	delete(t.pending, env.Ack)
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("ack for unknown correlation id", zap.String("ack", env.Ack))
		return
	}

	var payload model.AckPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		payload = model.AckPayload{Error: "unparseable ack payload"}
	}
	ack(payload)
}

// failPending resolves every outstanding ack with an error payload.
func (t *Transport) failPending(reason string) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]transport.AckFunc)
	t.mu.Unlock()

	for _, ack := range pending {
		ack(model.AckPayload{Error: reason})
	}
}

// Events returns the inbound event channel.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Statuses returns the connection state change channel.
func (t *Transport) Statuses() <-chan transport.Status {
	return t.statuses
}

// Close stops the connection loop and releases the connection. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.failPending("transport closed")
	})
	return nil
}

func (t *Transport) setStatus(s transport.Status) {
	select {
	case t.statuses <- s:
	case <-t.done:
	}
}

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

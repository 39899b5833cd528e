// Package natstrans implements the event-stream transport over NATS, for
// deployments where the chat backend bridges socket events onto subjects.
package natstrans

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/pkg/logger"
)

const (
	// inboundPrefix scopes server-pushed events; the event name is the last
	// subject token.
	inboundPrefix = "chat.in"

	// outboundPrefix scopes client-emitted events.
	outboundPrefix = "chat.out"
)

// Config holds NATS connection configuration.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// Transport is a NATS-backed event-stream connection. Reconnection is
// delegated to the NATS client's own policy.
type Transport struct {
	cfg    Config
	logger *logger.Logger

	conn *nats.Conn
	sub  *nats.Subscription

	events   chan transport.Event
	statuses chan transport.Status

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a NATS transport. Connect must be called before use.
func New(cfg Config, log *logger.Logger) *Transport {
	return &Transport{
		cfg:      cfg,
		logger:   log,
		events:   make(chan transport.Event, 64),
		statuses: make(chan transport.Status, 8),
		done:     make(chan struct{}),
	}
}

// Connect establishes the NATS connection and subscribes to inbound events.
func (t *Transport) Connect(ctx context.Context) error {
	t.setStatus(transport.StatusConnecting)

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Token(t.cfg.Token),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			t.logger.Warn("nats disconnected", zap.Error(err))
			t.setStatus(transport.StatusDisconnected)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			t.logger.Info("nats reconnected")
			t.setStatus(transport.StatusConnected)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			t.logger.Error("nats error", zap.Error(err))
		}),
	}

	if t.cfg.CAFile != "" && t.cfg.CertFile != "" && t.cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(t.cfg.CAFile, t.cfg.CertFile, t.cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	nc, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		t.setStatus(transport.StatusDisconnected)
		return &model.ConnectionError{Err: err}
	}

	sub, err := nc.Subscribe(inboundPrefix+".>", t.handleInbound)
	if err != nil {
		nc.Close()
		t.setStatus(transport.StatusDisconnected)
		return &model.ConnectionError{Err: fmt.Errorf("failed to subscribe: %w", err)}
	}

	t.mu.Lock()
	t.conn = nc
	t.sub = sub
	t.mu.Unlock()

	t.setStatus(transport.StatusConnected)
	return nil
}

func (t *Transport) handleInbound(msg *nats.Msg) {
	name := strings.TrimPrefix(msg.Subject, inboundPrefix+".")

	var env model.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.logger.Warn("unparseable inbound message dropped",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if env.Event == "" {
		env.Event = model.EventKind(name)
	}

	select {
	case t.events <- transport.Event{Name: env.Event, Data: env.Data}:
	case <-t.done:
	}
}

// Emit publishes a named event on its outbound subject.
func (t *Transport) Emit(ctx context.Context, event model.EventKind, payload any) error {
	t.mu.Lock()
	nc := t.conn
	t.mu.Unlock()
	if nc == nil {
		return &model.ConnectionError{Err: fmt.Errorf("not connected")}
	}

	data, err := json.Marshal(model.Envelope{Event: event, Data: marshalRaw(payload)})
	if err != nil {
		return err
	}
	return nc.Publish(fmt.Sprintf("%s.%s", outboundPrefix, event), data)
}

// EmitWithAck publishes a named event and waits for the reply on a request
// inbox, invoking ack from a separate goroutine.
func (t *Transport) EmitWithAck(ctx context.Context, event model.EventKind, payload any, ack transport.AckFunc) error {
	t.mu.Lock()
	nc := t.conn
	t.mu.Unlock()
	if nc == nil {
		return &model.ConnectionError{Err: fmt.Errorf("not connected")}
	}

	data, err := json.Marshal(model.Envelope{Event: event, Data: marshalRaw(payload)})
	if err != nil {
		return err
	}

	go func() {
		reply, err := nc.RequestWithContext(ctx, fmt.Sprintf("%s.%s", outboundPrefix, event), data)
		if err != nil {
			ack(model.AckPayload{Error: "no reply: " + err.Error()})
			return
		}
		var p model.AckPayload
		if err := json.Unmarshal(reply.Data, &p); err != nil {
			ack(model.AckPayload{Error: "unparseable ack payload"})
			return
		}
		ack(p)
	}()
	return nil
}

// Events returns the inbound event channel.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Statuses returns the connection state change channel.
func (t *Transport) Statuses() <-chan transport.Status {
	return t.statuses
}

// Close drains the subscription and closes the connection. Idempotent.
// The events channel is never closed: the subscription callback may still
// be in flight on the NATS client's goroutine, so it stays the only party
// allowed to touch the channel and late sends fall through on done.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.sub != nil {
			t.sub.Unsubscribe()
		}
		if t.conn != nil {
			t.conn.Close()
		}
		t.mu.Unlock()
	})
	return nil
}

func (t *Transport) setStatus(s transport.Status) {
	select {
	case t.statuses <- s:
	case <-t.done:
	}
}

func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

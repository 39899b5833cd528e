package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/store"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/pkg/logger"
	"github.com/fanloop/chatsync/pkg/metrics"
)

// Config holds the client's connection settings.
type Config struct {
	// Token is the bearer credential. Open refuses to dial without one.
	Token string
}

// StatusFunc observes connection state transitions.
type StatusFunc func(transport.Status)

// Client is the connection manager: it owns the single event-stream
// connection, runs the event loop that feeds the router, and exposes the
// command surface. All inbound events are applied one at a time, so the
// store sees no concurrent mutation.
type Client struct {
	cfg          Config
	newTransport func() transport.Transport
	store        *store.Store
	logger       *logger.Logger

	mu         sync.Mutex
	tp         transport.Transport
	dispatcher *Dispatcher
	stop       chan struct{}
	loopDone   chan struct{}
	opened     bool

	subMu      sync.Mutex
	statusSubs []StatusFunc
}

// New creates a client. newTransport is invoked on every Open so a closed
// client can be reopened with a fresh connection.
func New(cfg Config, newTransport func() transport.Transport, st *store.Store, log *logger.Logger) *Client {
	return &Client{
		cfg:          cfg,
		newTransport: newTransport,
		store:        st,
		logger:       log,
	}
}

// OnStatusChange registers a callback for connection state transitions.
// Callbacks run on the event loop and must not block.
func (c *Client) OnStatusChange(fn StatusFunc) {
	c.subMu.Lock()
	c.statusSubs = append(c.statusSubs, fn)
	c.subMu.Unlock()
}

// Open checks the credential, establishes the connection, and starts the
// event loop. Without a credential it fails before any network call.
func (c *Client) Open(ctx context.Context) error {
	if err := checkCredential(c.cfg.Token); err != nil {
		return err
	}

	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return fmt.Errorf("client already open")
	}

	tp := c.newTransport()
	c.tp = tp
	c.dispatcher = NewDispatcher(tp, c.store, c.logger)
	c.stop = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.opened = true
	c.mu.Unlock()

	router := NewRouter(c.store, c.logger)
	go c.loop(tp, router, c.stop, c.loopDone)

	if err := tp.Connect(ctx); err != nil {
		c.logger.Error("connection failed", zap.Error(err))
		c.teardown()
		return err
	}
	return nil
}

// loop is the single-threaded cooperative event loop. Everything that
// mutates the store on the inbound path runs here.
func (c *Client) loop(tp transport.Transport, router *Router, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-tp.Events():
			if !ok {
				return
			}
			router.Apply(ev)
		case status := <-tp.Statuses():
			c.handleStatus(status)
		case <-stop:
			return
		}
	}
}

func (c *Client) handleStatus(status transport.Status) {
	c.store.SetStatus(status)

	switch status {
	case transport.StatusConnected:
		metrics.SetConnected(true)
		metrics.ConnectsTotal.Inc()
		c.logger.Info("connected")
		// Re-sync the conversation list on every connect; server-side
		// subscriptions did not survive the drop.
		if err := c.FetchConversations(context.Background()); err != nil {
			c.logger.Warn("initial sync failed", zap.Error(err))
		}
		if active := c.store.ActiveConversation(); active != "" {
			if err := c.JoinConversation(context.Background(), active); err != nil {
				c.logger.Warn("rejoin failed", zap.Error(err))
			}
		}
	case transport.StatusDisconnected:
		metrics.SetConnected(false)
		metrics.DisconnectsTotal.Inc()
		c.logger.Info("disconnected")
	case transport.StatusConnecting:
		c.logger.Debug("connecting")
	}

	c.subMu.Lock()
	subs := make([]StatusFunc, len(c.statusSubs))
	copy(subs, c.statusSubs)
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(status)
	}
}

// Close releases the connection and returns the client to an unopened
// state. Safe to call multiple times or on a never-opened client.
func (c *Client) Close() error {
	c.teardown()
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return
	}
	tp := c.tp
	stop := c.stop
	done := c.loopDone
	c.opened = false
	c.tp = nil
	c.dispatcher = nil
	c.mu.Unlock()

	close(stop)
	tp.Close()
	<-done

	c.store.SetStatus(transport.StatusDisconnected)
	metrics.SetConnected(false)
}

// Store returns the local state store for read-only snapshot access.
func (c *Client) Store() *store.Store {
	return c.store
}

func (c *Client) currentDispatcher() (*Dispatcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil, &model.ConnectionError{Err: fmt.Errorf("client not open")}
	}
	return c.dispatcher, nil
}

// JoinConversation emits a join request for the conversation.
func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	d, err := c.currentDispatcher()
	if err != nil {
		return err
	}
	return d.JoinConversation(ctx, conversationID)
}

// SendMessage emits a send request; see Dispatcher.SendMessage.
func (c *Client) SendMessage(ctx context.Context, req SendRequest, callback SendCallback) error {
	d, err := c.currentDispatcher()
	if err != nil {
		return err
	}
	return d.SendMessage(ctx, req, callback)
}

// FetchConversations requests the conversation list snapshot.
func (c *Client) FetchConversations(ctx context.Context) error {
	d, err := c.currentDispatcher()
	if err != nil {
		return err
	}
	return d.FetchConversations(ctx)
}

// FetchMessages requests one message page; see Dispatcher.FetchMessages.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page, limit int) error {
	d, err := c.currentDispatcher()
	if err != nil {
		return err
	}
	return d.FetchMessages(ctx, conversationID, page, limit)
}

// MarkAsRead emits a mark-read request; see Dispatcher.MarkAsRead.
func (c *Client) MarkAsRead(ctx context.Context, conversationID string, messageIDs ...string) error {
	d, err := c.currentDispatcher()
	if err != nil {
		return err
	}
	return d.MarkAsRead(ctx, conversationID, messageIDs...)
}

// checkCredential rejects a missing or expired bearer token locally. An
// opaque (non-JWT) token is passed through for the server to judge.
func checkCredential(token string) error {
	if token == "" {
		return &model.AuthenticationError{Reason: "no credential available"}
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return &model.AuthenticationError{Reason: "credential expired"}
	}
	return nil
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/pkg/logger"
)

// wsServer is a single-connection test peer. Frames read from the client
// land on frames; writes go through push.
type wsServer struct {
	srv     *httptest.Server
	headers chan http.Header
	frames  chan model.Envelope
	conns   chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		headers: make(chan http.Header, 1),
		frames:  make(chan model.Envelope, 32),
		conns:   make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.headers <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env model.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			s.frames <- env
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) push(t *testing.T, env model.Envelope) {
	t.Helper()
	select {
	case conn := <-s.conns:
		s.conns <- conn
		data, _ := json.Marshal(env)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("server write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection to push on")
	}
}

func (s *wsServer) nextFrame(t *testing.T) model.Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return model.Envelope{}
	}
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		Token:          "test-token",
		WriteWait:      time.Second,
		PongWait:       2 * time.Second,
		PingPeriod:     100 * time.Millisecond,
		ReconnectWait:  50 * time.Millisecond,
		MaxMessageSize: 1 << 20,
	}
}

func TestDialSendsCredentialBothWays(t *testing.T) {
	srv := newWSServer(t)
	tp := New(testConfig(srv.url()), logger.NewNop())
	defer tp.Close()

	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	headers := <-srv.headers
	if headers.Get("x-auth-token") != "test-token" {
		t.Fatal("credential header missing")
	}
	if headers.Get("Authorization") != "Bearer test-token" {
		t.Fatal("bearer header missing")
	}

	auth := srv.nextFrame(t)
	if auth.Event != "auth" {
		t.Fatalf("first frame should be the auth payload, got %s", auth.Event)
	}
	var payload authPayload
	if err := json.Unmarshal(auth.Data, &payload); err != nil || payload.Token != "test-token" {
		t.Fatalf("auth payload should carry the token, got %s", string(auth.Data))
	}
}

func TestEmitReachesServer(t *testing.T) {
	srv := newWSServer(t)
	tp := New(testConfig(srv.url()), logger.NewNop())
	defer tp.Close()

	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.nextFrame(t) // auth

	if err := tp.Emit(context.Background(), model.EventJoin, "c1"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	frame := srv.nextFrame(t)
	if frame.Event != model.EventJoin {
		t.Fatalf("expected join frame, got %s", frame.Event)
	}
	var id string
	if err := json.Unmarshal(frame.Data, &id); err != nil || id != "c1" {
		t.Fatalf("join payload should be the id, got %s", string(frame.Data))
	}
}

func TestServerPushArrivesAsEvent(t *testing.T) {
	srv := newWSServer(t)
	tp := New(testConfig(srv.url()), logger.NewNop())
	defer tp.Close()

	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.nextFrame(t) // auth

	data, _ := json.Marshal(model.Message{ID: "m1", ConversationID: "c1"})
	srv.push(t, model.Envelope{Event: model.EventMessageReceived, Data: data})

	select {
	case ev := <-tp.Events():
		if ev.Name != model.EventMessageReceived {
			t.Fatalf("expected message_received, got %s", ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pushed event never surfaced")
	}
}

func TestEmitWithAckRoundTrip(t *testing.T) {
	srv := newWSServer(t)
	tp := New(testConfig(srv.url()), logger.NewNop())
	defer tp.Close()

	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.nextFrame(t) // auth

	got := make(chan model.AckPayload, 1)
	err := tp.EmitWithAck(context.Background(), model.EventSendMessage,
		model.SendMessagePayload{ConversationID: "c1", Content: "hi", Type: model.MessageText},
		func(p model.AckPayload) { got <- p })
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	frame := srv.nextFrame(t)
	if frame.Event != model.EventSendMessage || frame.Ack == "" {
		t.Fatalf("expected acked send frame, got %+v", frame)
	}

	reply, _ := json.Marshal(model.AckPayload{Message: &model.Message{ID: "m1", ConversationID: "c1"}})
	srv.push(t, model.Envelope{Event: model.EventAck, Ack: frame.Ack, Data: reply})

	select {
	case p := <-got:
		if p.Error != "" || p.Message == nil || p.Message.ID != "m1" {
			t.Fatalf("unexpected ack payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ack callback never invoked")
	}
}

// The read side may hold a just-read frame while Close runs; the events
// channel must survive teardown so that late delivery is shed, not a panic.
func TestCloseKeepsEventChannelOpen(t *testing.T) {
	srv := newWSServer(t)
	tp := New(testConfig(srv.url()), logger.NewNop())

	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.nextFrame(t) // auth

	stop := make(chan struct{})
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		conn := <-srv.conns
		defer func() { srv.conns <- conn }()
		data, _ := json.Marshal(model.Message{ID: "m1", ConversationID: "c1"})
		raw, _ := json.Marshal(model.Envelope{Event: model.EventMessageReceived, Data: data})
		for {
			select {
			case <-stop:
				return
			default:
			}
			if conn.WriteMessage(websocket.TextMessage, raw) != nil {
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	tp.Close()
	close(stop)
	<-pushDone

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case _, ok := <-tp.Events():
			if !ok {
				t.Fatal("events channel closed during teardown")
			}
		case <-deadline:
			return
		}
	}
}

func TestCloseFailsOutstandingAcks(t *testing.T) {
	srv := newWSServer(t)
	tp := New(testConfig(srv.url()), logger.NewNop())

	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.nextFrame(t) // auth

	got := make(chan model.AckPayload, 1)
	if err := tp.EmitWithAck(context.Background(), model.EventSendMessage,
		model.SendMessagePayload{ConversationID: "c1", Content: "hi"},
		func(p model.AckPayload) { got <- p }); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	srv.nextFrame(t) // the send frame

	tp.Close()
	tp.Close() // idempotent

	select {
	case p := <-got:
		if p.Error == "" {
			t.Fatal("outstanding ack should fail with an error payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outstanding ack never resolved on close")
	}
}

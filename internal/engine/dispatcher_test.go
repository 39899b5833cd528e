package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/store"
	"github.com/fanloop/chatsync/pkg/logger"
)

func newDispatcher() (*Dispatcher, *fakeTransport, *store.Store) {
	tp := newFakeTransport()
	st := store.New()
	return NewDispatcher(tp, st, logger.NewNop()), tp, st
}

func TestJoinConversationEmitsJoin(t *testing.T) {
	d, tp, _ := newDispatcher()

	if err := d.JoinConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	last, ok := tp.lastEmitted()
	if !ok || last.Name != model.EventJoin {
		t.Fatalf("expected a join emit, got %+v", last)
	}
	if last.Payload != "c1" {
		t.Fatalf("join payload should be the conversation id, got %v", last.Payload)
	}
}

func TestJoinConversationValidatesID(t *testing.T) {
	d, tp, _ := newDispatcher()

	err := d.JoinConversation(context.Background(), "")
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(tp.emittedEvents()) != 0 {
		t.Fatal("a rejected command must not emit")
	}
}

func TestSendMessageValidatesLocally(t *testing.T) {
	d, tp, st := newDispatcher()

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"empty content and media", SendRequest{ConversationID: "c1", Type: model.MessageText}},
		{"missing conversation", SendRequest{Content: "hi", Type: model.MessageText}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := d.SendMessage(context.Background(), tc.req, nil)
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	if len(tp.emittedEvents()) != 0 {
		t.Fatal("no outbound event may be emitted on validation failure")
	}
	if len(st.Messages()) != 0 {
		t.Fatal("local state must be unchanged")
	}
}

func TestSendMessageMediaOnlyIsValid(t *testing.T) {
	d, tp, _ := newDispatcher()

	err := d.SendMessage(context.Background(), SendRequest{
		ConversationID: "c1",
		Type:           model.MessageImage,
		ImageURL:       "https://cdn.example.com/pic.jpg",
	}, nil)
	if err != nil {
		t.Fatalf("media-only send should pass validation: %v", err)
	}
	if _, ok := tp.lastEmitted(); !ok {
		t.Fatal("expected an emit")
	}
}

func TestSendMessageDefaultsToText(t *testing.T) {
	d, tp, _ := newDispatcher()

	if err := d.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"}, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	last, _ := tp.lastEmitted()
	payload, ok := last.Payload.(model.SendMessagePayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", last.Payload)
	}
	if payload.Type != model.MessageText {
		t.Fatalf("expected text default, got %s", payload.Type)
	}
}

func TestSendMessageAckDeliversCanonicalRecord(t *testing.T) {
	d, tp, st := newDispatcher()
	st.ReplaceConversations([]model.Conversation{{ID: "c1", LastActivity: base}})
	st.SetActiveConversation("c1")

	var gotMsg *model.Message
	var gotErr string
	err := d.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"},
		func(msg *model.Message, serverErr string) {
			gotMsg = msg
			gotErr = serverErr
		})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// No optimistic insert before the ack.
	if len(st.Messages()) != 0 {
		t.Fatal("send must not optimistically insert")
	}

	last, _ := tp.lastEmitted()
	canonical := model.Message{
		ID:             "m1",
		ConversationID: "c1",
		Type:           model.MessageText,
		Content:        "hi",
		SentAt:         base.Add(time.Minute),
	}
	last.Ack(model.AckPayload{Message: &canonical})

	if gotErr != "" || gotMsg == nil || gotMsg.ID != "m1" {
		t.Fatalf("callback should receive the persisted message, got (%v, %q)", gotMsg, gotErr)
	}
	msgs := st.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("canonical record should land in the window, got %+v", msgs)
	}
}

func TestSendMessageServerRejectionLeavesStateUnchanged(t *testing.T) {
	d, tp, st := newDispatcher()
	st.SetActiveConversation("c1")

	var gotErr string
	if err := d.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"},
		func(msg *model.Message, serverErr string) { gotErr = serverErr }); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	last, _ := tp.lastEmitted()
	last.Ack(model.AckPayload{Error: "muted in this conversation"})

	if gotErr != "muted in this conversation" {
		t.Fatalf("server rejection should reach the callback, got %q", gotErr)
	}
	if len(st.Messages()) != 0 {
		t.Fatal("a rejected send must not touch local state")
	}
}

func TestSendAckIdempotentWithPush(t *testing.T) {
	d, tp, st := newDispatcher()
	st.SetActiveConversation("c1")

	if err := d.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Content: "hi"}, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	canonical := model.Message{ID: "m1", ConversationID: "c1", Type: model.MessageText, SentAt: base}
	// Push arrives first, ack second.
	st.AppendMessage(canonical)
	last, _ := tp.lastEmitted()
	last.Ack(model.AckPayload{Message: &canonical})

	if got := st.Messages(); len(got) != 1 {
		t.Fatalf("ack after push must not duplicate, got %d messages", len(got))
	}
}

func TestFetchConversationsEmits(t *testing.T) {
	d, tp, _ := newDispatcher()

	if err := d.FetchConversations(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	last, _ := tp.lastEmitted()
	if last.Name != model.EventGetConversations || last.Payload != nil {
		t.Fatalf("expected bare get_conversations, got %+v", last)
	}
}

func TestFetchMessagesDefaultsAndActivates(t *testing.T) {
	d, tp, st := newDispatcher()

	if err := d.FetchMessages(context.Background(), "c1", 0, 0); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if st.ActiveConversation() != "c1" {
		t.Fatal("fetch must make the conversation active")
	}
	last, _ := tp.lastEmitted()
	payload := last.Payload.(model.GetMessagesPayload)
	if payload.Page != DefaultPage || payload.Limit != DefaultLimit {
		t.Fatalf("expected defaults %d/%d, got %d/%d", DefaultPage, DefaultLimit, payload.Page, payload.Limit)
	}
}

func TestMarkAsReadScopes(t *testing.T) {
	d, tp, st := newDispatcher()
	st.SetActiveConversation("c1")
	st.AppendMessage(model.Message{ID: "m1", ConversationID: "c1", Type: model.MessageText, SentAt: base})

	if err := d.MarkAsRead(context.Background(), "c1"); err != nil {
		t.Fatalf("mark-as-read failed: %v", err)
	}
	last, _ := tp.lastEmitted()
	whole := last.Payload.(model.MarkAsReadPayload)
	if whole.ConversationID != "c1" || len(whole.MessageIDs) != 0 {
		t.Fatalf("whole-conversation scope expected, got %+v", whole)
	}

	if err := d.MarkAsRead(context.Background(), "c1", "m1", "m2"); err != nil {
		t.Fatalf("mark-as-read failed: %v", err)
	}
	last, _ = tp.lastEmitted()
	scoped := last.Payload.(model.MarkAsReadPayload)
	if len(scoped.MessageIDs) != 2 {
		t.Fatalf("explicit id list expected, got %+v", scoped)
	}

	// Server is authoritative; the command itself never flips local flags.
	if st.Messages()[0].IsRead {
		t.Fatal("local isRead must only change via the read-receipt handler")
	}
}

func TestJoinAndFetchScenario(t *testing.T) {
	tp := newFakeTransport()
	st := store.New()
	d := NewDispatcher(tp, st, logger.NewNop())
	r := NewRouter(st, logger.NewNop())

	if err := d.JoinConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := d.FetchMessages(context.Background(), "c1", 1, 2); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	r.Apply(event(t, model.EventMessagesList, model.MessagesListPayload{
		Messages: []model.Message{
			testMessage("m1", "c1", base.Add(time.Minute)),
			testMessage("m2", "c1", base.Add(2*time.Minute)),
		},
		Pagination:     model.Pagination{Page: 1, Limit: 2, TotalMessages: 5, TotalPages: 3, HasMore: true},
		ConversationID: "c1",
	}))

	got := st.Messages()
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("expected [m1 m2] in time order, got %+v", got)
	}
	cursor := st.Pagination()
	if cursor == nil || !cursor.HasMore {
		t.Fatalf("pagination.hasMore should be true, got %+v", cursor)
	}

	names := []model.EventKind{}
	for _, e := range tp.emittedEvents() {
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != model.EventJoin || names[1] != model.EventGetMessages {
		t.Fatalf("expected join then get_messages, got %v", names)
	}
}

package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/store"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/pkg/logger"
	"github.com/fanloop/chatsync/pkg/metrics"
)

// Default page size for message fetches.
const (
	DefaultPage  = 1
	DefaultLimit = 50
)

// SendCallback receives the outcome of an acked send: the persisted message,
// or the server's rejection string. Exactly one argument is set.
type SendCallback func(msg *model.Message, serverErr string)

// SendRequest is the local form of an outbound send command.
type SendRequest struct {
	ConversationID string
	Content        string
	Type           model.MessageType
	ImageURL       string
	AsCreator      bool
}

// Dispatcher emits outbound commands. Each command sends exactly one event
// and returns without waiting for the network; effects become observable
// when the router ingests the server's response or push.
type Dispatcher struct {
	tp     transport.Transport
	store  *store.Store
	logger *logger.Logger
}

// NewDispatcher creates a dispatcher emitting over the given transport.
func NewDispatcher(tp transport.Transport, st *store.Store, log *logger.Logger) *Dispatcher {
	return &Dispatcher{tp: tp, store: st, logger: log}
}

// JoinConversation asks the server to subscribe this client to a
// conversation's pushes. It does not fetch messages or mark anything read.
func (d *Dispatcher) JoinConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		metrics.CommandsRejected.WithLabelValues(string(model.EventJoin)).Inc()
		return &model.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}
	if err := d.tp.Emit(ctx, model.EventJoin, conversationID); err != nil {
		return err
	}
	metrics.RecordCommand(string(model.EventJoin))
	return nil
}

// SendMessage emits a send request. Local state is not updated optimistically;
// the message lands either through the ack's canonical record or the
// corresponding message_received push, whichever arrives first.
func (d *Dispatcher) SendMessage(ctx context.Context, req SendRequest, callback SendCallback) error {
	if req.ConversationID == "" {
		metrics.CommandsRejected.WithLabelValues(string(model.EventSendMessage)).Inc()
		return &model.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}
	if req.Content == "" && req.ImageURL == "" {
		metrics.CommandsRejected.WithLabelValues(string(model.EventSendMessage)).Inc()
		return &model.ValidationError{Field: "content", Reason: "message needs content or media"}
	}
	if req.Type == "" {
		req.Type = model.MessageText
	}

	payload := model.SendMessagePayload{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Type:           req.Type,
		ImageURL:       req.ImageURL,
		AsCreator:      req.AsCreator,
	}

	err := d.tp.EmitWithAck(ctx, model.EventSendMessage, payload, func(ack model.AckPayload) {
		d.onSendAck(ack, callback)
	})
	if err != nil {
		return err
	}
	metrics.RecordCommand(string(model.EventSendMessage))
	return nil
}

// onSendAck applies the canonical record from a send ack and forwards the
// outcome. A rejection leaves local state unchanged.
func (d *Dispatcher) onSendAck(ack model.AckPayload, callback SendCallback) {
	if ack.Error != "" {
		d.logger.Warn("send rejected", zap.String("error", ack.Error))
		if callback != nil {
			callback(nil, ack.Error)
		}
		return
	}
	if ack.Message != nil {
		// Idempotent against the push that may follow.
		d.store.AppendMessage(*ack.Message)
		d.store.TouchConversation(*ack.Message)
	}
	if callback != nil {
		callback(ack.Message, "")
	}
}

// FetchConversations requests the full conversation list. Idempotent; the
// connection manager re-issues it on every connect.
func (d *Dispatcher) FetchConversations(ctx context.Context) error {
	if err := d.tp.Emit(ctx, model.EventGetConversations, nil); err != nil {
		return err
	}
	metrics.RecordCommand(string(model.EventGetConversations))
	return nil
}

// FetchMessages requests one page for a conversation and makes it the active
// one. The response replaces the window; callers accumulate across pages
// themselves if they want continuous scrollback.
func (d *Dispatcher) FetchMessages(ctx context.Context, conversationID string, page, limit int) error {
	if conversationID == "" {
		metrics.CommandsRejected.WithLabelValues(string(model.EventGetMessages)).Inc()
		return &model.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}
	if page <= 0 {
		page = DefaultPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	d.store.SetActiveConversation(conversationID)

	payload := model.GetMessagesPayload{
		ConversationID: conversationID,
		Page:           page,
		Limit:          limit,
	}
	if err := d.tp.Emit(ctx, model.EventGetMessages, payload); err != nil {
		return err
	}
	metrics.RecordCommand(string(model.EventGetMessages))
	return nil
}

// MarkAsRead asks the server to mark messages read: the listed ids, or
// everything unread in the conversation when none are given. Local read
// flags only flip when the message_read push comes back.
func (d *Dispatcher) MarkAsRead(ctx context.Context, conversationID string, messageIDs ...string) error {
	if conversationID == "" {
		metrics.CommandsRejected.WithLabelValues(string(model.EventMarkAsRead)).Inc()
		return &model.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}

	payload := model.MarkAsReadPayload{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	}
	if err := d.tp.Emit(ctx, model.EventMarkAsRead, payload); err != nil {
		return err
	}
	metrics.RecordCommand(string(model.EventMarkAsRead))
	return nil
}

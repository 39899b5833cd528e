// Package engine implements the conversation/message synchronization engine:
// a connection manager, an ingestion router, and a command dispatcher over
// one local state store.
package engine

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/store"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/pkg/logger"
	"github.com/fanloop/chatsync/pkg/metrics"
)

// Drop reasons recorded when an inbound event does not mutate state.
const (
	dropProtocol    = "protocol"
	dropUnknownConv = "unknown_conversation"
	dropDuplicate   = "duplicate"
	dropStale       = "stale"
	dropUnknownName = "unknown_event"
)

// Router applies inbound events to the store, one at a time, in arrival
// order. A malformed payload drops that event and nothing else.
type Router struct {
	store  *store.Store
	logger *logger.Logger
}

// NewRouter creates a router writing to the given store.
func NewRouter(st *store.Store, log *logger.Logger) *Router {
	return &Router{store: st, logger: log}
}

// Apply dispatches one inbound event to its handler. Ingestion failures are
// logged and swallowed so one bad push cannot end the session.
func (r *Router) Apply(ev transport.Event) {
	var err error

	switch ev.Name {
	case model.EventConversationsList:
		err = r.onConversationsList(ev.Data)
	case model.EventMessagesList:
		err = r.onMessagesList(ev.Data)
	case model.EventMessageReceived:
		err = r.onMessageReceived(ev.Data)
	case model.EventConversationUpdated:
		err = r.onConversationUpdated(ev.Data)
	case model.EventConversationCreated:
		err = r.onConversationCreated(ev.Data)
	case model.EventMembersAdded:
		err = r.onMembersAdded(ev.Data)
	case model.EventMemberRemoved:
		err = r.onMemberRemoved(ev.Data)
	case model.EventRemovedFromGroup:
		err = r.onRemovedFromGroup(ev.Data)
	case model.EventMessageRead:
		err = r.onMessageRead(ev.Data)
	case model.EventError:
		r.onServerError(ev.Data)
		return
	default:
		r.logger.Warn("unhandled event dropped", zap.String("event", string(ev.Name)))
		metrics.RecordDropped(string(ev.Name), dropUnknownName)
		return
	}

	if err != nil {
		r.logger.Warn("event dropped", zap.String("event", string(ev.Name)), zap.Error(err))
		metrics.RecordDropped(string(ev.Name), dropProtocol)
		return
	}
	metrics.RecordIngested(string(ev.Name))
}

func (r *Router) onConversationsList(data json.RawMessage) error {
	var convs []model.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return &model.ProtocolError{Event: model.EventConversationsList, Err: err}
	}
	r.store.ReplaceConversations(convs)
	return nil
}

func (r *Router) onMessagesList(data json.RawMessage) error {
	var payload model.MessagesListPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &model.ProtocolError{Event: model.EventMessagesList, Err: err}
	}
	if payload.ConversationID == "" {
		return &model.ProtocolError{Event: model.EventMessagesList, Err: fmt.Errorf("missing conversationId")}
	}
	if !r.store.ReplaceMessages(payload.ConversationID, payload.Messages, payload.Pagination) {
		// Late page for an abandoned conversation; a newer view owns the window.
		r.logger.Debug("stale message page dropped",
			zap.String("conversation_id", payload.ConversationID))
		metrics.RecordDropped(string(model.EventMessagesList), dropStale)
	}
	return nil
}

func (r *Router) onMessageReceived(data json.RawMessage) error {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return &model.ProtocolError{Event: model.EventMessageReceived, Err: err}
	}
	if msg.ID == "" || msg.ConversationID == "" {
		return &model.ProtocolError{Event: model.EventMessageReceived, Err: fmt.Errorf("missing id or conversation")}
	}

	// A push outside the active window is not a drop; the owning
	// conversation's snapshot still advances below.
	if msg.ConversationID == r.store.ActiveConversation() && !r.store.AppendMessage(msg) {
		metrics.RecordDropped(string(model.EventMessageReceived), dropDuplicate)
	}
	r.store.TouchConversation(msg)
	return nil
}

func (r *Router) onConversationUpdated(data json.RawMessage) error {
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return &model.ProtocolError{Event: model.EventConversationUpdated, Err: err}
	}
	if conv.ID == "" {
		return &model.ProtocolError{Event: model.EventConversationUpdated, Err: fmt.Errorf("missing id")}
	}
	if !r.store.UpdateConversation(conv) {
		// Never silently creates; a snapshot will fill the gap.
		metrics.RecordDropped(string(model.EventConversationUpdated), dropUnknownConv)
	}
	return nil
}

func (r *Router) onConversationCreated(data json.RawMessage) error {
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return &model.ProtocolError{Event: model.EventConversationCreated, Err: err}
	}
	if conv.ID == "" {
		return &model.ProtocolError{Event: model.EventConversationCreated, Err: fmt.Errorf("missing id")}
	}
	if !r.store.InsertConversation(conv) {
		metrics.RecordDropped(string(model.EventConversationCreated), dropDuplicate)
	}
	return nil
}

func (r *Router) onMembersAdded(data json.RawMessage) error {
	var payload model.MembersAddedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &model.ProtocolError{Event: model.EventMembersAdded, Err: err}
	}
	if payload.ConversationID == "" {
		return &model.ProtocolError{Event: model.EventMembersAdded, Err: fmt.Errorf("missing conversationId")}
	}
	if !r.store.AddParticipants(payload.ConversationID, payload.NewMembers) {
		metrics.RecordDropped(string(model.EventMembersAdded), dropUnknownConv)
	}
	return nil
}

func (r *Router) onMemberRemoved(data json.RawMessage) error {
	var payload model.MemberRemovedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &model.ProtocolError{Event: model.EventMemberRemoved, Err: err}
	}
	if payload.ConversationID == "" || payload.RemovedUserID == "" {
		return &model.ProtocolError{Event: model.EventMemberRemoved, Err: fmt.Errorf("missing conversationId or removedUserId")}
	}
	if !r.store.RemoveParticipant(payload.ConversationID, payload.RemovedUserID) {
		metrics.RecordDropped(string(model.EventMemberRemoved), dropUnknownConv)
	}
	return nil
}

func (r *Router) onRemovedFromGroup(data json.RawMessage) error {
	var payload model.RemovedFromGroupPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &model.ProtocolError{Event: model.EventRemovedFromGroup, Err: err}
	}
	if payload.ConversationID == "" {
		return &model.ProtocolError{Event: model.EventRemovedFromGroup, Err: fmt.Errorf("missing conversationId")}
	}
	if !r.store.RemoveConversation(payload.ConversationID) {
		metrics.RecordDropped(string(model.EventRemovedFromGroup), dropUnknownConv)
	}
	return nil
}

func (r *Router) onMessageRead(data json.RawMessage) error {
	var payload model.MessageReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &model.ProtocolError{Event: model.EventMessageRead, Err: err}
	}
	if payload.ConversationID == "" {
		return &model.ProtocolError{Event: model.EventMessageRead, Err: fmt.Errorf("missing conversationId")}
	}
	r.store.MarkRead(payload.ConversationID, payload.MessageIDs, payload.ReaderID)
	return nil
}

// onServerError logs a server-side error push. Domain state is untouched.
func (r *Router) onServerError(data json.RawMessage) {
	var msg string
	if err := json.Unmarshal(data, &msg); err != nil {
		msg = string(data)
	}
	r.logger.Error("server error", zap.String("message", msg))
	metrics.RecordIngested(string(model.EventError))
}

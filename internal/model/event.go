package model

import (
	"encoding/json"
)

// EventKind enumerates the named events the protocol carries. Outbound and
// inbound names share one namespace; the server never echoes outbound names.
type EventKind string

// Outbound (client → server).
const (
	EventGetConversations EventKind = "get_conversations"
	EventJoin             EventKind = "join"
	EventSendMessage      EventKind = "send_message"
	EventGetMessages      EventKind = "get_messages"
	EventMarkAsRead       EventKind = "mark_as_read"
)

// Inbound (server → client).
const (
	EventConversationsList   EventKind = "conversations_list"
	EventMessagesList        EventKind = "messages_list"
	EventMessageReceived     EventKind = "message_received"
	EventConversationUpdated EventKind = "conversation_updated"
	EventConversationCreated EventKind = "conversation_created"
	EventMembersAdded        EventKind = "members_added"
	EventMemberRemoved       EventKind = "member_removed"
	EventRemovedFromGroup    EventKind = "removed_from_group"
	EventMessageRead         EventKind = "message_read"
	EventError               EventKind = "error"
	EventAck                 EventKind = "ack"
)

// Envelope frames every event on the wire. Ack is set on outbound emits that
// expect a reply; the server copies it onto the matching EventAck envelope.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// SendMessagePayload is the data for an EventSendMessage emit.
type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content,omitempty"`
	Type           MessageType `json:"type"`
	ImageURL       string      `json:"imageUrl,omitempty"`
	AsCreator      bool        `json:"asCreator,omitempty"`
}

// GetMessagesPayload is the data for an EventGetMessages emit.
type GetMessagesPayload struct {
	ConversationID string `json:"conversationId"`
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
}

// MarkAsReadPayload is the data for an EventMarkAsRead emit. An empty
// MessageIDs slice means "everything unread in the conversation".
type MarkAsReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

// MessagesListPayload is the data of an EventMessagesList response.
type MessagesListPayload struct {
	Messages       []Message  `json:"messages"`
	Pagination     Pagination `json:"pagination"`
	ConversationID string     `json:"conversationId"`
}

// MembersAddedPayload is the data of an EventMembersAdded push.
type MembersAddedPayload struct {
	ConversationID string        `json:"conversationId"`
	NewMembers     []Participant `json:"newMembers"`
}

// MemberRemovedPayload is the data of an EventMemberRemoved push.
type MemberRemovedPayload struct {
	ConversationID string `json:"conversationId"`
	RemovedUserID  string `json:"removedUserId"`
}

// RemovedFromGroupPayload is the data of an EventRemovedFromGroup push,
// meaning the current viewer was removed.
type RemovedFromGroupPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessageReadPayload is the data of an EventMessageRead push.
type MessageReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReaderID       string   `json:"readerId,omitempty"`
}

// AckPayload is the data of an EventAck reply to an acked emit. Exactly one
// of Message and Error is set.
type AckPayload struct {
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

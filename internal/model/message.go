package model

import (
	"time"
)

// MessageType identifies what a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageTips  MessageType = "tips"
)

// Sender is the denormalized author summary embedded in a message.
type Sender struct {
	ID             string `json:"_id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Message is a single chat message. Content is set for text messages,
// ImageURL for media messages; Type disambiguates.
type Message struct {
	ID             string      `json:"_id"`
	ConversationID string      `json:"conversation"`
	Sender         Sender      `json:"sender"`
	Content        string      `json:"content,omitempty"`
	ImageURL       string      `json:"imageUrl,omitempty"`
	Type           MessageType `json:"type"`
	SentAt         time.Time   `json:"sentAt"`
	ReadBy         []string    `json:"readBy,omitempty"`
	IsRead         bool        `json:"isRead"`
	IsEdited       bool        `json:"isEdited,omitempty"`
	IsPinned       bool        `json:"isPinned,omitempty"`
}

// ReadByUser reports whether the given user id appears in ReadBy.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Pagination describes the server-side window of a message page.
type Pagination struct {
	Page          int  `json:"page"`
	Limit         int  `json:"limit"`
	TotalMessages int  `json:"totalMessages"`
	TotalPages    int  `json:"totalPages"`
	HasMore       bool `json:"hasMore"`
}

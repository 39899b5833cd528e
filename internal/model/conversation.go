// Package model defines the domain and wire types for the chat sync client.
package model

import (
	"strings"
	"time"
)

// ConversationType distinguishes one-on-one chats from group chats.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Participant is a member of a conversation as the server describes them.
type Participant struct {
	ID             string `json:"_id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Conversation is one entry in the client's conversation list.
type Conversation struct {
	ID           string               `json:"_id"`
	Type         ConversationType     `json:"type"`
	Name         string               `json:"name,omitempty"`
	Participants []Participant        `json:"participants"`
	LastMessage  *Message             `json:"lastMessage,omitempty"`
	LastActivity time.Time            `json:"lastActivity"`
	UnreadCount  int                  `json:"unreadCount"`
	LastSeen     map[string]time.Time `json:"lastSeen,omitempty"`
	UnreadCounts map[string]int       `json:"unreadCounts,omitempty"`
	CreatedBy    string               `json:"createdBy"`
}

// DisplayName returns the conversation name, falling back to the joined
// participant first names when the server did not set one.
func (c *Conversation) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.FirstName != "" {
			names = append(names, p.FirstName)
		}
	}
	return strings.Join(names, ", ")
}

// HasParticipant reports whether the given user id is a member.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Package store holds the client's local view of conversations and
// messages. It is the single source of truth: the ingestion router and the
// command dispatcher write, everything else reads snapshots.
package store

import (
	"sort"
	"sync"

	"github.com/fanloop/chatsync/internal/model"
	"github.com/fanloop/chatsync/internal/transport"
	"github.com/fanloop/chatsync/pkg/metrics"
)

// Store is the local state store. All methods are safe for concurrent use;
// mutation happens on the sync engine's single event loop, reads come from
// subscribers and the debug server.
type Store struct {
	mu sync.RWMutex

	conversations []model.Conversation
	convIndex     map[string]int

	// messages is the active conversation's window, sorted by SentAt
	// ascending with arrival order breaking ties.
	messages   []model.Message
	msgIDs     map[string]struct{}
	pagination *model.Pagination

	// readIDs records every message id ever marked read, so a later snapshot
	// cannot un-mark one.
	readIDs map[string]struct{}

	activeConversation string
	status             transport.Status

	changes chan struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		convIndex: make(map[string]int),
		msgIDs:    make(map[string]struct{}),
		readIDs:   make(map[string]struct{}),
		status:    transport.StatusDisconnected,
		changes:   make(chan struct{}, 1),
	}
}

// Changes returns a coalescing notification channel that receives after any
// mutation. Slow readers see at least one notification, not one per change.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// ReplaceConversations replaces the entire conversation collection.
func (s *Store) ReplaceConversations(convs []model.Conversation) {
	s.mu.Lock()
	s.conversations = make([]model.Conversation, len(convs))
	copy(s.conversations, convs)
	s.convIndex = make(map[string]int, len(convs))
	for i, c := range s.conversations {
		s.convIndex[c.ID] = i
	}
	metrics.ConversationsLoaded.Set(float64(len(s.conversations)))
	s.mu.Unlock()
	s.notify()
}

// UpdateConversation replaces the conversation with the same id. Reports
// false without inserting when the id is unknown.
func (s *Store) UpdateConversation(conv model.Conversation) bool {
	s.mu.Lock()
	i, ok := s.convIndex[conv.ID]
	if ok {
		s.conversations[i] = conv
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// InsertConversation appends a new conversation. Reports false when the id
// is already present; re-receiving a known conversation never duplicates.
func (s *Store) InsertConversation(conv model.Conversation) bool {
	s.mu.Lock()
	if _, exists := s.convIndex[conv.ID]; exists {
		s.mu.Unlock()
		return false
	}
	s.convIndex[conv.ID] = len(s.conversations)
	s.conversations = append(s.conversations, conv)
	metrics.ConversationsLoaded.Set(float64(len(s.conversations)))
	s.mu.Unlock()
	s.notify()
	return true
}

// RemoveConversation deletes the conversation and, when it is the active
// one, its loaded messages and cursor.
func (s *Store) RemoveConversation(id string) bool {
	s.mu.Lock()
	i, ok := s.convIndex[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
	delete(s.convIndex, id)
	for j := i; j < len(s.conversations); j++ {
		s.convIndex[s.conversations[j].ID] = j
	}
	if s.activeConversation == id {
		s.activeConversation = ""
		s.messages = nil
		s.msgIDs = make(map[string]struct{})
		s.pagination = nil
		metrics.MessagesLoaded.Set(0)
	}
	metrics.ConversationsLoaded.Set(float64(len(s.conversations)))
	s.mu.Unlock()
	s.notify()
	return true
}

// AddParticipants merges new members into the conversation, deduplicated by
// id. Reports false when the conversation is unknown.
func (s *Store) AddParticipants(conversationID string, members []model.Participant) bool {
	s.mu.Lock()
	i, ok := s.convIndex[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	conv := &s.conversations[i]
	for _, m := range members {
		if !conv.HasParticipant(m.ID) {
			conv.Participants = append(conv.Participants, m)
		}
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// RemoveParticipant drops the member from the conversation. Reports false
// when the conversation is unknown.
func (s *Store) RemoveParticipant(conversationID, userID string) bool {
	s.mu.Lock()
	i, ok := s.convIndex[conversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	conv := &s.conversations[i]
	kept := conv.Participants[:0]
	for _, p := range conv.Participants {
		if p.ID != userID {
			kept = append(kept, p)
		}
	}
	conv.Participants = kept
	s.mu.Unlock()
	s.notify()
	return true
}

// SetActiveConversation switches the message window's owner. Switching
// discards the previous window and cursor; they belong to an abandoned view.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	if s.activeConversation == id {
		s.mu.Unlock()
		return
	}
	s.activeConversation = id
	s.messages = nil
	s.msgIDs = make(map[string]struct{})
	s.pagination = nil
	metrics.MessagesLoaded.Set(0)
	s.mu.Unlock()
	s.notify()
}

// ReplaceMessages installs a message page for the given conversation.
// Reports false without touching state when the conversation is not the
// active one, so a slow response cannot clobber a newer view. Ids already
// known read stay read.
func (s *Store) ReplaceMessages(conversationID string, msgs []model.Message, p model.Pagination) bool {
	s.mu.Lock()
	if conversationID != s.activeConversation {
		s.mu.Unlock()
		return false
	}

	s.messages = make([]model.Message, len(msgs))
	copy(s.messages, msgs)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].SentAt.Before(s.messages[j].SentAt)
	})

	s.msgIDs = make(map[string]struct{}, len(s.messages))
	for i := range s.messages {
		s.msgIDs[s.messages[i].ID] = struct{}{}
		if _, read := s.readIDs[s.messages[i].ID]; read {
			s.messages[i].IsRead = true
		}
		if s.messages[i].IsRead {
			s.readIDs[s.messages[i].ID] = struct{}{}
		}
	}

	cursor := p
	s.pagination = &cursor
	metrics.MessagesLoaded.Set(float64(len(s.messages)))
	s.mu.Unlock()
	s.notify()
	return true
}

// AppendMessage inserts a pushed message into the active window, keeping
// SentAt order with arrival order breaking ties. Reports false when the id
// is already present or the message belongs to another conversation.
func (s *Store) AppendMessage(msg model.Message) bool {
	s.mu.Lock()
	if msg.ConversationID != s.activeConversation {
		s.mu.Unlock()
		return false
	}
	if _, dup := s.msgIDs[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}

	if _, read := s.readIDs[msg.ID]; read {
		msg.IsRead = true
	}
	if msg.IsRead {
		s.readIDs[msg.ID] = struct{}{}
	}

	pos := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].SentAt.After(msg.SentAt)
	})
	s.messages = append(s.messages, model.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
	s.msgIDs[msg.ID] = struct{}{}
	metrics.MessagesLoaded.Set(float64(len(s.messages)))
	s.mu.Unlock()
	s.notify()
	return true
}

// TouchConversation updates the owning conversation's last-message snapshot.
// LastActivity never rewinds. Reports false when the conversation is unknown.
func (s *Store) TouchConversation(msg model.Message) bool {
	s.mu.Lock()
	i, ok := s.convIndex[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	conv := &s.conversations[i]
	snapshot := msg
	conv.LastMessage = &snapshot
	if msg.SentAt.After(conv.LastActivity) {
		conv.LastActivity = msg.SentAt
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// MarkRead flips the read flag for the listed ids in the loaded window.
// Read flags only ever go from unread to read.
func (s *Store) MarkRead(conversationID string, messageIDs []string, readerID string) {
	s.mu.Lock()
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
		s.readIDs[id] = struct{}{}
	}
	if conversationID == s.activeConversation {
		for i := range s.messages {
			if _, hit := ids[s.messages[i].ID]; !hit {
				continue
			}
			s.messages[i].IsRead = true
			if readerID != "" && !s.messages[i].ReadByUser(readerID) {
				s.messages[i].ReadBy = append(s.messages[i].ReadBy, readerID)
			}
		}
	}
	s.mu.Unlock()
	s.notify()
}

// SetStatus records the connection state.
func (s *Store) SetStatus(status transport.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.notify()
}

// Status returns the connection state.
func (s *Store) Status() transport.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ActiveConversation returns the id owning the message window.
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeConversation
}

// Conversations returns a copy of the conversation list, most recent
// activity first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	out := make([]model.Conversation, len(s.conversations))
	copy(out, s.conversations)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Conversation returns a copy of one conversation by id.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.convIndex[id]
	if !ok {
		return model.Conversation{}, false
	}
	return s.conversations[i], true
}

// Messages returns a copy of the active conversation's window.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pagination returns a copy of the current cursor, or nil before any page
// has loaded.
func (s *Store) Pagination() *model.Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pagination == nil {
		return nil
	}
	cursor := *s.pagination
	return &cursor
}

package handler

import (
	"net/http"

	"github.com/fanloop/chatsync/internal/store"
)

// StateHandler exposes read-only snapshots of the local state store. It
// never mutates the store; the sync engine owns all writes.
type StateHandler struct {
	store *store.Store
}

// NewStateHandler creates a new state handler.
func NewStateHandler(st *store.Store) *StateHandler {
	return &StateHandler{store: st}
}

// Connection handles GET /debug/state/connection
func (h *StateHandler) Connection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             h.store.Status(),
		"activeConversation": h.store.ActiveConversation(),
	})
}

// Conversations handles GET /debug/state/conversations
func (h *StateHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	convs := h.store.Conversations()
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"total":         len(convs),
	})
}

// Messages handles GET /debug/state/messages
func (h *StateHandler) Messages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": h.store.ActiveConversation(),
		"messages":       h.store.Messages(),
		"pagination":     h.store.Pagination(),
	})
}

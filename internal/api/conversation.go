package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/sahilm/fuzzy"

	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
	"senteros-chat/internal/db"
	"senteros-chat/internal/models"
)

// ConversationHandler handles the signed-in user's stored conversations
type ConversationHandler struct {
	db       *db.DB
	sessions *chat.Sessions
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(database *db.DB, sessions *chat.Sessions) *ConversationHandler {
	return &ConversationHandler{db: database, sessions: sessions}
}

// RenameRequest is the body of PATCH /api/conversations/{id}
type RenameRequest struct {
	Title string `json:"title"`
}

// ConversationDetail is a conversation with its turns
type ConversationDetail struct {
	*models.Conversation
	Turns []models.Turn `json:"turns"`
}

// titles adapts a conversation list for fuzzy matching
type titles []models.Conversation

func (t titles) String(i int) string { return t[i].Title }
func (t titles) Len() int            { return len(t) }

// searchConversations keeps conversations whose title fuzzily matches query, best first
func searchConversations(conversations []models.Conversation, query string) []models.Conversation {
	query = strings.TrimSpace(query)
	if query == "" {
		return conversations
	}
	matches := fuzzy.FindFrom(query, titles(conversations))
	out := make([]models.Conversation, len(matches))
	for i, m := range matches {
		out[i] = conversations[m.Index]
	}
	return out
}

// List handles GET /api/conversations[?q=]
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())

	conversations, err := h.db.ListConversations(owner)
	if err != nil {
		log.Printf("[API] List conversations failed owner=%s err=%v", owner, err)
		http.Error(w, "Failed to get conversations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, searchConversations(conversations, r.URL.Query().Get("q")))
}

// Get handles GET /api/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	id := pathParam(r, "id")

	conv, err := h.db.GetConversation(owner, id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[API] Get conversation failed conversation_id=%s err=%v", id, err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}

	turns, err := h.db.ListTurns(owner, id)
	if err != nil {
		log.Printf("[API] Get conversation turns failed conversation_id=%s err=%v", id, err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ConversationDetail{Conversation: conv, Turns: turns})
}

// Turns handles GET /api/conversations/{id}/turns
func (h *ConversationHandler) Turns(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	id := pathParam(r, "id")

	if _, err := h.db.GetConversation(owner, id); errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, "Failed to get turns", http.StatusInternalServerError)
		return
	}

	turns, err := h.db.ListTurns(owner, id)
	if err != nil {
		log.Printf("[API] List turns failed conversation_id=%s err=%v", id, err)
		http.Error(w, "Failed to get turns", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

// Rename handles PATCH /api/conversations/{id}
func (h *ConversationHandler) Rename(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	id := pathParam(r, "id")

	var req RenameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := session.Rename(id, req.Title)
	switch {
	case errors.Is(err, chat.ErrEmptyTitle):
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	case errors.Is(err, sql.ErrNoRows):
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Failed to rename conversation", http.StatusInternalServerError)
		return
	}

	conv, err := h.db.GetConversation(session.Owner(), id)
	if err != nil {
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	id := pathParam(r, "id")

	err := session.Delete(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}

	log.Printf("[API] Conversation deleted conversation_id=%s", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	session, err := h.sessions.Get(auth.Owner(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return nil, false
	}
	return session, true
}

package api

import (
	"errors"
	"log"
	"net/http"

	"senteros-chat/internal/auth"
	"senteros-chat/internal/memory"
)

// MemoryHandler manages remembered facts about the signed-in user
type MemoryHandler struct {
	store     *memory.Store
	threshold float64
}

// NewMemoryHandler creates the handler
func NewMemoryHandler(store *memory.Store, threshold float64) *MemoryHandler {
	if threshold <= 0 {
		threshold = memory.DefaultThreshold
	}
	return &MemoryHandler{store: store, threshold: threshold}
}

// AddMemoryRequest is an accepted suggestion or a manual entry
type AddMemoryRequest struct {
	Content    string            `json:"content"`
	Category   memory.Category   `json:"category"`
	Importance memory.Importance `json:"importance"`
}

// AnalyzeRequest is the body of POST /api/memory/analyze
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// List handles GET /api/memory
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	items, err := h.store.List(owner)
	if err != nil {
		log.Printf("[API] List memory failed owner=%s err=%v", owner, err)
		http.Error(w, "Failed to get memory", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Add handles POST /api/memory. A duplicate returns the existing item with 200.
func (h *MemoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())

	var req AddMemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, added, err := h.store.Add(owner, req.Content, req.Category, req.Importance)
	if errors.Is(err, memory.ErrEmptyContent) {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("[API] Add memory failed owner=%s err=%v", owner, err)
		http.Error(w, "Failed to save memory", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, item)
}

// Analyze handles POST /api/memory/analyze
func (h *MemoryHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	suggestions := memory.Surface(memory.Analyze(req.Text), h.threshold)
	if suggestions == nil {
		suggestions = []memory.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// Remove handles DELETE /api/memory/{id}
func (h *MemoryHandler) Remove(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	err := h.store.Remove(owner, pathParam(r, "id"))
	if errors.Is(err, memory.ErrNotFound) {
		http.Error(w, "Memory item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[API] Remove memory failed owner=%s err=%v", owner, err)
		http.Error(w, "Failed to remove memory", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/memory
func (h *MemoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())
	if err := h.store.Clear(owner); err != nil {
		log.Printf("[API] Clear memory failed owner=%s err=%v", owner, err)
		http.Error(w, "Failed to clear memory", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

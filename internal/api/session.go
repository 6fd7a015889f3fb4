package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"senteros-chat/internal/attachment"
	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
	"senteros-chat/internal/locale"
)

// SessionHandler exposes the signed-in user's chat session
type SessionHandler struct {
	sessions  *chat.Sessions
	throttle  *submitThrottle
	localizer *localizer
	// maxUpload is zero when attachments are disabled
	maxUpload int64
}

// NewSessionHandler creates the handler
func NewSessionHandler(sessions *chat.Sessions, l *localizer, submitsPerMinute int, maxUpload int64) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		throttle:  newSubmitThrottle(submitsPerMinute),
		localizer: l,
		maxUpload: maxUpload,
	}
}

// SubmitRequest is the JSON body of POST /api/session/turns
type SubmitRequest struct {
	Content string `json:"content"`
}

// OpenRequest is the body of POST /api/session/open
type OpenRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	session, err := h.sessions.Get(auth.Owner(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return nil, false
	}
	return session, true
}

// Get handles GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// New handles POST /api/session/new
func (h *SessionHandler) New(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.NewChat())
}

// Open handles POST /api/session/open
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req OpenRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.ConversationID) == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	snap, err := session.Open(req.ConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, h.localizer.text(r, locale.FailedHistory))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Stop handles POST /api/session/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.Stop()
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// Submit handles POST /api/session/turns. The body is JSON {"content": ...}
// or multipart with a "content" field and an optional "image" file.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	owner := session.Owner()

	if !h.throttle.Allow(owner) {
		log.Printf("[API] Submit throttled owner=%s", owner)
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	content, upload, cleanup, err := h.readSubmission(w, r)
	if cleanup != nil {
		defer cleanup()
	}
	if isMaxBytesError(err) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, h.localizer.sizeLimit(r, h.maxUpload))
		return
	}
	if err != nil {
		log.Printf("[API] Submit failed: invalid request body owner=%s err=%v", owner, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if upload != nil && h.maxUpload == 0 {
		http.Error(w, chat.ErrAttachmentsDisabled.Error(), http.StatusBadRequest)
		return
	}

	result, err := session.Submit(r.Context(), content, upload)
	var verr *attachment.ValidationError
	switch {
	case errors.Is(err, chat.ErrBusy):
		writeJSONError(w, http.StatusConflict, h.localizer.text(r, locale.Busy))
	case errors.Is(err, chat.ErrAttachmentsDisabled):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &verr):
		writeJSONError(w, http.StatusBadRequest, h.localizer.validation(r, verr))
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  h.localizer.text(r, locale.FailedResponse),
			"result": result,
		})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *SessionHandler) readSubmission(w http.ResponseWriter, r *http.Request) (string, *chat.Upload, func(), error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var req SubmitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return "", nil, nil, err
		}
		return req.Content, nil, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUpload + multipartOverhead); err != nil {
		return "", nil, nil, err
	}
	cleanup := func() { r.MultipartForm.RemoveAll() }

	content := r.FormValue("content")
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return content, nil, cleanup, nil
	}
	if err != nil {
		return "", nil, cleanup, err
	}
	closeAll := func() {
		file.Close()
		cleanup()
	}
	return content, &chat.Upload{Filename: header.Filename, Data: file}, closeAll, nil
}

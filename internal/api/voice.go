package api

import (
	"errors"
	"log"
	"net/http"

	"senteros-chat/internal/auth"
	"senteros-chat/internal/voice"
)

// VoiceHandler accepts recorded audio and prepares text for speech
type VoiceHandler struct {
	recorder  *voice.Recorder
	localizer *localizer
	maxBytes  int64
}

// NewVoiceHandler creates the handler
func NewVoiceHandler(recorder *voice.Recorder, l *localizer, maxBytes int64) *VoiceHandler {
	if maxBytes <= 0 {
		maxBytes = voice.DefaultMaxCaptureBytes
	}
	return &VoiceHandler{recorder: recorder, localizer: l, maxBytes: maxBytes}
}

// SpeechRequest is the body of POST /api/voice/speech
type SpeechRequest struct {
	Text   string `json:"text"`
	Locale string `json:"locale,omitempty"`
}

// Transcribe handles POST /api/voice/transcribe. Recognition runs in the
// browser; the server only accepts and measures the recording.
func (h *VoiceHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	file, _, err := r.FormFile("audio")
	if isMaxBytesError(err) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, voice.ErrTooLarge.Error())
		return
	}
	if err != nil {
		log.Printf("[Voice] Transcribe failed: no audio owner=%s err=%v", owner, err)
		writeJSONError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	capture, err := h.recorder.Open(owner)
	if err != nil {
		log.Printf("[Voice] Transcribe failed: open capture owner=%s err=%v", owner, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to store audio")
		return
	}
	defer capture.Close()

	if _, err := capture.ReadFrom(file); err != nil {
		if errors.Is(err, voice.ErrTooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		log.Printf("[Voice] Transcribe failed: write capture owner=%s err=%v", owner, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to store audio")
		return
	}

	size := capture.Size()
	log.Printf("[Voice] Transcribe completed owner=%s size=%d", owner, size)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "size": size})
}

// Speech handles POST /api/voice/speech
func (h *VoiceHandler) Speech(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	loc := req.Locale
	if loc == "" {
		loc = h.localizer.lang(r)
	}
	writeJSON(w, http.StatusOK, voice.PrepareSpeech(req.Text, loc))
}

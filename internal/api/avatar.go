package api

import (
	"errors"
	"log"
	"net/http"

	"senteros-chat/internal/attachment"
	"senteros-chat/internal/auth"
)

// AvatarHandler stores profile pictures through the attachment pipeline
type AvatarHandler struct {
	profiles  *ProfileHandler
	pipeline  *attachment.Pipeline
	localizer *localizer
}

// NewAvatarHandler creates the handler
func NewAvatarHandler(profiles *ProfileHandler, pipeline *attachment.Pipeline, l *localizer) *AvatarHandler {
	return &AvatarHandler{profiles: profiles, pipeline: pipeline, localizer: l}
}

// Upload handles POST /api/profile/avatar (multipart field "avatar")
func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	log.Printf("[API] Upload avatar started user_id=%s", user.ID)

	r.Body = http.MaxBytesReader(w, r.Body, h.pipeline.MaxBytes()+multipartOverhead)
	file, header, err := r.FormFile("avatar")
	if isMaxBytesError(err) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, h.localizer.sizeLimit(r, h.pipeline.MaxBytes()))
		return
	}
	if err != nil {
		log.Printf("[API] Upload avatar failed: no file user_id=%s err=%v", user.ID, err)
		http.Error(w, "No avatar file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ref, err := h.pipeline.Prepare(header.Filename, file)
	var verr *attachment.ValidationError
	if errors.As(err, &verr) {
		writeJSONError(w, http.StatusBadRequest, h.localizer.validation(r, verr))
		return
	}
	if err != nil {
		log.Printf("[API] Upload avatar failed user_id=%s err=%v", user.ID, err)
		http.Error(w, "Failed to store avatar", http.StatusInternalServerError)
		return
	}

	profile := user.Profile
	profile.AvatarURL = ref.URL
	updated, err := h.profiles.updateProfile(user.ID, profile)
	if err != nil {
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	log.Printf("[API] Upload avatar completed user_id=%s size=%d", user.ID, ref.Size)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    updated,
		"preview": ref.Preview,
	})
}

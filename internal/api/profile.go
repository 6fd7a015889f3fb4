package api

import (
	"log"
	"net/http"

	"senteros-chat/internal/auth"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/models"
)

// ProfileHandler reads and updates the signed-in user's profile
type ProfileHandler struct {
	auth    *auth.Service
	catalog *locale.Catalog
}

// NewProfileHandler creates the handler
func NewProfileHandler(authService *auth.Service, catalog *locale.Catalog) *ProfileHandler {
	return &ProfileHandler{auth: authService, catalog: catalog}
}

// Get handles GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

// Update handles PUT /api/profile. Omitted fields keep their current values.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	profile := user.Profile
	if err := decodeJSON(w, r, &profile); err != nil {
		log.Printf("[API] Update profile failed: invalid request body user_id=%s err=%v", user.ID, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if profile.Locale != "" && !h.catalog.Supports(profile.Locale) {
		http.Error(w, "Unsupported locale", http.StatusBadRequest)
		return
	}

	updated, err := h.updateProfile(user.ID, profile)
	if err != nil {
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ProfileHandler) updateProfile(userID string, profile models.Profile) (*models.User, error) {
	updated, err := h.auth.UpdateProfile(userID, profile)
	if err != nil {
		log.Printf("[API] Update profile failed user_id=%s err=%v", userID, err)
		return nil, err
	}
	log.Printf("[API] Profile updated user_id=%s", userID)
	return updated, nil
}

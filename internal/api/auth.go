package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"senteros-chat/internal/auth"
)

// AuthHandler handles sign-up, sign-in and sign-out
type AuthHandler struct {
	auth         *auth.Service
	secureCookie bool
}

// NewAuthHandler creates the handler. secureCookie marks the session cookie Secure.
func NewAuthHandler(authService *auth.Service, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: authService, secureCookie: secureCookie}
}

// CredentialsRequest is the sign-up and sign-in body
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// SignUp handles POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Printf("[API] SignUp failed: invalid request body err=%v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.auth.SignUp(req.Email, req.Password, req.Username)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("[API] SignUp failed err=%v", err)
		http.Error(w, "Failed to sign up", http.StatusInternalServerError)
		return
	}

	h.setCookie(w, session.Token, session.ExpiresAt)
	log.Printf("[API] SignUp completed user_id=%s", session.User.ID)
	writeJSON(w, http.StatusCreated, session)
}

// SignIn handles POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Printf("[API] SignIn failed: invalid request body err=%v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.auth.SignIn(req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.Printf("[API] SignIn failed err=%v", err)
		http.Error(w, "Failed to sign in", http.StatusInternalServerError)
		return
	}

	h.setCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, session)
}

// SignOut handles POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := h.auth.SignOut(token); err != nil {
			log.Printf("[API] SignOut failed err=%v", err)
			http.Error(w, "Failed to sign out", http.StatusInternalServerError)
			return
		}
	}
	h.setCookie(w, "", time.Unix(0, 0))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

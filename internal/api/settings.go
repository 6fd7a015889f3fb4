package api

import (
	"log"
	"net/http"

	"senteros-chat/internal/assistant"
	"senteros-chat/internal/auth"
	"senteros-chat/internal/kv"
)

// DefaultTheme follows the operating system
const DefaultTheme = "system"

var themes = map[string]bool{"light": true, "dark": true, DefaultTheme: true}

// Settings are the per-user client preferences
type Settings struct {
	Locale string `json:"locale"`
	Theme  string `json:"theme"`
}

// SettingsHandler reads and writes preferences in the key-value store
type SettingsHandler struct {
	kv        *kv.Store
	localizer *localizer
}

// Get handles GET /api/settings. Missing values fall back to defaults.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.load(r))
}

func (h *SettingsHandler) load(r *http.Request) Settings {
	owner := auth.Owner(r.Context())
	theme := h.kv.GetDefault(owner, kv.KeyTheme, DefaultTheme)
	if !themes[theme] {
		theme = DefaultTheme
	}
	return Settings{Locale: h.localizer.lang(r), Theme: theme}
}

// Update handles PUT /api/settings. Omitted fields are unchanged.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context())

	var req Settings
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Locale != "" && !h.localizer.catalog.Supports(req.Locale) {
		http.Error(w, "Unsupported locale", http.StatusBadRequest)
		return
	}
	if req.Theme != "" && !themes[req.Theme] {
		http.Error(w, "Unsupported theme", http.StatusBadRequest)
		return
	}

	for key, value := range map[string]string{kv.KeyLocale: req.Locale, kv.KeyTheme: req.Theme} {
		if value == "" {
			continue
		}
		if err := h.kv.Set(owner, key, value); err != nil {
			log.Printf("[API] Update settings failed owner=%s key=%s err=%v", owner, key, err)
			http.Error(w, "Failed to save settings", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, h.load(r))
}

// UsageHandler reports today's request and attachment counters
type UsageHandler struct {
	quota *assistant.Quota
}

// Get handles GET /api/usage
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.quota == nil {
		writeJSON(w, http.StatusOK, assistant.Usage{})
		return
	}
	owner := auth.Owner(r.Context())
	usage, err := h.quota.Usage(owner)
	if err != nil {
		log.Printf("[API] Get usage failed owner=%s err=%v", owner, err)
		http.Error(w, "Failed to get usage", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

package api

import (
	"net/http"

	"senteros-chat/internal/attachment"
	"senteros-chat/internal/auth"
	"senteros-chat/internal/kv"
	"senteros-chat/internal/locale"
)

// multipartOverhead leaves room for multipart headers and small text fields
const multipartOverhead = 64 << 10

// localizer picks the language for a request: the signed-in user's saved
// locale, then Accept-Language
type localizer struct {
	catalog *locale.Catalog
	kv      *kv.Store
}

func (l *localizer) lang(r *http.Request) string {
	if owner := auth.Owner(r.Context()); owner != "" && l.kv != nil {
		if saved := l.kv.GetDefault(owner, kv.KeyLocale, ""); saved != "" {
			return l.catalog.Match(saved)
		}
	}
	return l.catalog.MatchAcceptLanguage(r.Header.Get("Accept-Language"))
}

func (l *localizer) text(r *http.Request, key string) string {
	return l.catalog.Text(l.lang(r), key)
}

func (l *localizer) sizeLimit(r *http.Request, limit int64) string {
	return l.catalog.Format(l.lang(r), locale.AttachmentSize, limit>>20)
}

func (l *localizer) validation(r *http.Request, verr *attachment.ValidationError) string {
	if verr.Constraint == attachment.ConstraintSize {
		return l.sizeLimit(r, verr.Limit)
	}
	return l.text(r, verr.MessageKey())
}

// LocaleHandler serves the text tables
type LocaleHandler struct {
	localizer *localizer
}

// LanguageInfo describes one supported language
type LanguageInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// List handles GET /api/locales
func (h *LocaleHandler) List(w http.ResponseWriter, r *http.Request) {
	catalog := h.localizer.catalog
	codes := catalog.Languages()
	languages := make([]LanguageInfo, len(codes))
	for i, code := range codes {
		languages[i] = LanguageInfo{Code: code, Name: catalog.Name(code)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default":   locale.Default,
		"preferred": h.localizer.lang(r),
		"languages": languages,
	})
}

// Get handles GET /api/locales/{lang}
func (h *LocaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	lang := pathParam(r, "lang")
	if !h.localizer.catalog.Supports(lang) {
		http.Error(w, "Unsupported locale", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":     lang,
		"messages": h.localizer.catalog.Table(lang),
	})
}

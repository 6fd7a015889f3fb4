package assistant

import (
	"senteros-chat/internal/kv"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/logic"
)

// MemorySource renders remembered facts about a user for the prompt
type MemorySource interface {
	Context(owner, lang string) string
}

// ProfileContext builds the per-user prompt section from the profile fields
// cached in the key-value store, plus remembered facts when enabled.
type ProfileContext struct {
	store   *kv.Store
	catalog *locale.Catalog
	memory  MemorySource
}

// NewProfileContext creates a context source. memory may be nil.
func NewProfileContext(store *kv.Store, catalog *locale.Catalog, memory MemorySource) *ProfileContext {
	return &ProfileContext{store: store, catalog: catalog, memory: memory}
}

// Locale implements LocaleSource
func (p *ProfileContext) Locale(owner string) string {
	return p.catalog.Match(p.store.GetDefault(owner, kv.KeyLocale, ""))
}

// PromptContext implements ContextSource
func (p *ProfileContext) PromptContext(owner string) string {
	lang := p.Locale(owner)

	profile := logic.FormatProfileContext(logic.ProfileLabels{
		Header:   p.catalog.Text(lang, locale.ProfileHeader),
		Username: p.catalog.Text(lang, locale.ProfileUsername),
		Bio:      p.catalog.Text(lang, locale.ProfileBio),
	}, p.store.GetDefault(owner, kv.KeyUsername, ""), p.store.GetDefault(owner, kv.KeyBio, ""))

	var remembered string
	if p.memory != nil {
		remembered = p.memory.Context(owner, lang)
	}
	return logic.JoinSections(profile, remembered)
}

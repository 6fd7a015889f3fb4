// Package locale holds the UI and notification text tables and picks the
// language a request should be answered in.
package locale

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Default is the language used when nothing better matches
const Default = "ru"

// fallback fills keys a table does not translate
const fallback = "en"

// Message keys
const (
	ErrorTitle       = "error_title"
	FailedResponse   = "failed_response"
	FailedHistory    = "failed_history"
	FailedChats      = "failed_chats"
	FailedDelete     = "failed_delete"
	FailedRename     = "failed_rename"
	RequestLimit     = "request_limit"
	AttachmentLimit  = "attachment_limit"
	AttachmentType   = "attachment_type"
	AttachmentSize   = "attachment_size"
	NotAuthenticated = "not_authenticated"
	Busy             = "busy"
	ChatDeleted      = "chat_deleted"
	ChatRenamed      = "chat_renamed"
	NewChat          = "new_chat"
	ImageChat        = "image_chat"
	Offline          = "offline"
	MemoryHeader     = "memory_header"
	MemoryPersonal   = "memory_personal"
	MemoryPreference = "memory_preference"
	MemoryFact       = "memory_fact"
	MemoryContext    = "memory_context"
	ProfileHeader    = "profile_header"
	ProfileUsername  = "profile_username"
	ProfileBio       = "profile_bio"
)

//go:embed locales/*.yaml
var files embed.FS

type table struct {
	Name     string            `yaml:"name"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog is the set of loaded language tables
type Catalog struct {
	tables  map[string]table
	codes   []string
	tags    []language.Tag
	matcher language.Matcher
}

// Load reads the embedded tables
func Load() (*Catalog, error) {
	entries, err := files.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	c := &Catalog{tables: make(map[string]table)}
	for _, entry := range entries {
		code := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		data, err := files.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, err
		}
		var t table
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("locale %s: %w", code, err)
		}
		c.tables[code] = t
	}
	if _, ok := c.tables[Default]; !ok {
		return nil, fmt.Errorf("locale %s: table missing", Default)
	}
	if _, ok := c.tables[fallback]; !ok {
		return nil, fmt.Errorf("locale %s: table missing", fallback)
	}

	// The matcher treats the first tag as the default
	c.codes = append(c.codes, Default)
	for code := range c.tables {
		if code != Default {
			c.codes = append(c.codes, code)
		}
	}
	sort.Strings(c.codes[1:])
	for _, code := range c.codes {
		c.tags = append(c.tags, language.Make(code))
	}
	c.matcher = language.NewMatcher(c.tags)

	return c, nil
}

// MustLoad is Load for package initialization and tests
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Languages lists the supported language codes, default first
func (c *Catalog) Languages() []string {
	return append([]string(nil), c.codes...)
}

// Name returns the self-name of a language
func (c *Catalog) Name(code string) string {
	return c.tables[code].Name
}

// Supports reports whether code has its own table
func (c *Catalog) Supports(code string) bool {
	_, ok := c.tables[code]
	return ok
}

// Match picks the best supported language for the given preferences.
// Empty or unparseable preferences are skipped.
func (c *Catalog) Match(prefs ...string) string {
	var tags []language.Tag
	for _, p := range prefs {
		if p == "" {
			continue
		}
		tag, err := language.Parse(p)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return Default
	}
	_, index, confidence := c.matcher.Match(tags...)
	if confidence == language.No {
		return Default
	}
	return c.codes[index]
}

// MatchAcceptLanguage picks a language from an Accept-Language header
func (c *Catalog) MatchAcceptLanguage(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return Default
	}
	_, index, confidence := c.matcher.Match(tags...)
	if confidence == language.No {
		return Default
	}
	return c.codes[index]
}

// Text returns the message for key, falling back to English and then the key itself
func (c *Catalog) Text(lang, key string) string {
	if t, ok := c.tables[lang]; ok {
		if s, ok := t.Messages[key]; ok {
			return s
		}
	}
	if s, ok := c.tables[fallback].Messages[key]; ok {
		return s
	}
	return key
}

// Format renders a message with arguments using the language's number formatting
func (c *Catalog) Format(lang, key string, args ...any) string {
	tag := language.Make(lang)
	if !c.Supports(lang) {
		tag = language.Make(Default)
	}
	return message.NewPrinter(tag).Sprintf(c.Text(lang, key), args...)
}

// Table returns every message for lang with English filling the gaps
func (c *Catalog) Table(lang string) map[string]string {
	out := make(map[string]string, len(c.tables[fallback].Messages))
	for k, v := range c.tables[fallback].Messages {
		out[k] = v
	}
	for k, v := range c.tables[lang].Messages {
		out[k] = v
	}
	return out
}

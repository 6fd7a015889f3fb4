// Package memory keeps short facts a user disclosed about themselves.
// Candidates come from pattern matching user messages; confirmed items live
// in the key-value store under the "memory" key.
package memory

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"senteros-chat/internal/kv"
	"senteros-chat/internal/locale"
)

// Category groups memory items in the prompt
type Category string

const (
	CategoryPersonal   Category = "personal"
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryContext    Category = "context"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryPersonal, CategoryPreference, CategoryFact, CategoryContext:
		return true
	}
	return false
}

// Importance decides which items survive eviction
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

func (i Importance) rank() int {
	switch i {
	case ImportanceHigh:
		return 3
	case ImportanceMedium:
		return 2
	case ImportanceLow:
		return 1
	}
	return 0
}

// Valid reports whether i is a known importance
func (i Importance) Valid() bool {
	return i.rank() > 0
}

const (
	// MaxItems is the most items an owner can hold
	MaxItems = 100
	// KeepItems is how many survive when MaxItems is exceeded
	KeepItems = 80
)

var (
	// ErrEmptyContent is returned when an item has no text
	ErrEmptyContent = errors.New("memory content is empty")
	// ErrNotFound is returned by Remove for an unknown id
	ErrNotFound = errors.New("memory item not found")
)

// Item is a confirmed memory
type Item struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Category   Category   `json:"category"`
	Importance Importance `json:"importance"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store persists memory items per owner
type Store struct {
	kv      *kv.Store
	catalog *locale.Catalog
	now     func() time.Time
}

// NewStore creates a memory store over kv
func NewStore(store *kv.Store, catalog *locale.Catalog) *Store {
	return &Store{kv: store, catalog: catalog, now: time.Now}
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// List returns the owner's items. A missing or unreadable list is empty.
func (s *Store) List(owner string) ([]Item, error) {
	items := []Item{}
	if _, err := s.kv.GetJSON(owner, kv.KeyMemory, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Commit stores an accepted suggestion
func (s *Store) Commit(owner string, suggestion Suggestion) (Item, bool, error) {
	return s.Add(owner, suggestion.Content, suggestion.Category, suggestion.Importance)
}

// Add appends an item unless one with the same content exists.
// added is false for a duplicate, in which case the existing item is returned.
func (s *Store) Add(owner, content string, category Category, importance Importance) (item Item, added bool, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Item{}, false, ErrEmptyContent
	}
	if !category.Valid() {
		category = CategoryFact
	}
	if !importance.Valid() {
		importance = ImportanceMedium
	}

	log.Printf("[Memory] Add started owner=%s category=%s importance=%s", owner, category, importance)

	err = s.kv.Update(owner, kv.KeyMemory, func(old string, ok bool) (string, bool, error) {
		items := decode(owner, old, ok)
		for _, existing := range items {
			if existing.Content == content {
				item = existing
				return old, ok, nil
			}
		}

		item = Item{
			ID:         uuid.NewString(),
			Content:    content,
			Category:   category,
			Importance: importance,
			CreatedAt:  s.now(),
		}
		added = true
		items = evict(append(items, item))

		data, err := json.Marshal(items)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	if err != nil {
		log.Printf("[Memory] Add failed owner=%s err=%v", owner, err)
		return Item{}, false, err
	}

	log.Printf("[Memory] Add completed owner=%s id=%s added=%t", owner, item.ID, added)
	return item, added, nil
}

// Remove deletes the item with id
func (s *Store) Remove(owner, id string) error {
	removed := false
	err := s.kv.Update(owner, kv.KeyMemory, func(old string, ok bool) (string, bool, error) {
		items := decode(owner, old, ok)
		kept := items[:0]
		for _, it := range items {
			if it.ID == id {
				removed = true
				continue
			}
			kept = append(kept, it)
		}
		if !removed {
			return old, ok, nil
		}
		data, err := json.Marshal(kept)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	log.Printf("[Memory] Removed item owner=%s id=%s", owner, id)
	return nil
}

// Clear deletes every item of owner
func (s *Store) Clear(owner string) error {
	log.Printf("[Memory] Clear owner=%s", owner)
	return s.kv.Delete(owner, kv.KeyMemory)
}

// Context renders the owner's items as a prompt section grouped by category.
// It returns "" when there is nothing to say.
func (s *Store) Context(owner, lang string) string {
	items, err := s.List(owner)
	if err != nil {
		log.Printf("[Memory] Context failed owner=%s err=%v", owner, err)
		return ""
	}
	if len(items) == 0 {
		return ""
	}

	grouped := make(map[Category][]string)
	for _, it := range items {
		grouped[it.Category] = append(grouped[it.Category], it.Content)
	}

	sections := []struct {
		category Category
		key      string
	}{
		{CategoryPersonal, locale.MemoryPersonal},
		{CategoryPreference, locale.MemoryPreference},
		{CategoryFact, locale.MemoryFact},
		{CategoryContext, locale.MemoryContext},
	}

	lines := []string{s.catalog.Text(lang, locale.MemoryHeader)}
	for _, sec := range sections {
		if contents := grouped[sec.category]; len(contents) > 0 {
			lines = append(lines, s.catalog.Text(lang, sec.key)+": "+strings.Join(contents, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

func decode(owner, raw string, ok bool) []Item {
	var items []Item
	if !ok || raw == "" {
		return items
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Printf("[Memory] Discarding unreadable memory list owner=%s err=%v", owner, err)
		return nil
	}
	return items
}

// evict trims to KeepItems by importance then recency once MaxItems is exceeded
func evict(items []Item) []Item {
	if len(items) <= MaxItems {
		return items
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Importance.rank(), items[j].Importance.rank()
		if ri != rj {
			return ri > rj
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items[:KeepItems]
}

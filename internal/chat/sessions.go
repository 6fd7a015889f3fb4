package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"senteros-chat/internal/animate"
	"senteros-chat/internal/db"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/memory"
	"senteros-chat/internal/models"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultTitleTimeout = 30 * time.Second
)

// Config wires a Sessions manager
type Config struct {
	Store     Store
	Completer Completer
	// Attachments may be nil when uploads are disabled
	Attachments Preparer
	Publisher   Publisher
	Catalog     *locale.Catalog
	Locales     LocaleSource
	Animator    *animate.Animator

	Memory          bool
	MemoryThreshold float64

	IdleTimeout  time.Duration
	TitleTimeout time.Duration
}

// Sessions keeps one Session per owner
type Sessions struct {
	store           Store
	completer       Completer
	attachments     Preparer
	publisher       Publisher
	catalog         *locale.Catalog
	locales         LocaleSource
	animator        *animate.Animator
	memoryEnabled   bool
	memoryThreshold float64
	idleTimeout     time.Duration
	titleTimeout    time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

// NewSessions creates the manager
func NewSessions(cfg Config) *Sessions {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Sessions{
		store:           cfg.Store,
		completer:       cfg.Completer,
		attachments:     cfg.Attachments,
		publisher:       cfg.Publisher,
		catalog:         cfg.Catalog,
		locales:         cfg.Locales,
		animator:        cfg.Animator,
		memoryEnabled:   cfg.Memory,
		memoryThreshold: cfg.MemoryThreshold,
		idleTimeout:     cfg.IdleTimeout,
		titleTimeout:    cfg.TitleTimeout,
		sessions:        make(map[string]*Session),
		ctx:             ctx,
		cancel:          cancel,
	}
	if m.publisher == nil {
		m.publisher = nopPublisher{}
	}
	if m.catalog == nil {
		m.catalog = locale.MustLoad()
	}
	if m.animator == nil {
		m.animator = animate.New(animate.DefaultOptions())
	}
	if m.memoryThreshold <= 0 {
		m.memoryThreshold = memory.DefaultThreshold
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = DefaultIdleTimeout
	}
	if m.titleTimeout <= 0 {
		m.titleTimeout = DefaultTitleTimeout
	}
	return m
}

// Get returns the owner's session, creating it on first use
func (m *Sessions) Get(owner string) (*Session, error) {
	if owner == "" {
		return nil, db.ErrNotAuthenticated
	}

	m.mu.RLock()
	s, ok := m.sessions[owner]
	m.mu.RUnlock()
	if ok {
		s.touch()
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[owner]; ok {
		return s, nil
	}
	s = newSession(owner, m)
	m.sessions[owner] = s
	log.Printf("[Chat] Session created owner=%s total=%d", owner, len(m.sessions))
	return s, nil
}

// Count returns the number of live sessions
func (m *Sessions) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start sweeps idle sessions every interval until Shutdown
func (m *Sessions) Start(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case now := <-ticker.C:
				m.Sweep(now)
			}
		}
	}()
}

// Sweep drops sessions idle since before now minus the idle timeout.
// Sessions with a submit, a reveal or an attached stream are kept.
func (m *Sessions) Sweep(now time.Time) int {
	cutoff := now.Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Session
	for owner, s := range m.sessions {
		last, active := s.idleSince()
		if active || last.After(cutoff) {
			continue
		}
		idle = append(idle, s)
		delete(m.sessions, owner)
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
	}
	if len(idle) > 0 {
		log.Printf("[Chat] Swept idle sessions count=%d", len(idle))
	}
	return len(idle)
}

// Shutdown stops the sweeper, cancels reveals and waits for title requests
func (m *Sessions) Shutdown() {
	log.Println("[Chat] Shutting down sessions")
	m.cancel()

	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	m.wg.Wait()
	log.Printf("[Chat] Sessions shut down count=%d", len(all))
}

func (m *Sessions) text(owner, key string, args ...any) string {
	lang := locale.Default
	if m.locales != nil {
		lang = m.locales.Locale(owner)
	}
	if len(args) > 0 {
		return m.catalog.Format(lang, key, args...)
	}
	return m.catalog.Text(lang, key)
}

// generateTitle asks for a better title in the background. Failures are logged only.
func (m *Sessions) generateTitle(owner, conversationID string, turns []models.Turn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, m.titleTimeout)
		defer cancel()

		title := m.completer.GenerateTitle(ctx, turns)
		if title == "" {
			log.Printf("[Chat] Keeping provisional title owner=%s conversation_id=%s", owner, conversationID)
			return
		}
		if err := m.store.RenameConversation(owner, conversationID, title); err != nil {
			log.Printf("[Chat] Failed to store generated title owner=%s conversation_id=%s err=%v", owner, conversationID, err)
			return
		}
		m.publisher.Publish(owner, EventTitle, map[string]any{"conversation_id": conversationID, "title": title})
		log.Printf("[Chat] Title generated owner=%s conversation_id=%s title=%q", owner, conversationID, title)
	}()
}

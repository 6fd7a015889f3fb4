package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"senteros-chat/internal/animate"
	"senteros-chat/internal/models"
)

type published struct {
	Owner string
	Type  string
	Data  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	notify chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notify: make(chan struct{}, 1)}
}

func (p *recordingPublisher) Publish(owner, eventType string, data any) {
	p.mu.Lock()
	p.events = append(p.events, published{Owner: owner, Type: eventType, Data: data})
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *recordingPublisher) ofType(eventType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// waitFor blocks until an event of eventType has been published
func (p *recordingPublisher) waitFor(t *testing.T, eventType string) published {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if events := p.ofType(eventType); len(events) > 0 {
			return events[len(events)-1]
		}
		select {
		case <-p.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", eventType)
		}
	}
}

func (p *recordingPublisher) chunks() string {
	var b strings.Builder
	for _, e := range p.ofType(EventChunk) {
		b.WriteString(e.Data.(map[string]any)["chunk"].(string))
	}
	return b.String()
}

// stubCompleter answers from a function and can hold replies until released
type stubCompleter struct {
	mu         sync.Mutex
	calls      [][]models.Turn
	titleCalls int
	reply      func(turns []models.Turn) (models.Turn, error)
	title      string
	hold       chan struct{}
	called     chan struct{}
}

func newStubCompleter(content string) *stubCompleter {
	return &stubCompleter{
		reply: func([]models.Turn) (models.Turn, error) {
			return models.Turn{Role: models.RoleAssistant, Content: content}, nil
		},
		called: make(chan struct{}, 8),
	}
}

func (c *stubCompleter) Complete(ctx context.Context, owner string, turns []models.Turn) (models.Turn, error) {
	c.mu.Lock()
	c.calls = append(c.calls, turns)
	hold := c.hold
	c.mu.Unlock()

	c.called <- struct{}{}
	if hold != nil {
		<-hold
	}
	return c.reply(turns)
}

func (c *stubCompleter) GenerateTitle(ctx context.Context, turns []models.Turn) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titleCalls++
	return c.title
}

func (c *stubCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *stubCompleter) titleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titleCalls
}

func (c *stubCompleter) waitCalled(t *testing.T) {
	t.Helper()
	select {
	case <-c.called:
	case <-time.After(3 * time.Second):
		t.Fatal("completer was not called")
	}
}

var errRemote = errors.New("remote exploded")

func instantAnimator() *animate.Animator {
	return animate.New(animate.Options{MinChunk: 1, MaxChunk: 3})
}

func slowAnimator() *animate.Animator {
	return animate.New(animate.Options{
		MinChunk:     1,
		MaxChunk:     1,
		MinDelay:     time.Hour,
		MaxDelay:     time.Hour,
		InitialDelay: time.Hour,
	})
}

// gatedStore blocks the selected writes until released
type gatedStore struct {
	Store
	createGate chan struct{}
	replyGate  chan struct{}
	entered    chan struct{}
}

func newGatedStore(inner Store) *gatedStore {
	return &gatedStore{Store: inner, entered: make(chan struct{}, 4)}
}

func (g *gatedStore) CreateConversation(owner, title string, firstTurn models.Turn) (*models.Conversation, *models.Turn, error) {
	if g.createGate != nil {
		g.entered <- struct{}{}
		<-g.createGate
	}
	return g.Store.CreateConversation(owner, title, firstTurn)
}

func (g *gatedStore) AppendTurn(owner, conversationID string, turn models.Turn) (*models.Turn, error) {
	if g.replyGate != nil && turn.Role == models.RoleAssistant {
		g.entered <- struct{}{}
		<-g.replyGate
	}
	return g.Store.AppendTurn(owner, conversationID, turn)
}

func (g *gatedStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("store write was not reached")
	}
}

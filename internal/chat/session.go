// Package chat runs the submit flow for each signed-in user: it keeps the
// session state, persists turns, asks for completions and drives the
// animated reveal of replies.
package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"senteros-chat/internal/animate"
	"senteros-chat/internal/attachment"
	"senteros-chat/internal/db"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/logic"
	"senteros-chat/internal/memory"
	"senteros-chat/internal/models"
)

// Event types published to a session's subscribers
const (
	EventState            = "state"
	EventChunk            = "chunk"
	EventRevealDone       = "reveal_done"
	EventNotification     = "notification"
	EventConversation     = "conversation"
	EventTitle            = "title"
	EventDeleted          = "conversation_deleted"
	EventMemorySuggestion = "memory_suggestion"
)

var (
	// ErrBusy is returned when a submit is already outstanding
	ErrBusy = errors.New("a reply is already being generated")
	// ErrAttachmentsDisabled is returned for uploads when no pipeline is configured
	ErrAttachmentsDisabled = errors.New("attachments are disabled")
	// ErrEmptyTitle is returned by Rename for a blank title
	ErrEmptyTitle = errors.New("title is empty")
)

// Store is the conversation persistence the session needs
type Store interface {
	CreateConversation(owner, title string, firstTurn models.Turn) (*models.Conversation, *models.Turn, error)
	GetConversation(owner, id string) (*models.Conversation, error)
	AppendTurn(owner, conversationID string, turn models.Turn) (*models.Turn, error)
	RenameConversation(owner, id, title string) error
	DeleteConversation(owner, id string) error
	ListTurns(owner, conversationID string) ([]models.Turn, error)
}

// Completer produces assistant turns and titles
type Completer interface {
	Complete(ctx context.Context, owner string, turns []models.Turn) (models.Turn, error)
	GenerateTitle(ctx context.Context, turns []models.Turn) string
}

// Preparer turns an uploaded file into a stored reference
type Preparer interface {
	Prepare(filename string, r io.Reader) (attachment.Reference, error)
}

// Publisher delivers events to an owner's connected clients
type Publisher interface {
	Publish(owner, eventType string, data any)
}

// LocaleSource reports an owner's language
type LocaleSource interface {
	Locale(owner string) string
}

// Upload is a file attached to a submit
type Upload struct {
	Filename string
	Data     io.Reader
}

// Notification is a user-facing message
type Notification struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Status is the outcome of a submit
type Status string

const (
	StatusIgnored   Status = "ignored"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Result describes what a submit did
type Result struct {
	Status         Status       `json:"status"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Created        bool         `json:"created"`
	UserTurn       *models.Turn `json:"user_turn,omitempty"`
	AssistantTurn  *models.Turn `json:"assistant_turn,omitempty"`
}

// Session is one owner's chat
type Session struct {
	owner    string
	state    *State
	sessions *Sessions

	mu         sync.Mutex
	generation uint64
	stopped    uint64
	busy       uint64
	// epoch changes whenever the state is replaced by NewChat or Open
	epoch      uint64
	revealID   uint64
	reveal     *animate.Run
	lastActive time.Time
	// attached counts connected event streams
	attached int
}

func newSession(owner string, sessions *Sessions) *Session {
	return &Session{
		owner:      owner,
		state:      NewState(),
		sessions:   sessions,
		lastActive: time.Now(),
	}
}

// Owner returns the session's user id
func (s *Session) Owner() string {
	return s.owner
}

// Snapshot returns the current state
func (s *Session) Snapshot() Snapshot {
	return s.state.Snapshot()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.busy != 0 || s.attached > 0 || revealRunning(s.reveal)
}

// Attach marks a connected event stream; the session is not swept while
// any stream is attached. Each Attach needs a matching Detach.
func (s *Session) Attach() {
	s.mu.Lock()
	s.attached++
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Detach releases a stream registered with Attach
func (s *Session) Detach() {
	s.mu.Lock()
	if s.attached > 0 {
		s.attached--
	}
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func revealRunning(run *animate.Run) bool {
	if run == nil {
		return false
	}
	select {
	case <-run.Done():
		return false
	default:
		return true
	}
}

func (s *Session) publish(eventType string, data any) {
	s.sessions.publisher.Publish(s.owner, eventType, data)
}

func (s *Session) publishState() {
	s.publish(EventState, s.state.Snapshot())
}

func (s *Session) notifyError(key string, args ...any) {
	s.publish(EventNotification, Notification{
		Level:   "error",
		Title:   s.sessions.text(s.owner, locale.ErrorTitle),
		Message: s.sessions.text(s.owner, key, args...),
	})
}

// begin starts a new generation, cancelling any reveal in progress.
// It returns the generation and the state epoch it started in.
func (s *Session) begin() (uint64, uint64, error) {
	s.mu.Lock()
	if s.busy != 0 {
		s.mu.Unlock()
		return 0, 0, ErrBusy
	}
	s.generation++
	gen, epoch := s.generation, s.epoch
	s.busy = gen
	s.lastActive = time.Now()
	run := s.detachRevealLocked()
	s.state.MarkAnimating(-1)
	s.mu.Unlock()

	if run != nil {
		run.Cancel()
	}
	return gen, epoch, nil
}

// finish releases the busy marker if gen still holds it
func (s *Session) finish(gen uint64) {
	s.mu.Lock()
	if s.busy == gen {
		s.busy = 0
	}
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// live runs fn under the session lock unless gen was stopped
func (s *Session) live(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped >= gen {
		return false
	}
	fn()
	return true
}

// settle runs fn under the session lock when the state still belongs to epoch,
// stopped or not, and reports whether gen was stopped
func (s *Session) settle(gen, epoch uint64, fn func()) (applied, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		fn()
		applied = true
	}
	return applied, s.stopped >= gen
}

// replaceState stops outstanding work and starts a new state epoch
func (s *Session) replaceState() {
	s.Stop()
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()
}

func (s *Session) detachRevealLocked() *animate.Run {
	run := s.reveal
	s.reveal = nil
	s.revealID++
	return run
}

// Submit appends a user turn, persists it, asks for a reply and starts its reveal.
// Blank text without an upload does nothing. Non-blank content is stored as given.
func (s *Session) Submit(ctx context.Context, content string, upload *Upload) (*Result, error) {
	text := strings.TrimSpace(content)
	if text == "" && upload == nil {
		return &Result{Status: StatusIgnored}, nil
	}
	if text == "" {
		content = ""
	}
	if upload != nil && s.sessions.attachments == nil {
		return nil, ErrAttachmentsDisabled
	}

	gen, epoch, err := s.begin()
	if err != nil {
		log.Printf("[Chat] Submit rejected: busy owner=%s", s.owner)
		return nil, err
	}
	defer s.finish(gen)

	log.Printf("[Chat] Submit started owner=%s generation=%d attachment=%t", s.owner, gen, upload != nil)

	user := models.Turn{Role: models.RoleUser, Content: content, CreatedAt: time.Now().UTC()}
	userIndex := s.state.Append(user)
	s.state.SetFlags(Flags{Generating: true, Thinking: true})
	s.publishState()

	if s.sessions.memoryEnabled && text != "" {
		if suggestions := memory.Surface(memory.Analyze(text), s.sessions.memoryThreshold); len(suggestions) > 0 {
			s.publish(EventMemorySuggestion, map[string]any{"suggestions": suggestions})
		}
	}

	if upload != nil {
		ref, err := s.sessions.attachments.Prepare(upload.Filename, upload.Data)
		if err != nil {
			key, args := locale.FailedResponse, []any(nil)
			var verr *attachment.ValidationError
			if errors.As(err, &verr) {
				key = verr.MessageKey()
				if verr.Constraint == attachment.ConstraintSize {
					args = []any{verr.Limit >> 20}
				}
			}
			log.Printf("[Chat] Submit failed: attachment owner=%s err=%v", s.owner, err)
			return s.fail(gen, err, key, args...)
		}
		user.ImageURL = ref.URL
		s.state.SetTurnImage(userIndex, ref.URL)
	}

	conversationID := s.state.ConversationID()
	created := false
	var conversation *models.Conversation
	var saved *models.Turn
	if conversationID == "" {
		conversation, saved, err = s.sessions.store.CreateConversation(s.owner, s.provisionalTitle(text), user)
		if err == nil {
			created = true
			conversationID = conversation.ID
		}
	} else {
		saved, err = s.sessions.store.AppendTurn(s.owner, conversationID, user)
	}
	if err != nil {
		log.Printf("[Chat] Submit failed: persist user turn owner=%s err=%v", s.owner, err)
		return s.fail(gen, err, locale.FailedResponse)
	}

	// The rows exist now, so the state follows them even when stopped;
	// otherwise the next submit would start a second conversation.
	applied, stopped := s.settle(gen, epoch, func() {
		s.state.SetTurn(userIndex, *saved)
		if created {
			s.state.SetConversation(conversationID)
		}
	})
	if created {
		s.publish(EventConversation, conversation)
	}
	if stopped {
		if applied {
			s.publishState()
		}
		return s.stoppedResult(gen, conversationID, created, saved, nil)
	}

	turns := s.state.Snapshot().Turns
	// The remote call outlives both the stop signal and the caller's connection
	reply, err := s.sessions.completer.Complete(context.WithoutCancel(ctx), s.owner, turns)
	if err != nil {
		if s.isStopped(gen) {
			return s.stoppedResult(gen, conversationID, created, saved, nil)
		}
		log.Printf("[Chat] Submit failed: completion owner=%s err=%v", s.owner, err)
		return s.fail(gen, err, locale.FailedResponse)
	}
	if s.isStopped(gen) {
		return s.stoppedResult(gen, conversationID, created, saved, &reply)
	}

	// Persisting under the session lock keeps a concurrent Stop from
	// landing between the write and the state update
	var stored *models.Turn
	var assistantIndex int
	var revealID uint64
	if !s.live(gen, func() {
		stored, err = s.sessions.store.AppendTurn(s.owner, conversationID, reply)
		if err != nil {
			return
		}
		assistantIndex = s.state.Append(*stored)
		s.state.MarkAnimating(assistantIndex)
		s.state.SetFlags(Flags{Animating: true})
		s.revealID++
		revealID = s.revealID
	}) {
		return s.stoppedResult(gen, conversationID, created, saved, &reply)
	}
	if err != nil {
		log.Printf("[Chat] Submit failed: persist assistant turn owner=%s err=%v", s.owner, err)
		return s.fail(gen, err, locale.FailedResponse)
	}
	s.publishState()
	s.startReveal(revealID, assistantIndex, stored.Content)

	if created {
		s.sessions.generateTitle(s.owner, conversationID, append(turns, *stored))
	}

	log.Printf("[Chat] Submit completed owner=%s conversation_id=%s created=%t", s.owner, conversationID, created)
	return &Result{
		Status:         StatusCompleted,
		ConversationID: conversationID,
		Created:        created,
		UserTurn:       saved,
		AssistantTurn:  stored,
	}, nil
}

// provisionalTitle names a new conversation after its first message, or
// after its image when there is no text
func (s *Session) provisionalTitle(text string) string {
	if text == "" {
		return s.sessions.text(s.owner, locale.ImageChat)
	}
	return logic.ProvisionalTitle(text)
}

func (s *Session) isStopped(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped >= gen
}

func (s *Session) stoppedResult(gen uint64, conversationID string, created bool, user, discarded *models.Turn) (*Result, error) {
	if discarded != nil {
		log.Printf("[Chat] Discarding late reply owner=%s generation=%d", s.owner, gen)
	}
	return &Result{Status: StatusStopped, ConversationID: conversationID, Created: created, UserTurn: user}, nil
}

// fail clears the flags and notifies, unless the submit was stopped meanwhile
func (s *Session) fail(gen uint64, err error, key string, args ...any) (*Result, error) {
	if !s.live(gen, func() {
		s.state.SetFlags(Flags{})
	}) {
		return &Result{Status: StatusStopped}, nil
	}
	s.publishState()
	s.notifyError(key, args...)
	return &Result{Status: StatusFailed}, err
}

func (s *Session) startReveal(id uint64, index int, content string) {
	onChunk := func(chunk string) {
		if s.revealing(id) {
			s.publish(EventChunk, map[string]any{"index": index, "chunk": chunk})
		}
	}
	onDone := func() {
		s.mu.Lock()
		if s.revealID != id {
			s.mu.Unlock()
			return
		}
		s.reveal = nil
		s.state.MarkAnimating(-1)
		s.mu.Unlock()

		s.publish(EventRevealDone, map[string]any{"index": index})
		s.publishState()
	}

	run := s.sessions.animator.Reveal(content, onChunk, onDone)

	s.mu.Lock()
	if s.revealID == id {
		s.reveal = run
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// Superseded before it was registered
	run.Cancel()
}

func (s *Session) revealing(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealID == id
}

// Stop raises the stop signal: an outstanding reply is discarded when it
// arrives and a running reveal is cancelled. The network call itself continues.
func (s *Session) Stop() {
	s.mu.Lock()
	wasBusy := s.busy != 0
	s.stopped = s.generation
	s.busy = 0
	run := s.detachRevealLocked()
	s.state.MarkAnimating(-1)
	s.state.SetFlags(Flags{})
	s.lastActive = time.Now()
	s.mu.Unlock()

	if run != nil {
		run.Cancel()
	}
	log.Printf("[Chat] Stop owner=%s outstanding=%t", s.owner, wasBusy)
	s.publishState()
}

// NewChat forgets the active conversation
func (s *Session) NewChat() Snapshot {
	s.replaceState()
	s.state.Reset()
	snap := s.state.Snapshot()
	s.publish(EventState, snap)
	return snap
}

// Open loads a stored conversation into the session
func (s *Session) Open(conversationID string) (Snapshot, error) {
	s.replaceState()
	s.state.SetFlags(Flags{Loading: true})
	s.publishState()

	conv, err := s.sessions.store.GetConversation(s.owner, conversationID)
	var turns []models.Turn
	if err == nil {
		turns, err = s.sessions.store.ListTurns(s.owner, conv.ID)
	}
	if err != nil {
		log.Printf("[Chat] Open failed owner=%s conversation_id=%s err=%v", s.owner, conversationID, err)
		s.state.SetFlags(Flags{})
		s.publishState()
		s.notifyError(locale.FailedHistory)
		return Snapshot{}, err
	}

	s.state.Load(conv.ID, turns)
	s.state.SetFlags(Flags{})
	snap := s.state.Snapshot()
	s.publish(EventState, snap)
	log.Printf("[Chat] Open completed owner=%s conversation_id=%s turns=%d", s.owner, conv.ID, len(turns))
	return snap, nil
}

// Rename sets a conversation title
func (s *Session) Rename(conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if err := s.sessions.store.RenameConversation(s.owner, conversationID, title); err != nil {
		log.Printf("[Chat] Rename failed owner=%s conversation_id=%s err=%v", s.owner, conversationID, err)
		return err
	}
	s.publish(EventTitle, map[string]any{"conversation_id": conversationID, "title": title})
	return nil
}

// Delete removes a conversation; deleting the active one starts a new chat
func (s *Session) Delete(conversationID string) error {
	if err := s.sessions.store.DeleteConversation(s.owner, conversationID); err != nil {
		log.Printf("[Chat] Delete failed owner=%s conversation_id=%s err=%v", s.owner, conversationID, err)
		return err
	}
	if s.state.ConversationID() == conversationID {
		s.NewChat()
	}
	s.publish(EventDeleted, map[string]any{"conversation_id": conversationID})
	return nil
}

// close cancels background work before the session is dropped
func (s *Session) close() {
	s.mu.Lock()
	s.stopped = s.generation
	run := s.detachRevealLocked()
	s.mu.Unlock()
	if run != nil {
		run.Cancel()
	}
}

var _ Store = (*db.DB)(nil)

package chat

import (
	"sync"

	"senteros-chat/internal/models"
)

// Flags are the UI-facing progress markers of a session
type Flags struct {
	Loading    bool `json:"loading"`
	Generating bool `json:"generating"`
	Thinking   bool `json:"thinking"`
	Animating  bool `json:"animating"`
}

// Snapshot is a copy of the session state
type Snapshot struct {
	ConversationID string        `json:"conversation_id"`
	Turns          []models.Turn `json:"turns"`
	Flags
	// AnimateIndex is the turn being revealed, or -1
	AnimateIndex int `json:"animate_index"`
}

// State holds the turns and flags of the active conversation.
// It is a plain container; callers decide when to change what.
type State struct {
	mu             sync.Mutex
	conversationID string
	turns          []models.Turn
	flags          Flags
	animateIndex   int
}

// NewState creates an empty state
func NewState() *State {
	return &State{animateIndex: -1}
}

// Snapshot returns a copy safe to hand out
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]models.Turn, len(s.turns))
	copy(turns, s.turns)
	return Snapshot{
		ConversationID: s.conversationID,
		Turns:          turns,
		Flags:          s.flags,
		AnimateIndex:   s.animateIndex,
	}
}

// Reset clears everything for a new chat
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.turns = nil
	s.flags = Flags{}
	s.animateIndex = -1
}

// Load replaces the turns with a stored conversation
func (s *State) Load(conversationID string, turns []models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.turns = append([]models.Turn(nil), turns...)
	s.animateIndex = -1
	s.flags.Animating = false
}

// Append adds a turn and returns its index
func (s *State) Append(turn models.Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return len(s.turns) - 1
}

// Flags returns the current flags
func (s *State) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// SetFlags replaces the flags
func (s *State) SetFlags(f Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
}

// ConversationID returns the active conversation, or ""
func (s *State) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetConversation sets the active conversation
func (s *State) SetConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// SetTurn replaces the turn at index, e.g. with its persisted copy
func (s *State) SetTurn(index int, turn models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.turns) {
		s.turns[index] = turn
	}
}

// SetTurnImage attaches an image reference to the turn at index
func (s *State) SetTurnImage(index int, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.turns) {
		s.turns[index].ImageURL = url
	}
}

// MarkAnimating marks the turn at index for reveal; -1 clears the mark
func (s *State) MarkAnimating(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.turns) {
		index = -1
	}
	s.animateIndex = index
	s.flags.Animating = index >= 0
}

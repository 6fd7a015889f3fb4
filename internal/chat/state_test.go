package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"senteros-chat/internal/models"
)

func TestState_Lifecycle(t *testing.T) {
	s := NewState()

	snap := s.Snapshot()
	assert.Empty(t, snap.Turns)
	assert.Equal(t, -1, snap.AnimateIndex)

	i := s.Append(models.Turn{Role: models.RoleUser, Content: "hi"})
	j := s.Append(models.Turn{Role: models.RoleAssistant, Content: "hello"})
	assert.Equal(t, 0, i)
	assert.Equal(t, 1, j)

	s.SetConversation("c1")
	s.SetTurnImage(i, "/uploads/a.png")
	s.SetTurnImage(5, "ignored")
	s.MarkAnimating(j)
	s.SetFlags(Flags{Generating: true, Thinking: true, Animating: true})

	snap = s.Snapshot()
	assert.Equal(t, "c1", snap.ConversationID)
	assert.Equal(t, "/uploads/a.png", snap.Turns[0].ImageURL)
	assert.Equal(t, 1, snap.AnimateIndex)
	assert.True(t, snap.Generating)

	s.MarkAnimating(-1)
	assert.False(t, s.Flags().Animating)

	s.Reset()
	snap = s.Snapshot()
	assert.Equal(t, "", snap.ConversationID)
	assert.Empty(t, snap.Turns)
	assert.Equal(t, Flags{}, snap.Flags)
}

func TestState_SnapshotIsACopy(t *testing.T) {
	s := NewState()
	s.Append(models.Turn{Content: "original"})

	snap := s.Snapshot()
	snap.Turns[0].Content = "changed"

	assert.Equal(t, "original", s.Snapshot().Turns[0].Content)
}

func TestState_Load(t *testing.T) {
	s := NewState()
	s.Append(models.Turn{Content: "old"})
	s.MarkAnimating(0)

	s.Load("c2", []models.Turn{{Content: "a"}, {Content: "b"}})

	snap := s.Snapshot()
	assert.Equal(t, "c2", snap.ConversationID)
	assert.Len(t, snap.Turns, 2)
	assert.Equal(t, -1, snap.AnimateIndex)
	assert.False(t, snap.Animating)

	s.MarkAnimating(10)
	assert.Equal(t, -1, s.Snapshot().AnimateIndex)
}

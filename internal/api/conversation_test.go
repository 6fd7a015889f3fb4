package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senteros-chat/internal/chat"
	"senteros-chat/internal/models"
	"senteros-chat/internal/testutil"
)

func seedConversation(t *testing.T, env *testEnv, owner, title string) *models.Conversation {
	t.Helper()
	conv, _, err := env.db.CreateConversation(owner, title, models.Turn{
		Role:      models.RoleUser,
		Content:   "first message of " + title,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return conv
}

func TestConversationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	client, session := env.signUp(t, "conversations@example.com")
	owner := session.User.ID

	t.Run("List returns an empty array", func(t *testing.T) {
		resp, err := client.GET("/api/conversations")
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)
		testutil.AssertJSONContentType(t, resp)

		var result []models.Conversation
		require.NoError(t, testutil.ReadJSON(resp, &result))
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})

	recipes := seedConversation(t, env, owner, "Pasta recipes")
	travel := seedConversation(t, env, owner, "Travel plans for Kyoto")

	t.Run("List returns the owner's conversations", func(t *testing.T) {
		resp, err := client.GET("/api/conversations")
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var result []models.Conversation
		require.NoError(t, testutil.ReadJSON(resp, &result))
		assert.Len(t, result, 2)
	})

	t.Run("List filters by fuzzy title match", func(t *testing.T) {
		resp, err := client.GET("/api/conversations?q=Kyto")
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var result []models.Conversation
		require.NoError(t, testutil.ReadJSON(resp, &result))
		require.Len(t, result, 1)
		assert.Equal(t, travel.ID, result[0].ID)
	})

	t.Run("Get returns the conversation with turns", func(t *testing.T) {
		resp, err := client.GET("/api/conversations/" + recipes.ID)
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var detail struct {
			models.Conversation
			Turns []models.Turn `json:"turns"`
		}
		require.NoError(t, testutil.ReadJSON(resp, &detail))
		assert.Equal(t, "Pasta recipes", detail.Title)
		require.Len(t, detail.Turns, 1)
		assert.Equal(t, "first message of Pasta recipes", detail.Turns[0].Content)
	})

	t.Run("Turns returns the turns only", func(t *testing.T) {
		resp, err := client.GET("/api/conversations/" + recipes.ID + "/turns")
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var turns []models.Turn
		require.NoError(t, testutil.ReadJSON(resp, &turns))
		assert.Len(t, turns, 1)
	})

	t.Run("Get unknown conversation returns 404", func(t *testing.T) {
		resp, err := client.GET("/api/conversations/does-not-exist")
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusNotFound(t, resp)
	})

	t.Run("Rename updates the title", func(t *testing.T) {
		resp, err := client.PATCH("/api/conversations/"+recipes.ID, RenameRequest{Title: "  Italian dinner  "})
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var conv models.Conversation
		require.NoError(t, testutil.ReadJSON(resp, &conv))
		assert.Equal(t, "Italian dinner", conv.Title)
	})

	t.Run("Rename with blank title returns 400", func(t *testing.T) {
		resp, err := client.PATCH("/api/conversations/"+recipes.ID, RenameRequest{Title: "   "})
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusBadRequest(t, resp)
	})

	t.Run("Rename unknown conversation returns 404", func(t *testing.T) {
		resp, err := client.PATCH("/api/conversations/missing", RenameRequest{Title: "x"})
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusNotFound(t, resp)
	})

	t.Run("Delete removes the conversation", func(t *testing.T) {
		resp, err := client.DELETE("/api/conversations/" + travel.ID)
		require.NoError(t, err)
		resp.Body.Close()
		testutil.AssertStatusNoContent(t, resp)

		resp, err = client.GET("/api/conversations/" + travel.ID)
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusNotFound(t, resp)
	})

	t.Run("Delete unknown conversation returns 404", func(t *testing.T) {
		resp, err := client.DELETE("/api/conversations/" + travel.ID)
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusNotFound(t, resp)
	})
}

func TestConversations_IsolatedByOwner(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.signUp(t, "alice@example.com")
	bob, _ := env.signUp(t, "bob@example.com")

	conv := seedConversation(t, env, alice.User.ID, "Alice only")

	resp, err := bob.GET("/api/conversations")
	require.NoError(t, err)
	var result []models.Conversation
	require.NoError(t, testutil.ReadJSON(resp, &result))
	assert.Empty(t, result)

	resp, err = bob.GET("/api/conversations/" + conv.ID)
	require.NoError(t, err)
	resp.Body.Close()
	testutil.AssertStatusNotFound(t, resp)

	resp, err = bob.DELETE("/api/conversations/" + conv.ID)
	require.NoError(t, err)
	resp.Body.Close()
	testutil.AssertStatusNotFound(t, resp)

	_, err = env.db.GetConversation(alice.User.ID, conv.ID)
	assert.NoError(t, err)
}

func TestConversationDelete_ClearsOpenSession(t *testing.T) {
	env := newTestEnv(t)
	client, session := env.signUp(t, "open@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := client.ConnectSSE(ctx, "/api/session/events")
	require.NoError(t, err)
	defer conn.Close()

	conv := seedConversation(t, env, session.User.ID, "Soon gone")
	resp, err := client.POST("/api/session/open", OpenRequest{ConversationID: conv.ID})
	require.NoError(t, err)
	resp.Body.Close()
	testutil.AssertStatusOK(t, resp)

	resp, err = client.DELETE("/api/conversations/" + conv.ID)
	require.NoError(t, err)
	resp.Body.Close()
	testutil.AssertStatusNoContent(t, resp)

	var deleted struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, conn.WaitForJSON(chat.EventDeleted, 3*time.Second, &deleted))
	assert.Equal(t, conv.ID, deleted.ConversationID)

	resp, err = client.GET("/api/session")
	require.NoError(t, err)
	var snap chat.Snapshot
	require.NoError(t, testutil.ReadJSON(resp, &snap))
	assert.Empty(t, snap.ConversationID)
	assert.Empty(t, snap.Turns)
}

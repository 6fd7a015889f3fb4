package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senteros-chat/internal/assistant"
	"senteros-chat/internal/chat"
	"senteros-chat/internal/models"
	"senteros-chat/internal/testutil"
)

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	client, session := env.signUp(t, "session@example.com")

	var conversationID string

	t.Run("Get returns an empty session", func(t *testing.T) {
		resp, err := client.GET("/api/session")
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)
		testutil.AssertJSONContentType(t, resp)

		var snap chat.Snapshot
		require.NoError(t, testutil.ReadJSON(resp, &snap))
		assert.Empty(t, snap.Turns)
	})

	t.Run("Submit blank content is ignored", func(t *testing.T) {
		resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "   "})
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var result chat.Result
		require.NoError(t, testutil.ReadJSON(resp, &result))
		assert.Equal(t, chat.StatusIgnored, result.Status)
		assert.Empty(t, env.fake.ChatRequests())
	})

	t.Run("Submit creates a conversation", func(t *testing.T) {
		resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "Hello"})
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var result chat.Result
		require.NoError(t, testutil.ReadJSON(resp, &result))
		assert.Equal(t, chat.StatusCompleted, result.Status)
		assert.True(t, result.Created)
		require.NotNil(t, result.UserTurn)
		assert.Equal(t, "Hello", result.UserTurn.Content)
		conversationID = result.ConversationID
		assert.NotEmpty(t, conversationID)

		usage, err := env.quota.Usage(session.User.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, usage.Requests)
	})

	t.Run("New clears the session", func(t *testing.T) {
		resp, err := client.POST("/api/session/new", nil)
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var snap chat.Snapshot
		require.NoError(t, testutil.ReadJSON(resp, &snap))
		assert.Empty(t, snap.ConversationID)
		assert.Empty(t, snap.Turns)
	})

	t.Run("Open loads a stored conversation", func(t *testing.T) {
		resp, err := client.POST("/api/session/open", OpenRequest{ConversationID: conversationID})
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var snap chat.Snapshot
		require.NoError(t, testutil.ReadJSON(resp, &snap))
		assert.Equal(t, conversationID, snap.ConversationID)
		require.Len(t, snap.Turns, 2)
		assert.Equal(t, models.RoleUser, snap.Turns[0].Role)
		assert.Equal(t, models.RoleAssistant, snap.Turns[1].Role)
		assert.Equal(t, -1, snap.AnimateIndex)
	})

	t.Run("Open unknown conversation returns 404", func(t *testing.T) {
		resp, err := client.POST("/api/session/open", OpenRequest{ConversationID: "missing"})
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusNotFound(t, resp)
	})

	t.Run("Open without id returns 400", func(t *testing.T) {
		resp, err := client.POST("/api/session/open", OpenRequest{})
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusBadRequest(t, resp)
	})

	t.Run("Stop returns the snapshot", func(t *testing.T) {
		resp, err := client.POST("/api/session/stop", nil)
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var snap chat.Snapshot
		require.NoError(t, testutil.ReadJSON(resp, &snap))
		assert.False(t, snap.Generating)
		assert.False(t, snap.Thinking)
	})
}

func TestSubmit_RequiresSignIn(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.POST("/api/session/turns", SubmitRequest{Content: "Hello"})
	require.NoError(t, err)
	defer resp.Body.Close()
	testutil.AssertStatusUnauthorized(t, resp)
}

func TestSubmit_CompletionFailure(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "failure@example.com")
	env.fake.Enqueue(testutil.Reply{Status: http.StatusInternalServerError, Body: `{"error":{"message":"boom"}}`})

	resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "Hello"})
	require.NoError(t, err)
	testutil.AssertStatusCode(t, resp, http.StatusBadGateway)

	var body struct {
		Error  string      `json:"error"`
		Result chat.Result `json:"result"`
	}
	require.NoError(t, testutil.ReadJSON(resp, &body))
	assert.Equal(t, "Не удалось получить ответ", body.Error)
	assert.Equal(t, chat.StatusFailed, body.Result.Status)
}

func TestSubmit_LocalizedByAcceptLanguage(t *testing.T) {
	env := newTestEnv(t)
	_, session := env.signUp(t, "english@example.com")
	env.fake.Enqueue(testutil.Reply{Status: http.StatusInternalServerError, Body: `{"error":{"message":"boom"}}`})

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/session/turns",
		jsonBody(t, SubmitRequest{Content: "Hello"}))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, testutil.ReadJSON(resp, &body))
	assert.Equal(t, "Failed to get response", body["error"])
}

func TestSubmit_WithImage(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "image@example.com")

	resp, err := client.PostFile("/api/session/turns", "image", "photo.png", pngBytes(2048),
		map[string]string{"content": "What is this?"})
	require.NoError(t, err)
	testutil.AssertStatusOK(t, resp)

	var result chat.Result
	require.NoError(t, testutil.ReadJSON(resp, &result))
	require.NotNil(t, result.UserTurn)
	assert.Contains(t, result.UserTurn.ImageURL, "/uploads/")

	chats := env.fake.ChatRequests()
	require.Len(t, chats, 1)
	assert.Equal(t, assistant.DefaultVisionModel, chats[0].Model)
	last := chats[0].Messages[len(chats[0].Messages)-1]
	assert.True(t, last.HasImage)

	// The stored file is served back
	img, err := client.GET(result.UserTurn.ImageURL)
	require.NoError(t, err)
	defer img.Body.Close()
	testutil.AssertStatusOK(t, img)
	assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
}

func TestSubmit_RejectsNonImage(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "text@example.com")

	resp, err := client.PostFile("/api/session/turns", "image", "notes.txt", []byte("plain text"),
		map[string]string{"content": "Look"})
	require.NoError(t, err)
	testutil.AssertStatusBadRequest(t, resp)

	var body map[string]string
	require.NoError(t, testutil.ReadJSON(resp, &body))
	assert.Equal(t, "Файл должен быть изображением", body["error"])
	assert.Empty(t, env.fake.ChatRequests())
}

func TestSubmit_ImageTooLarge(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "large@example.com")

	resp, err := client.PostFile("/api/session/turns", "image", "huge.png", pngBytes(1<<20+128<<10), nil)
	require.NoError(t, err)
	testutil.AssertStatusCode(t, resp, http.StatusRequestEntityTooLarge)

	var body map[string]string
	require.NoError(t, testutil.ReadJSON(resp, &body))
	assert.Equal(t, "Размер файла не должен превышать 1 МБ", body["error"])
}

func TestSubmit_AttachmentsDisabled(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Attachments = nil })
	client, _ := env.signUp(t, "disabled@example.com")

	resp, err := client.PostFile("/api/session/turns", "image", "photo.png", pngBytes(128), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	testutil.AssertStatusBadRequest(t, resp)
}

func TestSubmit_BusyWhileGenerating(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "busy@example.com")

	release := make(chan struct{})
	env.fake.Enqueue(testutil.Reply{Status: http.StatusOK, Content: "slow", Wait: release})

	first := make(chan *http.Response, 1)
	go func() {
		resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "first"})
		if err == nil {
			first <- resp
		}
		close(first)
	}()

	require.Eventually(t, func() bool {
		return len(env.fake.ChatRequests()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "second"})
	require.NoError(t, err)
	testutil.AssertStatusCode(t, resp, http.StatusConflict)
	var body map[string]string
	require.NoError(t, testutil.ReadJSON(resp, &body))
	assert.Equal(t, "Ответ ещё генерируется", body["error"])

	close(release)
	resp, ok := <-first
	require.True(t, ok)
	testutil.AssertStatusOK(t, resp)
	resp.Body.Close()
}

func TestSubmit_StopDiscardsReply(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "stop@example.com")

	release := make(chan struct{})
	env.fake.Enqueue(testutil.Reply{Status: http.StatusOK, Content: "late", Wait: release})

	first := make(chan chat.Result, 1)
	go func() {
		defer close(first)
		resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "first"})
		if err != nil {
			return
		}
		var result chat.Result
		if testutil.ReadJSON(resp, &result) == nil {
			first <- result
		}
	}()

	require.Eventually(t, func() bool {
		return len(env.fake.ChatRequests()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := client.POST("/api/session/stop", nil)
	require.NoError(t, err)
	testutil.AssertStatusOK(t, resp)
	var snap chat.Snapshot
	require.NoError(t, testutil.ReadJSON(resp, &snap))
	assert.False(t, snap.Generating)
	require.Len(t, snap.Turns, 1)

	close(release)
	result, ok := <-first
	require.True(t, ok)
	assert.Equal(t, chat.StatusStopped, result.Status)

	resp, err = client.GET("/api/session")
	require.NoError(t, err)
	require.NoError(t, testutil.ReadJSON(resp, &snap))
	assert.Len(t, snap.Turns, 1)
}

func TestSubmit_Throttled(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.SubmitRatePerMinute = 1 })
	client, _ := env.signUp(t, "throttle@example.com")

	resp, err := client.POST("/api/session/turns", SubmitRequest{Content: "one"})
	require.NoError(t, err)
	testutil.AssertStatusOK(t, resp)
	resp.Body.Close()

	resp, err = client.POST("/api/session/turns", SubmitRequest{Content: "two"})
	require.NoError(t, err)
	defer resp.Body.Close()
	testutil.AssertStatusCode(t, resp, http.StatusTooManyRequests)
}

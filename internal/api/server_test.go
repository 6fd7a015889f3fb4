package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"senteros-chat/internal/animate"
	"senteros-chat/internal/assistant"
	"senteros-chat/internal/attachment"
	"senteros-chat/internal/auth"
	"senteros-chat/internal/chat"
	"senteros-chat/internal/db"
	"senteros-chat/internal/kv"
	"senteros-chat/internal/locale"
	"senteros-chat/internal/memory"
	"senteros-chat/internal/testutil"
	"senteros-chat/internal/voice"
)

// testEnv is a fully wired server backed by temporary stores and a fake
// completion endpoint
type testEnv struct {
	server      *httptest.Server
	client      *testutil.Client
	fake        *testutil.FakeCompletion
	db          *db.DB
	kv          *kv.Store
	sessions    *chat.Sessions
	broadcaster *EventBroadcaster
	quota       *assistant.Quota
}

// newTestEnv starts a server. opts may adjust the router dependencies
// before the router is built.
func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	fake := testutil.NewFakeCompletion(t)
	database := testutil.OpenDB(t)
	store := testutil.OpenKV(t)
	catalog := locale.MustLoad()

	attachments, err := attachment.New(attachment.Options{
		Mode:     attachment.ModeUpload,
		Dir:      t.TempDir(),
		MaxBytes: 1 << 20,
	})
	require.NoError(t, err)

	memories := memory.NewStore(store, catalog)
	profiles := assistant.NewProfileContext(store, catalog, nil)
	quota := assistant.NewQuota(store, 100, 20)

	backend := assistant.Backend{BaseURL: fake.URL(), APIKey: "test-key"}
	client := assistant.NewClient(map[string]assistant.Backend{
		assistant.BackendMistral:    backend,
		assistant.BackendOpenRouter: backend,
	},
		assistant.WithQuota(quota),
		assistant.WithContextSource(profiles),
		assistant.WithLocaleSource(profiles),
		assistant.WithCatalog(catalog),
		assistant.WithImageResolver(attachments.Resolve),
	)

	broadcaster := NewEventBroadcaster()
	sessions := chat.NewSessions(chat.Config{
		Store:       database,
		Completer:   client,
		Attachments: attachments,
		Publisher:   broadcaster,
		Catalog:     catalog,
		Locales:     profiles,
		Animator:    animate.New(animate.Options{MinChunk: 1, MaxChunk: 3}),
		Memory:      true,
	})

	recorder := voice.NewRecorder(t.TempDir(), 0)

	deps := Deps{
		DB:                  database,
		KV:                  store,
		Auth:                auth.NewService(database, store, 0, auth.WithBcryptCost(bcrypt.MinCost)),
		Sessions:            sessions,
		Broadcaster:         broadcaster,
		Catalog:             catalog,
		Quota:               quota,
		Memory:              memories,
		Attachments:         attachments,
		Avatars:             attachments.WithPrefix(attachment.AvatarPrefix),
		Recorder:            recorder,
		SubmitRatePerMinute: 100,
		OfflineCacheName:    "senteros-ai-cache-test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)
	t.Cleanup(broadcaster.Close)
	t.Cleanup(recorder.Shutdown)
	t.Cleanup(sessions.Shutdown)

	return &testEnv{
		server:      server,
		client:      testutil.NewClient(server.URL),
		fake:        fake,
		db:          database,
		kv:          store,
		sessions:    sessions,
		broadcaster: broadcaster,
		quota:       quota,
	}
}

// signUp registers email and returns a client carrying its token
func (e *testEnv) signUp(t *testing.T, email string) (*testutil.Client, *auth.Session) {
	t.Helper()
	resp, err := e.client.POST("/api/auth/signup", CredentialsRequest{
		Email:    email,
		Password: "secret123",
		Username: "tester",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session auth.Session
	require.NoError(t, testutil.ReadJSON(resp, &session))
	require.NotEmpty(t, session.Token)
	return e.client.WithToken(session.Token), &session
}

// pngBytes is a minimal PNG signature followed by padding
func pngBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	return data
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

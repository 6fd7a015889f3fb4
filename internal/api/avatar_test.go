package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senteros-chat/internal/kv"
	"senteros-chat/internal/models"
	"senteros-chat/internal/testutil"
)

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t)
	client, session := env.signUp(t, "profile@example.com")
	owner := session.User.ID

	t.Run("Update merges fields", func(t *testing.T) {
		resp, err := client.PUT("/api/profile", map[string]string{"bio": "  Loves hiking  "})
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var user models.User
		require.NoError(t, testutil.ReadJSON(resp, &user))
		assert.Equal(t, "tester", user.Profile.Username)
		assert.Equal(t, "Loves hiking", user.Profile.Bio)

		bio, ok, err := env.kv.Get(owner, kv.KeyBio)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Loves hiking", bio)
	})

	t.Run("Update rejects unsupported locale", func(t *testing.T) {
		resp, err := client.PUT("/api/profile", map[string]string{"locale": "xx"})
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusBadRequest(t, resp)
	})

	t.Run("Update accepts supported locale", func(t *testing.T) {
		resp, err := client.PUT("/api/profile", map[string]string{"locale": "en"})
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)
		resp.Body.Close()

		assert.Equal(t, "en", env.kv.GetDefault(owner, kv.KeyLocale, ""))
	})

	t.Run("Get returns the updated profile", func(t *testing.T) {
		resp, err := client.GET("/api/profile")
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var user models.User
		require.NoError(t, testutil.ReadJSON(resp, &user))
		assert.Equal(t, "Loves hiking", user.Profile.Bio)
		assert.Equal(t, "en", user.Profile.Locale)
	})
}

func TestAvatarUpload(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.signUp(t, "avatar@example.com")

	t.Run("Upload stores the image and updates the profile", func(t *testing.T) {
		resp, err := client.PostFile("/api/profile/avatar", "avatar", "me.png", pngBytes(512), nil)
		require.NoError(t, err)
		testutil.AssertStatusOK(t, resp)

		var body struct {
			User    models.User `json:"user"`
			Preview string      `json:"preview"`
		}
		require.NoError(t, testutil.ReadJSON(resp, &body))
		assert.Contains(t, body.User.Profile.AvatarURL, "/uploads/avatars/")
		assert.True(t, strings.HasPrefix(body.Preview, "data:image/png;base64,"))

		img, err := client.GET(body.User.Profile.AvatarURL)
		require.NoError(t, err)
		defer img.Body.Close()
		testutil.AssertStatusOK(t, img)
	})

	t.Run("Upload without file returns 400", func(t *testing.T) {
		resp, err := client.PostFile("/api/profile/avatar", "", "", nil, map[string]string{"name": "x"})
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusBadRequest(t, resp)
	})

	t.Run("Upload of non-image returns localized 400", func(t *testing.T) {
		resp, err := client.PostFile("/api/profile/avatar", "avatar", "me.txt", []byte("hello"), nil)
		require.NoError(t, err)
		testutil.AssertStatusBadRequest(t, resp)

		var body map[string]string
		require.NoError(t, testutil.ReadJSON(resp, &body))
		assert.Equal(t, "Файл должен быть изображением", body["error"])
	})

	t.Run("Upload over the limit returns 413", func(t *testing.T) {
		resp, err := client.PostFile("/api/profile/avatar", "avatar", "big.png", pngBytes(1<<20+128<<10), nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		testutil.AssertStatusCode(t, resp, http.StatusRequestEntityTooLarge)
	})
}

func TestUploads_RejectTraversal(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.GET("/uploads/../kv.bolt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)

	resp, err = env.client.GET("/uploads/missing.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	testutil.AssertStatusNotFound(t, resp)
}

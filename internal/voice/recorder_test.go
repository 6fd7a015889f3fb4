package voice

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_WriteAndClose(t *testing.T) {
	r := NewRecorder(t.TempDir(), 0)

	c, err := r.Open("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Active())

	n, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	copied, err := c.ReadFrom(strings.NewReader("defg"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), copied)
	assert.Equal(t, int64(7), c.Size())

	name := c.file.Name()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")

	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err), "temp file removed")
	assert.Equal(t, 0, r.Active())

	_, err = c.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorder_OpenCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads", "voice")
	r := NewRecorder(dir, 0)

	c, err := r.Open("user-1")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, dir, filepath.Dir(c.file.Name()))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCapture_SizeLimit(t *testing.T) {
	r := NewRecorder(t.TempDir(), 4)

	c, err := r.Open("alice")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("1234"))
	require.NoError(t, err)
	_, err = c.Write([]byte("5"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRecorder_Shutdown(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, 0)

	for range 3 {
		_, err := r.Open("alice")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.Active())

	r.Shutdown()

	assert.Equal(t, 0, r.Active())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

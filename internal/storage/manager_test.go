// manager_test.go - Tests for storage layer
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/logdict/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNewLocalStore_CreatesUploadDirectory(t *testing.T) {
	uploadDir := filepath.Join(t.TempDir(), "uploads")

	_, err := NewLocalStore(uploadDir)
	require.NoError(t, err)

	_, err = os.Stat(uploadDir)
	assert.NoError(t, err)
}

func TestLocalStore_Save(t *testing.T) {
	store := createTestStore(t)
	content := "Jun 14 15:16:02 combo sshd(pam_unix)[19937]: check pass; user unknown\n"

	info, err := store.Save("auth.log", strings.NewReader(content))
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "auth.log", info.Name)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, models.FileStatusUploaded, info.Status)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestLocalStore_GetUnknown(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get("missing")
	assert.True(t, errors.Is(err, ErrFileNotFound))

	_, err = store.GetFilePath("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, store.Delete("missing"), ErrFileNotFound)
	assert.ErrorIs(t, store.SetStatus("missing", models.FileStatusBuilt), ErrFileNotFound)
}

func TestLocalStore_GetReturnsCopy(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("a.log", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := store.Get(info.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.log", again.Name)
}

func TestLocalStore_ListNewestFirst(t *testing.T) {
	store := createTestStore(t)
	for _, name := range []string{"first.log", "second.log", "third.log"} {
		_, err := store.Save(name, strings.NewReader(name))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	list, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third.log", list[0].Name)
	assert.Equal(t, "second.log", list[1].Name)

	all, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("gone.log", strings.NewReader("bye"))
	require.NoError(t, err)
	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)

	require.NoError(t, store.Delete(info.ID))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = store.Get(info.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStore_RenameAndStatus(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("old.log", strings.NewReader("x"))
	require.NoError(t, err)

	renamed, err := store.Rename(info.ID, "new.log")
	require.NoError(t, err)
	assert.Equal(t, "new.log", renamed.Name)

	require.NoError(t, store.SetStatus(info.ID, models.FileStatusBuilt))
	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "new.log", got.Name)
	assert.Equal(t, models.FileStatusBuilt, got.Status)
}

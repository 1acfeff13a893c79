package resources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rillrec/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFolderManager(t *testing.T) *FolderManager {
	t.Helper()
	root := t.TempDir()
	m, err := NewFolderManager(filepath.Join(root, "staging"), filepath.Join(root, "recordings"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return m
}

func TestFolderManager_CreateNamesAndRegisters(t *testing.T) {
	m := newTestFolderManager(t)
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	a, err := m.Create(context.Background())
	require.NoError(t, err)
	b, err := m.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1700000000000-1", a.Name())
	assert.Equal(t, "1700000000000-2", b.Name())
	assert.DirExists(t, a.Path())
	assert.Equal(t, 2, m.Registered())
}

func TestFolder_SealMovesToRecordingRoot(t *testing.T) {
	m := newTestFolderManager(t)
	f, err := m.Create(context.Background())
	require.NoError(t, err)
	staging := f.Path()

	require.NoError(t, f.Add("metadata.json", []byte(`{"timeline":[]}`)))

	dest, err := f.Seal("standup_1700000000000")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(m.RecordingRoot(), "standup_1700000000000"), dest)
	assert.NoDirExists(t, staging)
	assert.FileExists(t, filepath.Join(dest, "metadata.json"))
	assert.Equal(t, 0, m.Registered())

	assert.ErrorIs(t, f.Add("late.txt", []byte("x")), domain.ErrFolderClosed)
	assert.ErrorIs(t, f.Delete(), domain.ErrFolderClosed)
}

func TestFolder_SealFailureLeavesFolderOpen(t *testing.T) {
	m := newTestFolderManager(t)
	f, err := m.Create(context.Background())
	require.NoError(t, err)

	// occupy the destination with a non-empty directory so the rename fails
	blocked := filepath.Join(m.RecordingRoot(), "taken")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "inner"), 0o755))

	_, err = f.Seal("taken")
	require.Error(t, err)

	assert.DirExists(t, f.Path())
	assert.Equal(t, 1, m.Registered())
	assert.NoError(t, f.Add("still-open.txt", []byte("ok")))
}

func TestFolder_DeleteRemovesAndDeregisters(t *testing.T) {
	m := newTestFolderManager(t)
	f, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.Add("a.log", []byte("log")))

	require.NoError(t, f.Delete())
	assert.NoDirExists(t, f.Path())
	assert.Equal(t, 0, m.Registered())

	assert.NoError(t, f.Delete())
	_, err = f.Seal("anything")
	assert.ErrorIs(t, err, domain.ErrFolderClosed)
}

func TestFolderManager_CloseForceDeletesRegistered(t *testing.T) {
	m := newTestFolderManager(t)
	open1, err := m.Create(context.Background())
	require.NoError(t, err)
	open2, err := m.Create(context.Background())
	require.NoError(t, err)
	sealed, err := m.Create(context.Background())
	require.NoError(t, err)
	dest, err := sealed.Seal("kept")
	require.NoError(t, err)

	require.NoError(t, m.Close())

	assert.NoDirExists(t, open1.Path())
	assert.NoDirExists(t, open2.Path())
	assert.DirExists(t, dest)
	assert.Equal(t, 0, m.Registered())
}

func TestFolderManager_CreateHonoursCancelledContext(t *testing.T) {
	m := newTestFolderManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Registered())
}

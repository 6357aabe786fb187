package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/audiencia/pkg/adapters/file"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	store := file.New(t.TempDir())
	ports.RunSnapshotStoreContract(t, store)
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, 7, &domain.Snapshot{SessionID: 7}))

	_, err := os.Stat(filepath.Join(dir, "7.json"))
	assert.NoError(t, err, "snapshot should be stored as <id>.json")

	// Leftover temp files and foreign files are not sessions.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-8-123.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)
}

func TestFileStore_Overwrite(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, 7, &domain.Snapshot{SessionID: 7, Dialogue: &domain.DialogueState{CurrentNodeID: 12}}))
	require.NoError(t, store.Save(ctx, 7, &domain.Snapshot{SessionID: 7, Dialogue: &domain.DialogueState{CurrentNodeID: 13}}))

	snap, err := store.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(13), snap.Dialogue.CurrentNodeID)
}

func TestFileStore_MissingDirectory(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "never-created"))

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.NoError(t, store.Delete(context.Background(), 1))
}

func TestFileStore_RejectsInvalidID(t *testing.T) {
	store := file.New(t.TempDir())
	err := store.Save(context.Background(), 0, &domain.Snapshot{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	sessionID := time.Now().UnixNano()%1_000_000 + 1

	newSnapshot := func(id int64) *domain.Snapshot {
		return &domain.Snapshot{
			SessionID: id,
			Session:   &domain.Session{ID: id, Code: "ABC123", State: domain.SessionActive, ParticipantCount: 2},
			Dialogue: &domain.DialogueState{
				DialogueID:    4,
				Active:        true,
				CurrentNodeID: 12,
				Participants:  []domain.Participant{{UserID: 3, Role: "Fiscal", Turn: true}},
			},
			Participants: []domain.Participant{{UserID: 3, Role: "Fiscal", Turn: true}},
			UpdatedAt:    time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		snap := newSnapshot(sessionID)

		err := store.Save(ctx, sessionID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, sessionID, loaded.SessionID)
		require.NotNil(t, loaded.Dialogue)
		assert.Equal(t, int64(12), loaded.Dialogue.CurrentNodeID)
		require.Len(t, loaded.Participants, 1)
		assert.True(t, loaded.Participants[0].Turn)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, sessionID+1_000_000)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, newSnapshot(sessionID))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrNotFound, "Load after Delete should return ErrNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + 1
		id2 := sessionID + 2
		_ = store.Save(ctx, id1, newSnapshot(id1))
		_ = store.Save(ctx, id2, newSnapshot(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

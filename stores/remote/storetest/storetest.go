// Package storetest holds the behavior every core.SaveRowStore must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"savesync/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(user, slot string, turn int, data string) *core.SaveRow {
	return &core.SaveRow{
		UserID:        user,
		SlotName:      slot,
		SaveName:      "Save " + slot,
		CampaignName:  "Campaign",
		TurnNumber:    turn,
		Playtime:      int64(turn) * 30,
		Version:       "1.0.0",
		VictoryStatus: core.VictoryNone,
		Thumbnail:     "thumb",
		Data:          []byte(data),
		Checksum:      "sum-" + data,
	}
}

// Run exercises newStore against the SaveRowStore contract.
func Run(t *testing.T, newStore func(t *testing.T) core.SaveRowStore) {
	t.Run("UpsertGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Upsert(ctx, row("user1", "slot1", 5, "payload")))

		got, err := store.Get(ctx, "user1", "slot1")
		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, "user1", got.UserID)
		assert.Equal(t, "slot1", got.SlotName)
		assert.Equal(t, 5, got.TurnNumber)
		assert.Equal(t, int64(150), got.Playtime)
		assert.Equal(t, "Campaign", got.CampaignName)
		assert.Equal(t, core.VictoryNone, got.VictoryStatus)
		assert.Equal(t, []byte("payload"), got.Data)
		assert.Equal(t, "sum-payload", got.Checksum)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("UpsertOverwritesWithoutDuplicating", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Upsert(ctx, row("user1", "slot1", 1, "first")))
		first, err := store.Get(ctx, "user1", "slot1")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.Upsert(ctx, row("user1", "slot1", 2, "second")))

		got, err := store.Get(ctx, "user1", "slot1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.TurnNumber)
		assert.Equal(t, []byte("second"), got.Data)
		assert.Equal(t, first.ID, got.ID)
		assert.True(t, first.CreatedAt.Equal(got.CreatedAt), "created at is preserved")
		assert.True(t, got.UpdatedAt.After(first.UpdatedAt))

		rows, err := store.List(ctx, "user1")
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "user1", "missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("ListScopedOrderedWithoutData", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Upsert(ctx, row("user1", "old", 1, "a")))
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.Upsert(ctx, row("user1", "new", 2, "b")))
		require.NoError(t, store.Upsert(ctx, row("user2", "other", 3, "c")))

		rows, err := store.List(ctx, "user1")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "new", rows[0].SlotName)
		assert.Equal(t, "old", rows[1].SlotName)
		for _, r := range rows {
			assert.Empty(t, r.Data, "list must not carry payloads")
		}

		none, err := store.List(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Upsert(ctx, row("user1", "slot1", 1, "a")))
		require.NoError(t, store.Upsert(ctx, row("user2", "slot1", 1, "b")))
		require.NoError(t, store.Delete(ctx, "user1", "slot1"))

		_, err := store.Get(ctx, "user1", "slot1")
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = store.Get(ctx, "user2", "slot1")
		assert.NoError(t, err, "deletes are scoped to the user")
	})
}

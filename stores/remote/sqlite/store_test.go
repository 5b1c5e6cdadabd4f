package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"savesync/core"
	"savesync/stores/remote/storetest"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqliteStore {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "saves.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_CreatesTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "saves.db")
	store, err := NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	var name string
	err = store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='saves'").Scan(&name)
	require.NoError(t, err)
}

func TestRowStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.SaveRowStore {
		return setupTestDB(t)
	})
}

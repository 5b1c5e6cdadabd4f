package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"savesync/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps rows in a map where the key is userID, and the value is
// another map where the key is the slot name.
type memStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]*core.SaveRow
	now  func() time.Time
}

// NewStore creates a new in-memory row store.
func NewStore() *memStore {
	return &memStore{
		rows: make(map[string]map[string]*core.SaveRow),
		now:  time.Now,
	}
}

// Upsert creates or replaces the row for (UserID, SlotName).
func (s *memStore) Upsert(ctx context.Context, row *core.SaveRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"user_id": row.UserID, "slot": row.SlotName})

	if row.UserID == "" {
		return fmt.Errorf("UserID cannot be empty")
	}
	if row.SlotName == "" {
		return fmt.Errorf("slot name cannot be empty for upsert")
	}

	userRows, ok := s.rows[row.UserID]
	if !ok {
		userRows = make(map[string]*core.SaveRow)
		s.rows[row.UserID] = userRows
	}

	stored := *row
	stored.Data = append([]byte(nil), row.Data...)
	now := s.now()
	if existing, exists := userRows[row.SlotName]; exists {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == "" {
			stored.ID = ulid.Make().String()
		}
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	userRows[row.SlotName] = &stored
	log.Debug("Row upserted")
	return nil
}

// Get returns a copy of a single row.
func (s *memStore) Get(ctx context.Context, userID, slot string) (*core.SaveRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[userID][slot]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *row
	out.Data = append([]byte(nil), row.Data...)
	return &out, nil
}

// List returns copies without the payload, newest first.
func (s *memStore) List(ctx context.Context, userID string) ([]*core.SaveRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userRows := s.rows[userID]
	rows := make([]*core.SaveRow, 0, len(userRows))
	for _, row := range userRows {
		// Important: copy without the large Data field for the list view
		listRow := *row
		listRow.Data = nil
		rows = append(rows, &listRow)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})

	logrus.WithField("user_id", userID).Debugf("Listed %d rows", len(rows))
	return rows, nil
}

// Delete removes a row; deleting a missing row is not an error.
func (s *memStore) Delete(ctx context.Context, userID, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userRows, ok := s.rows[userID]; ok {
		delete(userRows, slot)
	}
	return nil
}

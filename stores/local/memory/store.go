package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"savesync/codec"
	"savesync/core"

	"github.com/sirupsen/logrus"
)

// memStore is a LocalStore over a map of prefix+slot to JSON text. It can be
// capped and disabled to stand in for a host store that is full or absent.
type memStore struct {
	mu       sync.RWMutex
	prefix   string
	entries  map[string][]byte
	quota    int
	disabled bool
}

// NewStore creates a new in-memory LocalStore. A quota of zero means no cap.
func NewStore(prefix string, quota int) *memStore {
	return &memStore{
		prefix:  prefix,
		entries: make(map[string][]byte),
		quota:   quota,
	}
}

// SetDisabled makes every operation fail with core.ErrStorageUnavailable.
func (s *memStore) SetDisabled(disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = disabled
}

// PutRaw stores raw bytes under key, bypassing the codec.
func (s *memStore) PutRaw(key string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = raw
}

// Raw returns the stored text for slot.
func (s *memStore) Raw(slot string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.entries[s.prefix+slot]
	return raw, ok
}

func (s *memStore) Save(ctx context.Context, slot string, data *core.SaveData) error {
	if err := core.ValidateSlot(slot); err != nil {
		return err
	}
	raw, err := codec.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return core.ErrStorageUnavailable
	}
	key := s.prefix + slot
	if s.quota > 0 {
		used := 0
		for k, v := range s.entries {
			if k != key {
				used += len(v)
			}
		}
		if used+len(raw) > s.quota {
			logrus.WithFields(logrus.Fields{"slot": slot, "used": used, "size": len(raw)}).Warn("Local save rejected by quota")
			return core.ErrQuotaExceeded
		}
	}

	s.entries[key] = raw
	logrus.WithField("slot", slot).Debug("Local save written")
	return nil
}

func (s *memStore) Load(ctx context.Context, slot string) (*core.SaveData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.disabled {
		return nil, core.ErrStorageUnavailable
	}
	raw, ok := s.entries[s.prefix+slot]
	if !ok {
		return nil, core.ErrNotFound
	}
	return codec.Unmarshal(raw)
}

func (s *memStore) List(ctx context.Context) ([]*core.SaveMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.disabled {
		return nil, core.ErrStorageUnavailable
	}

	saves := make([]*core.SaveMetadata, 0, len(s.entries))
	for key, raw := range s.entries {
		if !strings.HasPrefix(key, s.prefix) {
			continue
		}
		slot := strings.TrimPrefix(key, s.prefix)
		data, err := codec.Unmarshal(raw)
		if err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Corrupt local save, skipping")
			continue
		}
		meta := core.MetadataFrom(data, slot)
		meta.ID = "local_" + slot
		meta.Source = core.SourceLocal
		saves = append(saves, &meta)
	}

	sort.SliceStable(saves, func(i, j int) bool {
		if saves[i].UpdatedAt.Equal(saves[j].UpdatedAt) {
			return saves[i].SlotName < saves[j].SlotName
		}
		return saves[i].UpdatedAt.After(saves[j].UpdatedAt)
	})
	return saves, nil
}

func (s *memStore) Delete(ctx context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return core.ErrStorageUnavailable
	}
	delete(s.entries, s.prefix+slot)
	return nil
}

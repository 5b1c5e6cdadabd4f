package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"savesync/codec"
	"savesync/core"

	"github.com/sirupsen/logrus"
)

const (
	fileExt = ".json"
	// Partial writes live outside the data-file namespace: they never end in
	// fileExt, whatever the prefix.
	partialPattern = ".partial-*"
)

type fsStore struct {
	basePath string
	prefix   string
	quota    int64
}

type Option func(*fsStore)

// WithQuota caps the total bytes held under the prefix. Zero means no cap.
func WithQuota(bytes int64) Option {
	return func(s *fsStore) { s.quota = bytes }
}

// NewStore creates a LocalStore keeping one JSON file per slot, named
// prefix+slot+".json", in basePath. The directory is created lazily; if it cannot be
// created every operation fails with core.ErrStorageUnavailable.
func NewStore(basePath, prefix string, opts ...Option) *fsStore {
	s := &fsStore{basePath: basePath, prefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *fsStore) ensureDir() error {
	if s.basePath == "" {
		return fmt.Errorf("%w: no base path configured", core.ErrStorageUnavailable)
	}
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *fsStore) filePath(slot string) (string, error) {
	if err := core.ValidateSlot(slot); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, s.prefix+slot+fileExt), nil
}

func (s *fsStore) Save(ctx context.Context, slot string, data *core.SaveData) error {
	filePath, err := s.filePath(slot)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"slot": slot, "path": filePath})

	if err := s.ensureDir(); err != nil {
		log.WithError(err).Error("Local save directory unavailable")
		return err
	}

	raw, err := codec.MarshalIndent(data)
	if err != nil {
		return err
	}

	if s.quota > 0 {
		used, err := s.usage(slot)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		if used+int64(len(raw)) > s.quota {
			log.WithFields(logrus.Fields{"used": used, "size": len(raw), "quota": s.quota}).Warn("Local save rejected by quota")
			return core.ErrQuotaExceeded
		}
	}

	tmp, err := writePartial(s.basePath, raw)
	if err != nil {
		log.WithError(err).Error("Failed to write local save")
		return classifyWriteError(err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		log.WithError(err).Error("Failed to commit local save")
		return classifyWriteError(err)
	}

	log.WithField("size", len(raw)).Info("Local save written")
	return nil
}

func (s *fsStore) Load(ctx context.Context, slot string) (*core.SaveData, error) {
	filePath, err := s.filePath(slot)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"slot": slot, "path": filePath})

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("Local save not found")
			return nil, core.ErrNotFound
		}
		log.WithError(err).Error("Failed to read local save")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	data, err := codec.Unmarshal(raw)
	if err != nil {
		log.WithError(err).Error("Failed to decode local save")
		return nil, err
	}
	return data, nil
}

func (s *fsStore) List(ctx context.Context) ([]*core.SaveMetadata, error) {
	log := logrus.WithField("path", s.basePath)

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.SaveMetadata{}, nil
		}
		log.WithError(err).Error("Failed to read local save directory")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	saves := make([]*core.SaveMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		slot, ok := s.slotOf(name)
		if entry.IsDir() || !ok {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(s.basePath, name))
		if err != nil {
			log.WithError(err).Warnf("Failed to read local save %s, skipping", name)
			continue
		}
		data, err := codec.Unmarshal(raw)
		if err != nil {
			log.WithError(err).Warnf("Corrupt local save %s, skipping", name)
			continue
		}

		meta := core.MetadataFrom(data, slot)
		meta.ID = "local_" + slot
		meta.Source = core.SourceLocal
		if meta.UpdatedAt.IsZero() {
			if info, err := entry.Info(); err == nil {
				meta.CreatedAt = info.ModTime()
				meta.UpdatedAt = info.ModTime()
			}
		}
		saves = append(saves, &meta)
	}

	sort.SliceStable(saves, func(i, j int) bool {
		return saves[i].UpdatedAt.After(saves[j].UpdatedAt)
	})
	log.Debugf("Listed %d local saves", len(saves))
	return saves, nil
}

func (s *fsStore) Delete(ctx context.Context, slot string) error {
	filePath, err := s.filePath(slot)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"slot": slot, "path": filePath})

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Debug("Local save already absent")
			return nil
		}
		log.WithError(err).Error("Failed to delete local save")
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	log.Info("Local save deleted")
	return nil
}

// usage sums the bytes held under the prefix, excluding slot itself since a
// save replaces it.
func (s *fsStore) usage(slot string) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.basePath {
				return filepath.SkipDir
			}
			return nil
		}
		if name, ok := s.slotOf(d.Name()); !ok || name == slot {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// slotOf maps a file name back to its slot. Only prefix+slot+".json" names
// are data files.
func (s *fsStore) slotOf(name string) (string, bool) {
	if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	slot := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), fileExt)
	if core.ValidateSlot(slot) != nil {
		return "", false
	}
	return slot, true
}

// writePartial writes raw to a fresh partial file in dir and returns its path.
func writePartial(dir string, raw []byte) (string, error) {
	f, err := os.CreateTemp(dir, partialPattern)
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func classifyWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", core.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
}

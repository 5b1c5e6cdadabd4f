// Package service coordinates saves between the device-local store and the
// remote store: it picks a path per call, falls back when the remote path
// fails, and merges the two listings.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"savesync/core"

	"github.com/sirupsen/logrus"
)

// Enqueuer accepts saves for later upload.
type Enqueuer interface {
	Enqueue(ctx context.Context, data *core.SaveData, slot, name string) (*core.QueuedSave, error)
}

// SaveService is the one coordinator per process. It has no state of its
// own beyond its collaborators.
type SaveService struct {
	local    core.LocalStore
	remote   core.RemoteStore
	auth     core.Authenticator
	conn     core.Connectivity
	queue    Enqueuer
	observer Observer
}

type Option func(*SaveService)

func WithObserver(o Observer) Option {
	return func(s *SaveService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithQueue enables QueueSave.
func WithQueue(q Enqueuer) Option {
	return func(s *SaveService) { s.queue = q }
}

// New wires a coordinator. remote, auth and conn may be nil, in which case
// every call takes the local path.
func New(local core.LocalStore, remote core.RemoteStore, auth core.Authenticator, conn core.Connectivity, opts ...Option) *SaveService {
	s := &SaveService{
		local:    local,
		remote:   remote,
		auth:     auth,
		conn:     conn,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cloudUser returns the user to save for when the remote path is usable.
// A missing user id counts as signed out whatever the authenticator claims.
func (s *SaveService) cloudUser() (string, bool) {
	if s.remote == nil || s.auth == nil || s.conn == nil {
		return "", false
	}
	if !s.auth.IsAuthenticated() {
		return "", false
	}
	userID := s.auth.UserID()
	if userID == "" {
		return "", false
	}
	if !s.conn.IsOnline() {
		return "", false
	}
	return userID, true
}

// IsCloudAvailable reports whether calls would currently go to the remote
// store.
func (s *SaveService) IsCloudAvailable() bool {
	_, ok := s.cloudUser()
	return ok
}

// Save stores data under slot, in the cloud when signed in and online and
// locally otherwise or when the cloud save fails. campaignName, if set,
// overrides the data's campaign on the stored copy.
func (s *SaveService) Save(ctx context.Context, data *core.SaveData, slot, campaignName string) core.SaveResult {
	s.observer.SaveStarted(slot)
	result := s.save(ctx, data, slot, campaignName)
	s.observer.SaveCompleted(slot, result)
	return result
}

func (s *SaveService) save(ctx context.Context, data *core.SaveData, slot, campaignName string) core.SaveResult {
	log := logrus.WithField("slot", slot)
	if data == nil {
		return core.SaveResult{SavedTo: core.SourceLocal, Error: "no save data"}
	}
	if err := core.ValidateSlot(slot); err != nil {
		return core.SaveResult{SavedTo: core.SourceLocal, Error: err.Error()}
	}

	stored := *data
	if campaignName != "" {
		stored.CampaignName = campaignName
	}

	if userID, ok := s.cloudUser(); ok {
		err := s.remote.Save(ctx, userID, slot, &stored, core.MetadataFrom(&stored, slot))
		if err == nil {
			log.Info("Saved to cloud")
			return core.SaveResult{Success: true, SavedTo: core.SourceCloud}
		}
		log.WithError(err).Warn("Cloud save failed, falling back to local storage")
	}

	if err := s.local.Save(ctx, slot, &stored); err != nil {
		log.WithError(err).Error("Local save failed")
		return core.SaveResult{SavedTo: core.SourceLocal, Error: err.Error()}
	}
	log.Info("Saved locally")
	return core.SaveResult{Success: true, SavedTo: core.SourceLocal}
}

// Load reads slot from the cloud when signed in and online. Only a cloud
// error falls through to the local store; a clean "not found" from the cloud
// is the answer.
func (s *SaveService) Load(ctx context.Context, slot string) core.LoadResult {
	log := logrus.WithField("slot", slot)

	if userID, ok := s.cloudUser(); ok {
		data, err := s.remote.Load(ctx, userID, slot)
		switch {
		case err == nil:
			return core.LoadResult{Success: true, Data: data, LoadedFrom: core.SourceCloud}
		case errors.Is(err, core.ErrNotFound):
			return core.LoadResult{LoadedFrom: core.SourceCloud, Error: err.Error()}
		default:
			log.WithError(err).Warn("Cloud load failed, falling back to local storage")
		}
	}

	data, err := s.local.Load(ctx, slot)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.WithError(err).Error("Local load failed")
		}
		return core.LoadResult{LoadedFrom: core.SourceLocal, Error: err.Error()}
	}
	return core.LoadResult{Success: true, Data: data, LoadedFrom: core.SourceLocal}
}

// ListSaves merges the cloud and local listings into one entry per slot,
// newest first. A failing source is logged and left out.
func (s *SaveService) ListSaves(ctx context.Context) []*core.SaveMetadata {
	var cloud, local []*core.SaveMetadata

	if userID, ok := s.cloudUser(); ok {
		saves, err := s.remote.List(ctx, userID)
		if err != nil {
			logrus.WithError(err).Warn("Failed to list cloud saves")
		} else {
			cloud = saves
		}
	}

	saves, err := s.local.List(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to list local saves")
	} else {
		local = saves
	}

	return MergeListings(cloud, local)
}

// MergeListings combines cloud and local metadata keyed by slot. A slot in
// both is tagged SourceBoth and keeps the cloud identity; the local entry's
// UpdatedAt, TurnNumber and Playtime win only when it is strictly newer.
// The inputs are not modified.
func MergeListings(cloud, local []*core.SaveMetadata) []*core.SaveMetadata {
	bySlot := make(map[string]*core.SaveMetadata, len(cloud)+len(local))
	merged := make([]*core.SaveMetadata, 0, len(cloud)+len(local))

	for _, c := range cloud {
		if _, seen := bySlot[c.SlotName]; seen {
			continue
		}
		entry := *c
		entry.Source = core.SourceCloud
		bySlot[c.SlotName] = &entry
		merged = append(merged, &entry)
	}

	for _, l := range local {
		existing, ok := bySlot[l.SlotName]
		if !ok {
			entry := *l
			entry.Source = core.SourceLocal
			bySlot[l.SlotName] = &entry
			merged = append(merged, &entry)
			continue
		}
		if existing.Source == core.SourceLocal {
			continue
		}
		existing.Source = core.SourceBoth
		if l.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = l.UpdatedAt
			existing.TurnNumber = l.TurnNumber
			existing.Playtime = l.Playtime
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})
	return merged
}

// DeleteSave removes slot from the cloud (when reachable) and locally. The
// two deletes are independent and the call succeeds if either does.
func (s *SaveService) DeleteSave(ctx context.Context, slot string) core.DeleteResult {
	log := logrus.WithField("slot", slot)
	var errs []error
	deleted := false

	if userID, ok := s.cloudUser(); ok {
		if err := s.remote.Delete(ctx, userID, slot); err != nil {
			log.WithError(err).Warn("Cloud delete failed")
			errs = append(errs, err)
		} else {
			deleted = true
		}
	}

	if err := s.local.Delete(ctx, slot); err != nil {
		log.WithError(err).Warn("Local delete failed")
		errs = append(errs, err)
	} else {
		deleted = true
	}

	if deleted {
		log.Info("Save deleted")
		return core.DeleteResult{Success: true}
	}
	return core.DeleteResult{Error: errs[0].Error()}
}

// SyncLocalSavesToCloud pushes every local save to the cloud. Failures are
// collected per slot and do not stop the batch.
func (s *SaveService) SyncLocalSavesToCloud(ctx context.Context) core.SyncResult {
	result := core.SyncResult{Errors: []string{}}

	userID, ok := s.cloudUser()
	if !ok {
		result.Errors = append(result.Errors, "cannot sync: not signed in or offline")
		return result
	}

	saves, err := s.local.List(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list local saves: %v", err))
		return result
	}

	total := len(saves)
	for i, meta := range saves {
		if err := s.pushLocal(ctx, userID, meta); err != nil {
			logrus.WithField("slot", meta.SlotName).WithError(err).Warn("Failed to sync local save")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", meta.SlotName, err))
		} else {
			result.Synced++
		}
		s.observer.SyncProgress(i+1, total)
	}

	logrus.WithFields(logrus.Fields{
		"synced": result.Synced,
		"failed": len(result.Errors),
	}).Info("Local saves synced to cloud")
	return result
}

func (s *SaveService) pushLocal(ctx context.Context, userID string, meta *core.SaveMetadata) error {
	data, err := s.local.Load(ctx, meta.SlotName)
	if err != nil {
		return err
	}
	return s.remote.Save(ctx, userID, meta.SlotName, data, core.MetadataFrom(data, meta.SlotName))
}

// SaveToCloud is the remote path alone, with no fallback. The offline queue
// delivers through it.
func (s *SaveService) SaveToCloud(ctx context.Context, data *core.SaveData, slot, name string) error {
	if data == nil {
		return fmt.Errorf("no save data for %s", slot)
	}
	if s.remote == nil || s.auth == nil || !s.auth.IsAuthenticated() || s.auth.UserID() == "" {
		return core.ErrUnauthenticated
	}
	userID, ok := s.cloudUser()
	if !ok {
		return core.ErrRemoteUnavailable
	}

	meta := core.MetadataFrom(data, slot)
	if name != "" {
		meta.SaveName = name
	}
	return s.remote.Save(ctx, userID, slot, data, meta)
}

// QueueSave hands data to the offline queue for later upload. When the queue
// cannot store it the save goes to the local store instead.
func (s *SaveService) QueueSave(ctx context.Context, data *core.SaveData, slot, name string) core.SaveResult {
	s.observer.SaveStarted(slot)
	result := s.queueSave(ctx, data, slot, name)
	s.observer.SaveCompleted(slot, result)
	return result
}

func (s *SaveService) queueSave(ctx context.Context, data *core.SaveData, slot, name string) core.SaveResult {
	log := logrus.WithField("slot", slot)
	if data == nil {
		return core.SaveResult{SavedTo: core.SourceQueued, Error: "no save data"}
	}

	if s.queue != nil {
		_, err := s.queue.Enqueue(ctx, data, slot, name)
		if err == nil {
			return core.SaveResult{Success: true, SavedTo: core.SourceQueued}
		}
		if !errors.Is(err, core.ErrStorageUnavailable) {
			return core.SaveResult{SavedTo: core.SourceQueued, Error: err.Error()}
		}
		log.WithError(err).Warn("Offline queue unavailable, saving locally")
	}

	if err := s.local.Save(ctx, slot, data); err != nil {
		log.WithError(err).Error("Local save failed")
		return core.SaveResult{SavedTo: core.SourceLocal, Error: err.Error()}
	}
	return core.SaveResult{Success: true, SavedTo: core.SourceLocal}
}

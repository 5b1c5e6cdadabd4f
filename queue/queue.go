// Package queue holds saves that could not reach the remote store and
// replays them when connectivity returns. Entries survive restarts and there
// is at most one per slot.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"savesync/codec"
	"savesync/core"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"
)

var (
	itemPrefix = []byte("item/")
	slotPrefix = []byte("slot/")
	timePrefix = []byte("time/")
)

// errClosed is returned to a drain whose queue was closed under it; the
// drain must not reopen the database.
var errClosed = fmt.Errorf("%w: queue closed", core.ErrStorageUnavailable)

// conflictRetries bounds how often a write transaction is retried after
// badger reports a conflict with a concurrent writer.
const conflictRetries = 3

// Sender delivers a queued save to the remote store.
type Sender interface {
	SaveToCloud(ctx context.Context, data *core.SaveData, slot, name string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, data *core.SaveData, slot, name string) error

func (f SenderFunc) SaveToCloud(ctx context.Context, data *core.SaveData, slot, name string) error {
	return f(ctx, data, slot, name)
}

// Notifier announces offline-to-online transitions.
type Notifier interface {
	OnOnline(fn func()) (unsubscribe func())
}

type Queue struct {
	path     string
	inMemory bool
	sender   Sender
	now      func() time.Time

	mu sync.RWMutex
	db *badger.DB
	// gen counts Closes. A drain pins the generation it started in.
	gen uint64

	draining atomic.Bool
}

type Option func(*Queue)

// WithInMemory keeps the queue in memory only. Entries do not survive Close.
func WithInMemory() Option {
	return func(q *Queue) { q.inMemory = true }
}

// New returns a queue stored in the badger directory at path. Nothing is
// opened until the first operation.
func New(path string, sender Sender, opts ...Option) *Queue {
	q := &Queue{path: path, sender: sender, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) open() (*badger.DB, error) {
	var opts badger.Options
	switch {
	case q.inMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case q.path == "":
		return nil, fmt.Errorf("%w: no queue path configured", core.ErrStorageUnavailable)
	default:
		opts = badger.DefaultOptions(q.path)
	}

	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		logrus.WithError(err).WithField("path", q.path).Error("Failed to open offline queue")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return db, nil
}

// withDB runs fn against the open database, opening it on first use. Close
// waits for fn to return.
func (q *Queue) withDB(fn func(db *badger.DB) error) error {
	return q.withDBIn(nil, fn)
}

// withDBIn is withDB for a caller pinned to generation gen: once the queue
// has been closed since, it fails with errClosed instead of reopening.
func (q *Queue) withDBIn(gen *uint64, fn func(db *badger.DB) error) error {
	q.mu.RLock()
	if gen != nil && *gen != q.gen {
		q.mu.RUnlock()
		return errClosed
	}
	if q.db != nil {
		defer q.mu.RUnlock()
		return fn(q.db)
	}
	q.mu.RUnlock()

	q.mu.Lock()
	if gen != nil && *gen != q.gen {
		q.mu.Unlock()
		return errClosed
	}
	if q.db == nil {
		db, err := q.open()
		if err != nil {
			q.mu.Unlock()
			return err
		}
		q.db = db
	}
	q.mu.Unlock()
	return q.withDBIn(gen, fn)
}

func (q *Queue) generation() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.gen
}

func (q *Queue) update(fn func(txn *badger.Txn) error) error {
	return q.updateIn(nil, fn)
}

func (q *Queue) updateIn(gen *uint64, fn func(txn *badger.Txn) error) error {
	return q.withDBIn(gen, func(db *badger.DB) error {
		var err error
		for i := 0; i < conflictRetries; i++ {
			if err = db.Update(fn); !errors.Is(err, badger.ErrConflict) {
				return err
			}
		}
		return err
	})
}

// Close releases the database. A later operation opens it again, except
// for a drain already running, which stops at its next write.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	return err
}

func itemKey(id string) []byte {
	return append(bytes.Clone(itemPrefix), id...)
}

func slotKey(slot string) []byte {
	return append(bytes.Clone(slotPrefix), slot...)
}

// timeKey sorts lexically in enqueue order.
func timeKey(queuedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", timePrefix, queuedAt.UnixNano(), id))
}

func getItem(txn *badger.Txn, id string) (*core.QueuedSave, error) {
	item, err := txn.Get(itemKey(id))
	if err != nil {
		return nil, err
	}
	var save core.QueuedSave
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &save)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode queued save %s: %w", id, err)
	}
	return &save, nil
}

func putItem(txn *badger.Txn, save *core.QueuedSave) error {
	val, err := json.Marshal(save)
	if err != nil {
		return fmt.Errorf("failed to encode queued save: %w", err)
	}
	return txn.Set(itemKey(save.ID), val)
}

// deleteItem removes the record and its time index. The slot index is the
// caller's business.
func deleteItem(txn *badger.Txn, save *core.QueuedSave) error {
	if err := txn.Delete(itemKey(save.ID)); err != nil {
		return err
	}
	return txn.Delete(timeKey(save.QueuedAt, save.ID))
}

// Enqueue stores data for slot, superseding any entry already queued for it.
// The swap is one transaction: either the new entry replaces the old one or
// nothing changes.
func (q *Queue) Enqueue(ctx context.Context, data *core.SaveData, slot, name string) (*core.QueuedSave, error) {
	if err := core.ValidateSlot(slot); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, codec.ErrEmptyPayload
	}

	now := q.now()
	save := &core.QueuedSave{
		ID:         fmt.Sprintf("%s_%d", slot, now.UnixNano()),
		SlotName:   slot,
		SaveName:   name,
		SaveData:   *data,
		QueuedAt:   now,
		RetryCount: 0,
	}

	var superseded string
	err := q.update(func(txn *badger.Txn) error {
		superseded = ""
		item, err := txn.Get(slotKey(slot))
		switch {
		case err == nil:
			oldID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			old, err := getItem(txn, string(oldID))
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if old != nil {
				if err := deleteItem(txn, old); err != nil {
					return err
				}
				superseded = old.ID
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := putItem(txn, save); err != nil {
			return err
		}
		if err := txn.Set(slotKey(slot), []byte(save.ID)); err != nil {
			return err
		}
		return txn.Set(timeKey(save.QueuedAt, save.ID), nil)
	})
	if err != nil {
		logrus.WithField("slot", slot).WithError(err).Error("Failed to queue save")
		if errors.Is(err, core.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to queue save: %w", err)
	}

	fields := logrus.Fields{"slot": slot, "id": save.ID}
	if superseded != "" {
		fields["superseded"] = superseded
	}
	logrus.WithFields(fields).Info("Save queued for upload")
	return save, nil
}

// Pending returns every queued save, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]*core.QueuedSave, error) {
	return q.pending(nil)
}

func (q *Queue) pending(gen *uint64) ([]*core.QueuedSave, error) {
	saves := []*core.QueuedSave{}
	err := q.withDBIn(gen, func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = timePrefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				key := it.Item().Key()
				idx := bytes.LastIndexByte(key, '/')
				id := string(key[idx+1:])

				save, err := getItem(txn, id)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					logrus.WithError(err).WithField("id", id).Warn("Skipping unreadable queued save")
					continue
				}
				saves = append(saves, save)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return saves, nil
}

func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	count := 0
	err := q.withDB(func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = itemPrefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				count++
			}
			return nil
		})
	})
	return count, err
}

// ClearAll drops every queued save.
func (q *Queue) ClearAll(ctx context.Context) error {
	err := q.withDB(func(db *badger.DB) error {
		return db.DropAll()
	})
	if err != nil {
		return err
	}
	logrus.Info("Offline queue cleared")
	return nil
}

// Drain replays queued saves in enqueue order. Delivered entries are removed
// and failed ones keep their place with RetryCount incremented. A call made
// while another drain is running returns a zero result at once. Drain stops
// early when ctx is done or the queue is closed; the entries it did not get
// to stay queued untouched.
func (q *Queue) Drain(ctx context.Context) core.DrainResult {
	var result core.DrainResult
	if !q.draining.CompareAndSwap(false, true) {
		logrus.Debug("Drain already in progress")
		return result
	}
	defer q.draining.Store(false)

	if q.sender == nil {
		logrus.Warn("Offline queue has no sender, not draining")
		return result
	}

	gen := q.generation()
	pending, err := q.pending(&gen)
	if err != nil {
		logrus.WithError(err).Error("Failed to read offline queue")
		return result
	}
	if len(pending) == 0 {
		return result
	}

	for _, save := range pending {
		if ctx.Err() != nil {
			logrus.WithError(ctx.Err()).Info("Drain interrupted")
			break
		}
		log := logrus.WithFields(logrus.Fields{"slot": save.SlotName, "id": save.ID})

		if err := q.sender.SaveToCloud(ctx, &save.SaveData, save.SlotName, save.SaveName); err != nil {
			if ctx.Err() != nil {
				log.WithError(err).Info("Drain interrupted during upload")
				break
			}
			result.Failed++
			log.WithError(err).WithField("retry_count", save.RetryCount+1).Warn("Queued save upload failed")
			if err := q.markFailed(gen, save.ID); err != nil {
				if errors.Is(err, errClosed) {
					log.Info("Offline queue closed during drain")
					break
				}
				log.WithError(err).Error("Failed to record retry")
			}
			continue
		}

		result.Success++
		if err := q.remove(gen, save.ID); err != nil {
			if errors.Is(err, errClosed) {
				log.Warn("Offline queue closed during drain, delivered save stays queued")
				break
			}
			log.WithError(err).Error("Failed to remove delivered save")
		}
	}

	logrus.WithFields(logrus.Fields{
		"success": result.Success,
		"failed":  result.Failed,
	}).Info("Offline queue drained")
	return result
}

// remove deletes a delivered entry. An entry superseded during the upload is
// already gone, and its replacement stays queued.
func (q *Queue) remove(gen uint64, id string) error {
	return q.updateIn(&gen, func(txn *badger.Txn) error {
		save, err := getItem(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := deleteItem(txn, save); err != nil {
			return err
		}

		item, err := txn.Get(slotKey(save.SlotName))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) == id {
			return txn.Delete(slotKey(save.SlotName))
		}
		return nil
	})
}

func (q *Queue) markFailed(gen uint64, id string) error {
	return q.updateIn(&gen, func(txn *badger.Txn) error {
		save, err := getItem(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		save.RetryCount++
		return putItem(txn, save)
	})
}

// DrainOnReconnect drains each time n reports that connectivity is back.
// Drains run one at a time on a single worker; reconnects announced while
// one runs collapse into one more drain. The returned func stops listening,
// cancels a running drain and waits for the worker to exit.
func (q *Queue) DrainOnReconnect(ctx context.Context, n Notifier) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	kick := make(chan struct{}, 1)
	done := make(chan struct{})

	unsubscribe := n.OnOnline(func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				result := q.Drain(ctx)
				logrus.WithFields(logrus.Fields{
					"success": result.Success,
					"failed":  result.Failed,
				}).Debug("Reconnect drain finished")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			cancel()
			<-done
		})
	}
}

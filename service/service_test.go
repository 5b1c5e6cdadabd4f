package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"savesync/auth"
	"savesync/core"
	localmemory "savesync/stores/local/memory"
	"savesync/stores/remote"
	"savesync/stores/remote/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type online bool

func (o online) IsOnline() bool { return bool(o) }

// fakeRemote records calls and fails with err when set.
type fakeRemote struct {
	mu      sync.Mutex
	saves   []string
	data    map[string]*core.SaveData
	list    []*core.SaveMetadata
	err     error
	loadErr error
	deletes int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: map[string]*core.SaveData{}}
}

func (f *fakeRemote) Save(ctx context.Context, userID, slot string, data *core.SaveData, meta core.SaveMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, userID+"/"+slot)
	if f.err != nil {
		return f.err
	}
	f.data[slot] = data
	return nil
}

func (f *fakeRemote) Load(ctx context.Context, userID, slot string) (*core.SaveData, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	data, ok := f.data[slot]
	if !ok {
		return nil, core.ErrNotFound
	}
	return data, nil
}

func (f *fakeRemote) List(ctx context.Context, userID string) ([]*core.SaveMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

func (f *fakeRemote) Delete(ctx context.Context, userID, slot string) error {
	f.deletes++
	return f.err
}

// panicRemote fails the test if the coordinator touches it at all.
type panicRemote struct{ t *testing.T }

func (p panicRemote) Save(context.Context, string, string, *core.SaveData, core.SaveMetadata) error {
	p.t.Fatal("remote Save must not be called")
	return nil
}

func (p panicRemote) Load(context.Context, string, string) (*core.SaveData, error) {
	p.t.Fatal("remote Load must not be called")
	return nil, nil
}

func (p panicRemote) List(context.Context, string) ([]*core.SaveMetadata, error) {
	p.t.Fatal("remote List must not be called")
	return nil, nil
}

func (p panicRemote) Delete(context.Context, string, string) error {
	p.t.Fatal("remote Delete must not be called")
	return nil
}

func sample(turn int) *core.SaveData {
	return &core.SaveData{
		SaveName:      "Autosave",
		TurnNumber:    turn,
		Playtime:      int64(turn) * 60,
		Version:       "1.0.0",
		VictoryStatus: core.VictoryNone,
		SavedAt:       time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func signedIn() *auth.StaticAuth {
	return &auth.StaticAuth{Authenticated: true, User: "user1"}
}

func TestSaveToCloudWhenSignedInAndOnline(t *testing.T) {
	r := newFakeRemote()
	local := localmemory.NewStore("save_", 0)
	s := New(local, r, signedIn(), online(true))

	result := s.Save(context.Background(), sample(5), "slot1", "")

	assert.Equal(t, core.SaveResult{Success: true, SavedTo: core.SourceCloud}, result)
	assert.Equal(t, []string{"user1/slot1"}, r.saves)
	_, stored := local.Raw("slot1")
	assert.False(t, stored, "cloud saves do not touch local storage")
}

func TestSaveSignedOutGoesLocal(t *testing.T) {
	local := localmemory.NewStore("save_", 0)
	s := New(local, panicRemote{t}, &auth.StaticAuth{}, online(true))

	result := s.Save(context.Background(), sample(5), "slot1", "")

	assert.Equal(t, core.SaveResult{Success: true, SavedTo: core.SourceLocal}, result)
	raw, ok := local.Raw("slot1")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"turnNumber":5`)
}

func TestSaveFallsBackWhenCloudFails(t *testing.T) {
	r := newFakeRemote()
	r.err = core.ErrRemoteUnavailable
	local := localmemory.NewStore("save_", 0)
	s := New(local, r, signedIn(), online(true))

	result := s.Save(context.Background(), sample(5), "slot1", "")

	assert.Equal(t, core.SaveResult{Success: true, SavedTo: core.SourceLocal}, result)
	assert.Len(t, r.saves, 1)
	_, ok := local.Raw("slot1")
	assert.True(t, ok)
}

func TestSaveOfflineNeverTouchesRemote(t *testing.T) {
	s := New(localmemory.NewStore("save_", 0), panicRemote{t}, signedIn(), online(false))

	result := s.Save(context.Background(), sample(1), "slot1", "")
	assert.True(t, result.Success)
	assert.Equal(t, core.SourceLocal, result.SavedTo)

	assert.True(t, s.Load(context.Background(), "slot1").Success)
	assert.True(t, s.DeleteSave(context.Background(), "slot1").Success)
	assert.Len(t, s.ListSaves(context.Background()), 0)
}

func TestMissingUserIDCountsAsSignedOut(t *testing.T) {
	s := New(localmemory.NewStore("save_", 0), panicRemote{t}, &auth.StaticAuth{Authenticated: true}, online(true))

	assert.False(t, s.IsCloudAvailable())
	result := s.Save(context.Background(), sample(1), "slot1", "")
	assert.Equal(t, core.SourceLocal, result.SavedTo)
}

func TestSaveFailsWhenLocalIsLastResort(t *testing.T) {
	local := localmemory.NewStore("save_", 0)
	local.SetDisabled(true)
	s := New(local, nil, nil, nil)

	result := s.Save(context.Background(), sample(1), "slot1", "")
	assert.False(t, result.Success)
	assert.Equal(t, core.SourceLocal, result.SavedTo)
	assert.NotEmpty(t, result.Error)
}

func TestSaveAppliesCampaignWithoutMutatingInput(t *testing.T) {
	r := newFakeRemote()
	s := New(localmemory.NewStore("save_", 0), r, signedIn(), online(true))
	data := sample(1)

	s.Save(context.Background(), data, "slot1", "Conquest")

	assert.Empty(t, data.CampaignName)
	assert.Equal(t, "Conquest", r.data["slot1"].CampaignName)
}

func TestObserverSeesEverySave(t *testing.T) {
	var events []string
	obs := ObserverFuncs{
		OnSaveStarted: func(slot string) { events = append(events, "start:"+slot) },
		OnSaveCompleted: func(slot string, result core.SaveResult) {
			events = append(events, "done:"+slot+":"+string(result.SavedTo))
		},
	}
	r := newFakeRemote()
	r.err = core.ErrRemoteUnavailable
	s := New(localmemory.NewStore("save_", 0), r, signedIn(), online(true), WithObserver(obs))

	s.Save(context.Background(), sample(1), "slot1", "")
	s.Save(context.Background(), nil, "slot2", "")

	assert.Equal(t, []string{
		"start:slot1", "done:slot1:local",
		"start:slot2", "done:slot2:local",
	}, events)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("cloud", func(t *testing.T) {
		r := newFakeRemote()
		r.data["slot1"] = sample(4)
		s := New(localmemory.NewStore("save_", 0), r, signedIn(), online(true))

		result := s.Load(ctx, "slot1")
		require.True(t, result.Success)
		assert.Equal(t, core.SourceCloud, result.LoadedFrom)
		assert.Equal(t, 4, result.Data.TurnNumber)
	})

	t.Run("cloud not found does not fall through", func(t *testing.T) {
		local := localmemory.NewStore("save_", 0)
		require.NoError(t, local.Save(ctx, "slot1", sample(2)))
		s := New(local, newFakeRemote(), signedIn(), online(true))

		result := s.Load(ctx, "slot1")
		assert.False(t, result.Success)
		assert.Equal(t, core.SourceCloud, result.LoadedFrom)
		assert.Nil(t, result.Data)
	})

	t.Run("cloud error falls through", func(t *testing.T) {
		local := localmemory.NewStore("save_", 0)
		require.NoError(t, local.Save(ctx, "slot1", sample(2)))
		r := newFakeRemote()
		r.loadErr = core.ErrRemoteUnavailable
		s := New(local, r, signedIn(), online(true))

		result := s.Load(ctx, "slot1")
		require.True(t, result.Success)
		assert.Equal(t, core.SourceLocal, result.LoadedFrom)
		assert.Equal(t, 2, result.Data.TurnNumber)
	})

	t.Run("local missing", func(t *testing.T) {
		s := New(localmemory.NewStore("save_", 0), nil, nil, nil)
		result := s.Load(ctx, "nothing")
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	})
}

func TestListSavesMergesSources(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	r := newFakeRemote()
	r.list = []*core.SaveMetadata{
		{ID: "cloud-1", SlotName: "slot1", TurnNumber: 3, UpdatedAt: t1, Source: core.SourceCloud},
	}
	local := localmemory.NewStore("save_", 0)
	newer := sample(8)
	newer.SavedAt = t2
	require.NoError(t, local.Save(ctx, "slot1", newer))
	require.NoError(t, local.Save(ctx, "slot2", sample(1)))

	s := New(local, r, signedIn(), online(true))
	saves := s.ListSaves(ctx)

	require.Len(t, saves, 2)
	assert.Equal(t, "slot1", saves[0].SlotName)
	assert.Equal(t, core.SourceBoth, saves[0].Source)
	assert.True(t, saves[0].UpdatedAt.Equal(t2))
	assert.Equal(t, 8, saves[0].TurnNumber)
	assert.Equal(t, "cloud-1", saves[0].ID, "cloud identity is kept")
	assert.Equal(t, core.SourceLocal, saves[1].Source)
}

func TestListSavesSurvivesCloudFailure(t *testing.T) {
	ctx := context.Background()
	r := newFakeRemote()
	r.err = core.ErrRemoteUnavailable
	local := localmemory.NewStore("save_", 0)
	require.NoError(t, local.Save(ctx, "slot1", sample(1)))

	saves := New(local, r, signedIn(), online(true)).ListSaves(ctx)
	require.Len(t, saves, 1)
	assert.Equal(t, core.SourceLocal, saves[0].Source)
}

func TestMergeListings(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := func(slot string, turn int, at time.Time) *core.SaveMetadata {
		return &core.SaveMetadata{ID: slot + "-id", SlotName: slot, TurnNumber: turn, UpdatedAt: at}
	}

	t.Run("tie keeps cloud", func(t *testing.T) {
		merged := MergeListings(
			[]*core.SaveMetadata{meta("a", 1, t0)},
			[]*core.SaveMetadata{meta("a", 9, t0)},
		)
		require.Len(t, merged, 1)
		assert.Equal(t, core.SourceBoth, merged[0].Source)
		assert.Equal(t, 1, merged[0].TurnNumber)
	})

	t.Run("older local keeps cloud values", func(t *testing.T) {
		merged := MergeListings(
			[]*core.SaveMetadata{meta("a", 1, t0.Add(time.Minute))},
			[]*core.SaveMetadata{meta("a", 9, t0)},
		)
		assert.Equal(t, 1, merged[0].TurnNumber)
		assert.True(t, merged[0].UpdatedAt.Equal(t0.Add(time.Minute)))
	})

	t.Run("one entry per slot", func(t *testing.T) {
		cloud := []*core.SaveMetadata{meta("a", 1, t0), meta("b", 1, t0.Add(2*time.Minute))}
		local := []*core.SaveMetadata{meta("b", 2, t0), meta("c", 3, t0.Add(time.Minute))}
		merged := MergeListings(cloud, local)

		sources := map[string]core.SaveSource{}
		for _, m := range merged {
			_, dup := sources[m.SlotName]
			assert.False(t, dup, "slot %s listed twice", m.SlotName)
			sources[m.SlotName] = m.Source
		}
		assert.Equal(t, map[string]core.SaveSource{
			"a": core.SourceCloud,
			"b": core.SourceBoth,
			"c": core.SourceLocal,
		}, sources)
		assert.Equal(t, []string{"b", "c", "a"}, []string{merged[0].SlotName, merged[1].SlotName, merged[2].SlotName})
	})

	t.Run("inputs untouched", func(t *testing.T) {
		cloud := []*core.SaveMetadata{meta("a", 1, t0)}
		local := []*core.SaveMetadata{meta("a", 2, t0.Add(time.Minute))}
		MergeListings(cloud, local)
		assert.Equal(t, 1, cloud[0].TurnNumber)
		assert.Empty(t, cloud[0].Source)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, MergeListings(nil, nil))
	})
}

func TestDeleteSave(t *testing.T) {
	ctx := context.Background()

	t.Run("both", func(t *testing.T) {
		r := newFakeRemote()
		local := localmemory.NewStore("save_", 0)
		require.NoError(t, local.Save(ctx, "slot1", sample(1)))
		s := New(local, r, signedIn(), online(true))

		assert.True(t, s.DeleteSave(ctx, "slot1").Success)
		assert.Equal(t, 1, r.deletes)
		_, ok := local.Raw("slot1")
		assert.False(t, ok)
	})

	t.Run("cloud fails local succeeds", func(t *testing.T) {
		r := newFakeRemote()
		r.err = core.ErrRemoteUnavailable
		s := New(localmemory.NewStore("save_", 0), r, signedIn(), online(true))
		assert.True(t, s.DeleteSave(ctx, "slot1").Success)
	})

	t.Run("local fails cloud succeeds", func(t *testing.T) {
		local := localmemory.NewStore("save_", 0)
		local.SetDisabled(true)
		s := New(local, newFakeRemote(), signedIn(), online(true))
		assert.True(t, s.DeleteSave(ctx, "slot1").Success)
	})

	t.Run("both fail", func(t *testing.T) {
		r := newFakeRemote()
		r.err = core.ErrRemoteUnavailable
		local := localmemory.NewStore("save_", 0)
		local.SetDisabled(true)
		s := New(local, r, signedIn(), online(true))

		result := s.DeleteSave(ctx, "slot1")
		assert.False(t, result.Success)
		assert.Equal(t, core.ErrRemoteUnavailable.Error(), result.Error)
	})
}

func TestSyncLocalSavesToCloud(t *testing.T) {
	ctx := context.Background()

	t.Run("requires cloud", func(t *testing.T) {
		s := New(localmemory.NewStore("save_", 0), panicRemote{t}, signedIn(), online(false))
		result := s.SyncLocalSavesToCloud(ctx)
		assert.Zero(t, result.Synced)
		assert.Len(t, result.Errors, 1)
	})

	t.Run("pushes every save and reports progress", func(t *testing.T) {
		local := localmemory.NewStore("save_", 0)
		for _, slot := range []string{"a", "b", "c"} {
			require.NoError(t, local.Save(ctx, slot, sample(1)))
		}
		local.PutRaw("save_broken", []byte("{not json"))

		rows := memory.NewStore()
		var progress [][2]int
		s := New(local, remote.NewStore(rows), signedIn(), online(true), WithObserver(ObserverFuncs{
			OnSyncProgress: func(current, total int) { progress = append(progress, [2]int{current, total}) },
		}))

		result := s.SyncLocalSavesToCloud(ctx)
		assert.Equal(t, 3, result.Synced)
		assert.Empty(t, result.Errors)
		assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

		listed, err := rows.List(ctx, "user1")
		require.NoError(t, err)
		assert.Len(t, listed, 3)
	})

	t.Run("per item failures do not stop the batch", func(t *testing.T) {
		local := localmemory.NewStore("save_", 0)
		require.NoError(t, local.Save(ctx, "a", sample(1)))
		require.NoError(t, local.Save(ctx, "b", sample(1)))
		r := newFakeRemote()
		r.err = errors.New("boom")

		result := New(local, r, signedIn(), online(true)).SyncLocalSavesToCloud(ctx)
		assert.Zero(t, result.Synced)
		assert.Len(t, result.Errors, 2)
		assert.Len(t, r.saves, 2)
	})
}

func TestSaveToCloud(t *testing.T) {
	ctx := context.Background()

	r := newFakeRemote()
	s := New(localmemory.NewStore("save_", 0), r, signedIn(), online(true))
	require.NoError(t, s.SaveToCloud(ctx, sample(1), "slot1", "Named"))
	assert.Equal(t, []string{"user1/slot1"}, r.saves)

	offline := New(localmemory.NewStore("save_", 0), r, signedIn(), online(false))
	assert.ErrorIs(t, offline.SaveToCloud(ctx, sample(1), "slot1", ""), core.ErrRemoteUnavailable)

	signedOut := New(localmemory.NewStore("save_", 0), r, &auth.StaticAuth{}, online(true))
	assert.ErrorIs(t, signedOut.SaveToCloud(ctx, sample(1), "slot1", ""), core.ErrUnauthenticated)
}

type fakeQueue struct {
	err   error
	slots []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, data *core.SaveData, slot, name string) (*core.QueuedSave, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.slots = append(f.slots, slot)
	return &core.QueuedSave{SlotName: slot}, nil
}

func TestQueueSave(t *testing.T) {
	ctx := context.Background()

	t.Run("queued", func(t *testing.T) {
		q := &fakeQueue{}
		s := New(localmemory.NewStore("save_", 0), nil, nil, nil, WithQueue(q))
		result := s.QueueSave(ctx, sample(1), "slot1", "")
		assert.Equal(t, core.SaveResult{Success: true, SavedTo: core.SourceQueued}, result)
		assert.Equal(t, []string{"slot1"}, q.slots)
	})

	t.Run("queue unavailable falls back to local", func(t *testing.T) {
		local := localmemory.NewStore("save_", 0)
		s := New(local, nil, nil, nil, WithQueue(&fakeQueue{err: core.ErrStorageUnavailable}))
		result := s.QueueSave(ctx, sample(1), "slot1", "")
		assert.Equal(t, core.SaveResult{Success: true, SavedTo: core.SourceLocal}, result)
		_, ok := local.Raw("slot1")
		assert.True(t, ok)
	})

	t.Run("other queue errors are reported", func(t *testing.T) {
		s := New(localmemory.NewStore("save_", 0), nil, nil, nil, WithQueue(&fakeQueue{err: errors.New("disk on fire")}))
		result := s.QueueSave(ctx, sample(1), "slot1", "")
		assert.False(t, result.Success)
		assert.Equal(t, "disk on fire", result.Error)
	})
}

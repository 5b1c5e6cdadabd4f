package service

import "savesync/core"

// Observer is told about save and sync progress. Calls are made on the
// goroutine running the operation.
type Observer interface {
	SaveStarted(slot string)
	SaveCompleted(slot string, result core.SaveResult)
	SyncProgress(current, total int)
}

// ObserverFuncs is an Observer built from optional funcs.
type ObserverFuncs struct {
	OnSaveStarted   func(slot string)
	OnSaveCompleted func(slot string, result core.SaveResult)
	OnSyncProgress  func(current, total int)
}

func (o ObserverFuncs) SaveStarted(slot string) {
	if o.OnSaveStarted != nil {
		o.OnSaveStarted(slot)
	}
}

func (o ObserverFuncs) SaveCompleted(slot string, result core.SaveResult) {
	if o.OnSaveCompleted != nil {
		o.OnSaveCompleted(slot, result)
	}
}

func (o ObserverFuncs) SyncProgress(current, total int) {
	if o.OnSyncProgress != nil {
		o.OnSyncProgress(current, total)
	}
}

type nopObserver struct{}

func (nopObserver) SaveStarted(string)                   {}
func (nopObserver) SaveCompleted(string, core.SaveResult) {}
func (nopObserver) SyncProgress(int, int)                {}

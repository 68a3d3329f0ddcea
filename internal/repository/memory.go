package repository

import (
	"context"
	"sync"
)

type MemoryPrefsRepository struct {
	prefs sync.Map
}

func NewMemoryPrefsRepository() *MemoryPrefsRepository {
	return &MemoryPrefsRepository{}
}

func (r *MemoryPrefsRepository) load(userID int64) *notifyPrefs {
	val, ok := r.prefs.Load(userID)
	if !ok {
		return &notifyPrefs{UserID: userID, PushEnabled: true}
	}
	return val.(*notifyPrefs)
}

func (r *MemoryPrefsRepository) IsPushEnabled(ctx context.Context, userID int64) (bool, error) {
	return r.load(userID).PushEnabled, nil
}

func (r *MemoryPrefsRepository) IsDelayPush(ctx context.Context, userID int64) (bool, error) {
	return r.load(userID).DelayPush, nil
}

func (r *MemoryPrefsRepository) SetPushEnabled(ctx context.Context, userID int64, enabled bool) error {
	prefs := r.load(userID)
	prefs.PushEnabled = enabled
	r.prefs.Store(userID, prefs)
	return nil
}

func (r *MemoryPrefsRepository) SetDelayPush(ctx context.Context, userID int64, delay bool) error {
	prefs := r.load(userID)
	prefs.DelayPush = delay
	r.prefs.Store(userID, prefs)
	return nil
}

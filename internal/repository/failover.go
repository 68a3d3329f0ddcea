package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tolka/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverPrefsRepository serves preferences from Redis while it is
// healthy and falls back to the in-memory copy when it is not. Recovery
// is re-attempted at most once a minute.
type FailoverPrefsRepository struct {
	primary   domain.PrefsRepository
	fallback  domain.PrefsRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverPrefsRepository(primary, fallback domain.PrefsRepository, logger *zerolog.Logger) *FailoverPrefsRepository {
	return &FailoverPrefsRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverPrefsRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary prefs repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck = time.Now()
}

func (r *FailoverPrefsRepository) IsPushEnabled(ctx context.Context, userID int64) (bool, error) {
	if !r.isDown.Load() {
		enabled, err := r.primary.IsPushEnabled(ctx, userID)
		if err == nil {
			return enabled, nil
		}
		r.markDown(err)
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		enabled, err := r.primary.IsPushEnabled(ctx, userID)
		if err == nil {
			r.isDown.Store(false)
			return enabled, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.IsPushEnabled(ctx, userID)
}

func (r *FailoverPrefsRepository) IsDelayPush(ctx context.Context, userID int64) (bool, error) {
	if !r.isDown.Load() {
		delay, err := r.primary.IsDelayPush(ctx, userID)
		if err == nil {
			return delay, nil
		}
		r.markDown(err)
	}

	return r.fallback.IsDelayPush(ctx, userID)
}

func (r *FailoverPrefsRepository) SetPushEnabled(ctx context.Context, userID int64, enabled bool) error {
	if !r.isDown.Load() {
		err := r.primary.SetPushEnabled(ctx, userID, enabled)
		if err == nil {
			// Keep the fallback warm so a later failover sees the value.
			_ = r.fallback.SetPushEnabled(ctx, userID, enabled)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetPushEnabled(ctx, userID, enabled)
}

func (r *FailoverPrefsRepository) SetDelayPush(ctx context.Context, userID int64, delay bool) error {
	if !r.isDown.Load() {
		err := r.primary.SetDelayPush(ctx, userID, delay)
		if err == nil {
			_ = r.fallback.SetDelayPush(ctx, userID, delay)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetDelayPush(ctx, userID, delay)
}

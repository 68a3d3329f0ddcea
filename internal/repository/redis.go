package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tolka/internal/config"

	"github.com/redis/go-redis/v9"
)

// notifyPrefs is the stored shape of one translator's notification
// preferences. Absent prefs mean pushes on, no night delay.
type notifyPrefs struct {
	UserID      int64 `json:"user_id"`
	PushEnabled bool  `json:"push_enabled"`
	DelayPush   bool  `json:"delay_push"`
}

type RedisPrefsRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisPrefsRepository(client *redis.Client, ttl time.Duration) *RedisPrefsRepository {
	return &RedisPrefsRepository{
		client: client,
		ttl:    ttl,
	}
}

func prefsKey(userID int64) string {
	return fmt.Sprintf("notify_prefs:%d", userID)
}

func (r *RedisPrefsRepository) getPrefs(ctx context.Context, userID int64) (*notifyPrefs, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, prefsKey(userID)).Result()
	if err == redis.Nil {
		return &notifyPrefs{UserID: userID, PushEnabled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prefs from redis: %w", err)
	}

	var prefs notifyPrefs
	if err := json.Unmarshal([]byte(val), &prefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prefs: %w", err)
	}
	return &prefs, nil
}

func (r *RedisPrefsRepository) setPrefs(ctx context.Context, prefs *notifyPrefs) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}
	if err := r.client.Set(ctx, prefsKey(prefs.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set prefs in redis: %w", err)
	}
	return nil
}

func (r *RedisPrefsRepository) IsPushEnabled(ctx context.Context, userID int64) (bool, error) {
	prefs, err := r.getPrefs(ctx, userID)
	if err != nil {
		return false, err
	}
	return prefs.PushEnabled, nil
}

func (r *RedisPrefsRepository) IsDelayPush(ctx context.Context, userID int64) (bool, error) {
	prefs, err := r.getPrefs(ctx, userID)
	if err != nil {
		return false, err
	}
	return prefs.DelayPush, nil
}

func (r *RedisPrefsRepository) SetPushEnabled(ctx context.Context, userID int64, enabled bool) error {
	prefs, err := r.getPrefs(ctx, userID)
	if err != nil {
		return err
	}
	prefs.PushEnabled = enabled
	return r.setPrefs(ctx, prefs)
}

func (r *RedisPrefsRepository) SetDelayPush(ctx context.Context, userID int64, delay bool) error {
	prefs, err := r.getPrefs(ctx, userID)
	if err != nil {
		return err
	}
	prefs.DelayPush = delay
	return r.setPrefs(ctx, prefs)
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"billingcore/internal/domain"
)

const settingsKey = "billingcore:settings:rewards"

// settingsPayload carries the raw document alongside its version; Raw is
// excluded from the domain type's own JSON form.
type settingsPayload struct {
	Raw       json.RawMessage `json:"raw"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type RedisSettingsCache struct {
	client redis.Cmdable
	key    string
}

func NewRedisSettingsCache(addr string, password string, db int) *RedisSettingsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSettingsCache{client: client, key: settingsKey}
}

// NewRedisSettingsCacheWithClient wraps an existing client, e.g. a cluster
// client or one shared with other components.
func NewRedisSettingsCacheWithClient(client redis.Cmdable) *RedisSettingsCache {
	return &RedisSettingsCache{client: client, key: settingsKey}
}

func (c *RedisSettingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettingsCache) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (c *RedisSettingsCache) Get(ctx context.Context) (*domain.SettingsDocument, bool, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var payload settingsPayload
	if err := json.Unmarshal(val, &payload); err != nil {
		return nil, false, err
	}
	return &domain.SettingsDocument{
		Raw:       []byte(payload.Raw),
		Version:   payload.Version,
		UpdatedAt: payload.UpdatedAt,
	}, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, doc *domain.SettingsDocument, ttl time.Duration) error {
	if doc == nil {
		return nil
	}
	raw := doc.Raw
	if !json.Valid(raw) {
		raw = []byte("{}")
	}
	payload, err := json.Marshal(settingsPayload{
		Raw:       raw,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, payload, ttl).Err()
}

func (c *RedisSettingsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

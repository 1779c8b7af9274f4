package cache

import (
	"context"
	"time"

	"billingcore/internal/domain"
)

// SettingsCache holds the last read reward settings document.
type SettingsCache interface {
	Get(ctx context.Context) (*domain.SettingsDocument, bool, error)
	Set(ctx context.Context, doc *domain.SettingsDocument, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context) (*domain.SettingsDocument, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ *domain.SettingsDocument, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) Invalidate(_ context.Context) error {
	return nil
}

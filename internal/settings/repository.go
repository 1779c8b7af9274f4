package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"billingcore/internal/cache"
	"billingcore/internal/domain"
	"billingcore/internal/store"
)

var (
	// ErrRetriesExhausted is returned by Mutate when every attempt lost a
	// write conflict.
	ErrRetriesExhausted = errors.New("settings write retries exhausted")
	// ErrNoChange may be returned by a Mutate callback to skip the write.
	ErrNoChange = errors.New("no settings change")
)

// DocumentStore is the part of store.Repository the settings repository
// needs.
type DocumentStore interface {
	GetRewardSettings(ctx context.Context) (*domain.SettingsDocument, error)
	SaveRewardSettings(ctx context.Context, doc domain.SettingsDocument, expectedVersion int64, usageKey string) (*domain.SettingsDocument, error)
}

type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	CacheTTL    time.Duration
}

type Repository struct {
	store       DocumentStore
	cache       cache.SettingsCache
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
	cacheTTL    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRepository(st DocumentStore, c cache.SettingsCache, logger *zap.Logger, opts Options) *Repository {
	if c == nil {
		c = cache.NoopSettingsCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Repository{
		store:       st,
		cache:       c,
		logger:      logger.Named("settings"),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		cacheTTL:    opts.CacheTTL,
		sleep:       sleepContext,
	}
}

// Load returns the normalized settings, preferring the cache.
func (r *Repository) Load(ctx context.Context) (domain.CustomerRewardSettings, error) {
	doc, hit, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.Warn("settings cache read failed", zap.Error(err))
	}
	if !hit || doc == nil {
		doc, err = r.store.GetRewardSettings(ctx)
		if err != nil {
			return Default(), fmt.Errorf("load reward settings: %w", err)
		}
		if err := r.cache.Set(ctx, doc, r.cacheTTL); err != nil {
			r.logger.Warn("settings cache write failed", zap.Error(err))
		}
	}
	return r.parse(doc)
}

// Mutate applies fn to the latest stored settings and writes the result with
// a version check. On a write conflict the document is re-read and fn is
// applied again to the fresh state, so fn must derive its change from its
// argument rather than from values captured earlier. A non-empty usageKey is
// recorded with the write; store.ErrAlreadyApplied means it already was.
func (r *Repository) Mutate(ctx context.Context, usageKey string, fn func(*domain.CustomerRewardSettings) error) (domain.CustomerRewardSettings, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		doc, err := r.store.GetRewardSettings(ctx)
		if err != nil {
			return Default(), fmt.Errorf("read reward settings: %w", err)
		}
		current, err := r.parse(doc)
		if err != nil {
			return current, err
		}

		if err := fn(&current); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, nil
			}
			return current, err
		}

		raw, err := Encode(current)
		if err != nil {
			return current, fmt.Errorf("encode reward settings: %w", err)
		}
		_, err = r.store.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: raw}, doc.Version, usageKey)
		if err == nil {
			if cerr := r.cache.Invalidate(ctx); cerr != nil {
				r.logger.Warn("settings cache invalidation failed", zap.Error(cerr))
			}
			return current, nil
		}
		if !errors.Is(err, store.ErrWriteConflict) {
			return current, err
		}

		lastErr = err
		r.logger.Debug("settings write conflict, retrying",
			zap.Int("attempt", attempt),
			zap.String("usage_key", usageKey),
		)
		if attempt == r.maxAttempts {
			break
		}
		if err := r.sleep(ctx, time.Duration(attempt)*r.backoff); err != nil {
			return current, err
		}
	}

	r.logger.Warn("settings write gave up",
		zap.Int("attempts", r.maxAttempts),
		zap.String("usage_key", usageKey),
	)
	return Default(), fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// Replace stores a new configuration from an administrator. Usage counters of
// rules whose id is still present are carried over from the stored document.
func (r *Repository) Replace(ctx context.Context, incoming domain.CustomerRewardSettings) (domain.CustomerRewardSettings, error) {
	raw, err := Encode(incoming)
	if err != nil {
		return Default(), fmt.Errorf("encode reward settings: %w", err)
	}
	normalized, err := Parse(raw)
	if err != nil {
		return Default(), err
	}

	return r.Mutate(ctx, "", func(current *domain.CustomerRewardSettings) error {
		next := normalized
		next.ProductToProductOffers = append([]domain.ProductToProductOfferRule(nil), normalized.ProductToProductOffers...)
		next.ProductPriceOffers = append([]domain.ProductPriceOfferRule(nil), normalized.ProductPriceOffers...)
		next.RandomCustomerOffer.Rules = append([]domain.RandomCustomerOfferProductRule(nil), normalized.RandomCustomerOffer.Rules...)

		freeByID := map[string]domain.OfferCounters{}
		for _, rule := range current.ProductToProductOffers {
			freeByID[rule.ID] = rule.OfferCounters
		}
		for i := range next.ProductToProductOffers {
			if prev, ok := freeByID[next.ProductToProductOffers[i].ID]; ok {
				next.ProductToProductOffers[i].OfferCounters = keepUsage(next.ProductToProductOffers[i].OfferCounters, prev)
			}
		}

		priceByID := map[string]domain.OfferCounters{}
		for _, rule := range current.ProductPriceOffers {
			priceByID[rule.ID] = rule.OfferCounters
		}
		for i := range next.ProductPriceOffers {
			if prev, ok := priceByID[next.ProductPriceOffers[i].ID]; ok {
				next.ProductPriceOffers[i].OfferCounters = keepUsage(next.ProductPriceOffers[i].OfferCounters, prev)
			}
		}

		randomByID := map[string]domain.RandomCustomerOfferProductRule{}
		for _, rule := range current.RandomCustomerOffer.Rules {
			randomByID[rule.ID] = rule
		}
		for i := range next.RandomCustomerOffer.Rules {
			if prev, ok := randomByID[next.RandomCustomerOffer.Rules[i].ID]; ok {
				next.RandomCustomerOffer.Rules[i].AssignedCount = prev.AssignedCount
				next.RandomCustomerOffer.Rules[i].RedeemedCount = prev.RedeemedCount
			}
		}

		next.TotalPercentageOffer.OfferCounters = keepUsage(next.TotalPercentageOffer.OfferCounters, current.TotalPercentageOffer.OfferCounters)
		*current = next
		return nil
	})
}

// keepUsage takes the caps from next and the usage from prev.
func keepUsage(next domain.OfferCounters, prev domain.OfferCounters) domain.OfferCounters {
	next.OfferGivenCount = prev.OfferGivenCount
	next.OfferCustomerCount = prev.OfferCustomerCount
	next.OfferCustomers = append([]string{}, prev.OfferCustomers...)
	return next
}

func (r *Repository) parse(doc *domain.SettingsDocument) (domain.CustomerRewardSettings, error) {
	if doc == nil {
		return Default(), nil
	}
	parsed, err := Parse(doc.Raw)
	if err != nil {
		r.logger.Warn("stored reward settings are malformed, using defaults",
			zap.Int64("version", doc.Version),
			zap.Error(err),
		)
	}
	return parsed, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

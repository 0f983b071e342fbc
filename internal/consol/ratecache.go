package consol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-fin/meridian-consol/internal/consol/translate"
)

// RatesSource supplies translation rate sets. The Postgres repository is the
// usual source.
type RatesSource interface {
	MemberRates(ctx context.Context, companyID uuid.UUID, period string) (translate.Rates, error)
}

// RateCache fronts a RatesSource with a Redis lookaside cache. Rate sets are
// immutable once a period is being consolidated, so a short TTL keeps the
// cache honest without explicit coordination. Cache failures degrade to the
// source.
type RateCache struct {
	source RatesSource
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRateCache wires the cache in front of a source.
func NewRateCache(source RatesSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *RateCache {
	return &RateCache{source: source, client: client, ttl: ttl, logger: logger}
}

func rateKey(companyID uuid.UUID, period string) string {
	return fmt.Sprintf("consol:rates:%s:%s", companyID, period)
}

// MemberRates returns the cached rate set, loading and storing it on a miss.
func (c *RateCache) MemberRates(ctx context.Context, companyID uuid.UUID, period string) (translate.Rates, error) {
	key := rateKey(companyID, period)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rates translate.Rates
		if err := json.Unmarshal(payload, &rates); err == nil {
			return rates, nil
		}
		c.log().Warn("stale rate cache payload", slog.String("key", key))
	} else if err != redis.Nil {
		c.log().Warn("rate cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	rates, err := c.source.MemberRates(ctx, companyID, period)
	if err != nil {
		return translate.Rates{}, err
	}
	if payload, err := json.Marshal(rates); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log().Warn("rate cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return rates, nil
}

// Invalidate drops the cached rate set for one member and period, for use
// after a rate upload.
func (c *RateCache) Invalidate(ctx context.Context, companyID uuid.UUID, period string) error {
	return c.client.Del(ctx, rateKey(companyID, period)).Err()
}

func (c *RateCache) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "consol_rate_cache"))
	}
	return slog.Default().With(slog.String("component", "consol_rate_cache"))
}

// CachedRepository layers the rate cache over the full repository contract.
// Only MemberRates is cached; everything else passes through.
type CachedRepository struct {
	Repository
	rates *RateCache
}

// NewCachedRepository wires a repository whose MemberRates reads go through
// Redis.
func NewCachedRepository(repo Repository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	return &CachedRepository{
		Repository: repo,
		rates:      NewRateCache(repo, client, ttl, logger),
	}
}

// MemberRates serves rate sets from the cache.
func (r *CachedRepository) MemberRates(ctx context.Context, companyID uuid.UUID, period string) (translate.Rates, error) {
	return r.rates.MemberRates(ctx, companyID, period)
}

// InvalidateRates drops the cached rate set for one member and period.
func (r *CachedRepository) InvalidateRates(ctx context.Context, companyID uuid.UUID, period string) error {
	return r.rates.Invalidate(ctx, companyID, period)
}

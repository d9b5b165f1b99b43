package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/shopspring/decimal"
)

// RateCacheRepository keeps the latest per-unit ruble rate for each
// currency in Redis, so read-side services get current rates without
// querying Postgres.
type RateCacheRepository struct {
	client *redis.Client
	exp    time.Duration // expiration duration for cached rates
}

// NewRateCacheRepository creates a new repository instance with optional TTL
func NewRateCacheRepository(client *redis.Client, expiration time.Duration) *RateCacheRepository {
	return &RateCacheRepository{
		client: client,
		exp:    expiration,
	}
}

// SetLatestRate caches the per-unit rate for a currency. The stored value
// is rubles per single unit, i.e. the published value divided by nominal.
func (r *RateCacheRepository) SetLatestRate(ctx context.Context, charCode string, nominal int, value decimal.Decimal) error {
	if nominal <= 0 {
		nominal = 1
	}

	key := fmt.Sprintf("cbr_rate:%s", charCode)
	perUnit := value.DivRound(decimal.NewFromInt(int64(nominal)), 6)

	err := r.client.Set(ctx, key, perUnit.String(), r.exp).Err()

	logger.Log.Debugw("cache latest rate",
		"key", key,
		"value", perUnit.String(),
		"error", err,
	)

	return err
}

// GetLatestRate fetches the cached per-unit rate for a currency.
func (r *RateCacheRepository) GetLatestRate(ctx context.Context, charCode string) (decimal.Decimal, error) {
	key := fmt.Sprintf("cbr_rate:%s", charCode)

	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, fmt.Errorf("rate not found in cache for %s", charCode)
		}
		return decimal.Zero, err
	}

	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, err
	}

	return rate, nil
}

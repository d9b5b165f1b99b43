package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRateCacheRepository(t *testing.T) {
	ctx := context.Background()

	// Start Redis container
	req := testcontainers.ContainerRequest{
		Image:        "redis:7.0-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	assert.NoError(t, err)
	defer redisC.Terminate(ctx)

	host, err := redisC.Host(ctx)
	assert.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	assert.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	defer rdb.Close()

	err = rdb.Ping(ctx).Err()
	assert.NoError(t, err)

	repo := NewRateCacheRepository(rdb, 2*time.Second)

	t.Run("Set and Get latest rate", func(t *testing.T) {
		err := repo.SetLatestRate(ctx, "USD", 1, decimal.RequireFromString("92.3456"))
		assert.NoError(t, err)

		got, err := repo.GetLatestRate(ctx, "USD")
		assert.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString("92.3456")))
	})

	t.Run("Stored value is per unit of currency", func(t *testing.T) {
		err := repo.SetLatestRate(ctx, "JPY", 100, decimal.RequireFromString("63.5412"))
		assert.NoError(t, err)

		got, err := repo.GetLatestRate(ctx, "JPY")
		assert.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString("0.635412")), "got %s", got)
	})

	t.Run("Non-positive nominal is treated as one", func(t *testing.T) {
		err := repo.SetLatestRate(ctx, "XXX", 0, decimal.RequireFromString("5"))
		assert.NoError(t, err)

		got, err := repo.GetLatestRate(ctx, "XXX")
		assert.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString("5")))
	})

	t.Run("Get missing key returns error", func(t *testing.T) {
		_, err := repo.GetLatestRate(ctx, "ZZZ")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rate not found")
	})

	t.Run("Cached value expires", func(t *testing.T) {
		err := repo.SetLatestRate(ctx, "EUR", 1, decimal.RequireFromString("100.5"))
		assert.NoError(t, err)

		// Wait for expiration (2s)
		time.Sleep(3 * time.Second)

		_, err = repo.GetLatestRate(ctx, "EUR")
		assert.Error(t, err)
	})
}

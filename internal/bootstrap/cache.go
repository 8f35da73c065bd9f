package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/koskedk/dwh-identity/internal/cache"
	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/metrics"
	"github.com/koskedk/dwh-identity/internal/models"
)

const (
	clientCachePrefix = "dwh:clients:"
	userCachePrefix   = "dwh:users:"
)

// initializeMetrics initializes Prometheus metrics
func initializeMetrics(cfg *config.Config) metrics.Recorder {
	prometheusMetrics := metrics.Init(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		log.Println("Prometheus metrics initialized")
	} else {
		log.Println("Metrics disabled (using noop implementation)")
	}
	return prometheusMetrics
}

// initializeClientCache initializes the registry's client cache
func initializeClientCache(ctx context.Context, cfg *config.Config) (core.Cache[models.Client], error) {
	return newCache[models.Client](ctx, cfg, "Client", clientCachePrefix)
}

// initializeUserCache initializes the user cache on the same backend as the
// client cache
func initializeUserCache(ctx context.Context, cfg *config.Config) (core.Cache[models.User], error) {
	return newCache[models.User](ctx, cfg, "User", userCachePrefix)
}

func newCache[T any](ctx context.Context, cfg *config.Config, name, prefix string) (core.Cache[T], error) {
	switch cfg.ClientCacheType {
	case config.ClientCacheTypeRedis:
		ctx, cancel := context.WithTimeout(ctx, cfg.RedisConnTimeout)
		defer cancel()

		c, err := cache.NewRueidisCache[T](
			ctx,
			cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			prefix,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis %s cache: %w", name, err)
		}
		log.Printf("%s cache: redis (addr=%s, db=%d)", name, cfg.RedisAddr, cfg.RedisDB)
		return c, nil

	default: // memory
		log.Printf("%s cache: memory (single instance only)", name)
		return cache.NewMemoryCache[T](), nil
	}
}

package bootstrap

import (
	"fmt"
	"log"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// rateLimitMiddlewares holds rate limiting middlewares for different endpoints
type rateLimitMiddlewares struct {
	login    gin.HandlerFunc
	token    gin.HandlerFunc
	register gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration.
// redisClient may be nil for the memory store.
func setupRateLimiting(
	cfg *config.Config,
	auditService *services.AuditService,
	redisClient *redis.Client,
) (rateLimitMiddlewares, error) {
	if !cfg.EnableRateLimit {
		noOpMiddleware := func(c *gin.Context) { c.Next() }
		return rateLimitMiddlewares{
			login:    noOpMiddleware,
			token:    noOpMiddleware,
			register: noOpMiddleware,
		}, nil
	}
	return createRateLimiters(cfg, auditService, redisClient)
}

// createRateLimiters creates rate limiting middlewares for all endpoints
func createRateLimiters(
	cfg *config.Config,
	auditService *services.AuditService,
	redisClient *redis.Client,
) (rateLimitMiddlewares, error) {
	log.Printf("Rate limiting enabled (store: %s)", cfg.RateLimitStore)

	storeType := middleware.RateLimitStoreType(cfg.RateLimitStore)
	if storeType == middleware.RateLimitStoreRedis {
		log.Printf("Using shared Redis client for rate limiting")
	} else {
		log.Printf("In-memory rate limiting configured (single instance only)")
	}

	createLimiter := func(requestsPerMinute int, endpoint, prefix string) (gin.HandlerFunc, error) {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: requestsPerMinute,
			Endpoint:          endpoint,
			StoreType:         storeType,
			RedisClient:       redisClient,
			KeyPrefix:         prefix,
			AuditService:      auditService,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter for %s: %w", endpoint, err)
		}
		return limiter, nil
	}

	var (
		limiters rateLimitMiddlewares
		err      error
	)
	if limiters.login, err = createLimiter(cfg.LoginRateLimit, "login", "ratelimit:login"); err != nil {
		return limiters, err
	}
	if limiters.token, err = createLimiter(cfg.TokenRateLimit, "token", "ratelimit:token"); err != nil {
		return limiters, err
	}
	if limiters.register, err = createLimiter(cfg.RegisterRateLimit, "register", "ratelimit:register"); err != nil {
		return limiters, err
	}
	return limiters, nil
}

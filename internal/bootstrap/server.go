package bootstrap

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/notify"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/store"

	"github.com/appleboy/graceful"
	"github.com/redis/go-redis/v9"
)

const auditCleanupInterval = 24 * time.Hour

// createHTTPServer creates the HTTP server instance
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(m *graceful.Manager, cfg *config.Config, srv *http.Server) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}

		log.Println("Server exited")
		return nil
	})
}

// addKeyRotationJob rotates the signing key on a fixed interval
func addKeyRotationJob(m *graceful.Manager, cfg *config.Config, km *keys.Manager) {
	if cfg.KeyRotationInterval <= 0 {
		return
	}

	log.Printf("Signing key rotation every %v (retire window %v)", cfg.KeyRotationInterval, cfg.KeyRetireWindow)
	m.AddRunningJob(func(ctx context.Context) error {
		return km.RunRotation(ctx, cfg.KeyRotationInterval, cfg.SigningAlgorithm)
	})
}

// addGrantSweepJob deletes expired grants and account tokens
func addGrantSweepJob(
	m *graceful.Manager,
	cfg *config.Config,
	db *store.Store,
	grants core.GrantStore,
	recorder core.Recorder,
) {
	if cfg.GrantSweepInterval <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.GrantSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, db, grants, recorder)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// sweepExpired runs one sweep pass. Failures are logged at most once per
// window so a database outage doesn't flood the log.
func sweepExpired(ctx context.Context, db *store.Store, grants core.GrantStore, recorder core.Recorder) {
	now := time.Now()

	swept, err := grants.SweepExpired(ctx, now)
	if err != nil {
		recorder.RecordDatabaseQueryError("sweep_grants")
		sweepErrorLogger.logIfNeeded("sweep_grants", err)
	} else {
		recorder.RecordGrantsSwept(swept)
		if swept > 0 {
			log.Printf("[Sweep] Deleted %d expired grants", swept)
		}
	}

	tokens, err := db.DeleteExpiredAccountTokens(ctx, now)
	if err != nil {
		recorder.RecordDatabaseQueryError("sweep_account_tokens")
		sweepErrorLogger.logIfNeeded("sweep_account_tokens", err)
	} else if tokens > 0 {
		log.Printf("[Sweep] Deleted %d expired account tokens", tokens)
	}
}

// addAuditLogCleanupJob adds periodic audit log cleanup job
func addAuditLogCleanupJob(
	m *graceful.Manager,
	cfg *config.Config,
	auditService *services.AuditService,
) {
	if !cfg.EnableAuditLogging || cfg.AuditLogRetention <= 0 {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(auditCleanupInterval)
		defer ticker.Stop()

		// Run cleanup immediately on startup
		cleanupAuditLogs(ctx, auditService, cfg.AuditLogRetention)

		for {
			select {
			case <-ticker.C:
				cleanupAuditLogs(ctx, auditService, cfg.AuditLogRetention)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func cleanupAuditLogs(ctx context.Context, auditService *services.AuditService, retention time.Duration) {
	if deleted, err := auditService.CleanupOldLogs(ctx, retention); err != nil {
		log.Printf("Failed to cleanup old audit logs: %v", err)
	} else if deleted > 0 {
		log.Printf("Cleaned up %d old audit logs", deleted)
	}
}

// addAuditServiceShutdownJob adds audit service shutdown handler
func addAuditServiceShutdownJob(m *graceful.Manager, cfg *config.Config, auditService *services.AuditService) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down audit service...")
		timeout := cfg.AuditShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := auditService.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down audit service: %v", err)
			return err
		}
		return nil
	})
}

// addNotifierShutdownJob drains queued notifications, then closes the
// transport
func addNotifierShutdownJob(m *graceful.Manager, n *notify.Async, closer func() error) {
	m.AddShutdownJob(func() error {
		log.Println("Draining notification queue...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := n.Shutdown(ctx)
		if err != nil {
			log.Printf("Error draining notifications: %v", err)
		}
		if closer != nil {
			if cerr := closer(); cerr != nil {
				log.Printf("Error closing notifier: %v", cerr)
			}
		}
		return err
	})
}

// addCacheCleanupJob closes the caches on shutdown
func addCacheCleanupJob(m *graceful.Manager, clientCache core.Cache[models.Client], userCache core.Cache[models.User]) {
	m.AddShutdownJob(func() error {
		if clientCache != nil {
			if err := clientCache.Close(); err != nil {
				log.Printf("Error closing client cache: %v", err)
			}
		}
		if userCache != nil {
			if err := userCache.Close(); err != nil {
				log.Printf("Error closing user cache: %v", err)
			}
		}
		log.Println("Caches closed")
		return nil
	})
}

// addRedisClientShutdownJob adds Redis client shutdown handler
func addRedisClientShutdownJob(m *graceful.Manager, redisClient *redis.Client) {
	if redisClient == nil {
		return
	}

	m.AddShutdownJob(func() error {
		log.Println("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
			return err
		}
		log.Println("Redis connection closed")
		return nil
	})
}

// addDatabaseShutdownJob closes the database pool
func addDatabaseShutdownJob(m *graceful.Manager, db *store.Store) {
	m.AddShutdownJob(func() error {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
			return err
		}
		log.Println("Database closed")
		return nil
	})
}

// errorLogger handles rate-limited error logging
type errorLogger struct {
	lastErrorTimes  map[string]time.Time
	rateLimitWindow time.Duration
}

// newErrorLogger creates a new error logger with rate limiting
func newErrorLogger() *errorLogger {
	return &errorLogger{
		lastErrorTimes:  make(map[string]time.Time),
		rateLimitWindow: 5 * time.Minute, // Log at most once per 5 minutes per operation
	}
}

// logIfNeeded logs an error only if rate limit allows
func (e *errorLogger) logIfNeeded(operation string, err error) {
	now := time.Now()
	lastTime, exists := e.lastErrorTimes[operation]

	if !exists || now.Sub(lastTime) >= e.rateLimitWindow {
		log.Printf("[Sweep] %s failed: %v (further errors will be suppressed for %v)",
			operation, err, e.rateLimitWindow)
		e.lastErrorTimes[operation] = now
	}
}

// sweepErrorLogger is only touched from the sweep job goroutine
var sweepErrorLogger = newErrorLogger()

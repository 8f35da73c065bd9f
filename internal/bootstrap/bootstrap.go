package bootstrap

import (
	"context"
	"log"
	"net/http"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/flow"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/metrics"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/notify"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/token"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Application holds all initialized components
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB              *store.Store
	MetricsRecorder metrics.Recorder
	RedisClient     *redis.Client
	Grants          core.GrantStore
	ClientCache     core.Cache[models.Client]
	UserCache       core.Cache[models.User]

	// Token machinery
	Keys     *keys.Manager
	Issuer   *token.Issuer
	Verifier *token.Verifier
	Claims   core.ClaimsProvider
	Registry *registry.Registry
	Engine   *flow.Engine

	Notifier      *notify.Async
	closeNotifier func() error

	// Services
	AuditService        *services.AuditService
	UserService         *services.UserService
	AccountService      *services.AccountService
	TokenService        *services.TokenService
	ConsentService      *services.ConsentService
	OrganizationService *services.OrganizationService
	ClientService       *services.ClientService

	// HTTP
	HandlerSet handlerSet
	Router     *gin.Engine
	Server     *http.Server
}

// Run initializes and starts the application, blocking until shutdown
func Run(ctx context.Context, cfg *config.Config) error {
	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}

	// Phase 5: Start server with graceful shutdown
	app.startWithGracefulShutdown()
	return nil
}

// New builds every component without starting the server or any
// background job
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}

	// Phase 1: Validate configuration
	if err := validateAllConfiguration(cfg); err != nil {
		return nil, err
	}

	// Phase 2: Initialize infrastructure
	if err := app.initializeInfrastructure(ctx); err != nil {
		app.Close()
		return nil, err
	}

	// Phase 3: Initialize business layer
	if err := app.initializeBusinessLayer(ctx); err != nil {
		app.Close()
		return nil, err
	}

	// Phase 4: Initialize HTTP layer
	if err := app.initializeHTTPLayer(); err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

// initializeInfrastructure sets up database, metrics, Redis and caches
func (app *Application) initializeInfrastructure(ctx context.Context) error {
	var err error

	app.DB, err = initializeDatabase(ctx, app.Config)
	if err != nil {
		return err
	}

	app.MetricsRecorder = initializeMetrics(app.Config)

	// One go-redis client serves the rate limiter and the grant store
	app.RedisClient, err = initializeRedisClient(ctx, app.Config)
	if err != nil {
		return err
	}

	app.Grants = initializeGrantStore(app.Config, app.DB, app.RedisClient)

	app.ClientCache, err = initializeClientCache(ctx, app.Config)
	if err != nil {
		return err
	}
	app.UserCache, err = initializeUserCache(ctx, app.Config)
	if err != nil {
		return err
	}

	app.Keys, err = initializeKeys(app.Config, app.MetricsRecorder)
	return err
}

// initializeBusinessLayer sets up the registry, token issuance, the
// authorization engine and the services
func (app *Application) initializeBusinessLayer(ctx context.Context) error {
	app.AuditService = services.NewAuditService(
		app.DB,
		app.Config.EnableAuditLogging,
		app.Config.AuditLogBufferSize,
	)

	notifier, closer, err := initializeNotifier(app.Config)
	if err != nil {
		return err
	}
	app.Notifier = notify.NewAsync(notifier, app.Config.NotifierBufferSize, app.MetricsRecorder)
	app.closeNotifier = closer

	app.Registry = registry.New(
		app.DB,
		app.ClientCache,
		app.Config.ClientCacheTTL,
		registry.ScopeMode(app.Config.ScopeValidationMode),
	)
	if app.Config.SeedDefaults {
		if err := app.Seed(ctx); err != nil {
			return err
		}
	}

	app.initializeServices()

	app.Claims, err = initializeClaimsProvider(app.Config, app.UserService, app.MetricsRecorder)
	if err != nil {
		return err
	}

	app.Issuer = token.NewIssuer(
		app.Config.BaseURL,
		app.Keys,
		app.Claims,
		token.WithRecorder(app.MetricsRecorder),
	)
	app.Verifier = token.NewVerifier(app.Config.BaseURL, app.Keys)

	app.TokenService = services.NewTokenService(
		app.Registry,
		app.Grants,
		app.Issuer,
		app.Verifier,
		app.Claims,
		app.Config,
		app.AuditService,
		app.MetricsRecorder,
	)

	app.Engine = flow.NewEngine(
		app.Registry,
		app.Grants,
		app.DB,
		app.Issuer,
		flow.Config{
			Issuer:     app.Config.BaseURL,
			Secret:     []byte(app.Config.FlowSecret),
			RequestTTL: app.Config.FlowRequestTTL,
			CodeTTL:    app.Config.AuthCodeExpiration,
		},
		flow.WithRecorder(app.MetricsRecorder),
	)
	return nil
}

// initializeHTTPLayer sets up handlers, router, and server
func (app *Application) initializeHTTPLayer() error {
	app.HandlerSet = initializeHandlers(app)

	rateLimiters, err := setupRateLimiting(app.Config, app.AuditService, app.RedisClient)
	if err != nil {
		return err
	}

	app.Router = setupRouter(app.Config, app.DB, app.HandlerSet, app.MetricsRecorder, rateLimiters)
	app.Server = createHTTPServer(app.Config, app.Router)
	return nil
}

// startWithGracefulShutdown starts the server and handles graceful shutdown
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	// Running jobs
	addServerRunningJob(m, app.Server)
	addKeyRotationJob(m, app.Config, app.Keys)
	addGrantSweepJob(m, app.Config, app.DB, app.Grants, app.MetricsRecorder)
	addAuditLogCleanupJob(m, app.Config, app.AuditService)

	// Shutdown jobs
	addServerShutdownJob(m, app.Config, app.Server)
	addAuditServiceShutdownJob(m, app.Config, app.AuditService)
	addNotifierShutdownJob(m, app.Notifier, app.closeNotifier)
	addCacheCleanupJob(m, app.ClientCache, app.UserCache)
	addRedisClientShutdownJob(m, app.RedisClient)
	addDatabaseShutdownJob(m, app.DB)

	// Wait for graceful shutdown
	<-m.Done()
}

// Close releases what New acquired. Only for callers that never started the
// server; Run tears down through its shutdown jobs.
func (app *Application) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(app.Config))
	defer cancel()

	if app.AuditService != nil {
		if err := app.AuditService.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down audit service: %v", err)
		}
	}
	if app.Notifier != nil {
		if err := app.Notifier.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down notifier: %v", err)
		}
	}
	if app.closeNotifier != nil {
		_ = app.closeNotifier()
	}
	for _, c := range []interface{ Close() error }{app.ClientCache, app.UserCache} {
		if c != nil {
			_ = c.Close()
		}
	}
	if app.RedisClient != nil {
		_ = app.RedisClient.Close()
	}
	if app.DB != nil {
		_ = app.DB.Close()
	}
}

package bootstrap

import (
	"log"
	"net/http"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/handlers"
	"github.com/koskedk/dwh-identity/internal/metrics"
	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionName = "dwh_session"

// setupRouter configures the Gin router with all routes and middleware
func setupRouter(
	cfg *config.Config,
	db *store.Store,
	h handlerSet,
	prometheusMetrics metrics.Recorder,
	rateLimiters rateLimitMiddlewares,
) *gin.Engine {
	setupGinMode(cfg)
	r := gin.New()
	// Handlers hand the gin context to services as their context.Context
	r.ContextWithFallback = true

	r.Use(metrics.HTTPMetricsMiddleware(prometheusMetrics))
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(util.IPMiddleware())

	setupSessionMiddleware(r, cfg)

	r.GET("/health", createHealthCheckHandler(db))
	setupMetricsEndpoint(r, cfg)

	setupAllRoutes(r, h, rateLimiters)

	logServerStartup(cfg)
	return r
}

// setupSessionMiddleware configures session handling middleware
func setupSessionMiddleware(r *gin.Engine, cfg *config.Config) {
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, sessionStore))
}

// setupMetricsEndpoint configures the Prometheus metrics endpoint
func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config) {
	switch {
	case !cfg.MetricsEnabled:
		log.Printf("Prometheus metrics disabled")
	case cfg.MetricsToken != "":
		log.Printf("Prometheus metrics enabled at /metrics with Bearer token authentication")
		r.GET(
			"/metrics",
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		log.Printf("Prometheus metrics enabled at /metrics (no authentication)")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// setupAllRoutes configures all application routes
func setupAllRoutes(r *gin.Engine, h handlerSet, rateLimiters rateLimitMiddlewares) {
	// Discovery
	r.GET("/.well-known/openid-configuration", h.oidc.Discovery)
	r.GET(handlers.PathJWKS, h.oidc.JWKS)

	// Authorization flow (browser)
	r.GET(handlers.PathAuthorize, h.authorize.Authorize)
	// Login sets the session, so it carries the session CSRF token too
	r.GET(handlers.PathAuthorize+"/login", middleware.CSRFMiddleware(), h.authorize.LoginToken)
	r.POST(handlers.PathAuthorize+"/login", rateLimiters.login, middleware.CSRFMiddleware(), h.authorize.Login)
	r.GET(handlers.PathAuthorize+"/consent", h.authorize.ConsentInfo)
	r.POST(handlers.PathAuthorize+"/consent", h.authorize.Consent)
	r.GET(handlers.PathEndSession, h.oidc.EndSession)

	// Back channel (client authenticated or bearer)
	r.POST(handlers.PathToken, rateLimiters.token, h.token.Token)
	r.POST(handlers.PathRevocation, rateLimiters.token, h.token.Revoke)
	r.POST(handlers.PathIntrospect, rateLimiters.token, h.token.Introspect)
	r.GET(handlers.PathUserInfo, h.oidc.UserInfo)
	r.POST(handlers.PathUserInfo, h.oidc.UserInfo)

	// Account workflow (anonymous)
	account := r.Group("/account")
	{
		account.POST("/register", rateLimiters.register, h.account.Register)
		account.POST("/confirm-email", rateLimiters.register, h.account.ConfirmEmail)
		account.POST("/forgot-password", rateLimiters.register, h.account.ForgotPassword)
		account.POST("/reset-password", rateLimiters.register, h.account.ResetPassword)
	}

	// Organizations are listed on the registration form
	r.GET("/api/organizations", h.organization.List)
	r.GET("/api/organizations/:id", h.organization.Get)

	// Signed-in routes (session + CSRF)
	authed := r.Group("")
	authed.Use(middleware.RequireAuth(h.userService), middleware.CSRFMiddleware())
	{
		authed.GET("/account/me", h.account.Me)
		authed.GET("/account/consents", h.account.ListConsents)
		authed.DELETE("/account/consents/:clientId", h.account.RevokeConsent)
	}

	// Steward routes (steward or admin)
	steward := authed.Group("/api")
	steward.Use(middleware.RequireSteward())
	{
		steward.GET("/users", h.user.ListUsers)
		steward.GET("/users/stewards/:orgId", h.user.ListStewards)
		steward.POST("/users/:id/confirm", h.user.Confirm)
		steward.POST("/users/:id/deny", h.user.Deny)
		steward.POST("/users/:id/make-steward", h.user.MakeSteward)
		steward.POST("/users/:id/make-user", h.user.MakeUser)
		steward.GET("/users/:id", h.user.Get)
		steward.PUT("/users/:id", h.user.Update)
		steward.DELETE("/users/:id", h.user.Delete)
		steward.GET("/organizations/:id/contacts", h.organization.ListContacts)
	}

	// Admin routes
	admin := authed.Group("/api")
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/organizations", h.organization.Create)
		admin.PUT("/organizations/:id", h.organization.Update)
		admin.DELETE("/organizations/:id", h.organization.Delete)
		admin.POST("/organizations/:id/contacts", h.organization.CreateContact)
		admin.PUT("/organizations/:id/contacts/:contactId", h.organization.UpdateContact)
		admin.DELETE("/organizations/:id/contacts/:contactId", h.organization.DeleteContact)

		admin.GET("/clients", h.client.List)
		admin.POST("/clients", h.client.Create)
		admin.GET("/clients/:clientId", h.client.Get)
		admin.PUT("/clients/:clientId", h.client.Update)
		admin.POST("/clients/:clientId/secret", h.client.RegenerateSecret)
		admin.GET("/scopes", h.client.ListScopes)

		admin.GET("/audit/logs", h.audit.ListAuditLogs)
		admin.GET("/audit/export", h.audit.ExportAuditLogs)
	}
}

// createHealthCheckHandler creates health check endpoint handler
func createHealthCheckHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch err := db.Health(); err {
		case nil:
			c.JSON(http.StatusOK, gin.H{
				"status":   "healthy",
				"database": "connected",
			})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "disconnected",
			})
		}
	}
}

// setupGinMode sets Gin mode based on environment configuration
func setupGinMode(cfg *config.Config) {
	if gin.Mode() == gin.TestMode {
		return
	}
	mode := ginModeMap[cfg.IsProduction]
	gin.SetMode(mode)
	log.Printf("Gin mode: %s", ginModeLogMessage[cfg.IsProduction])
}

var ginModeMap = map[bool]string{
	true:  gin.ReleaseMode,
	false: gin.DebugMode,
}

var ginModeLogMessage = map[bool]string{
	true:  "Release (production)",
	false: "Debug (development)",
}

// logServerStartup logs server startup information
func logServerStartup(cfg *config.Config) {
	log.Printf("Identity server starting on %s", cfg.ServerAddr)
	log.Printf("Issuer: %s", cfg.BaseURL)
	log.Printf("Discovery: %s/.well-known/openid-configuration", cfg.BaseURL)
	log.Printf("Login page: %s", cfg.LoginURL)
}

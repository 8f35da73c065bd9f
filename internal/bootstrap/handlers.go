package bootstrap

import (
	"github.com/koskedk/dwh-identity/internal/handlers"
	"github.com/koskedk/dwh-identity/internal/services"
)

// handlerSet holds all HTTP handlers and required services
type handlerSet struct {
	oidc         *handlers.OIDCHandler
	authorize    *handlers.AuthorizeHandler
	token        *handlers.TokenHandler
	account      *handlers.AccountHandler
	user         *handlers.UserHandler
	organization *handlers.OrganizationHandler
	client       *handlers.ClientHandler
	audit        *handlers.AuditHandler
	userService  *services.UserService
}

// initializeHandlers creates all HTTP handlers
func initializeHandlers(app *Application) handlerSet {
	cfg := app.Config
	return handlerSet{
		oidc: handlers.NewOIDCHandler(
			cfg.BaseURL,
			app.Registry,
			app.Keys,
			app.Verifier,
			app.TokenService,
			app.AuditService,
		),
		authorize:    handlers.NewAuthorizeHandler(app.Engine, app.UserService, cfg.LoginURL, cfg.ConsentURL),
		token:        handlers.NewTokenHandler(app.TokenService),
		account:      handlers.NewAccountHandler(app.AccountService, app.ConsentService),
		user:         handlers.NewUserHandler(app.UserService),
		organization: handlers.NewOrganizationHandler(app.OrganizationService),
		client:       handlers.NewClientHandler(app.ClientService, app.Registry),
		audit:        handlers.NewAuditHandler(app.AuditService),
		userService:  app.UserService,
	}
}

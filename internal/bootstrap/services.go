package bootstrap

import (
	"github.com/koskedk/dwh-identity/internal/services"
)

// initializeServices creates the account and administration services. The
// token service is built later because it needs the claims provider, which
// may read from the user service.
func (app *Application) initializeServices() {
	app.UserService = services.NewUserService(
		app.DB,
		app.Grants,
		app.Notifier,
		app.AuditService,
		app.MetricsRecorder,
		app.UserCache,
		app.Config.UserCacheTTL,
		app.Config.PortalURL,
	)
	app.AccountService = services.NewAccountService(
		app.DB,
		app.UserService,
		app.Notifier,
		app.AuditService,
		app.MetricsRecorder,
		app.Config,
	)
	app.ConsentService = services.NewConsentService(app.DB, app.Grants, app.AuditService)
	app.OrganizationService = services.NewOrganizationService(app.DB, app.AuditService)
	app.ClientService = services.NewClientService(app.Registry, app.AuditService)
}

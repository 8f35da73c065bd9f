package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPhone    = "+000000000000"
	adminPasswordLength  = 16
)

// Seed registers the portal scopes and clients and creates the first admin
// account. It only adds what is missing, so running it twice is harmless.
func (app *Application) Seed(ctx context.Context) error {
	secrets, err := app.Registry.SeedDefaults(ctx, app.Config.SeedPortalURL)
	if err != nil {
		return fmt.Errorf("failed to seed clients: %w", err)
	}
	for clientID, secret := range secrets {
		log.Printf("[Seed] Created client %s", clientID)
		log.Printf("[Seed] Client secret for %s (save this): %s", clientID, secret)
	}

	return app.ensureAdminUser(ctx)
}

// ensureAdminUser creates an admin with a random password when the
// database has none
func (app *Application) ensureAdminUser(ctx context.Context) error {
	admins, err := app.DB.ListAdmins(ctx)
	if err != nil {
		return err
	}
	if len(admins) > 0 {
		return nil
	}

	password, err := util.CryptoRandomString(adminPasswordLength)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &models.User{
		ID:             uuid.New().String(),
		Username:       defaultAdminUsername,
		Email:          app.Config.SeedAdminEmail,
		PhoneNumber:    defaultAdminPhone,
		PasswordHash:   string(hash),
		FullName:       "Administrator",
		UserType:       models.UserTypeAdmin,
		UserConfirmed:  models.UserConfirmed,
		EmailConfirmed: true,
	}
	if err := app.DB.CreateUser(ctx, admin); err != nil {
		if errors.Is(err, store.ErrUsernameConflict) ||
			errors.Is(err, store.ErrEmailConflict) ||
			errors.Is(err, store.ErrPhoneConflict) {
			log.Printf("[Seed] Skipping admin account: %v", err)
			return nil
		}
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	log.Printf("[Seed] Created admin account: %s / %s", admin.Username, password)
	return nil
}

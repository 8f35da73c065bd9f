package registry

import (
	"context"
	"errors"
	"log"

	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/store"
)

// ScopeAPIApp is the portal API scope
const ScopeAPIApp = "apiApp"

func defaultScopes() []*models.Scope {
	return []*models.Scope{
		{
			Name:        models.ScopeOpenID,
			DisplayName: "Your user identifier",
			Claims:      models.StringArray{"sub"},
			Required:    true,
		},
		{
			Name:        models.ScopeProfile,
			DisplayName: "User profile",
			Description: "Your name, organization and designation",
			Claims: models.StringArray{
				"name", "full_name", "organization_id", "designation", "user_type",
			},
			Emphasize: true,
		},
		{
			Name:        models.ScopeEmail,
			DisplayName: "Your email address",
			Claims:      models.StringArray{"email", "email_verified"},
			Emphasize:   true,
		},
		{
			Name:        models.ScopeOfflineAccess,
			DisplayName: "Offline access",
		},
		{
			Name:        ScopeAPIApp,
			DisplayName: "DWH Portal",
		},
	}
}

func spaClient(clientID, name, portalURL string) *models.Client {
	return &models.Client{
		ClientID:   clientID,
		Name:       name,
		GrantTypes: models.StringArray{models.GrantTypeImplicit},
		RedirectURIs: models.StringArray{
			portalURL + "/auth-callback",
			portalURL + "/silent-refresh.html",
		},
		PostLogoutRedirectURIs: models.StringArray{portalURL + "/"},
		Scopes: models.StringArray{
			models.ScopeOpenID, models.ScopeProfile, models.ScopeEmail, ScopeAPIApp,
		},
		RequireSecret:       false,
		RequireConsent:      false,
		AccessTokenLifetime: 3600,
		IsActive:            true,
	}
}

func hybridClient(clientID, name, portalURL string) *models.Client {
	return &models.Client{
		ClientID:               clientID,
		Name:                   name,
		GrantTypes:             models.StringArray{models.GrantTypeHybrid},
		RedirectURIs:           models.StringArray{portalURL + "/signin-oidc"},
		PostLogoutRedirectURIs: models.StringArray{portalURL + "/signout-callback-oidc"},
		Scopes: models.StringArray{
			models.ScopeOpenID, models.ScopeProfile, models.ScopeEmail,
		},
		RequirePKCE:         false,
		RequireSecret:       true,
		RequireConsent:      true,
		AccessTokenLifetime: 3600,
		IsActive:            true,
	}
}

// SeedDefaults registers the portal scopes and clients that don't exist yet.
// It returns the generated plaintext secrets of newly created confidential
// clients, keyed by client id; they are not recoverable afterwards.
func (r *Registry) SeedDefaults(ctx context.Context, portalURL string) (map[string]string, error) {
	for _, scope := range defaultScopes() {
		err := r.RegisterScope(ctx, scope)
		if err != nil && !errors.Is(err, store.ErrScopeConflict) {
			return nil, err
		}
	}

	clients := []*models.Client{
		spaClient("dwh.spa", "DWH Portal Frontend", portalURL),
		hybridClient("adhoc-client", "Adhoc MCV Client", portalURL),
		spaClient("nascop.spa", "NASCOP DWH Portal Frontend", portalURL),
		hybridClient("nascop.adhoc-client", "NASCOP Adhoc MCV Client", portalURL),
		spaClient("dwh.his", "DWH HIS", portalURL),
	}

	secrets := make(map[string]string)
	for _, client := range clients {
		if _, err := r.store.GetClient(ctx, client.ClientID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, err
		}

		if client.RequireSecret {
			secret, err := client.GenerateClientSecret(ctx)
			if err != nil {
				return nil, err
			}
			secrets[client.ClientID] = secret
		}
		if err := r.RegisterClient(ctx, client); err != nil {
			return nil, err
		}
		log.Printf("[Registry] Seeded client %s", client.ClientID)
	}
	return secrets, nil
}

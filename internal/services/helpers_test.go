package services

import (
	"context"
	"testing"
	"time"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/token"

	"github.com/stretchr/testify/require"
)

const testIssuer = "https://id.example.org"

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:                testIssuer,
		PortalURL:              "https://portal.example.org",
		AuthCodeExpiration:     5 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		EnableRefreshTokens:    true,
		EnableTokenRotation:    true,
		AccountTokenTTL:        time.Hour,
	}
}

type tokenFixture struct {
	store    *store.Store
	registry *registry.Registry
	service  *TokenService
	audit    *AuditService
	cfg      *config.Config
	web      *models.Client
	svc      *models.Client
}

func newTokenFixture(t *testing.T, cfg *config.Config) *tokenFixture {
	t.Helper()
	ctx := context.Background()
	s := setupTestStore(t)

	reg := registry.New(s, nil, 0, registry.ScopeModeStrict)
	for _, name := range []string{"openid", "profile", "offline_access", "api"} {
		require.NoError(t, reg.RegisterScope(ctx, &models.Scope{Name: name}))
	}

	web := &models.Client{
		ClientID:            "web",
		Name:                "Web",
		GrantTypes:          models.StringArray{models.GrantTypeAuthorizationCode, models.GrantTypeRefreshToken},
		RedirectURIs:        models.StringArray{"https://web/cb"},
		Scopes:              models.StringArray{"openid", "profile", "offline_access"},
		RequireSecret:       true,
		AllowOfflineAccess:  true,
		AccessTokenLifetime: 3600,
		IsActive:            true,
	}
	require.NoError(t, web.SetClientSecret("web-secret"))
	require.NoError(t, reg.RegisterClient(ctx, web))

	svc := &models.Client{
		ClientID:            "svc",
		Name:                "Service",
		GrantTypes:          models.StringArray{models.GrantTypeClientCredentials},
		Scopes:              models.StringArray{"openid", "api"},
		RequireSecret:       true,
		AccessTokenLifetime: 600,
		IsActive:            true,
	}
	require.NoError(t, svc.SetClientSecret("svc-secret"))
	require.NoError(t, reg.RegisterClient(ctx, svc))

	km := keys.NewManager(time.Hour)
	key, err := keys.GenerateRSA()
	require.NoError(t, err)
	require.NoError(t, km.Rotate(key))

	audit := NewAuditService(s, true, 100)
	t.Cleanup(func() { _ = audit.Shutdown(context.Background()) })

	service := NewTokenService(
		reg, s,
		token.NewIssuer(testIssuer, km, nil),
		token.NewVerifier(testIssuer, km),
		nil, cfg, audit, nil,
	)

	loadedWeb, err := reg.ResolveClient(ctx, "web")
	require.NoError(t, err)
	loadedSvc, err := reg.ResolveClient(ctx, "svc")
	require.NoError(t, err)

	return &tokenFixture{
		store:    s,
		registry: reg,
		service:  service,
		audit:    audit,
		cfg:      cfg,
		web:      loadedWeb,
		svc:      loadedSvc,
	}
}

package services

import (
	"context"
	"testing"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentRevokeRevokesGrants(t *testing.T) {
	f := newTokenFixture(t, testConfig())
	ctx := context.Background()
	consents := NewConsentService(f.store, f.store, f.audit)

	require.NoError(t, f.store.SaveConsent(ctx, &models.Consent{
		Subject: "user-1", ClientID: "web", Scopes: models.StringArray{"openid", "offline_access"},
	}))

	_, code := f.issueCode(t, "openid", "offline_access")
	resp, err := f.service.ExchangeCode(ctx, f.web, code, "https://web/cb", testVerifier)
	require.NoError(t, err)
	require.NotEmpty(t, resp.RefreshToken)

	list, err := consents.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err := consents.Revoke(ctx, "user-1", "web")
	require.NoError(t, err)
	assert.Positive(t, n)

	_, err = f.service.Refresh(ctx, f.web, resp.RefreshToken, nil)
	assert.ErrorIs(t, err, core.ErrGrantRevoked)
	_, err = f.service.ValidateAccessToken(ctx, resp.AccessToken)
	assert.Error(t, err)

	list, err = consents.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConsentRevokeUnknown(t *testing.T) {
	f := newTokenFixture(t, testConfig())
	consents := NewConsentService(f.store, f.store, f.audit)

	_, err := consents.Revoke(context.Background(), "user-1", "web")
	assert.ErrorIs(t, err, ErrConsentNotFound)
}

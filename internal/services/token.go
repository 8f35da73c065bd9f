package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/flow"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/oautherr"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/token"
	"github.com/koskedk/dwh-identity/internal/util"
)

// Token endpoint errors
var (
	ErrInvalidClientCredentials = oautherr.New(oautherr.InvalidClient, "client authentication failed")
	ErrUnauthorizedGrantType    = oautherr.New(oautherr.UnauthorizedClient, "client is not allowed to use this grant type")
	ErrPKCEVerificationFailed   = oautherr.New(oautherr.InvalidGrant, "PKCE verification failed")
	ErrGrantMismatch            = oautherr.New(oautherr.InvalidGrant, "the grant was not issued to this client or redirect_uri")
	ErrScopeExceedsGrant        = oautherr.New(oautherr.InvalidScope, "requested scope exceeds the original grant")
	ErrInsufficientScope        = oautherr.New(oautherr.InsufficientScope, "the access token lacks the openid scope")
)

// TokenResponse is the RFC 6749 section 5.1 success body
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 response body
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

// TokenService redeems grants for tokens. Redemption is never retried.
type TokenService struct {
	registry     *registry.Registry
	grants       core.GrantStore
	issuer       *token.Issuer
	verifier     *token.Verifier
	claims       core.ClaimsProvider
	config       *config.Config
	auditService *AuditService
	metrics      core.Recorder
}

func NewTokenService(
	reg *registry.Registry,
	grants core.GrantStore,
	issuer *token.Issuer,
	verifier *token.Verifier,
	claims core.ClaimsProvider,
	cfg *config.Config,
	auditService *AuditService,
	m core.Recorder,
) *TokenService {
	return &TokenService{
		registry:     reg,
		grants:       grants,
		issuer:       issuer,
		verifier:     verifier,
		claims:       claims,
		config:       cfg,
		auditService: auditService,
		metrics:      m,
	}
}

// AuthenticateClient resolves a client for the token, revocation and
// introspection endpoints. Confidential clients must present their secret;
// public clients identify by client_id alone.
func (s *TokenService) AuthenticateClient(ctx context.Context, clientID, secret string) (*models.Client, error) {
	client, err := s.registry.ResolveClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownClient) {
			return nil, ErrInvalidClientCredentials
		}
		return nil, err
	}

	if client.RequireSecret && !client.ValidateClientSecret([]byte(secret)) {
		return nil, ErrInvalidClientCredentials
	}
	return client, nil
}

// ExchangeCode redeems an authorization code. The PKCE verifier is checked
// against a Peek before the compare-and-swap, so a wrong verifier leaves the
// code redeemable. Presenting a consumed code revokes its whole family.
func (s *TokenService) ExchangeCode(
	ctx context.Context,
	client *models.Client,
	code, redirectURI, codeVerifier string,
) (*TokenResponse, error) {
	kind := models.GrantKindAuthorizationCode
	if !client.AllowsGrantType(models.GrantTypeAuthorizationCode) &&
		!client.AllowsGrantType(models.GrantTypeHybrid) {
		return nil, ErrUnauthorizedGrantType
	}

	grant, err := s.grants.Peek(ctx, code, kind)
	if err != nil {
		if errors.Is(err, core.ErrAlreadyConsumed) && grant != nil {
			s.replayDetected(ctx, grant)
		}
		s.recordRedemption(kind, err)
		return nil, err
	}

	if grant.ClientID != client.ClientID || grant.RedirectURI != redirectURI {
		s.recordRedemption(kind, ErrGrantMismatch)
		return nil, ErrGrantMismatch
	}
	if grant.CodeChallenge != "" &&
		!flow.VerifyCodeVerifier(grant.CodeChallenge, grant.CodeChallengeMethod, codeVerifier) {
		s.recordRedemption(kind, ErrPKCEVerificationFailed)
		return nil, ErrPKCEVerificationFailed
	}

	redeemed, err := s.grants.Redeem(ctx, code, kind)
	if err != nil {
		// Lost the race to a concurrent redemption of the same code
		if errors.Is(err, core.ErrAlreadyConsumed) && redeemed != nil {
			s.replayDetected(ctx, redeemed)
		}
		s.recordRedemption(kind, err)
		return nil, err
	}
	s.recordRedemption(kind, nil)

	resp, err := s.issue(ctx, client, redeemed, models.GrantTypeAuthorizationCode, redeemed.Scopes, redeemed.Nonce)
	if err != nil {
		return nil, err
	}

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventAuthorizationCodeRedeemed,
		Severity:     models.SeverityInfo,
		ActorUserID:  redeemed.Subject,
		ResourceType: models.ResourceGrant,
		ResourceID:   redeemed.ID,
		Action:       "Authorization code exchanged for tokens",
		Details: models.AuditDetails{
			"client_id":     client.ClientID,
			"scopes":        util.JoinScopes(redeemed.Scopes),
			"family_id":     redeemed.FamilyID,
			"pkce":          redeemed.CodeChallenge != "",
			"refresh_token": resp.RefreshToken != "",
		},
		Success: true,
	})
	return resp, nil
}

// Refresh redeems a refresh token. With rotation the old token is consumed
// and a replacement in the same family is returned; presenting a rotated-out
// token revokes the family and fails with ErrReplayDetected.
func (s *TokenService) Refresh(
	ctx context.Context,
	client *models.Client,
	refreshToken string,
	scopes []string,
) (*TokenResponse, error) {
	kind := models.GrantKindRefreshToken
	if !s.config.EnableRefreshTokens {
		return nil, ErrUnauthorizedGrantType
	}
	// Withdrawing either permission stops existing families from rotating
	if !client.AllowsGrantType(models.GrantTypeRefreshToken) || !client.AllowOfflineAccess {
		s.recordRefresh(false)
		return nil, ErrUnauthorizedGrantType
	}

	grant, err := s.grants.Peek(ctx, refreshToken, kind)
	if err != nil {
		s.recordRefresh(false)
		if errors.Is(err, core.ErrAlreadyConsumed) && grant != nil {
			s.replayDetected(ctx, grant)
			return nil, core.ErrReplayDetected
		}
		s.recordRedemption(kind, err)
		return nil, err
	}
	if grant.ClientID != client.ClientID {
		s.recordRefresh(false)
		return nil, ErrGrantMismatch
	}

	granted := []string(grant.Scopes)
	if len(scopes) > 0 {
		for _, sc := range scopes {
			if !slices.Contains(granted, sc) {
				s.recordRefresh(false)
				return nil, ErrScopeExceedsGrant
			}
		}
		granted = scopes
	}

	if s.config.EnableTokenRotation {
		redeemed, err := s.grants.Redeem(ctx, refreshToken, kind)
		if err != nil {
			s.recordRefresh(false)
			if errors.Is(err, core.ErrAlreadyConsumed) && redeemed != nil {
				s.replayDetected(ctx, redeemed)
				return nil, core.ErrReplayDetected
			}
			s.recordRedemption(kind, err)
			return nil, err
		}
		grant = redeemed
	}
	s.recordRedemption(kind, nil)

	resp, err := s.issue(ctx, client, grant, models.GrantTypeRefreshToken, granted, "")
	if err != nil {
		s.recordRefresh(false)
		return nil, err
	}
	if !s.config.EnableTokenRotation {
		// Reuse policy: the presented token stays valid until it expires
		resp.RefreshToken = refreshToken
	}
	s.recordRefresh(true)

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventTokenRefreshed,
		Severity:     models.SeverityInfo,
		ActorUserID:  grant.Subject,
		ResourceType: models.ResourceGrant,
		ResourceID:   grant.ID,
		Action:       "Refresh token redeemed",
		Details: models.AuditDetails{
			"client_id": client.ClientID,
			"family_id": grant.FamilyID,
			"rotated":   s.config.EnableTokenRotation,
		},
		Success: true,
	})
	return resp, nil
}

// ClientCredentials issues an access token to a confidential client acting
// on its own behalf. Identity scopes are not available without a user.
func (s *TokenService) ClientCredentials(
	ctx context.Context,
	client *models.Client,
	scopes []string,
) (*TokenResponse, error) {
	if !client.RequireSecret || !client.AllowsGrantType(models.GrantTypeClientCredentials) {
		return nil, ErrUnauthorizedGrantType
	}

	if len(scopes) == 0 {
		for _, sc := range client.Scopes {
			if !identityScope(sc) {
				scopes = append(scopes, sc)
			}
		}
	}
	for _, sc := range scopes {
		if identityScope(sc) {
			return nil, fmt.Errorf("%w: %s requires a user", registry.ErrScopeNotAllowed, sc)
		}
	}

	granted, err := s.registry.ValidateScopes(client, scopes, s.registry.Mode())
	if err != nil {
		return nil, err
	}

	set, err := s.issuer.IssueTokens(ctx, token.IssueParams{
		Client:    client,
		GrantType: models.GrantTypeClientCredentials,
		Subject:   client.ClientID,
		Scopes:    granted,
	})
	if err != nil {
		return nil, err
	}

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventAccessTokenIssued,
		Severity:     models.SeverityInfo,
		ActorUserID:  "client:" + client.ClientID,
		ResourceType: models.ResourceToken,
		ResourceID:   set.JTI,
		Action:       "Access token issued via client_credentials",
		Details: models.AuditDetails{
			"client_id": client.ClientID,
			"scopes":    util.JoinScopes(granted),
		},
		Success: true,
	})

	return &TokenResponse{
		AccessToken: set.AccessToken,
		TokenType:   set.TokenType,
		ExpiresIn:   set.ExpiresIn,
		Scope:       util.JoinScopes(set.Scopes),
	}, nil
}

// Revoke implements RFC 7009. Unknown or foreign tokens are not an error.
// Revoking a refresh token, or an access token tied to one, revokes the
// whole family.
func (s *TokenService) Revoke(ctx context.Context, client *models.Client, value, hint string) error {
	familyID, subject := "", ""

	if hint != "access_token" {
		grant, err := s.grants.Peek(ctx, value, models.GrantKindRefreshToken)
		if grant != nil && grant.ClientID == client.ClientID {
			familyID, subject = grant.FamilyID, grant.Subject
		} else if err != nil && !errors.Is(err, core.ErrGrantNotFound) && grant == nil {
			return err
		}
	}

	if familyID == "" {
		claims, err := s.verifier.Verify(ctx, value, token.VerifyOptions{Use: token.TypeAccessToken})
		if err == nil && claims.ClientID == client.ClientID {
			familyID, subject = claims.FamilyID, claims.Subject
		}
	}

	if familyID == "" {
		return nil
	}

	n, err := s.grants.RevokeFamily(ctx, familyID)
	if err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTokenRevoked("family", "client_request")
	}

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventTokenRevoked,
		Severity:     models.SeverityInfo,
		ActorUserID:  subject,
		ResourceType: models.ResourceGrant,
		ResourceID:   familyID,
		Action:       "Token family revoked by client",
		Details: models.AuditDetails{
			"client_id": client.ClientID,
			"revoked":   n,
		},
		Success: true,
	})
	return nil
}

// Introspect implements RFC 7662 for access and refresh tokens
func (s *TokenService) Introspect(ctx context.Context, client *models.Client, value string) *IntrospectionResponse {
	if claims, err := s.ValidateAccessToken(ctx, value); err == nil {
		resp := &IntrospectionResponse{
			Active:    true,
			Scope:     claims.Scope,
			ClientID:  claims.ClientID,
			Subject:   claims.Subject,
			TokenType: "access_token",
			Issuer:    claims.Issuer,
			JTI:       claims.ID,
			ExpiresAt: claims.ExpiresAtTime().Unix(),
		}
		if claims.IssuedAt != nil {
			resp.IssuedAt = claims.IssuedAt.Unix()
		}
		return resp
	}

	grant, err := s.grants.Peek(ctx, value, models.GrantKindRefreshToken)
	if err != nil || grant.ClientID != client.ClientID {
		return &IntrospectionResponse{Active: false}
	}
	if revoked, err := s.grants.FamilyRevoked(ctx, grant.FamilyID); err != nil || revoked {
		return &IntrospectionResponse{Active: false}
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     util.JoinScopes(grant.Scopes),
		ClientID:  grant.ClientID,
		Subject:   grant.Subject,
		TokenType: "refresh_token",
		ExpiresAt: grant.ExpiresAt.Unix(),
		IssuedAt:  grant.CreatedAt.Unix(),
	}
}

// ValidateAccessToken verifies a bearer token and rejects it once its
// grant family has been revoked
func (s *TokenService) ValidateAccessToken(ctx context.Context, raw string) (*token.Claims, error) {
	claims, err := s.verifier.Verify(ctx, raw, token.VerifyOptions{
		Use:      token.TypeAccessToken,
		Audience: s.issuer.ResourceAudience(),
	})
	if err != nil {
		return nil, err
	}

	if claims.FamilyID != "" {
		revoked, err := s.grants.FamilyRevoked(ctx, claims.FamilyID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token family: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: grant family revoked", token.ErrInvalidToken)
		}
	}
	return claims, nil
}

// UserInfo returns the claims released for a bearer token's scopes
func (s *TokenService) UserInfo(ctx context.Context, raw string) (map[string]any, error) {
	claims, err := s.ValidateAccessToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	scopes := claims.Scopes()
	if !slices.Contains(scopes, models.ScopeOpenID) {
		return nil, ErrInsufficientScope
	}

	out := map[string]any{}
	if s.claims != nil {
		out, err = s.claims.GetClaims(ctx, claims.Subject, scopes)
		if err != nil {
			return nil, err
		}
	}
	out["sub"] = claims.Subject
	return out, nil
}

// issue signs tokens for a redeemed grant and, for offline_access, creates
// the next refresh token in the same family
func (s *TokenService) issue(
	ctx context.Context,
	client *models.Client,
	grant *models.Grant,
	grantType string,
	scopes []string,
	nonce string,
) (*TokenResponse, error) {
	set, err := s.issuer.IssueTokens(ctx, token.IssueParams{
		Client:    client,
		GrantType: grantType,
		Subject:   grant.Subject,
		Scopes:    scopes,
		FamilyID:  grant.FamilyID,
		IDToken:   true,
		Nonce:     nonce,
		AuthTime:  grant.AuthTime,
	})
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: set.AccessToken,
		TokenType:   set.TokenType,
		ExpiresIn:   set.ExpiresIn,
		IDToken:     set.IDToken,
		Scope:       util.JoinScopes(set.Scopes),
	}

	wantRefresh := s.config.EnableRefreshTokens &&
		slices.Contains(grant.Scopes, models.ScopeOfflineAccess) &&
		(grant.Kind == models.GrantKindAuthorizationCode || s.config.EnableTokenRotation)
	if !wantRefresh {
		return resp, nil
	}

	_, handle, err := s.grants.CreateGrant(ctx, core.CreateGrantParams{
		Kind:     models.GrantKindRefreshToken,
		Subject:  grant.Subject,
		ClientID: client.ClientID,
		Scopes:   grant.Scopes,
		AuthTime: grant.AuthTime,
		FamilyID: grant.FamilyID,
		ParentID: grant.ID,
		TTL:      s.config.RefreshTokenExpiration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}
	resp.RefreshToken = handle
	return resp, nil
}

// replayDetected revokes the family of a grant presented after consumption
func (s *TokenService) replayDetected(ctx context.Context, grant *models.Grant) {
	n, err := s.grants.RevokeFamily(ctx, grant.FamilyID)
	if err != nil {
		log.Printf("[Token] Failed to revoke family %s after replay: %v", grant.FamilyID, err)
	}
	log.Printf("[Token] SECURITY: %s replay for client=%s subject=%s family=%s, revoked %d grants",
		grant.Kind, grant.ClientID, grant.Subject, grant.FamilyID, n)

	if s.metrics != nil {
		s.metrics.RecordReplayDetected(string(grant.Kind))
	}

	auditErr := s.auditService.LogSync(ctx, AuditLogEntry{
		EventType:    models.EventReplayDetected,
		Severity:     models.SeverityCritical,
		ActorUserID:  grant.Subject,
		ResourceType: models.ResourceGrant,
		ResourceID:   grant.ID,
		Action:       "Consumed grant presented again, family revoked",
		Details: models.AuditDetails{
			"client_id": grant.ClientID,
			"kind":      string(grant.Kind),
			"family_id": grant.FamilyID,
			"revoked":   n,
		},
		Success: false,
	})
	if auditErr != nil {
		log.Printf("[Token] Failed to write replay audit event: %v", auditErr)
	}
}

func (s *TokenService) recordRedemption(kind models.GrantKind, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, core.ErrGrantNotFound):
		result = "not_found"
	case errors.Is(err, core.ErrGrantExpired):
		result = "expired"
	case errors.Is(err, core.ErrAlreadyConsumed):
		result = "already_consumed"
	case errors.Is(err, core.ErrGrantRevoked):
		result = "revoked"
	case errors.Is(err, ErrPKCEVerificationFailed):
		result = "pkce_failed"
	default:
		result = "invalid"
	}
	s.metrics.RecordGrantRedemption(string(kind), result)
}

func (s *TokenService) recordRefresh(success bool) {
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(success)
	}
}

func identityScope(scope string) bool {
	switch scope {
	case models.ScopeOpenID, models.ScopeProfile, models.ScopeEmail,
		models.ScopePhone, models.ScopeOfflineAccess:
		return true
	}
	return false
}

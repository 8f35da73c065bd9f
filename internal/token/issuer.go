// Package token signs access and ID tokens with the active key and verifies
// them against the full verification key set.
package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer builds and signs tokens. Claims in the output depend only on the
// subject, client, granted scopes and what the claims provider returns.
type Issuer struct {
	issuer  string
	keys    KeySource
	claims  core.ClaimsProvider
	now     func() time.Time
	metrics core.Recorder
}

// Option configures an Issuer or Verifier
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics core.Recorder
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRecorder records issuance metrics
func WithRecorder(r core.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewIssuer creates an issuer for the given issuer URL
func NewIssuer(issuer string, ks KeySource, claims core.ClaimsProvider, opts ...Option) *Issuer {
	o := buildOptions(opts)
	return &Issuer{
		issuer:  issuer,
		keys:    ks,
		claims:  claims,
		now:     o.now,
		metrics: o.metrics,
	}
}

// ResourceAudience is the aud of every access token
func (i *Issuer) ResourceAudience() string {
	return i.issuer + "/resources"
}

// IssueTokens signs an access token and, when requested and openid was
// granted, an ID token. Nothing is returned if any step fails.
func (i *Issuer) IssueTokens(ctx context.Context, p IssueParams) (*TokenSet, error) {
	start := i.now()

	key, err := i.keys.ActiveKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
	}

	now := start.Truncate(time.Second)
	ttl := p.Client.AccessTokenTTL()
	expiresAt := now.Add(ttl)
	set := &TokenSet{
		TokenType: TokenTypeBearer,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(ttl / time.Second),
		Scopes:    slices.Clone(p.Scopes),
	}

	if !p.SkipAccessToken {
		set.JTI = uuid.New().String()
		set.AccessToken, err = i.signAccessToken(key, p, set.JTI, now, expiresAt)
		if err != nil {
			return nil, err
		}
	}

	if p.IDToken && slices.Contains(p.Scopes, models.ScopeOpenID) {
		profile, err := i.lookupClaims(ctx, p.Subject, p.Scopes)
		if err != nil {
			return nil, err
		}
		set.IDToken, err = i.signIDToken(key, p, profile, set.AccessToken, now, expiresAt)
		if err != nil {
			return nil, err
		}
	}

	if i.metrics != nil {
		i.metrics.RecordTokenIssued("access", p.GrantType, i.now().Sub(start))
	}
	return set, nil
}

func (i *Issuer) lookupClaims(ctx context.Context, subject string, scopes []string) (map[string]any, error) {
	if i.claims == nil {
		return nil, nil
	}

	start := i.now()
	claims, err := i.claims.GetClaims(ctx, subject, scopes)
	if i.metrics != nil {
		i.metrics.RecordClaimsLookup(i.claims.Name(), err == nil, i.now().Sub(start))
	}
	if err != nil {
		if errors.Is(err, core.ErrClaimsUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrClaimsUnavailable, err)
	}
	return claims, nil
}

func (i *Issuer) signAccessToken(
	key *keys.SigningKey,
	p IssueParams,
	jti string,
	now, expiresAt time.Time,
) (string, error) {
	claims := jwt.MapClaims{
		"iss":       i.issuer,
		"sub":       p.Subject,
		"aud":       []string{i.ResourceAudience()},
		"client_id": p.Client.ClientID,
		"scope":     util.JoinScopes(p.Scopes),
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       jti,
	}
	if p.FamilyID != "" {
		claims["fid"] = p.FamilyID
	}
	if p.AuthTime != nil {
		claims["auth_time"] = p.AuthTime.Unix()
	}
	return sign(key, TypeAccessToken, claims)
}

// sign produces a compact JWS with kid and typ headers
func sign(key *keys.SigningKey, typ string, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(key.SigningMethod(), claims)
	token.Header["kid"] = key.ID
	token.Header["typ"] = typ

	tokenString, err := token.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return tokenString, nil
}

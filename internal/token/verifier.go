package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/keys"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks signatures against every key in the verification set.
// Expiry is checked against the injected clock with no leeway.
type Verifier struct {
	issuer  string
	keys    KeySource
	now     func() time.Time
	metrics core.Recorder
}

// VerifyOptions narrows what Verify accepts
type VerifyOptions struct {
	// Use is TypeAccessToken or TypeIDToken; empty accepts either
	Use string
	// Audience, when set, must appear in aud
	Audience string
}

// NewVerifier creates a verifier for tokens from issuer
func NewVerifier(issuer string, ks KeySource, opts ...Option) *Verifier {
	o := buildOptions(opts)
	return &Verifier{
		issuer:  issuer,
		keys:    ks,
		now:     o.now,
		metrics: o.metrics,
	}
}

// Verify parses raw and returns its claims if the signature, issuer, expiry,
// token use and audience all check out.
func (v *Verifier) Verify(ctx context.Context, raw string, opts VerifyOptions) (*Claims, error) {
	claims, err := v.verify(raw, opts)
	if v.metrics != nil {
		result := "valid"
		switch {
		case errors.Is(err, ErrExpiredToken):
			result = "expired"
		case err != nil:
			result = "invalid"
		}
		v.metrics.RecordTokenValidation(result)
	}
	return claims, err
}

func (v *Verifier) verify(raw string, opts VerifyOptions) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.AlgRS256, keys.AlgES256}),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if opts.Use != "" {
		typ, _ := token.Header["typ"].(string)
		if typ != opts.Use {
			return nil, ErrWrongTokenUse
		}
	}
	return claims, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid header")
	}

	key, err := v.keys.Lookup(kid)
	if err != nil {
		return nil, err
	}
	if token.Method.Alg() != key.Algorithm {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return key.Public(), nil
}

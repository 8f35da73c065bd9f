package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidRequestToken is returned for a tampered, expired or foreign request token
var ErrInvalidRequestToken = errors.New("invalid request token")

// requestClaims is the payload of a suspended flow. Subject and AuthTime are
// set once the user has authenticated and the flow waits on consent.
type requestClaims struct {
	jwt.RegisteredClaims
	Request  Request `json:"req"`
	AuthTime int64   `json:"auth_time,omitempty"`
}

func (e *Engine) requestAudience() string {
	return e.issuer + "/connect/authorize"
}

func (e *Engine) signRequest(req *Request, subject string, authTime *time.Time) (string, error) {
	now := e.now()
	claims := requestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{e.requestAudience()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.requestTTL)),
			ID:        uuid.New().String(),
		},
		Request: *req,
	}
	if authTime != nil {
		claims.AuthTime = authTime.Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(e.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign request token: %w", err)
	}
	return signed, nil
}

func (e *Engine) parseRequest(raw string) (*requestClaims, error) {
	if raw == "" {
		return nil, ErrInvalidRequestToken
	}

	claims := &requestClaims{}
	_, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(*jwt.Token) (any, error) { return e.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
		jwt.WithIssuer(e.issuer),
		jwt.WithAudience(e.requestAudience()),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequestToken, err)
	}
	return claims, nil
}

func (c *requestClaims) authTime() *time.Time {
	if c.AuthTime == 0 {
		return nil
	}
	t := time.Unix(c.AuthTime, 0)
	return &t
}

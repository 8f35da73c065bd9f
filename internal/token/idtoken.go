package token

import (
	"crypto/sha256"
	"encoding/base64"
	"maps"
	"time"

	"github.com/koskedk/dwh-identity/internal/keys"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// reservedClaims can't be overridden by the claims provider
var reservedClaims = []string{
	"iss", "sub", "aud", "exp", "iat", "nbf", "jti",
	"nonce", "auth_time", "at_hash", "c_hash", "azp",
}

// signIDToken creates the OIDC ID Token (OIDC Core 1.0 §2). ID tokens are
// not stored; they are short-lived and can't be revoked.
func (i *Issuer) signIDToken(
	key *keys.SigningKey,
	p IssueParams,
	profile map[string]any,
	accessToken string,
	now, expiresAt time.Time,
) (string, error) {
	claims := jwt.MapClaims{}
	maps.Copy(claims, profile)
	for _, name := range reservedClaims {
		delete(claims, name)
	}

	claims["iss"] = i.issuer
	claims["sub"] = p.Subject
	claims["aud"] = p.Client.ClientID
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = expiresAt.Unix()
	claims["jti"] = uuid.New().String()

	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}
	if p.AuthTime != nil {
		claims["auth_time"] = p.AuthTime.Unix()
	}
	if accessToken != "" {
		claims["at_hash"] = ComputeAtHash(accessToken)
	}
	if p.Code != "" {
		claims["c_hash"] = ComputeCHash(p.Code)
	}

	return sign(key, TypeIDToken, claims)
}

// ComputeAtHash computes the at_hash claim value per OIDC Core 1.0 §3.3.2.11.
// at_hash = base64url( left-most 128 bits of SHA-256( ASCII(access_token) ) )
// Both RS256 and ES256 use SHA-256.
func ComputeAtHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// ComputeCHash computes c_hash for a code returned from the authorization
// endpoint (OIDC Core 1.0 §3.3.2.11), the same way as at_hash.
func ComputeCHash(code string) string {
	return ComputeAtHash(code)
}

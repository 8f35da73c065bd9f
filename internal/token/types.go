package token

import (
	"time"

	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/golang-jwt/jwt/v5"
)

// Token type constants
const (
	TokenTypeBearer = "Bearer"
)

// JOSE "typ" header values; access tokens follow RFC 9068
const (
	TypeAccessToken = "at+jwt"
	TypeIDToken     = "JWT"
)

// KeySource is the part of keys.Manager the issuer and verifier need
type KeySource interface {
	ActiveKey() (*keys.SigningKey, error)
	Lookup(kid string) (*keys.SigningKey, error)
}

// IssueParams describes one issuance from a validated grant
type IssueParams struct {
	Client    *models.Client
	GrantType string
	Subject   string
	Scopes    []string
	FamilyID  string

	// ID token inputs
	IDToken  bool
	Nonce    string
	AuthTime *time.Time
	// Code is the authorization code returned alongside the ID token, for c_hash
	Code string

	// SkipAccessToken is set for response_type=id_token
	SkipAccessToken bool
}

// TokenSet is the result of IssueTokens
type TokenSet struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	ExpiresIn   int64
	IDToken     string
	Scopes      []string
	JTI         string
}

// Claims is the verified view of an access or ID token
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	FamilyID string `json:"fid,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	AtHash   string `json:"at_hash,omitempty"`
	CHash    string `json:"c_hash,omitempty"`
}

// Scopes returns the space-separated scope claim as a slice
func (c *Claims) Scopes() []string {
	return util.ParseScopes(c.Scope)
}

// ExpiresAtTime returns the exp claim, or the zero time
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

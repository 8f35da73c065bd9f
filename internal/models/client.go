package models

import (
	"context"
	"encoding/base32"
	"time"

	"github.com/koskedk/dwh-identity/internal/util"

	"golang.org/x/crypto/bcrypt"
)

// Grant types a client may be allowed to use
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeHybrid            = "hybrid"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
)

// Base32 characters, but lowercased.
const lowerBase32Chars = "abcdefghijklmnopqrstuvwxyz234567"

// base32 encoder that uses lowered characters without padding.
var base32Lower = base32.NewEncoding(lowerBase32Chars).WithPadding(base32.NoPadding)

// Client is a registered OAuth 2.0 / OpenID Connect relying party.
type Client struct {
	ID                     int64       `gorm:"primaryKey;autoIncrement"                json:"id"`
	ClientID               string      `gorm:"uniqueIndex;not null;size:100"           json:"client_id"`
	Name                   string      `gorm:"not null"                                json:"name"`
	ClientSecretHash       string      `gorm:"column:client_secret"                    json:"client_secret_hash,omitempty"` // bcrypt hashed secret
	GrantTypes             StringArray `gorm:"type:json"                               json:"grant_types"`
	RedirectURIs           StringArray `gorm:"type:json"                               json:"redirect_uris"`
	PostLogoutRedirectURIs StringArray `gorm:"type:json"                               json:"post_logout_redirect_uris"`
	Scopes                 StringArray `gorm:"type:json"                               json:"scopes"`
	RequirePKCE            bool        `gorm:"not null;default:false"                  json:"require_pkce"`
	RequireSecret          bool        `gorm:"not null"                                json:"require_secret"`
	RequireConsent         bool        `gorm:"not null"                                json:"require_consent"`
	AllowOfflineAccess     bool        `gorm:"not null;default:false"                  json:"allow_offline_access"`
	AccessTokenLifetime    int         `gorm:"not null;default:3600"                   json:"access_token_lifetime"` // seconds
	IsActive               bool        `gorm:"not null"                                json:"is_active"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// AllowsGrantType reports whether the client may use the given grant type
func (c *Client) AllowsGrantType(grantType string) bool {
	return c.GrantTypes.Contains(grantType)
}

// AccessTokenTTL returns the configured access token lifetime as a duration
func (c *Client) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenLifetime) * time.Second
}

// IsPublic reports whether the client authenticates without a secret
func (c *Client) IsPublic() bool {
	return !c.RequireSecret
}

// GenerateClientSecret will generate the client secret and returns the plaintext and saves the hash at the database
func (c *Client) GenerateClientSecret(ctx context.Context) (string, error) {
	rBytes, err := util.CryptoRandomBytes(32)
	if err != nil {
		return "", err
	}
	// Prefix makes leaked secrets easy for code scanners to find.
	clientSecret := "dwh_" + base32Lower.EncodeToString(rBytes)

	if err := c.SetClientSecret(clientSecret); err != nil {
		return "", err
	}
	return clientSecret, nil
}

// SetClientSecret hashes and stores a known plaintext secret
func (c *Client) SetClientSecret(secret string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.ClientSecretHash = string(hashed)
	return nil
}

// ValidateClientSecret validates the given secret by the hash saved in database
func (c *Client) ValidateClientSecret(secret []byte) bool {
	if c.ClientSecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.ClientSecretHash), secret) == nil
}

// Clone returns a deep copy so callers can't mutate registry state mid-flow
func (c *Client) Clone() *Client {
	cp := *c
	cp.GrantTypes = append(StringArray(nil), c.GrantTypes...)
	cp.RedirectURIs = append(StringArray(nil), c.RedirectURIs...)
	cp.PostLogoutRedirectURIs = append(StringArray(nil), c.PostLogoutRedirectURIs...)
	cp.Scopes = append(StringArray(nil), c.Scopes...)
	return &cp
}

func (Client) TableName() string {
	return "clients"
}

package models

import "time"

// GrantKind distinguishes the two redeemable grant handles
type GrantKind string

const (
	GrantKindAuthorizationCode GrantKind = "authorization_code"
	GrantKindRefreshToken      GrantKind = "refresh_token"
)

// Grant is a redeemable authorization code or refresh token.
// Only the SHA-256 hash of the opaque handle is persisted.
type Grant struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"  json:"id"`
	HandleHash   string    `gorm:"uniqueIndex;not null;size:64" json:"handle_hash"`
	HandlePrefix string    `gorm:"index;not null;size:8"        json:"handle_prefix"`
	Kind         GrantKind `gorm:"index;not null;size:32"       json:"kind"`

	Subject     string      `gorm:"index;not null;size:64"  json:"subject"`
	ClientID    string      `gorm:"index;not null;size:100" json:"client_id"`
	Scopes      StringArray `gorm:"type:json"               json:"scopes"`
	RedirectURI string      `json:"redirect_uri,omitempty"`
	Nonce       string      `gorm:"type:text"               json:"nonce,omitempty"`
	AuthTime    *time.Time  `json:"auth_time,omitempty"`

	// PKCE (RFC 7636)
	CodeChallenge       string `gorm:"default:''" json:"code_challenge,omitempty"`
	CodeChallengeMethod string `gorm:"default:''" json:"code_challenge_method,omitempty"`

	// FamilyID ties a code to every refresh token descended from it
	FamilyID string `gorm:"index;not null;size:36" json:"family_id"`
	ParentID string `gorm:"index;size:36"          json:"parent_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired reports whether the grant has expired at t
func (g *Grant) IsExpired(t time.Time) bool {
	return !t.Before(g.ExpiresAt)
}

func (g *Grant) IsConsumed() bool {
	return g.ConsumedAt != nil
}

func (g *Grant) IsRevoked() bool {
	return g.RevokedAt != nil
}

func (Grant) TableName() string {
	return "grants"
}

package models

import "time"

// Well-known scope names
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopePhone         = "phone"
	ScopeOfflineAccess = "offline_access"
)

// Scope is an identity or API scope a client may request.
// Claims lists the claim names released when the scope is granted.
type Scope struct {
	ID          int64       `gorm:"primaryKey;autoIncrement"      json:"id"`
	Name        string      `gorm:"uniqueIndex;not null;size:100" json:"name"`
	DisplayName string      `gorm:"not null"                      json:"display_name"`
	Description string      `gorm:"type:text"                     json:"description"`
	Claims      StringArray `gorm:"type:json"                     json:"claims"`
	Required    bool        `gorm:"not null;default:false"        json:"required"`
	Emphasize   bool        `gorm:"not null;default:false"        json:"emphasize"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (Scope) TableName() string {
	return "scopes"
}

package models

import "time"

// AccountTokenPurpose scopes a single-use account token to one action
type AccountTokenPurpose string

const (
	PurposeEmailConfirmation AccountTokenPurpose = "email_confirmation"
	PurposePasswordReset     AccountTokenPurpose = "password_reset"
)

// AccountToken backs email confirmation and password reset links.
type AccountToken struct {
	ID        string              `gorm:"primaryKey;type:varchar(36)"`
	TokenHash string              `gorm:"uniqueIndex;not null;size:64"`
	Purpose   AccountTokenPurpose `gorm:"index;not null;size:32"`
	UserID    string              `gorm:"index;not null;type:varchar(36)"`
	ExpiresAt time.Time           `gorm:"index"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (t *AccountToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *AccountToken) IsUsed() bool {
	return t.UsedAt != nil
}

func (AccountToken) TableName() string {
	return "account_tokens"
}

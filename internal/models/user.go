package models

import "time"

// UserType is the portal role of an account
type UserType int

const (
	UserTypeNormal  UserType = 1
	UserTypeSteward UserType = 2
	UserTypeAdmin   UserType = 3
	UserTypeGuest   UserType = 4
)

func (t UserType) String() string {
	switch t {
	case UserTypeNormal:
		return "Normal"
	case UserTypeSteward:
		return "Steward"
	case UserTypeAdmin:
		return "Admin"
	case UserTypeGuest:
		return "Guest"
	default:
		return "Unknown"
	}
}

// UserConfirmation is the steward approval status of an account
type UserConfirmation int

const (
	UserPending   UserConfirmation = 0
	UserConfirmed UserConfirmation = 1
	UserDenied    UserConfirmation = 2
)

type User struct {
	ID                    string           `gorm:"primaryKey;type:varchar(36)"    json:"id"`
	Username              string           `gorm:"uniqueIndex;not null;size:255"  json:"username"`
	Email                 string           `gorm:"uniqueIndex;not null;size:255"  json:"email"`
	PhoneNumber           string           `gorm:"uniqueIndex;not null;size:32"   json:"phone_number"`
	PasswordHash          string           `gorm:"not null"                       json:"-"`
	FullName              string           `json:"full_name"`
	Title                 string           `json:"title,omitempty"`
	Designation           string           `json:"designation,omitempty"`
	ReasonForAccessing    string           `gorm:"type:text"                      json:"reason_for_accessing,omitempty"`
	UserType              UserType         `gorm:"not null;default:4"             json:"user_type"`
	UserConfirmed         UserConfirmation `gorm:"not null;default:0"             json:"user_confirmed"`
	EmailConfirmed        bool             `gorm:"not null;default:false"         json:"email_confirmed"`
	IsDisabled            bool             `gorm:"not null;default:false"         json:"is_disabled"`
	SubscribeToNewsletter bool             `gorm:"not null;default:false"         json:"subscribe_to_newsletter"`
	OrganizationID        string           `gorm:"index;type:varchar(36)"         json:"organization_id"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// IsAdmin returns true if the user is a portal administrator
func (u *User) IsAdmin() bool {
	return u.UserType == UserTypeAdmin
}

// IsSteward returns true if the user approves accounts for an organization
func (u *User) IsSteward() bool {
	return u.UserType == UserTypeSteward
}

// CanSignIn reports whether the account may authenticate
func (u *User) CanSignIn() bool {
	return !u.IsDisabled && u.UserConfirmed != UserDenied
}

func (User) TableName() string {
	return "users"
}

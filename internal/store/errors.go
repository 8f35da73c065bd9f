package store

import "errors"

var (
	// ErrRecordNotFound wraps GORM's not found error for consistency
	ErrRecordNotFound = errors.New("record not found")

	// ErrEmailConflict is returned when a user with the email already exists
	ErrEmailConflict = errors.New("email already registered")

	// ErrPhoneConflict is returned when a user with the phone number already exists
	ErrPhoneConflict = errors.New("phone number already registered")

	// ErrUsernameConflict is returned when a username already exists
	ErrUsernameConflict = errors.New("username already exists")

	// ErrClientIDConflict is returned when a client identifier is taken
	ErrClientIDConflict = errors.New("client id already exists")

	// ErrScopeConflict is returned when a scope name is taken
	ErrScopeConflict = errors.New("scope already exists")

	// ErrOrganizationCodeConflict is returned when an organization code is taken
	ErrOrganizationCodeConflict = errors.New("organization code already exists")

	// ErrAccountTokenInvalid covers unknown, used, expired or mismatched account tokens
	ErrAccountTokenInvalid = errors.New("account token invalid or expired")
)

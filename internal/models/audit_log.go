package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authentication events
	EventAuthenticationSuccess EventType = "AUTHENTICATION_SUCCESS"
	EventAuthenticationFailure EventType = "AUTHENTICATION_FAILURE"
	EventLogout                EventType = "LOGOUT"

	// Authorization flow events
	EventAuthorizationRejected     EventType = "AUTHORIZATION_REJECTED"
	EventAuthorizationCodeIssued   EventType = "AUTHORIZATION_CODE_ISSUED"
	EventAuthorizationCodeRedeemed EventType = "AUTHORIZATION_CODE_REDEEMED"
	EventConsentGranted            EventType = "CONSENT_GRANTED"
	EventConsentDenied             EventType = "CONSENT_DENIED"
	EventConsentRevoked            EventType = "CONSENT_REVOKED"

	// Token events
	EventAccessTokenIssued  EventType = "ACCESS_TOKEN_ISSUED"
	EventRefreshTokenIssued EventType = "REFRESH_TOKEN_ISSUED"
	EventTokenRefreshed     EventType = "TOKEN_REFRESHED"
	EventTokenRevoked       EventType = "TOKEN_REVOKED"

	// Security events
	EventReplayDetected    EventType = "REPLAY_DETECTED"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventKeyRotated        EventType = "SIGNING_KEY_ROTATED"

	// Account workflow events
	EventUserRegistered      EventType = "USER_REGISTERED"
	EventEmailConfirmed      EventType = "EMAIL_CONFIRMED"
	EventUserConfirmed       EventType = "USER_CONFIRMED"
	EventUserDenied          EventType = "USER_DENIED"
	EventUserRoleChanged     EventType = "USER_ROLE_CHANGED"
	EventUserUpdated         EventType = "USER_UPDATED"
	EventUserDeleted         EventType = "USER_DELETED"
	EventPasswordResetIssued EventType = "PASSWORD_RESET_ISSUED" //nolint:gosec // G101: event name, not a credential
	EventPasswordReset       EventType = "PASSWORD_RESET"        //nolint:gosec // G101: event name, not a credential

	// Admin operations
	EventClientCreated       EventType = "CLIENT_CREATED"
	EventClientUpdated       EventType = "CLIENT_UPDATED"
	EventOrganizationCreated EventType = "ORGANIZATION_CREATED"
	EventOrganizationUpdated EventType = "ORGANIZATION_UPDATED"
	EventOrganizationDeleted EventType = "ORGANIZATION_DELETED"
	EventContactChanged      EventType = "ORGANIZATION_CONTACT_CHANGED"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarning  EventSeverity = "WARNING"
	SeverityError    EventSeverity = "ERROR"
	SeverityCritical EventSeverity = "CRITICAL"
)

// ResourceType represents the type of resource being operated on
type ResourceType string

const (
	ResourceUser         ResourceType = "USER"
	ResourceClient       ResourceType = "CLIENT"
	ResourceGrant        ResourceType = "GRANT"
	ResourceToken        ResourceType = "TOKEN"
	ResourceConsent      ResourceType = "CONSENT"
	ResourceOrganization ResourceType = "ORGANIZATION"
	ResourceSigningKey   ResourceType = "SIGNING_KEY"
)

// AuditDetails stores additional event-specific information as JSON
type AuditDetails map[string]any

// Value implements the driver.Valuer interface for database storage
func (a AuditDetails) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil //nolint:nilnil // nil driver.Value represents SQL NULL
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface for database retrieval
func (a *AuditDetails) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal AuditDetails value: %v", value)
	}

	result := make(AuditDetails)
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}

	*a = result
	return nil
}

// AuditLog represents an audit log entry
type AuditLog struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	// Event information
	EventType EventType     `gorm:"type:varchar(50);index;not null" json:"event_type"`
	EventTime time.Time     `gorm:"index;not null"                  json:"event_time"`
	Severity  EventSeverity `gorm:"type:varchar(20);not null"       json:"severity"`

	// Actor information
	ActorUserID   string `gorm:"type:varchar(36);index" json:"actor_user_id"`
	ActorUsername string `gorm:"type:varchar(100)"      json:"actor_username"`
	ActorIP       string `gorm:"type:varchar(45);index" json:"actor_ip"`

	// Resource information
	ResourceType ResourceType `gorm:"type:varchar(50);index"  json:"resource_type"`
	ResourceID   string       `gorm:"type:varchar(100);index" json:"resource_id"`
	ResourceName string       `gorm:"type:varchar(255)"       json:"resource_name"`

	// Operation details
	Action       string       `gorm:"type:varchar(255);not null" json:"action"`
	Details      AuditDetails `gorm:"type:json"                  json:"details"`
	Success      bool         `gorm:"index;not null"             json:"success"`
	ErrorMessage string       `gorm:"type:text"                  json:"error_message,omitempty"`

	// Request metadata
	UserAgent     string `gorm:"type:varchar(500)" json:"user_agent,omitempty"`
	RequestPath   string `gorm:"type:varchar(500)" json:"request_path,omitempty"`
	RequestMethod string `gorm:"type:varchar(10)"  json:"request_method,omitempty"`

	// Immutable, so no UpdatedAt
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

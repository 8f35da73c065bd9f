package core

import "context"

// NotificationKind names the templated message a notifier should send
type NotificationKind string

const (
	NotifyAccountConfirmation    NotificationKind = "account_confirmation"
	NotifyPasswordReset          NotificationKind = "password_reset"
	NotifyStewardApprovalRequest NotificationKind = "steward_approval_request"
	NotifyAccountConfirmed       NotificationKind = "account_confirmed"
	NotifyAccountDenied          NotificationKind = "account_denied"
)

// Message is a templated notification. Template rendering and delivery
// belong to the receiving side.
type Message struct {
	Kind       NotificationKind  `json:"kind"`
	Recipients []string          `json:"recipients"`
	Subject    string            `json:"subject"`
	Data       map[string]string `json:"data"`
}

// Notifier delivers messages. Callers treat failures as best effort.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Package notify delivers account workflow messages. Delivery is best effort:
// callers wrap a transport in Async so a failed send never fails the state
// transition that triggered it.
package notify

import (
	"context"
	"log"
	"strings"

	"github.com/koskedk/dwh-identity/internal/core"
)

var _ core.Notifier = (*LogNotifier)(nil)

// LogNotifier writes messages to the log. Intended for development.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, msg core.Message) error {
	log.Printf("[Notify] %s to %s: %s %v",
		msg.Kind, strings.Join(msg.Recipients, ","), msg.Subject, msg.Data)
	return nil
}

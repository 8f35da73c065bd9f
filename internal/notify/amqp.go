package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ core.Notifier = (*AMQPNotifier)(nil)

// ErrNoRecipients is returned for a message with nobody to send to
var ErrNoRecipients = errors.New("notification has no recipients")

// publisher is the part of *amqp.Channel the notifier uses
type publisher interface {
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// AMQPNotifier publishes messages as persistent JSON to a RabbitMQ exchange.
// A mail worker on the other side renders and sends them.
type AMQPNotifier struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	channel    publisher
	exchange   string
	routingKey string
}

// NewAMQPNotifier connects and declares a durable topic exchange
func NewAMQPNotifier(url, exchange, routingKey string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	n := newAMQPNotifier(ch, exchange, routingKey)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch publisher, exchange, routingKey string) *AMQPNotifier {
	return &AMQPNotifier{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg core.Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	// Channels are not safe for concurrent publishing
	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.channel.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now(),
		Type:         string(msg.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", msg.Kind, err)
	}
	return nil
}

// Close closes the channel and the connection
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.channel.Close()
	if n.conn != nil {
		err = errors.Join(err, n.conn.Close())
	}
	return err
}

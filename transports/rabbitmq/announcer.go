package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/serialization"
)

// DefaultExchange receives announced stream definitions
const DefaultExchange = "databridge.definitions"

// MessageType is set as the AMQP type of announcement messages
const MessageType = "StreamDefinition"

// confirmBuffer holds late confirmations for timed out publishes until they are discarded
const confirmBuffer = 16

var (
	ErrAnnouncerClosed = errors.New("rabbitmq: announcer is closed")
	ErrNacked          = errors.New("rabbitmq: publish not confirmed")
	ErrConfirmTimeout  = errors.New("rabbitmq: timeout waiting for confirmation")
)

// Channel is the part of *amqp.Channel the announcer uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// PublishError represents a failed announcement
type PublishError struct {
	Exchange   string
	RoutingKey string
	Attempts   int
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s after %d attempts: %v",
		e.Exchange, e.RoutingKey, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Announcer publishes stream definitions to a topic exchange, routed by stream id
type Announcer struct {
	channel        Channel
	converter      serialization.DefinitionConverter
	logger         *slog.Logger
	exchange       string
	confirmTimeout time.Duration
	retryDelay     time.Duration
	maxRetries     int

	mu       sync.Mutex
	prepared bool
	closed   bool
	confirms chan amqp.Confirmation
	// deliveryTag is the tag the broker assigned to the last accepted publish
	deliveryTag uint64
}

// AnnouncerOption configures the announcer
type AnnouncerOption func(*Announcer)

// WithExchange sets the exchange definitions are published to
func WithExchange(exchange string) AnnouncerOption {
	return func(a *Announcer) {
		a.exchange = exchange
	}
}

// WithConfirmTimeout sets the confirmation timeout
func WithConfirmTimeout(timeout time.Duration) AnnouncerOption {
	return func(a *Announcer) {
		a.confirmTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int) AnnouncerOption {
	return func(a *Announcer) {
		a.maxRetries = retries
	}
}

// WithRetryDelay sets the base delay between retries; attempt n waits n times the delay
func WithRetryDelay(delay time.Duration) AnnouncerOption {
	return func(a *Announcer) {
		a.retryDelay = delay
	}
}

// WithConverter sets the document format
func WithConverter(converter serialization.DefinitionConverter) AnnouncerOption {
	return func(a *Announcer) {
		a.converter = converter
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) AnnouncerOption {
	return func(a *Announcer) {
		a.logger = logger
	}
}

// NewAnnouncer creates an announcer on ch
func NewAnnouncer(ch Channel, options ...AnnouncerOption) *Announcer {
	a := &Announcer{
		channel:        ch,
		converter:      serialization.NewJSONConverter(),
		logger:         slog.Default(),
		exchange:       DefaultExchange,
		confirmTimeout: 5 * time.Second,
		retryDelay:     time.Second,
		maxRetries:     3,
	}

	for _, opt := range options {
		opt(a)
	}

	return a
}

// Dial connects to url and opens a channel for an announcer
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, ch, nil
}

// Announce publishes the definition document
func (a *Announcer) Announce(ctx context.Context, def *contracts.StreamDefinition) error {
	if def == nil {
		return fmt.Errorf("definition cannot be nil")
	}

	body, err := a.converter.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", def.GetStreamID(), err)
	}

	routingKey := def.GetStreamID()
	msg := amqp.Publishing{
		MessageId:    uuid.New().String(),
		Type:         MessageType,
		ContentType:  a.converter.ContentType(),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"streamName":    def.GetName(),
			"streamVersion": def.GetVersion(),
		},
		Body: body,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAnnouncerClosed
	}
	if err := a.prepare(); err != nil {
		return err
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * a.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attempts++
		lastErr = a.publishWithConfirm(ctx, routingKey, msg)
		if lastErr == nil {
			a.logger.Debug("stream definition announced",
				"streamId", routingKey,
				"exchange", a.exchange,
				"messageId", msg.MessageId,
			)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	a.logger.Error("failed to announce stream definition",
		"streamId", routingKey,
		"exchange", a.exchange,
		"error", lastErr,
	)
	return &PublishError{Exchange: a.exchange, RoutingKey: routingKey, Attempts: attempts, Err: lastErr}
}

// prepare declares the exchange and enables confirms once
func (a *Announcer) prepare() error {
	if a.prepared {
		return nil
	}
	if err := a.channel.ExchangeDeclare(a.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", a.exchange, err)
	}
	if err := a.channel.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}
	a.confirms = a.channel.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	a.prepared = true
	return nil
}

func (a *Announcer) publishWithConfirm(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if err := a.channel.PublishWithContext(ctx, a.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	// Publishes on a confirm channel are numbered from 1 in order.
	a.deliveryTag++
	expected := a.deliveryTag

	timer := time.NewTimer(a.confirmTimeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-a.confirms:
			if !ok {
				return ErrAnnouncerClosed
			}
			if confirm.DeliveryTag < expected {
				a.logger.Debug("discarding stale confirmation",
					"deliveryTag", confirm.DeliveryTag,
					"expected", expected,
				)
				continue
			}
			if confirm.DeliveryTag > expected {
				return fmt.Errorf("unexpected confirmation %d, waiting for %d", confirm.DeliveryTag, expected)
			}
			if !confirm.Ack {
				return ErrNacked
			}
			return nil
		case <-timer.C:
			return ErrConfirmTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the underlying channel
func (a *Announcer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.channel.Close()
}

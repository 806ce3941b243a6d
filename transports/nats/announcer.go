package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/serialization"
)

// DefaultSubjectPrefix is the subject prefix definitions are announced under
const DefaultSubjectPrefix = "databridge.definitions"

// Headers set on announcement messages
const (
	HeaderStreamVersion = "Databridge-Stream-Version"
	HeaderContentType   = "Content-Type"
)

const tracerName = "github.com/glimte/databridge-go/transports/nats"

// ErrInvalidSubject is returned when a stream name cannot be used as a subject token
var ErrInvalidSubject = errors.New("nats: stream name is not a valid subject token")

// Publisher is the part of jetstream.JetStream the announcer uses
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Announcer publishes stream definitions to JetStream. The message id is derived
// from the stream id and the schema hash, so the server discards re-announcements
// of an Equal definition inside its duplicate window but keeps changed schemas.
type Announcer struct {
	js         Publisher
	converter  serialization.DefinitionConverter
	logger     *slog.Logger
	tracer     trace.Tracer
	prefix     string
	maxRetries uint64
	maxWait    time.Duration
}

// AnnouncerOption configures the announcer
type AnnouncerOption func(*Announcer)

// WithSubjectPrefix sets the subject prefix
func WithSubjectPrefix(prefix string) AnnouncerOption {
	return func(a *Announcer) {
		a.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// WithRetries sets how many times a failed publish is retried
func WithRetries(retries uint64) AnnouncerOption {
	return func(a *Announcer) {
		a.maxRetries = retries
	}
}

// WithMaxRetryInterval caps the exponential backoff between retries
func WithMaxRetryInterval(interval time.Duration) AnnouncerOption {
	return func(a *Announcer) {
		a.maxWait = interval
	}
}

// WithTracerProvider sets the tracer provider used for publish spans
func WithTracerProvider(provider trace.TracerProvider) AnnouncerOption {
	return func(a *Announcer) {
		a.tracer = provider.Tracer(tracerName)
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

// NewAnnouncer creates an announcer publishing through js
func NewAnnouncer(js Publisher, options ...AnnouncerOption) *Announcer {
	a := &Announcer{
		js:         js,
		converter:  serialization.NewJSONConverter(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		prefix:     DefaultSubjectPrefix,
		maxRetries: 3,
		maxWait:    5 * time.Second,
	}

	for _, opt := range options {
		opt(a)
	}

	return a
}

// Connect connects to url and returns a JetStream handle for an announcer
func Connect(url string, opts ...nats.Option) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Subject returns the subject a definition is announced on: <prefix>.<name>.<version>
func (a *Announcer) Subject(def *contracts.StreamDefinition) (string, error) {
	name := def.GetName()
	if name == "" || strings.ContainsAny(name, " \t\r\n.*>") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, name)
	}
	return a.prefix + "." + name + "." + def.GetVersion(), nil
}

// MessageID returns the JetStream message id for a definition: <streamId>/<hash>
func MessageID(def *contracts.StreamDefinition) string {
	return def.GetStreamID() + "/" + strconv.FormatUint(def.Hash(), 16)
}

// Announce publishes the definition document
func (a *Announcer) Announce(ctx context.Context, def *contracts.StreamDefinition) error {
	if def == nil {
		return fmt.Errorf("definition cannot be nil")
	}

	subject, err := a.Subject(def)
	if err != nil {
		return err
	}

	ctx, span := a.tracer.Start(
		ctx,
		subject+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("nats"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(subject),
			attribute.String("databridge.stream_id", def.GetStreamID()),
		),
	)
	defer span.End()

	body, err := a.converter.Marshal(def)
	if err != nil {
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("failed to encode definition %s: %w", def.GetStreamID(), err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Header:  nats.Header{},
		Data:    body,
	}
	msg.Header.Set(jetstream.MsgIDHeader, MessageID(def))
	msg.Header.Set(HeaderStreamVersion, def.GetVersion())
	msg.Header.Set(HeaderContentType, a.converter.ContentType())

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = a.maxWait

	var ack *jetstream.PubAck
	publish := func() error {
		var err error
		ack, err = a.js.PublishMsg(ctx, msg)
		if errors.Is(err, jetstream.ErrNoStreamResponse) {
			// No stream captures the subject; retrying will not help.
			return backoff.Permanent(err)
		}
		return err
	}

	err = backoff.Retry(publish, backoff.WithContext(backoff.WithMaxRetries(policy, a.maxRetries), ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		a.logger.Error("failed to announce stream definition",
			"streamId", def.GetStreamID(),
			"subject", subject,
			"error", err,
		)
		return fmt.Errorf("failed to announce definition %s: %w", def.GetStreamID(), err)
	}

	span.SetAttributes(attribute.Bool("databridge.duplicate", ack.Duplicate))
	a.logger.Debug("stream definition announced",
		"streamId", def.GetStreamID(),
		"subject", subject,
		"sequence", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return nil
}

// Copyright 2024 Databridge-Go Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package databridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/schema"
	"github.com/glimte/databridge-go/transports/nats"
	"github.com/glimte/databridge-go/transports/rabbitmq"
)

// Announcer tells other processes about a newly registered stream definition
type Announcer interface {
	Announce(ctx context.Context, def *contracts.StreamDefinition) error
}

// Client provides the main entry point for databridge-go
type Client struct {
	store      schema.DefinitionStore
	validator  *schema.EventValidator
	announcers []Announcer
	closers    []io.Closer
	logger     *slog.Logger
}

// NewClient creates a client. Without WithStore an in-memory store is used.
func NewClient(options ...ClientOption) *Client {
	cfg := &clientConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.store == nil {
		cfg.store = schema.NewMemoryStore(schema.WithStoreLogger(cfg.logger))
	}

	return &Client{
		store:      cfg.store,
		validator:  schema.NewEventValidator(cfg.store),
		announcers: cfg.announcers,
		closers:    cfg.closers,
		logger:     cfg.logger,
	}
}

// NewRabbitMQClient creates a client that announces definitions on a RabbitMQ exchange
func NewRabbitMQClient(url string, options ...ClientOption) (*Client, error) {
	conn, ch, err := rabbitmq.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	cfg := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}

	announcer := rabbitmq.NewAnnouncer(ch, rabbitmq.WithLogger(cfg.logger))
	options = append(options, WithAnnouncers(announcer), withClosers(announcer, conn))
	return NewClient(options...), nil
}

// NewNATSClient creates a client that announces definitions on NATS JetStream
func NewNATSClient(url string, options ...ClientOption) (*Client, error) {
	nc, js, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	cfg := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}

	announcer := nats.NewAnnouncer(js, nats.WithLogger(cfg.logger))
	options = append(options, WithAnnouncers(announcer), withClosers(closerFunc(func() error {
		nc.Close()
		return nil
	})))
	return NewClient(options...), nil
}

// Register stores a definition and announces it when it is new.
// It reports whether the definition was newly stored. Registering an Equal
// definition again is a no-op; a different schema under the same stream id
// fails with schema.ErrDifferentDefinition.
func (c *Client) Register(ctx context.Context, def *contracts.StreamDefinition) (bool, error) {
	stored, err := c.store.Save(ctx, def)
	if err != nil {
		return false, err
	}
	if !stored {
		return false, nil
	}

	var errs []error
	for _, announcer := range c.announcers {
		if err := announcer.Announce(ctx, def); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("stream definition stored but not announced",
			"streamId", def.GetStreamID(),
			"error", err,
		)
		return true, fmt.Errorf("definition %s stored but announcement failed: %w", def.GetStreamID(), err)
	}

	return true, nil
}

// Definition returns the definition registered for name and version
func (c *Client) Definition(ctx context.Context, name, version string) (*contracts.StreamDefinition, error) {
	return c.store.Get(ctx, name, version)
}

// DefinitionByID returns the definition registered under a stream id
func (c *Client) DefinitionByID(ctx context.Context, streamID string) (*contracts.StreamDefinition, error) {
	return c.store.GetByID(ctx, streamID)
}

// Definitions returns every registered definition
func (c *Client) Definitions(ctx context.Context) ([]*contracts.StreamDefinition, error) {
	return c.store.List(ctx)
}

// Remove deletes a registered definition
func (c *Client) Remove(ctx context.Context, name, version string) (bool, error) {
	return c.store.Delete(ctx, name, version)
}

// ValidateEvent checks an event against the definition of its stream
func (c *Client) ValidateEvent(ctx context.Context, event *contracts.Event) error {
	return c.validator.Validate(ctx, event)
}

// Validator returns the event validator, for registering custom rules
func (c *Client) Validator() *schema.EventValidator {
	return c.validator
}

// Close closes all resources
func (c *Client) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger     *slog.Logger
	store      schema.DefinitionStore
	announcers []Announcer
	closers    []io.Closer
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithStore sets the definition store
func WithStore(store schema.DefinitionStore) ClientOption {
	return func(cfg *clientConfig) {
		cfg.store = store
	}
}

// WithAnnouncers adds announcers notified of new definitions
func WithAnnouncers(announcers ...Announcer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.announcers = append(cfg.announcers, announcers...)
	}
}

func withClosers(closers ...io.Closer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.closers = append(cfg.closers, closers...)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

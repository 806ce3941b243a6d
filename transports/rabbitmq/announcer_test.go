package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/serialization"
)

type mockChannel struct {
	mock.Mock
	confirms  chan amqp.Confirmation
	published uint64
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *mockChannel) Confirm(noWait bool) error {
	return m.Called(noWait).Error(0)
}

func (m *mockChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	m.Called(confirm)
	m.confirms = confirm
	return confirm
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

// confirm acknowledges the publish being made with the next delivery tag
func (m *mockChannel) confirm(ack bool) func(mock.Arguments) {
	return func(mock.Arguments) {
		m.published++
		m.confirms <- amqp.Confirmation{DeliveryTag: m.published, Ack: ack}
	}
}

func newReadyChannel() *mockChannel {
	ch := &mockChannel{}
	ch.On("ExchangeDeclare", DefaultExchange, "topic", true, false, false, false, amqp.Table(nil)).Return(nil)
	ch.On("Confirm", false).Return(nil)
	ch.On("NotifyPublish", mock.Anything).Return()
	return ch
}

func newDefinition(t *testing.T) *contracts.StreamDefinition {
	t.Helper()
	def, err := contracts.NewStreamDefinition("Temperature", "1.0.0")
	require.NoError(t, err)
	def.AddPayloadData("celsius", contracts.AttributeTypeDouble)
	return def
}

func TestAnnouncer(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes the definition document routed by stream id", func(t *testing.T) {
		ch := newReadyChannel()
		var published amqp.Publishing
		ch.On("PublishWithContext", mock.Anything, DefaultExchange, "Temperature-1.0.0", false, false, mock.Anything).
			Run(func(args mock.Arguments) {
				published = args.Get(5).(amqp.Publishing)
				ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
			}).
			Return(nil)

		announcer := NewAnnouncer(ch)
		err := announcer.Announce(ctx, newDefinition(t))

		require.NoError(t, err)
		ch.AssertExpectations(t)

		_, err = uuid.Parse(published.MessageId)
		assert.NoError(t, err)
		assert.Equal(t, "application/json", published.ContentType)
		assert.Equal(t, MessageType, published.Type)
		assert.Equal(t, amqp.Persistent, published.DeliveryMode)
		assert.Equal(t, "Temperature", published.Headers["streamName"])
		assert.Equal(t, "1.0.0", published.Headers["streamVersion"])

		var doc map[string]any
		require.NoError(t, json.Unmarshal(published.Body, &doc))
		assert.Equal(t, "Temperature", doc["name"])

		parsed, err := serialization.FromJSON(string(published.Body))
		require.NoError(t, err)
		assert.True(t, newDefinition(t).Equal(parsed))
	})

	t.Run("declares topology once", func(t *testing.T) {
		ch := newReadyChannel()
		ch.On("PublishWithContext", mock.Anything, DefaultExchange, mock.Anything, false, false, mock.Anything).
			Run(ch.confirm(true)).
			Return(nil)

		announcer := NewAnnouncer(ch)
		require.NoError(t, announcer.Announce(ctx, newDefinition(t)))
		require.NoError(t, announcer.Announce(ctx, newDefinition(t)))

		ch.AssertNumberOfCalls(t, "ExchangeDeclare", 1)
		ch.AssertNumberOfCalls(t, "Confirm", 1)
		ch.AssertNumberOfCalls(t, "PublishWithContext", 2)
	})

	t.Run("uses a custom exchange", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "custom.definitions", "topic", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("Confirm", false).Return(nil)
		ch.On("NotifyPublish", mock.Anything).Return()
		ch.On("PublishWithContext", mock.Anything, "custom.definitions", "Temperature-1.0.0", false, false, mock.Anything).
			Run(ch.confirm(true)).
			Return(nil)

		announcer := NewAnnouncer(ch, WithExchange("custom.definitions"))

		assert.NoError(t, announcer.Announce(ctx, newDefinition(t)))
		ch.AssertExpectations(t)
	})

	t.Run("retries failed publishes", func(t *testing.T) {
		ch := newReadyChannel()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Return(errors.New("channel busy")).Once()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Run(ch.confirm(true)).
			Return(nil).Once()

		announcer := NewAnnouncer(ch, WithRetryDelay(time.Millisecond))

		assert.NoError(t, announcer.Announce(ctx, newDefinition(t)))
		ch.AssertNumberOfCalls(t, "PublishWithContext", 2)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		ch := newReadyChannel()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Run(ch.confirm(false)).
			Return(nil)

		announcer := NewAnnouncer(ch, WithPublishRetries(2), WithRetryDelay(time.Millisecond))
		err := announcer.Announce(ctx, newDefinition(t))

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNacked)
		var publishErr *PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.Equal(t, 3, publishErr.Attempts)
		assert.Equal(t, "Temperature-1.0.0", publishErr.RoutingKey)
	})

	t.Run("times out waiting for confirmation", func(t *testing.T) {
		ch := newReadyChannel()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).Return(nil)

		announcer := NewAnnouncer(ch, WithPublishRetries(0), WithConfirmTimeout(10*time.Millisecond))
		err := announcer.Announce(ctx, newDefinition(t))

		assert.ErrorIs(t, err, ErrConfirmTimeout)
	})

	t.Run("late confirmation is not taken for the next publish", func(t *testing.T) {
		ch := newReadyChannel()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Return(nil).Once()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Run(func(mock.Arguments) {
				ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
				ch.confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
			}).
			Return(nil).Once()

		announcer := NewAnnouncer(ch, WithPublishRetries(0), WithConfirmTimeout(20*time.Millisecond))

		assert.ErrorIs(t, announcer.Announce(ctx, newDefinition(t)), ErrConfirmTimeout)
		assert.ErrorIs(t, announcer.Announce(ctx, newDefinition(t)), ErrNacked)
	})

	t.Run("late confirmation is skipped before a matching ack", func(t *testing.T) {
		ch := newReadyChannel()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Return(nil).Once()
		ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, false, false, mock.Anything).
			Run(func(mock.Arguments) {
				ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}
				ch.confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: true}
			}).
			Return(nil).Once()

		announcer := NewAnnouncer(ch, WithPublishRetries(0), WithConfirmTimeout(20*time.Millisecond))

		assert.ErrorIs(t, announcer.Announce(ctx, newDefinition(t)), ErrConfirmTimeout)
		assert.NoError(t, announcer.Announce(ctx, newDefinition(t)))
	})

	t.Run("exchange declaration failure", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("access refused"))

		err := NewAnnouncer(ch).Announce(ctx, newDefinition(t))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to declare exchange")
		ch.AssertNotCalled(t, "PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects nil definition", func(t *testing.T) {
		assert.Error(t, NewAnnouncer(&mockChannel{}).Announce(ctx, nil))
	})

	t.Run("closed announcer", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("Close").Return(nil).Once()
		announcer := NewAnnouncer(ch)

		require.NoError(t, announcer.Close())
		require.NoError(t, announcer.Close())
		assert.ErrorIs(t, announcer.Announce(ctx, newDefinition(t)), ErrAnnouncerClosed)
		ch.AssertExpectations(t)
	})
}

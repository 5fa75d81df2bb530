package envelope_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type orderPlaced struct {
	OrderID int    `json:"order_id"`
	SKU     string `json:"sku"`
}

func TestFactoryNew(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	factory := envelope.NewFactory("orders", "worker-1",
		envelope.WithClock(fixedClock{now: now}),
		envelope.WithTimeToLive(10*time.Minute),
	)

	t.Run("stamps metadata and wire properties", func(t *testing.T) {
		t.Parallel()

		env, err := factory.New("orderPlaced", orderPlaced{OrderID: 7, SKU: "abc"})
		require.NoError(t, err)

		assert.NotEmpty(t, env.MessageID)
		assert.Empty(t, env.CorrelationID)
		assert.Equal(t, now, env.EnqueuedTimeUTC)
		assert.Equal(t, 10*time.Minute, env.ExpiresAfter)
		assert.Equal(t, "orderPlaced", env.Properties[envelope.PropMessageType])
		assert.Equal(t, "orders", env.Properties[envelope.PropSenderApplicationName])
		assert.Equal(t, "worker-1", env.Properties[envelope.PropSenderInstanceName])
		assert.Equal(t, "0", env.Properties[envelope.PropDeliveryAttempt])
		assert.False(t, env.Faulted())

		var decoded orderPlaced
		require.NoError(t, json.Unmarshal(env.Payload, &decoded))
		assert.Equal(t, orderPlaced{OrderID: 7, SKU: "abc"}, decoded)
	})

	t.Run("generates distinct message ids", func(t *testing.T) {
		t.Parallel()

		first, err := factory.New("orderPlaced", orderPlaced{OrderID: 1})
		require.NoError(t, err)
		second, err := factory.New("orderPlaced", orderPlaced{OrderID: 1})
		require.NoError(t, err)

		assert.NotEqual(t, first.MessageID, second.MessageID)
	})

	t.Run("returns serialization error for unmarshalable payload", func(t *testing.T) {
		t.Parallel()

		_, err := factory.New("bad", make(chan int))
		require.Error(t, err)
		assert.ErrorIs(t, err, envelope.ErrSerialization)
	})
}

func TestFactoryNewReply(t *testing.T) {
	t.Parallel()

	factory := envelope.NewFactory("orders", "worker-1")

	request, err := factory.New("ping", orderPlaced{OrderID: 1})
	require.NoError(t, err)
	request.ReplyTo = "bus.replies.orders.worker-1"
	request.ExpiresAfter = 5 * time.Second

	t.Run("preserves request id in correlation id", func(t *testing.T) {
		t.Parallel()

		reply, err := factory.NewReply(request, "pong", orderPlaced{OrderID: 2})
		require.NoError(t, err)

		assert.Equal(t, request.MessageID, reply.CorrelationID)
		assert.NotEqual(t, request.MessageID, reply.MessageID)
		assert.Equal(t, request.ExpiresAfter, reply.ExpiresAfter)
		assert.False(t, reply.Faulted())
	})

	t.Run("fault reply carries marker and detail", func(t *testing.T) {
		t.Parallel()

		reply, err := factory.NewFaultReply(request, assert.AnError)
		require.NoError(t, err)

		assert.True(t, reply.Faulted())
		assert.Equal(t, request.MessageID, reply.CorrelationID)

		var detail envelope.FaultDetail
		require.NoError(t, json.Unmarshal(reply.Payload, &detail))
		assert.Equal(t, assert.AnError.Error(), detail.Message)
	})
}

func TestEnvelopeClone(t *testing.T) {
	t.Parallel()

	factory := envelope.NewFactory("orders", "worker-1")
	env, err := factory.New("orderPlaced", orderPlaced{OrderID: 7})
	require.NoError(t, err)

	clone := env.Clone()
	clone.SetDeliveryAttempt(3)

	assert.Equal(t, 0, env.DeliveryAttempt)
	assert.Equal(t, "0", env.Properties[envelope.PropDeliveryAttempt])
	assert.Equal(t, 3, clone.DeliveryAttempt)
	assert.Equal(t, "3", clone.Properties[envelope.PropDeliveryAttempt])
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	factory := envelope.NewFactory("orders", "worker-1")
	env, err := factory.New("orderPlaced", orderPlaced{OrderID: 7})
	require.NoError(t, err)
	env.ReplyTo = "bus.replies.orders.worker-1"

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := envelope.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, env.MessageID, decoded.MessageID)
	assert.Equal(t, env.ReplyTo, decoded.ReplyTo)
	assert.Equal(t, env.Properties, decoded.Properties)
	assert.Equal(t, "orderPlaced", decoded.MessageType())
}

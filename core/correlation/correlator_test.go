package correlation_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/messagebus/core/correlation"
	"github.com/dmitrymomot/messagebus/core/envelope"
)

func newReply(correlationID string, payload any) *envelope.Envelope {
	data, _ := json.Marshal(payload)
	return &envelope.Envelope{
		MessageID:     uuid.New().String(),
		CorrelationID: correlationID,
		Payload:       data,
		Properties:    map[string]string{},
	}
}

func newFaultReply(correlationID, message string) *envelope.Envelope {
	env := newReply(correlationID, envelope.FaultDetail{Message: message})
	env.Properties[envelope.PropFaulted] = "true"
	return env
}

func TestCorrelatorRoundTrip(t *testing.T) {
	t.Parallel()

	c := correlation.New()
	t.Cleanup(func() { _ = c.Close() })

	t.Run("reply completes the matching handle", func(t *testing.T) {
		t.Parallel()

		id := uuid.New().String()
		handle := c.RecordRequest(id, time.Now().Add(time.Minute))

		require.True(t, c.TryComplete(newReply(id, map[string]int{"ts": 42})))

		env, err := handle.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, id, env.CorrelationID)
	})

	t.Run("completion is single-shot", func(t *testing.T) {
		t.Parallel()

		id := uuid.New().String()
		handle := c.RecordRequest(id, time.Now().Add(time.Minute))

		require.True(t, c.TryComplete(newReply(id, "first")))
		assert.False(t, c.TryComplete(newReply(id, "second")), "record must be destroyed on completion")

		env, err := handle.Wait(context.Background())
		require.NoError(t, err)

		var payload string
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "first", payload)
	})

	t.Run("unmatched reply is dropped without error", func(t *testing.T) {
		t.Parallel()

		assert.False(t, c.TryComplete(newReply(uuid.New().String(), "orphan")))
	})

	t.Run("reply without correlation id is dropped", func(t *testing.T) {
		t.Parallel()

		assert.False(t, c.TryComplete(newReply("", "anonymous")))
	})
}

func TestCorrelatorTimeout(t *testing.T) {
	t.Parallel()

	c := correlation.New(correlation.WithReapInterval(50 * time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })

	t.Run("reaper times out expired records", func(t *testing.T) {
		t.Parallel()

		handle := c.RecordRequest(uuid.New().String(), time.Now().Add(100*time.Millisecond))

		start := time.Now()
		_, err := handle.Wait(context.Background())
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, correlation.ErrTimeout)
		assert.Less(t, elapsed, 1200*time.Millisecond)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	})

	t.Run("expired record rejects a late reply", func(t *testing.T) {
		t.Parallel()

		id := uuid.New().String()
		handle := c.RecordRequest(id, time.Now().Add(-time.Second))

		assert.False(t, c.TryComplete(newReply(id, "late")))

		_, err := handle.Wait(context.Background())
		assert.ErrorIs(t, err, correlation.ErrTimeout)
	})
}

func TestCorrelatorCancel(t *testing.T) {
	t.Parallel()

	c := correlation.New()
	t.Cleanup(func() { _ = c.Close() })

	t.Run("explicit cancel signals the awaiter", func(t *testing.T) {
		t.Parallel()

		id := uuid.New().String()
		handle := c.RecordRequest(id, time.Now().Add(time.Minute))

		c.Cancel(id)

		_, err := handle.Wait(context.Background())
		assert.ErrorIs(t, err, correlation.ErrCancelled)
		assert.Equal(t, 0, c.Outstanding())
	})

	t.Run("context cancellation removes the record", func(t *testing.T) {
		t.Parallel()

		id := uuid.New().String()
		handle := c.RecordRequest(id, time.Now().Add(time.Minute))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := handle.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, c.TryComplete(newReply(id, "too late")))
	})
}

func TestCorrelatorRemoteFault(t *testing.T) {
	t.Parallel()

	c := correlation.New()
	t.Cleanup(func() { _ = c.Close() })

	id := uuid.New().String()
	handle := c.RecordRequest(id, time.Now().Add(time.Minute))

	require.True(t, c.TryComplete(newFaultReply(id, "remote handler exploded")))

	_, err := handle.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, correlation.ErrRequestFailedRemotely)

	var remote *correlation.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "remote handler exploded", remote.Detail.Message)
}

func TestCorrelatorMulticast(t *testing.T) {
	t.Parallel()

	t.Run("collects replies until the window closes", func(t *testing.T) {
		t.Parallel()

		c := correlation.New(correlation.WithReapInterval(50 * time.Millisecond))
		t.Cleanup(func() { _ = c.Close() })

		id := uuid.New().String()
		handle := c.RecordMulticast(id, time.Now().Add(200*time.Millisecond))

		require.True(t, c.TryComplete(newReply(id, "A")))
		require.True(t, c.TryComplete(newReply(id, "B")))

		replies := handle.Collect(context.Background())
		require.Len(t, replies, 2)

		var values []string
		for _, env := range replies {
			var v string
			require.NoError(t, json.Unmarshal(env.Payload, &v))
			values = append(values, v)
		}
		assert.ElementsMatch(t, []string{"A", "B"}, values)
	})

	t.Run("faulted multicast replies are dropped", func(t *testing.T) {
		t.Parallel()

		c := correlation.New(correlation.WithReapInterval(50 * time.Millisecond))
		t.Cleanup(func() { _ = c.Close() })

		id := uuid.New().String()
		handle := c.RecordMulticast(id, time.Now().Add(150*time.Millisecond))

		require.True(t, c.TryComplete(newReply(id, "ok")))
		assert.False(t, c.TryComplete(newFaultReply(id, "boom")))

		replies := handle.Collect(context.Background())
		assert.Len(t, replies, 1)
	})
}

func TestCorrelatorConcurrency(t *testing.T) {
	t.Parallel()

	c := correlation.New()
	t.Cleanup(func() { _ = c.Close() })

	const n = 50

	handles := make([]*correlation.ResponseHandle, n)
	for i := range handles {
		handles[i] = c.RecordRequest(uuid.New().String(), time.Now().Add(time.Minute))
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, c.TryComplete(newReply(h.MessageID(), "ok")))
		}()
	}
	wg.Wait()

	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 0, c.Outstanding())
}

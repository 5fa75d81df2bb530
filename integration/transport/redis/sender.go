package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

// streamSender appends envelopes to a single stream.
type streamSender struct {
	client *redis.Client
	stream string
}

func (s *streamSender) Send(ctx context.Context, env *envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", env.MessageID, err)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{envelopeField: string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.stream, err)
	}
	return nil
}

func (s *streamSender) Close() error { return nil }

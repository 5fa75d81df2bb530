// Package redis implements the bus transport over Redis Streams.
//
// Queues are streams consumed through a shared "workers" consumer
// group, so concurrent bus instances compete for deliveries. Topics are
// streams too; every subscription is its own consumer group on the
// topic stream, which gives each subscription a full copy of the
// traffic while instances inside one subscription still compete.
//
// Nacked deliveries stay pending in their group and are reclaimed after
// ReclaimMinIdle with the group's delivery counter as the attempt
// count. Envelopes that exhaust MaxDeliveryAttempts move to the
// dead-letter queue stream.
package redis

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/messagebus/core/entity"
	"github.com/dmitrymomot/messagebus/core/transport"
)

// queueGroup is the consumer group shared by all queue receivers.
const queueGroup = "workers"

// envelopeField is the stream entry field carrying the serialized
// envelope.
const envelopeField = "envelope"

// Transport implements transport.Transport over Redis Streams.
type Transport struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithLogger configures structured logging for the transport.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport creates a Redis Streams transport over an established
// client.
//
// Example:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	tr := redis.NewTransport(client, cfg, redis.WithLogger(logger))
//	defer tr.Close()
func NewTransport(client *redis.Client, cfg Config, opts ...TransportOption) *Transport {
	t := &Transport{
		client: client,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.cfg.KeyPrefix == "" {
		t.cfg.KeyPrefix = "bus"
	}
	if t.cfg.ReadBatch <= 0 {
		t.cfg.ReadBatch = 16
	}
	if t.cfg.MaxDeliveryAttempts <= 0 {
		t.cfg.MaxDeliveryAttempts = 5
	}

	return t
}

func (t *Transport) queueStream(path string) string {
	return t.cfg.KeyPrefix + ":queue:" + path
}

func (t *Transport) topicStream(path string) string {
	return t.cfg.KeyPrefix + ":topic:" + path
}

func (t *Transport) queuesKey() string        { return t.cfg.KeyPrefix + ":queues" }
func (t *Transport) topicsKey() string        { return t.cfg.KeyPrefix + ":topics" }
func (t *Transport) subscriptionsKey() string { return t.cfg.KeyPrefix + ":subscriptions" }

// QueueSender implements transport.Transport.
func (t *Transport) QueueSender(path string) (transport.Sender, error) {
	return &streamSender{client: t.client, stream: t.queueStream(path)}, nil
}

// TopicSender implements transport.Transport.
func (t *Transport) TopicSender(path string) (transport.Sender, error) {
	return &streamSender{client: t.client, stream: t.topicStream(path)}, nil
}

// QueueReceiver implements transport.Transport. Receivers across
// instances share the workers group and compete for deliveries.
func (t *Transport) QueueReceiver(path string) (transport.Receiver, error) {
	return &streamReceiver{
		transport: t,
		stream:    t.queueStream(path),
		group:     queueGroup,
		consumer:  uuid.New().String(),
	}, nil
}

// SubscriptionReceiver implements transport.Transport.
func (t *Transport) SubscriptionReceiver(topicPath, name string) (transport.Receiver, error) {
	return &streamReceiver{
		transport: t,
		stream:    t.topicStream(topicPath),
		group:     name,
		consumer:  uuid.New().String(),
	}, nil
}

// Namespace implements transport.Transport.
func (t *Transport) Namespace() entity.NamespaceManager {
	return &namespace{transport: t}
}

// Close releases the underlying client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// deadLetter appends an exhausted envelope to the dead-letter queue
// stream. The caller acknowledges the original delivery.
func (t *Transport) deadLetter(ctx context.Context, data string) error {
	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.queueStream(transport.DeadLetterQueuePath),
		Values: map[string]any{envelopeField: data},
	}).Err()
}

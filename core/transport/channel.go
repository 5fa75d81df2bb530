package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/messagebus/core/entity"
	"github.com/dmitrymomot/messagebus/core/envelope"
)

const (
	// DefaultChannelBufferSize is the per-entity buffer of the in-memory
	// transport.
	DefaultChannelBufferSize = 100

	// DefaultMaxDeliveryAttempts bounds deliveries per envelope, the
	// first one included, before it moves to the dead-letter queue.
	DefaultMaxDeliveryAttempts = 5
)

// ChannelTransport is an in-memory transport backed by Go channels.
// Queues load-balance across concurrent receivers; topics fan out a copy
// to every subscription. Nacked deliveries are redelivered with an
// incremented delivery attempt until the limit, then dead-lettered.
//
// It is safe for concurrent use and suitable for tests and
// single-process deployments.
//
// Example:
//
//	tr := transport.NewChannelTransport(
//	    transport.WithChannelBufferSize(100),
//	    transport.WithChannelLogger(logger),
//	)
//	defer tr.Close()
type ChannelTransport struct {
	mu                  sync.RWMutex
	queues              map[string]*channelEntity
	topics              map[string]map[string]*channelEntity // topic → subscription name → entity
	closed              bool
	bufferSize          int
	maxDeliveryAttempts int
	logger              *slog.Logger
}

type channelEntity struct {
	ch chan *envelope.Envelope
}

// ChannelTransportOption configures a ChannelTransport.
type ChannelTransportOption func(*ChannelTransport)

// WithChannelBufferSize sets the per-entity buffer size.
func WithChannelBufferSize(size int) ChannelTransportOption {
	return func(t *ChannelTransport) {
		if size > 0 {
			t.bufferSize = size
		}
	}
}

// WithChannelMaxDeliveryAttempts bounds deliveries per envelope, the
// first one included.
func WithChannelMaxDeliveryAttempts(attempts int) ChannelTransportOption {
	return func(t *ChannelTransport) {
		if attempts > 0 {
			t.maxDeliveryAttempts = attempts
		}
	}
}

// WithChannelLogger configures structured logging for the transport.
func WithChannelLogger(logger *slog.Logger) ChannelTransportOption {
	return func(t *ChannelTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewChannelTransport creates an in-memory channel transport.
func NewChannelTransport(opts ...ChannelTransportOption) *ChannelTransport {
	t := &ChannelTransport{
		queues:              make(map[string]*channelEntity),
		topics:              make(map[string]map[string]*channelEntity),
		bufferSize:          DefaultChannelBufferSize,
		maxDeliveryAttempts: DefaultMaxDeliveryAttempts,
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// QueueSender implements Transport.
func (t *ChannelTransport) QueueSender(path string) (Sender, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrClosed
	}
	q, ok := t.queues[path]
	if !ok {
		return nil, fmt.Errorf("%w: queue %s", ErrUnknownEntity, path)
	}
	return &channelSender{transport: t, targets: func() []*channelEntity { return []*channelEntity{q} }}, nil
}

// TopicSender implements Transport. Sending clones the envelope to every
// subscription so each owns its delivery bookkeeping.
func (t *ChannelTransport) TopicSender(path string) (Sender, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrClosed
	}
	if _, ok := t.topics[path]; !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEntity, path)
	}

	return &channelSender{transport: t, targets: func() []*channelEntity {
		t.mu.RLock()
		defer t.mu.RUnlock()
		subs := make([]*channelEntity, 0, len(t.topics[path]))
		for _, sub := range t.topics[path] {
			subs = append(subs, sub)
		}
		return subs
	}}, nil
}

// QueueReceiver implements Transport. Concurrent receivers on the same
// queue compete for deliveries.
func (t *ChannelTransport) QueueReceiver(path string) (Receiver, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrClosed
	}
	q, ok := t.queues[path]
	if !ok {
		return nil, fmt.Errorf("%w: queue %s", ErrUnknownEntity, path)
	}
	return &channelReceiver{transport: t, source: q}, nil
}

// SubscriptionReceiver implements Transport.
func (t *ChannelTransport) SubscriptionReceiver(topicPath, name string) (Receiver, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrClosed
	}
	subs, ok := t.topics[topicPath]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEntity, topicPath)
	}
	sub, ok := subs[name]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", ErrUnknownEntity, entity.SubscriptionKey(topicPath, name))
	}
	return &channelReceiver{transport: t, source: sub}, nil
}

// Namespace implements Transport.
func (t *ChannelTransport) Namespace() entity.NamespaceManager {
	return &channelNamespace{transport: t}
}

// Close shuts the transport down. Senders fail afterwards; receivers
// drain buffered envelopes and stop.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	t.closed = true

	for _, q := range t.queues {
		close(q.ch)
	}
	for _, subs := range t.topics {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	t.logger.Info("channel transport closed")
	return nil
}

// push delivers an envelope to a single entity, honoring context
// cancellation and backpressure.
func (t *ChannelTransport) push(ctx context.Context, target *channelEntity, env *envelope.Envelope) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case target.ch <- env:
		return nil
	}
}

// deadLetter moves an exhausted envelope to the dead-letter queue.
func (t *ChannelTransport) deadLetter(env *envelope.Envelope) {
	t.mu.RLock()
	dlq, ok := t.queues[DeadLetterQueuePath]
	closed := t.closed
	t.mu.RUnlock()

	if closed || !ok {
		t.logger.Warn("dropping exhausted envelope, dead-letter queue unavailable",
			slog.String("message_id", env.MessageID),
			slog.String("message_type", env.MessageType()))
		return
	}

	select {
	case dlq.ch <- env:
		t.logger.Debug("envelope dead-lettered",
			slog.String("message_id", env.MessageID),
			slog.Int("delivery_attempt", env.DeliveryAttempt))
	default:
		t.logger.Warn("dead-letter queue full, dropping envelope",
			slog.String("message_id", env.MessageID))
	}
}

type channelSender struct {
	transport *ChannelTransport
	targets   func() []*channelEntity
}

func (s *channelSender) Send(ctx context.Context, env *envelope.Envelope) error {
	targets := s.targets()
	if len(targets) == 1 {
		return s.transport.push(ctx, targets[0], env)
	}
	for _, target := range targets {
		if err := s.transport.push(ctx, target, env.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (s *channelSender) Close() error { return nil }

type channelReceiver struct {
	transport *ChannelTransport
	source    *channelEntity
}

// Listen pumps deliveries into fn until the context is cancelled or the
// transport closes. Each delivery increments the attempt counter; a
// nacked envelope is redelivered until the limit, then dead-lettered.
func (r *channelReceiver) Listen(ctx context.Context, fn Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-r.source.ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, env, fn)
		}
	}
}

func (r *channelReceiver) deliver(ctx context.Context, env *envelope.Envelope, fn Handler) {
	attempt := env.DeliveryAttempt + 1
	env.SetDeliveryAttempt(attempt)

	if fn(ctx, env) == Ack {
		return
	}

	if attempt >= r.transport.maxDeliveryAttempts {
		r.transport.deadLetter(env)
		return
	}

	if err := r.transport.push(ctx, r.source, env); err != nil {
		r.transport.logger.Warn("failed to redeliver nacked envelope",
			slog.String("message_id", env.MessageID),
			slog.String("error", err.Error()))
	}
}

func (r *channelReceiver) Close() error { return nil }

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/messagebus/core/correlation"
	"github.com/dmitrymomot/messagebus/core/dispatch"
	"github.com/dmitrymomot/messagebus/core/entity"
	"github.com/dmitrymomot/messagebus/core/envelope"
	"github.com/dmitrymomot/messagebus/core/interceptor"
	"github.com/dmitrymomot/messagebus/core/registry"
	"github.com/dmitrymomot/messagebus/core/router"
	"github.com/dmitrymomot/messagebus/core/transport"
)

// Bus is the user-facing broker facade. It wires the router, envelope
// factory, entity manager, correlator and dispatcher family over a
// transport and exposes Send, Publish, Request and MulticastRequest.
//
// Example:
//
//	reg := registry.New()
//	reg.Register(registry.NewCommandHandler(placeOrder))
//
//	b, err := bus.New(transport.NewChannelTransport(), reg,
//	    bus.WithConfig(cfg),
//	    bus.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(b.Run(ctx))
//
//	err = b.Send(ctx, PlaceOrder{ID: 7})
type Bus struct {
	transport  transport.Transport
	registry   *registry.Registry
	router     router.Router
	resolver   dispatch.Resolver
	clock      envelope.Clock
	inbound    interceptor.InboundFactory
	outbound   interceptor.OutboundFactory
	cfg        Config
	logger     *slog.Logger

	envelopes   *envelope.Factory
	entities    *entity.Manager
	correlator  *correlation.Correlator
	dispatchers *dispatch.Factory
	replyQueue  string

	sendersMu sync.Mutex
	senders   map[string]transport.Sender

	running    atomic.Bool
	cancelFunc atomic.Pointer[context.CancelFunc]
	done       atomic.Pointer[chan struct{}]
}

// New creates a bus over the given transport and handler registry. The
// registry is frozen on Start.
func New(tr transport.Transport, reg *registry.Registry, opts ...Option) (*Bus, error) {
	if tr == nil {
		return nil, ErrTransportNil
	}
	if reg == nil {
		return nil, ErrRegistryNil
	}

	b := &Bus{
		transport: tr,
		registry:  reg,
		resolver:  dispatch.NopResolver{},
		clock:     envelope.SystemClock(),
		cfg:       DefaultConfig(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		senders:   make(map[string]transport.Sender),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.cfg.InstanceName == "" {
		b.cfg.InstanceName = uuid.New().String()[:8]
	}
	if b.router == nil {
		b.router = router.New(b.cfg.PathPrefix)
	}

	b.envelopes = envelope.NewFactory(b.cfg.ApplicationName, b.cfg.InstanceName,
		envelope.WithClock(b.clock),
		envelope.WithTimeToLive(b.cfg.DefaultMessageTimeToLive),
	)

	b.entities = entity.NewManager(tr.Namespace(),
		entity.WithDefaultTimeout(b.cfg.DefaultTimeout),
		entity.WithLogger(b.logger),
		entity.WithQueueDescriptor(entity.QueueDescriptor{
			MaxDeliveryAttempts:      b.cfg.MaxDeliveryAttempts,
			DefaultMessageTimeToLive: b.cfg.DefaultMessageTimeToLive,
			LockDuration:             b.cfg.DefaultMessageLockDuration,
			AutoDeleteOnIdle:         b.cfg.AutoDeleteOnIdle,
			DeadLetterOnExpiration:   b.cfg.EnableDeadLetteringOnMessageExpiration,
		}),
		entity.WithTopicDescriptor(entity.TopicDescriptor{
			DefaultMessageTimeToLive: b.cfg.DefaultMessageTimeToLive,
			AutoDeleteOnIdle:         b.cfg.AutoDeleteOnIdle,
		}),
		entity.WithSubscriptionDescriptor(entity.SubscriptionDescriptor{
			MaxDeliveryAttempts:      b.cfg.MaxDeliveryAttempts,
			DefaultMessageTimeToLive: b.cfg.DefaultMessageTimeToLive,
			LockDuration:             b.cfg.DefaultMessageLockDuration,
			AutoDeleteOnIdle:         b.cfg.AutoDeleteOnIdle,
			DeadLetterOnExpiration:   b.cfg.EnableDeadLetteringOnMessageExpiration,
		}),
	)

	b.correlator = correlation.New(
		correlation.WithClock(b.clock),
		correlation.WithLogger(b.logger),
	)

	b.replyQueue = strings.ToLower(fmt.Sprintf("%s.replies.%s.%s",
		b.cfg.PathPrefix, b.cfg.ApplicationName, b.cfg.InstanceName))

	dispatchOpts := []dispatch.FactoryOption{
		dispatch.WithResolver(b.resolver),
		dispatch.WithLogger(b.logger),
	}
	if b.inbound != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithInboundInterceptors(b.inbound))
	}
	b.dispatchers = dispatch.NewFactory(reg, b.envelopes, b, dispatchOpts...)

	return b, nil
}

// Send routes a command to its queue and sends it through the outbound
// pipeline. Fire and forget: no response is awaited.
func (b *Bus) Send(ctx context.Context, command any) error {
	if err := b.registry.Verify(registry.Command, command); err != nil {
		return err
	}

	name := registry.MessageName(command)
	path := b.router.Route(name, router.Queue)
	if err := b.entities.EnsureQueue(ctx, path); err != nil {
		return err
	}

	env, err := b.envelopes.New(name, command)
	if err != nil {
		return err
	}

	sender, err := b.queueSender(path)
	if err != nil {
		return err
	}

	return b.runOutbound(ctx, env, false, func(ctx context.Context) error {
		return sender.Send(ctx, env)
	})
}

// Publish routes an event to its topic and sends it through the
// outbound pipeline. The event reaches every subscription: competing
// handlers share one delivery per application, multicast handlers get
// one per instance.
func (b *Bus) Publish(ctx context.Context, event any) error {
	name := registry.MessageName(event)
	if !b.registry.IsKnown(registry.CompetingEvent, name) && !b.registry.IsKnown(registry.MulticastEvent, name) {
		return fmt.Errorf("%w: %s is not registered as an event", registry.ErrUnknownMessageType, name)
	}

	path := b.router.Route(name, router.Topic)
	if err := b.entities.EnsureTopic(ctx, path); err != nil {
		return err
	}

	env, err := b.envelopes.New(name, event)
	if err != nil {
		return err
	}

	sender, err := b.topicSender(path)
	if err != nil {
		return err
	}

	return b.runOutbound(ctx, env, false, func(ctx context.Context) error {
		return sender.Send(ctx, env)
	})
}

// RequestOption configures a single request call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
}

// WithRequestTimeout overrides the default response timeout for one
// request.
func WithRequestTimeout(timeout time.Duration) RequestOption {
	return func(c *requestConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Request sends a request message and awaits its correlated reply. The
// bus must be running so its reply pump can complete the correlation.
// The reply's CorrelationID equals the request's MessageID.
//
// Example:
//
//	pong, err := bus.Request[Pong](ctx, b, Ping{})
func Request[TResponse any](ctx context.Context, b *Bus, request any, opts ...RequestOption) (TResponse, error) {
	var zero TResponse

	if err := b.registry.Verify(registry.Request, request); err != nil {
		return zero, err
	}

	cfg := requestConfig{timeout: b.cfg.DefaultResponseTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	name := registry.MessageName(request)
	path := b.router.Route(name, router.Queue)
	if err := b.entities.EnsureQueue(ctx, path); err != nil {
		return zero, err
	}

	env, err := b.envelopes.New(name, request)
	if err != nil {
		return zero, err
	}
	env.ReplyTo = b.replyQueue
	env.ExpiresAfter = cfg.timeout

	sender, err := b.queueSender(path)
	if err != nil {
		return zero, err
	}

	handle := b.correlator.RecordRequest(env.MessageID, b.clock.Now().Add(cfg.timeout))

	if err := b.runOutbound(ctx, env, true, func(ctx context.Context) error {
		return sender.Send(ctx, env)
	}); err != nil {
		b.correlator.Cancel(env.MessageID)
		return zero, err
	}

	reply, err := handle.Wait(ctx)
	if err != nil {
		return zero, err
	}

	var response TResponse
	if err := json.Unmarshal(reply.Payload, &response); err != nil {
		return zero, fmt.Errorf("failed to decode response for %s: %w", name, err)
	}
	return response, nil
}

// MulticastRequest publishes a request to its topic and collects every
// correlated reply until the timeout window closes. The collection is
// unordered; an empty collection is not an error.
//
// Example:
//
//	quotes, err := bus.MulticastRequest[Quote](ctx, b, RequestQuote{}, 500*time.Millisecond)
func MulticastRequest[TResponse any](ctx context.Context, b *Bus, request any, timeout time.Duration) ([]TResponse, error) {
	if err := b.registry.Verify(registry.MulticastRequest, request); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = b.cfg.DefaultResponseTimeout
	}

	name := registry.MessageName(request)
	path := b.router.Route(name, router.Topic)
	if err := b.entities.EnsureTopic(ctx, path); err != nil {
		return nil, err
	}

	env, err := b.envelopes.New(name, request)
	if err != nil {
		return nil, err
	}
	env.ReplyTo = b.replyQueue
	env.ExpiresAfter = timeout

	sender, err := b.topicSender(path)
	if err != nil {
		return nil, err
	}

	handle := b.correlator.RecordMulticast(env.MessageID, b.clock.Now().Add(timeout))

	if err := b.runOutbound(ctx, env, true, func(ctx context.Context) error {
		return sender.Send(ctx, env)
	}); err != nil {
		b.correlator.Cancel(env.MessageID)
		return nil, err
	}

	replies := handle.Collect(ctx)
	responses := make([]TResponse, 0, len(replies))
	for _, reply := range replies {
		var response TResponse
		if err := json.Unmarshal(reply.Payload, &response); err != nil {
			b.logger.ErrorContext(ctx, "failed to decode multicast response",
				slog.String("correlation_id", reply.CorrelationID),
				slog.String("error", err.Error()))
			continue
		}
		responses = append(responses, response)
	}
	return responses, nil
}

// SendReply implements dispatch.ReplySender: replies travel through the
// same outbound pipeline as first-class sends.
func (b *Bus) SendReply(ctx context.Context, replyTo string, reply *envelope.Envelope) error {
	if err := b.entities.EnsureQueue(ctx, replyTo); err != nil {
		return err
	}
	sender, err := b.queueSender(replyTo)
	if err != nil {
		return err
	}
	return b.runOutbound(ctx, reply, false, func(ctx context.Context) error {
		return sender.Send(ctx, reply)
	})
}

// runOutbound executes the send inside a fresh dependency scope and the
// outbound interceptor chain. Request sends use the request-path hooks.
func (b *Bus) runOutbound(ctx context.Context, env *envelope.Envelope, request bool, send func(ctx context.Context) error) error {
	if b.outbound == nil {
		return send(ctx)
	}

	scope := b.resolver.CreateChildScope()
	defer func() {
		if err := scope.Close(); err != nil {
			b.logger.ErrorContext(ctx, "failed to close send scope",
				slog.String("message_id", env.MessageID),
				slog.String("error", err.Error()))
		}
	}()

	chain := interceptor.SortOutbound(b.outbound(scope, env))
	if request {
		return interceptor.RunOutboundRequest(ctx, chain, env, send)
	}
	return interceptor.RunOutbound(ctx, chain, env, send)
}

func (b *Bus) queueSender(path string) (transport.Sender, error) {
	return b.cachedSender("q:"+path, func() (transport.Sender, error) {
		return b.transport.QueueSender(path)
	})
}

func (b *Bus) topicSender(path string) (transport.Sender, error) {
	return b.cachedSender("t:"+path, func() (transport.Sender, error) {
		return b.transport.TopicSender(path)
	})
}

func (b *Bus) cachedSender(key string, create func() (transport.Sender, error)) (transport.Sender, error) {
	b.sendersMu.Lock()
	defer b.sendersMu.Unlock()

	if sender, ok := b.senders[key]; ok {
		return sender, nil
	}
	sender, err := create()
	if err != nil {
		return nil, err
	}
	b.senders[key] = sender
	return sender, nil
}

// ReplyQueue returns the instance-private reply path requests are
// answered on.
func (b *Bus) ReplyQueue() string { return b.replyQueue }

// Correlator exposes the request correlator for observability.
func (b *Bus) Correlator() *correlation.Correlator { return b.correlator }

// Entities exposes the entity manager for observability.
func (b *Bus) Entities() *entity.Manager { return b.entities }

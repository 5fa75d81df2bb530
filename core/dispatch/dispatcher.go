package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/dmitrymomot/messagebus/core/envelope"
	"github.com/dmitrymomot/messagebus/core/interceptor"
	"github.com/dmitrymomot/messagebus/core/registry"
	"github.com/dmitrymomot/messagebus/core/transport"
)

// ReplySender delivers reply envelopes back through the outbound send
// pipeline. Implemented by the bus facade.
type ReplySender interface {
	SendReply(ctx context.Context, replyTo string, reply *envelope.Envelope) error
}

// Factory builds the dispatcher variant for each handler shape. All
// variants share the same control flow: look up handlers, open a child
// scope, attach dispatch metadata to the context, run the inbound chain
// around the handler invocations, and report the outcome to the
// transport pump.
type Factory struct {
	registry   *registry.Registry
	resolver   Resolver
	inbound    interceptor.InboundFactory
	replies    ReplySender
	envelopes  *envelope.Factory
	logger     *slog.Logger

	dispatched atomic.Int64
	failed     atomic.Int64
}

// FactoryOption configures a dispatch Factory.
type FactoryOption func(*Factory)

// WithResolver wires the dependency resolver handlers and interceptors
// are built from. Defaults to NopResolver.
func WithResolver(resolver Resolver) FactoryOption {
	return func(f *Factory) {
		if resolver != nil {
			f.resolver = resolver
		}
	}
}

// WithInboundInterceptors wires the inbound interceptor factory.
func WithInboundInterceptors(factory interceptor.InboundFactory) FactoryOption {
	return func(f *Factory) {
		if factory != nil {
			f.inbound = factory
		}
	}
}

// WithLogger configures structured logging for dispatch operations.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory creates a dispatcher factory over the frozen registry.
// The reply sender is required by the request-shaped dispatchers.
func NewFactory(reg *registry.Registry, envelopes *envelope.Factory, replies ReplySender, opts ...FactoryOption) *Factory {
	f := &Factory{
		registry:  reg,
		resolver:  NopResolver{},
		inbound:   func(interceptor.Scope, *envelope.Envelope) []interceptor.Inbound { return nil },
		replies:   replies,
		envelopes: envelopes,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Stats reports dispatch counters for observability.
type Stats struct {
	Dispatched int64
	Failed     int64
}

// Stats returns the current dispatch counters.
func (f *Factory) Stats() Stats {
	return Stats{
		Dispatched: f.dispatched.Load(),
		Failed:     f.failed.Load(),
	}
}

// Dispatcher returns the transport handler for the given shape.
func (f *Factory) Dispatcher(shape registry.Shape) transport.Handler {
	return func(ctx context.Context, env *envelope.Envelope) transport.Outcome {
		outcome := f.dispatch(ctx, shape, env)
		f.dispatched.Add(1)
		if outcome == transport.Nack {
			f.failed.Add(1)
		}
		return outcome
	}
}

func (f *Factory) dispatch(ctx context.Context, shape registry.Shape, env *envelope.Envelope) transport.Outcome {
	name := env.MessageType()

	factories := f.registry.HandlersFor(shape, name)
	if len(factories) == 0 {
		f.logger.ErrorContext(ctx, "no handler registered for delivered message",
			slog.String("message_type", name),
			slog.String("shape", shape.String()))
		return transport.Nack
	}

	payload, err := f.registry.Decode(name, env.Payload)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to decode delivered message",
			slog.String("message_type", name),
			slog.String("error", err.Error()))
		return transport.Nack
	}

	scope := f.resolver.CreateChildScope()
	defer func() {
		if err := scope.Close(); err != nil {
			f.logger.ErrorContext(ctx, "failed to close dispatch scope",
				slog.String("message_id", env.MessageID),
				slog.String("error", err.Error()))
		}
	}()

	ctx = WithInfo(ctx, Info{
		MessageID:       env.MessageID,
		CorrelationID:   env.CorrelationID,
		ReplyTo:         env.ReplyTo,
		DeliveryAttempt: env.DeliveryAttempt,
		EnqueuedTimeUTC: env.EnqueuedTimeUTC,
	})

	chain := interceptor.SortInbound(f.inbound(scope, env))

	switch shape {
	case registry.Command:
		return f.dispatchSingle(ctx, chain, env, scope, factories, payload)
	case registry.CompetingEvent, registry.MulticastEvent:
		return f.dispatchFanOut(ctx, chain, env, scope, factories, payload)
	case registry.Request:
		return f.dispatchRequest(ctx, chain, env, scope, factories, payload)
	case registry.MulticastRequest:
		return f.dispatchMulticastRequest(ctx, chain, env, scope, factories, payload)
	default:
		f.logger.ErrorContext(ctx, "unknown handler shape", slog.String("shape", shape.String()))
		return transport.Nack
	}
}

// dispatchSingle runs the single registered command handler.
func (f *Factory) dispatchSingle(ctx context.Context, chain []interceptor.Inbound, env *envelope.Envelope, scope Scope, factories []registry.Factory, payload any) transport.Outcome {
	err := interceptor.RunInbound(ctx, chain, env, func(ctx context.Context) error {
		h, err := factories[0](scope)
		if err != nil {
			return fmt.Errorf("failed to construct handler: %w", err)
		}
		return safeHandle(ctx, h, payload)
	})
	if err != nil {
		f.logHandlerFailure(ctx, env, err)
		return transport.Nack
	}
	return transport.Ack
}

// dispatchFanOut runs every registered event handler. Any failure makes
// the whole dispatch report as failed so the transport may redeliver;
// the composite error carries every handler's failure.
func (f *Factory) dispatchFanOut(ctx context.Context, chain []interceptor.Inbound, env *envelope.Envelope, scope Scope, factories []registry.Factory, payload any) transport.Outcome {
	err := interceptor.RunInbound(ctx, chain, env, func(ctx context.Context) error {
		var errs []error
		for i, mk := range factories {
			h, err := mk(scope)
			if err != nil {
				errs = append(errs, fmt.Errorf("handler %d: failed to construct: %w", i, err))
				continue
			}
			if err := safeHandle(ctx, h, payload); err != nil {
				errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		f.logHandlerFailure(ctx, env, err)
		return transport.Nack
	}
	return transport.Ack
}

// dispatchRequest runs the single request handler and sends its result
// back to the request's reply path through the full outbound pipeline.
// Handler failures produce a fault reply so the requester fails fast,
// and still nack so the transport may redeliver.
func (f *Factory) dispatchRequest(ctx context.Context, chain []interceptor.Inbound, env *envelope.Envelope, scope Scope, factories []registry.Factory, payload any) transport.Outcome {
	if len(factories) > 1 {
		f.logger.ErrorContext(ctx, "multiple handlers registered for request message",
			slog.String("message_type", env.MessageType()),
			slog.Int("handler_count", len(factories)))
		return transport.Nack
	}
	if env.ReplyTo == "" {
		f.logger.ErrorContext(ctx, "request message carries no reply path",
			slog.String("message_id", env.MessageID))
		return transport.Nack
	}

	var result any
	err := interceptor.RunInbound(ctx, chain, env, func(ctx context.Context) error {
		h, err := factories[0](scope)
		if err != nil {
			return fmt.Errorf("failed to construct handler: %w", err)
		}
		rh, ok := h.(registry.RequestHandler)
		if !ok {
			return fmt.Errorf("handler for %s does not produce responses", env.MessageType())
		}
		r, err := safeHandleRequest(ctx, rh, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		f.logHandlerFailure(ctx, env, err)
		f.sendFaultReply(ctx, env, err)
		return transport.Nack
	}

	if err := f.sendReply(ctx, env, result); err != nil {
		f.logger.ErrorContext(ctx, "failed to send reply",
			slog.String("message_id", env.MessageID),
			slog.String("error", err.Error()))
		return transport.Nack
	}
	return transport.Ack
}

// dispatchMulticastRequest runs every registered handler and sends one
// correlated reply per success. The requester collects the stream until
// its timeout window closes.
func (f *Factory) dispatchMulticastRequest(ctx context.Context, chain []interceptor.Inbound, env *envelope.Envelope, scope Scope, factories []registry.Factory, payload any) transport.Outcome {
	if env.ReplyTo == "" {
		f.logger.ErrorContext(ctx, "request message carries no reply path",
			slog.String("message_id", env.MessageID))
		return transport.Nack
	}

	err := interceptor.RunInbound(ctx, chain, env, func(ctx context.Context) error {
		var errs []error
		for i, mk := range factories {
			h, err := mk(scope)
			if err != nil {
				errs = append(errs, fmt.Errorf("handler %d: failed to construct: %w", i, err))
				continue
			}
			rh, ok := h.(registry.RequestHandler)
			if !ok {
				errs = append(errs, fmt.Errorf("handler %d: does not produce responses", i))
				continue
			}
			result, err := safeHandleRequest(ctx, rh, payload)
			if err != nil {
				errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
				continue
			}
			if err := f.sendReply(ctx, env, result); err != nil {
				errs = append(errs, fmt.Errorf("handler %d: failed to send reply: %w", i, err))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		f.logHandlerFailure(ctx, env, err)
		return transport.Nack
	}
	return transport.Ack
}

func (f *Factory) sendReply(ctx context.Context, request *envelope.Envelope, result any) error {
	reply, err := f.envelopes.NewReply(request, registry.MessageName(result), result)
	if err != nil {
		return err
	}
	return f.replies.SendReply(ctx, request.ReplyTo, reply)
}

// sendFaultReply is best effort: the nack already guarantees redelivery,
// the fault only lets the requester fail before its timeout.
func (f *Factory) sendFaultReply(ctx context.Context, request *envelope.Envelope, cause error) {
	fault, err := f.envelopes.NewFaultReply(request, cause)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to build fault reply",
			slog.String("message_id", request.MessageID),
			slog.String("error", err.Error()))
		return
	}
	if err := f.replies.SendReply(ctx, request.ReplyTo, fault); err != nil {
		f.logger.ErrorContext(ctx, "failed to send fault reply",
			slog.String("message_id", request.MessageID),
			slog.String("error", err.Error()))
	}
}

func (f *Factory) logHandlerFailure(ctx context.Context, env *envelope.Envelope, err error) {
	f.logger.ErrorContext(ctx, "dispatch failed",
		slog.String("message_id", env.MessageID),
		slog.String("message_type", env.MessageType()),
		slog.Int("delivery_attempt", env.DeliveryAttempt),
		slog.String("error", err.Error()))
}

// safeHandle invokes the handler converting panics into errors so a
// misbehaving handler cannot kill the pump goroutine.
func safeHandle(ctx context.Context, h registry.Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, payload)
}

func safeHandleRequest(ctx context.Context, h registry.RequestHandler, payload any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.HandleRequest(ctx, payload)
}

package bus

import (
	"log/slog"

	"github.com/dmitrymomot/messagebus/core/dispatch"
	"github.com/dmitrymomot/messagebus/core/envelope"
	"github.com/dmitrymomot/messagebus/core/interceptor"
	"github.com/dmitrymomot/messagebus/core/router"
)

// Option configures a Bus.
type Option func(*Bus)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bus) {
		b.cfg = cfg
	}
}

// WithLogger configures structured logging for all bus components.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRouter overrides the message-name → path router.
func WithRouter(r router.Router) Option {
	return func(b *Bus) {
		if r != nil {
			b.router = r
		}
	}
}

// WithResolver wires the dependency resolver handlers and interceptors
// are built from.
func WithResolver(r dispatch.Resolver) Option {
	return func(b *Bus) {
		if r != nil {
			b.resolver = r
		}
	}
}

// WithClock overrides the wall-clock source used for envelope stamping
// and correlation deadlines.
func WithClock(clock envelope.Clock) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithInboundInterceptors wires the inbound interceptor factory applied
// to every dispatch.
func WithInboundInterceptors(factory interceptor.InboundFactory) Option {
	return func(b *Bus) {
		if factory != nil {
			b.inbound = factory
		}
	}
}

// WithOutboundInterceptors wires the outbound interceptor factory
// applied to every send, publish, request and reply.
func WithOutboundInterceptors(factory interceptor.OutboundFactory) Option {
	return func(b *Bus) {
		if factory != nil {
			b.outbound = factory
		}
	}
}

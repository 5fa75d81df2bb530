package interceptor

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

// Scope is the dependency scope an interceptor factory may draw from.
// It mirrors the dispatch package's scope; the factory must not close it.
type Scope interface {
	Resolve(name string) (any, error)
	Close() error
}

// Inbound hooks run around handler invocations. Before-hooks run in
// declared order, after-hooks and error-hooks in reverse.
type Inbound interface {
	// Priority orders the chain: higher runs earlier. Ties break on
	// type name, ascending, so ordering is deterministic.
	Priority() int

	OnHandling(ctx context.Context, env *envelope.Envelope) error
	OnHandled(ctx context.Context, env *envelope.Envelope)
	OnError(ctx context.Context, env *envelope.Envelope, err error)
}

// Outbound hooks run around sends. The request variants fire on the
// request/response path instead of the plain hooks.
type Outbound interface {
	Priority() int

	OnSending(ctx context.Context, env *envelope.Envelope) error
	OnSent(ctx context.Context, env *envelope.Envelope)
	OnSendError(ctx context.Context, env *envelope.Envelope, err error)

	OnRequestSending(ctx context.Context, env *envelope.Envelope) error
	OnRequestSent(ctx context.Context, env *envelope.Envelope)
	OnRequestSendingError(ctx context.Context, env *envelope.Envelope, err error)
}

// InboundFactory builds the inbound chain for one dispatch. Instances
// live for a single dispatch inside its dependency scope.
type InboundFactory func(scope Scope, env *envelope.Envelope) []Inbound

// OutboundFactory builds the outbound chain for one send.
type OutboundFactory func(scope Scope, env *envelope.Envelope) []Outbound

// NopInbound is an embeddable no-op Inbound with priority 0. Embed it and
// override the hooks you need.
type NopInbound struct{}

func (NopInbound) Priority() int                                                  { return 0 }
func (NopInbound) OnHandling(context.Context, *envelope.Envelope) error           { return nil }
func (NopInbound) OnHandled(context.Context, *envelope.Envelope)                  {}
func (NopInbound) OnError(context.Context, *envelope.Envelope, error)             {}

// NopOutbound is an embeddable no-op Outbound with priority 0.
type NopOutbound struct{}

func (NopOutbound) Priority() int                                                 { return 0 }
func (NopOutbound) OnSending(context.Context, *envelope.Envelope) error           { return nil }
func (NopOutbound) OnSent(context.Context, *envelope.Envelope)                    {}
func (NopOutbound) OnSendError(context.Context, *envelope.Envelope, error)        {}
func (NopOutbound) OnRequestSending(context.Context, *envelope.Envelope) error    { return nil }
func (NopOutbound) OnRequestSent(context.Context, *envelope.Envelope)             {}
func (NopOutbound) OnRequestSendingError(context.Context, *envelope.Envelope, error) {}

// SortInbound orders a chain by priority descending, then type name
// ascending. The sort is stable and deterministic across processes.
func SortInbound(chain []Inbound) []Inbound {
	sorted := make([]Inbound, len(chain))
	copy(sorted, chain)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return typeName(sorted[i]) < typeName(sorted[j])
	})
	return sorted
}

// SortOutbound orders a chain by priority descending, then type name
// ascending.
func SortOutbound(chain []Outbound) []Outbound {
	sorted := make([]Outbound, len(chain))
	copy(sorted, chain)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return typeName(sorted[i]) < typeName(sorted[j])
	})
	return sorted
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

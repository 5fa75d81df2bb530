package interceptor

import (
	"context"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

// RunInbound executes the guarded operation inside the inbound chain.
// Before-hooks run in chain order; after-hooks run in reverse once the
// operation succeeds. On failure — from a before-hook or the operation —
// error-hooks run in reverse and the original error is returned verbatim.
func RunInbound(ctx context.Context, chain []Inbound, env *envelope.Envelope, op func(ctx context.Context) error) error {
	for _, in := range chain {
		if err := in.OnHandling(ctx, env); err != nil {
			runInboundError(ctx, chain, env, err)
			return err
		}
	}

	if err := op(ctx); err != nil {
		runInboundError(ctx, chain, env, err)
		return err
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].OnHandled(ctx, env)
	}
	return nil
}

func runInboundError(ctx context.Context, chain []Inbound, env *envelope.Envelope, err error) {
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].OnError(ctx, env, err)
	}
}

// RunOutbound executes a send inside the outbound chain using the plain
// send hooks.
func RunOutbound(ctx context.Context, chain []Outbound, env *envelope.Envelope, op func(ctx context.Context) error) error {
	for _, out := range chain {
		if err := out.OnSending(ctx, env); err != nil {
			runOutboundError(ctx, chain, env, err)
			return err
		}
	}

	if err := op(ctx); err != nil {
		runOutboundError(ctx, chain, env, err)
		return err
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].OnSent(ctx, env)
	}
	return nil
}

func runOutboundError(ctx context.Context, chain []Outbound, env *envelope.Envelope, err error) {
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].OnSendError(ctx, env, err)
	}
}

// RunOutboundRequest executes a request send inside the outbound chain
// using the request-path hooks.
func RunOutboundRequest(ctx context.Context, chain []Outbound, env *envelope.Envelope, op func(ctx context.Context) error) error {
	for _, out := range chain {
		if err := out.OnRequestSending(ctx, env); err != nil {
			runOutboundRequestError(ctx, chain, env, err)
			return err
		}
	}

	if err := op(ctx); err != nil {
		runOutboundRequestError(ctx, chain, env, err)
		return err
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].OnRequestSent(ctx, env)
	}
	return nil
}

func runOutboundRequestError(ctx context.Context, chain []Outbound, env *envelope.Envelope, err error) {
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].OnRequestSendingError(ctx, env, err)
	}
}

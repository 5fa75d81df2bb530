package dispatch

import (
	"context"
	"time"
)

// Info is the dispatch context made available to handlers through the
// request context. It replaces the source system's property injection
// with an explicit, scope-local value.
type Info struct {
	MessageID       string
	CorrelationID   string
	ReplyTo         string
	DeliveryAttempt int
	EnqueuedTimeUTC time.Time
}

type infoCtx struct{}

// WithInfo attaches dispatch metadata to the context for the duration of
// one handler invocation.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoCtx{}, info)
}

// InfoFrom extracts the dispatch metadata from the context. The zero
// Info is returned outside a dispatch.
func InfoFrom(ctx context.Context) Info {
	if info, ok := ctx.Value(infoCtx{}).(Info); ok {
		return info
	}
	return Info{}
}

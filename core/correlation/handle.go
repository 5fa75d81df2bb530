package correlation

import (
	"context"
	"sync"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

// ResponseHandle is the awaitable side of an outstanding request.
// Exactly one reply, timeout or cancellation signals it.
type ResponseHandle struct {
	messageID string
	done      chan struct{}
	once      sync.Once
	env       *envelope.Envelope
	err       error
	cancel    func()
}

// MessageID returns the request's message id.
func (h *ResponseHandle) MessageID() string { return h.messageID }

func (h *ResponseHandle) complete(env *envelope.Envelope, err error) {
	h.once.Do(func() {
		h.env = env
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the reply arrives, the reaper times the request out,
// or the context is cancelled. Cancellation removes the record; the
// already-sent request envelope is not recalled.
func (h *ResponseHandle) Wait(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case <-h.done:
		return h.env, h.err
	case <-ctx.Done():
		h.cancel()
		return nil, ctx.Err()
	}
}

// MulticastHandle collects the stream of replies to a multicast request
// until its timeout window closes.
type MulticastHandle struct {
	messageID string
	replies   chan *envelope.Envelope
	closeOnce sync.Once
}

// MessageID returns the request's message id.
func (h *MulticastHandle) MessageID() string { return h.messageID }

func (h *MulticastHandle) close() {
	h.closeOnce.Do(func() {
		close(h.replies)
	})
}

// Replies exposes the reply stream. The channel closes when the request
// window expires.
func (h *MulticastHandle) Replies() <-chan *envelope.Envelope {
	return h.replies
}

// Collect drains the reply stream until the window closes or the context
// is cancelled, returning the replies received so far in arrival order.
func (h *MulticastHandle) Collect(ctx context.Context) []*envelope.Envelope {
	var collected []*envelope.Envelope
	for {
		select {
		case env, ok := <-h.replies:
			if !ok {
				return collected
			}
			collected = append(collected, env)
		case <-ctx.Done():
			return collected
		}
	}
}

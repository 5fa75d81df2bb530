package transport

import (
	"context"

	"github.com/dmitrymomot/messagebus/core/entity"
	"github.com/dmitrymomot/messagebus/core/envelope"
)

// DeadLetterQueuePath is the well-known terminal queue for messages that
// exceeded their delivery-count limit. Created as a normal queue.
const DeadLetterQueuePath = "deadletteroffice"

// Outcome is what a dispatch reports back to the transport pump. The
// core never acknowledges messages itself.
type Outcome int

const (
	// Ack completes the delivery.
	Ack Outcome = iota

	// Nack returns the message so the transport may redeliver it, up to
	// its delivery-count limit.
	Nack
)

// Handler converts a received envelope into a dispatch outcome.
type Handler func(ctx context.Context, env *envelope.Envelope) Outcome

// Sender delivers envelopes to a single named path.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
	Close() error
}

// Receiver pumps deliveries from a single named path into a handler.
type Receiver interface {
	// Listen blocks, invoking fn for every delivery, until the context
	// is cancelled or the transport closes.
	Listen(ctx context.Context, fn Handler) error
	Close() error
}

// Transport is the opaque handle producing senders and receivers for
// named paths, plus the namespace surface the entity manager drives.
type Transport interface {
	QueueSender(path string) (Sender, error)
	TopicSender(path string) (Sender, error)
	QueueReceiver(path string) (Receiver, error)
	SubscriptionReceiver(topicPath, name string) (Receiver, error)
	Namespace() entity.NamespaceManager
	Close() error
}

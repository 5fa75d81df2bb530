package entity

import (
	"context"
	"time"
)

// QueueDescriptor carries the creation options applied to new queues.
type QueueDescriptor struct {
	MaxDeliveryAttempts       int
	DefaultMessageTimeToLive  time.Duration
	LockDuration              time.Duration
	AutoDeleteOnIdle          time.Duration
	DeadLetterOnExpiration    bool
}

// TopicDescriptor carries the creation options applied to new topics.
type TopicDescriptor struct {
	DefaultMessageTimeToLive time.Duration
	AutoDeleteOnIdle         time.Duration
}

// SubscriptionDescriptor carries the creation options applied to new
// subscriptions.
type SubscriptionDescriptor struct {
	MaxDeliveryAttempts      int
	DefaultMessageTimeToLive time.Duration
	LockDuration             time.Duration
	AutoDeleteOnIdle         time.Duration
	DeadLetterOnExpiration   bool
}

// Listing is the bulk snapshot of entities known to the transport,
// fetched once on first need.
type Listing struct {
	Queues        []string
	Topics        []string
	Subscriptions []string // composite "topic/name" keys
}

// NamespaceManager is the transport's admin surface the entity manager
// drives. Drivers classify their native failures into ErrAlreadyExists
// and ErrConflictPending; anything else is treated as possibly transient.
type NamespaceManager interface {
	ListEntities(ctx context.Context) (Listing, error)
	CreateQueue(ctx context.Context, path string, d QueueDescriptor) error
	CreateTopic(ctx context.Context, path string, d TopicDescriptor) error
	CreateSubscription(ctx context.Context, topicPath, name string, d SubscriptionDescriptor) error
	QueueExists(ctx context.Context, path string) (bool, error)
	TopicExists(ctx context.Context, path string) (bool, error)
	SubscriptionExists(ctx context.Context, topicPath, name string) (bool, error)
}

// SubscriptionKey builds the composite known-set key for a subscription.
func SubscriptionKey(topicPath, name string) string {
	return topicPath + "/" + name
}

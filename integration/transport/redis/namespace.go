package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/messagebus/core/entity"
)

// busygroup is the reply Redis sends when a consumer group already
// exists; it classifies as a benign lost race.
const busygroup = "BUSYGROUP"

// namespace is the transport's admin surface. Entity identity lives in
// three registry sets so listing does not scan the keyspace.
type namespace struct {
	transport *Transport
}

func (n *namespace) ListEntities(ctx context.Context) (entity.Listing, error) {
	t := n.transport

	queues, err := t.client.SMembers(ctx, t.queuesKey()).Result()
	if err != nil {
		return entity.Listing{}, fmt.Errorf("failed to list queues: %w", err)
	}
	topics, err := t.client.SMembers(ctx, t.topicsKey()).Result()
	if err != nil {
		return entity.Listing{}, fmt.Errorf("failed to list topics: %w", err)
	}
	subscriptions, err := t.client.SMembers(ctx, t.subscriptionsKey()).Result()
	if err != nil {
		return entity.Listing{}, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return entity.Listing{
		Queues:        queues,
		Topics:        topics,
		Subscriptions: subscriptions,
	}, nil
}

func (n *namespace) CreateQueue(ctx context.Context, path string, _ entity.QueueDescriptor) error {
	t := n.transport

	added, err := t.client.SAdd(ctx, t.queuesKey(), path).Result()
	if err != nil {
		return fmt.Errorf("failed to register queue %s: %w", path, err)
	}

	err = t.client.XGroupCreateMkStream(ctx, t.queueStream(path), queueGroup, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create queue %s: %w", path, err)
	}

	if added == 0 {
		return fmt.Errorf("%w: queue %s", entity.ErrAlreadyExists, path)
	}
	return nil
}

func (n *namespace) CreateTopic(ctx context.Context, path string, _ entity.TopicDescriptor) error {
	t := n.transport

	added, err := t.client.SAdd(ctx, t.topicsKey(), path).Result()
	if err != nil {
		return fmt.Errorf("failed to register topic %s: %w", path, err)
	}
	if added == 0 {
		return fmt.Errorf("%w: topic %s", entity.ErrAlreadyExists, path)
	}
	return nil
}

func (n *namespace) CreateSubscription(ctx context.Context, topicPath, name string, _ entity.SubscriptionDescriptor) error {
	t := n.transport
	key := entity.SubscriptionKey(topicPath, name)

	added, err := t.client.SAdd(ctx, t.subscriptionsKey(), key).Result()
	if err != nil {
		return fmt.Errorf("failed to register subscription %s: %w", key, err)
	}

	err = t.client.XGroupCreateMkStream(ctx, t.topicStream(topicPath), name, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create subscription %s: %w", key, err)
	}

	if added == 0 {
		return fmt.Errorf("%w: subscription %s", entity.ErrAlreadyExists, key)
	}
	return nil
}

func (n *namespace) QueueExists(ctx context.Context, path string) (bool, error) {
	return n.transport.client.SIsMember(ctx, n.transport.queuesKey(), path).Result()
}

func (n *namespace) TopicExists(ctx context.Context, path string) (bool, error) {
	return n.transport.client.SIsMember(ctx, n.transport.topicsKey(), path).Result()
}

func (n *namespace) SubscriptionExists(ctx context.Context, topicPath, name string) (bool, error) {
	key := entity.SubscriptionKey(topicPath, name)
	return n.transport.client.SIsMember(ctx, n.transport.subscriptionsKey(), key).Result()
}

// isBusyGroup classifies the consumer-group-exists reply.
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), busygroup)
}

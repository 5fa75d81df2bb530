package transport

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/messagebus/core/entity"
	"github.com/dmitrymomot/messagebus/core/envelope"
)

// channelNamespace is the admin surface of the in-memory transport.
type channelNamespace struct {
	transport *ChannelTransport
}

func (n *channelNamespace) ListEntities(_ context.Context) (entity.Listing, error) {
	t := n.transport
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return entity.Listing{}, ErrClosed
	}

	var listing entity.Listing
	for path := range t.queues {
		listing.Queues = append(listing.Queues, path)
	}
	for path, subs := range t.topics {
		listing.Topics = append(listing.Topics, path)
		for name := range subs {
			listing.Subscriptions = append(listing.Subscriptions, entity.SubscriptionKey(path, name))
		}
	}
	return listing, nil
}

func (n *channelNamespace) CreateQueue(_ context.Context, path string, _ entity.QueueDescriptor) error {
	t := n.transport
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.queues[path]; ok {
		return fmt.Errorf("%w: queue %s", entity.ErrAlreadyExists, path)
	}
	t.queues[path] = &channelEntity{ch: make(chan *envelope.Envelope, t.bufferSize)}
	return nil
}

func (n *channelNamespace) CreateTopic(_ context.Context, path string, _ entity.TopicDescriptor) error {
	t := n.transport
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.topics[path]; ok {
		return fmt.Errorf("%w: topic %s", entity.ErrAlreadyExists, path)
	}
	t.topics[path] = make(map[string]*channelEntity)
	return nil
}

func (n *channelNamespace) CreateSubscription(_ context.Context, topicPath, name string, _ entity.SubscriptionDescriptor) error {
	t := n.transport
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	subs, ok := t.topics[topicPath]
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrUnknownEntity, topicPath)
	}
	if _, ok := subs[name]; ok {
		return fmt.Errorf("%w: subscription %s", entity.ErrAlreadyExists, entity.SubscriptionKey(topicPath, name))
	}
	subs[name] = &channelEntity{ch: make(chan *envelope.Envelope, t.bufferSize)}
	return nil
}

func (n *channelNamespace) QueueExists(_ context.Context, path string) (bool, error) {
	t := n.transport
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.queues[path]
	return ok, nil
}

func (n *channelNamespace) TopicExists(_ context.Context, path string) (bool, error) {
	t := n.transport
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.topics[path]
	return ok, nil
}

func (n *channelNamespace) SubscriptionExists(_ context.Context, topicPath, name string) (bool, error) {
	t := n.transport
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs, ok := t.topics[topicPath]
	if !ok {
		return false, nil
	}
	_, ok = subs[name]
	return ok, nil
}

package entity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds the bulk entity fetch when none is configured.
const DefaultTimeout = 10 * time.Second

// Manager presents idempotent, thread-safe EnsureQueue, EnsureTopic and
// EnsureSubscription operations that a concurrent fleet of bus instances
// may call without coordinating. Entities once marked known stay known
// for the lifetime of the process.
type Manager struct {
	ns      NamespaceManager
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger

	queueDesc QueueDescriptor
	topicDesc TopicDescriptor
	subDesc   SubscriptionDescriptor

	locks sync.Map // path → *sync.Mutex

	mu            sync.RWMutex
	warmed        bool
	queues        map[string]struct{}
	topics        map[string]struct{}
	subscriptions map[string]struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetryPolicy overrides the creation retry policy.
func WithRetryPolicy(policy RetryPolicy) ManagerOption {
	return func(m *Manager) {
		if policy.MaxAttempts > 0 {
			m.retry = policy
		}
	}
}

// WithDefaultTimeout bounds the bulk entity fetch.
func WithDefaultTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithLogger configures structured logging for entity operations.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithQueueDescriptor sets the creation options for new queues.
func WithQueueDescriptor(d QueueDescriptor) ManagerOption {
	return func(m *Manager) { m.queueDesc = d }
}

// WithTopicDescriptor sets the creation options for new topics.
func WithTopicDescriptor(d TopicDescriptor) ManagerOption {
	return func(m *Manager) { m.topicDesc = d }
}

// WithSubscriptionDescriptor sets the creation options for new
// subscriptions.
func WithSubscriptionDescriptor(d SubscriptionDescriptor) ManagerOption {
	return func(m *Manager) { m.subDesc = d }
}

// NewManager creates an entity manager over the transport's namespace
// surface.
func NewManager(ns NamespaceManager, opts ...ManagerOption) *Manager {
	m := &Manager{
		ns:            ns,
		retry:         DefaultRetryPolicy(),
		timeout:       DefaultTimeout,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		queues:        make(map[string]struct{}),
		topics:        make(map[string]struct{}),
		subscriptions: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// EnsureQueue guarantees the queue exists, creating it at most once
// across concurrent callers.
func (m *Manager) EnsureQueue(ctx context.Context, path string) error {
	return m.ensure(ctx, "queue:"+path, path,
		func() bool { return m.knownQueue(path) },
		func() { m.markQueue(path) },
		func(ctx context.Context) error { return m.ns.CreateQueue(ctx, path, m.queueDesc) },
		func(ctx context.Context) (bool, error) { return m.ns.QueueExists(ctx, path) },
	)
}

// EnsureTopic guarantees the topic exists.
func (m *Manager) EnsureTopic(ctx context.Context, path string) error {
	return m.ensure(ctx, "topic:"+path, path,
		func() bool { return m.knownTopic(path) },
		func() { m.markTopic(path) },
		func(ctx context.Context) error { return m.ns.CreateTopic(ctx, path, m.topicDesc) },
		func(ctx context.Context) (bool, error) { return m.ns.TopicExists(ctx, path) },
	)
}

// EnsureSubscription guarantees the subscription exists, first ensuring
// its owning topic.
func (m *Manager) EnsureSubscription(ctx context.Context, topicPath, name string) error {
	if err := m.EnsureTopic(ctx, topicPath); err != nil {
		return err
	}

	key := SubscriptionKey(topicPath, name)
	return m.ensure(ctx, "subscription:"+key, key,
		func() bool { return m.knownSubscription(key) },
		func() { m.markSubscription(key) },
		func(ctx context.Context) error { return m.ns.CreateSubscription(ctx, topicPath, name, m.subDesc) },
		func(ctx context.Context) (bool, error) { return m.ns.SubscriptionExists(ctx, topicPath, name) },
	)
}

// ensure implements double-checked existence under a per-path lock.
func (m *Manager) ensure(
	ctx context.Context,
	lockKey, path string,
	known func() bool,
	mark func(),
	create func(ctx context.Context) error,
	exists func(ctx context.Context) (bool, error),
) error {
	if err := m.warmUp(ctx); err != nil {
		return err
	}

	if known() {
		return nil
	}

	lock, _ := m.locks.LoadOrStore(lockKey, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if known() {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		err := create(ctx)
		switch {
		case err == nil:
			mark()
			return nil

		case errors.Is(err, ErrAlreadyExists):
			mark()
			return nil

		case errors.Is(err, ErrConflictPending):
			present, probeErr := exists(ctx)
			if probeErr == nil && present {
				mark()
				return nil
			}
			m.logger.ErrorContext(ctx, "racing entity creation could not be confirmed",
				slog.String("path", path),
				slog.Any("probe_error", probeErr))
			return &CreationError{Path: path, RetryCount: attempt, Cause: err}

		default:
			lastErr = err
			m.logger.ErrorContext(ctx, "entity creation attempt failed",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if attempt < m.retry.MaxAttempts {
				// Creation is not cancellable mid-flight; callers rely
				// on the default timeout rather than ctx here.
				time.Sleep(m.retry.Backoff(attempt))
			}
		}
	}

	return &CreationError{Path: path, RetryCount: m.retry.MaxAttempts, Cause: lastErr}
}

// warmUp populates the known-sets with one bulk list call on first need,
// bounded by the default timeout. A failed warm-up is retried on the
// next call.
func (m *Manager) warmUp(ctx context.Context) error {
	m.mu.RLock()
	warmed := m.warmed
	m.mu.RUnlock()
	if warmed {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warmed {
		return nil
	}

	listCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	listing, err := m.ns.ListEntities(listCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}

	for _, q := range listing.Queues {
		m.queues[q] = struct{}{}
	}
	for _, t := range listing.Topics {
		m.topics[t] = struct{}{}
	}
	for _, s := range listing.Subscriptions {
		m.subscriptions[s] = struct{}{}
	}
	m.warmed = true

	m.logger.DebugContext(ctx, "entity known-sets warmed up",
		slog.Int("queues", len(listing.Queues)),
		slog.Int("topics", len(listing.Topics)),
		slog.Int("subscriptions", len(listing.Subscriptions)))
	return nil
}

func (m *Manager) knownQueue(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.queues[path]
	return ok
}

func (m *Manager) knownTopic(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.topics[path]
	return ok
}

func (m *Manager) knownSubscription(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subscriptions[key]
	return ok
}

func (m *Manager) markQueue(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[path] = struct{}{}
}

func (m *Manager) markTopic(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[path] = struct{}{}
}

func (m *Manager) markSubscription(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[key] = struct{}{}
}

package entity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/messagebus/core/entity"
)

type MockNamespace struct {
	mock.Mock
}

func (m *MockNamespace) ListEntities(ctx context.Context) (entity.Listing, error) {
	args := m.Called(ctx)
	return args.Get(0).(entity.Listing), args.Error(1)
}

func (m *MockNamespace) CreateQueue(ctx context.Context, path string, d entity.QueueDescriptor) error {
	args := m.Called(ctx, path, d)
	return args.Error(0)
}

func (m *MockNamespace) CreateTopic(ctx context.Context, path string, d entity.TopicDescriptor) error {
	args := m.Called(ctx, path, d)
	return args.Error(0)
}

func (m *MockNamespace) CreateSubscription(ctx context.Context, topicPath, name string, d entity.SubscriptionDescriptor) error {
	args := m.Called(ctx, topicPath, name, d)
	return args.Error(0)
}

func (m *MockNamespace) QueueExists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockNamespace) TopicExists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockNamespace) SubscriptionExists(ctx context.Context, topicPath, name string) (bool, error) {
	args := m.Called(ctx, topicPath, name)
	return args.Bool(0), args.Error(1)
}

func emptyListing(m *MockNamespace) {
	m.On("ListEntities", mock.Anything).Return(entity.Listing{}, nil).Once()
}

// fastRetry keeps backoff out of the test runtime.
func fastRetry() entity.ManagerOption {
	return entity.WithRetryPolicy(entity.RetryPolicy{MaxAttempts: 5, Step: time.Millisecond})
}

func TestEnsureQueue(t *testing.T) {
	t.Parallel()

	t.Run("creates once and marks known", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateQueue", mock.Anything, "orders.placeorder", mock.Anything).Return(nil).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureQueue(context.Background(), "orders.placeorder"))
		require.NoError(t, m.EnsureQueue(context.Background(), "orders.placeorder"))

		ns.AssertExpectations(t)
		ns.AssertNumberOfCalls(t, "CreateQueue", 1)
	})

	t.Run("already exists marks known without error", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateQueue", mock.Anything, "q1", mock.Anything).
			Return(existsErr("q1")).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureQueue(context.Background(), "q1"))
		require.NoError(t, m.EnsureQueue(context.Background(), "q1"))
		ns.AssertNumberOfCalls(t, "CreateQueue", 1)
	})

	t.Run("warm-up listing pre-populates the known-set", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		ns.On("ListEntities", mock.Anything).Return(entity.Listing{
			Queues: []string{"orders.placeorder"},
		}, nil).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureQueue(context.Background(), "orders.placeorder"))
		ns.AssertNotCalled(t, "CreateQueue", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transient failures retry then surface a creation error", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateQueue", mock.Anything, "flaky", mock.Anything).
			Return(errors.New("connection reset")).Times(5)

		m := entity.NewManager(ns, fastRetry())

		err := m.EnsureQueue(context.Background(), "flaky")
		require.Error(t, err)

		var creation *entity.CreationError
		require.ErrorAs(t, err, &creation)
		assert.Equal(t, "flaky", creation.Path)
		assert.Equal(t, 5, creation.RetryCount)
		ns.AssertNumberOfCalls(t, "CreateQueue", 5)
	})

	t.Run("transient failure then success", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateQueue", mock.Anything, "recovers", mock.Anything).
			Return(errors.New("throttled")).Once()
		ns.On("CreateQueue", mock.Anything, "recovers", mock.Anything).
			Return(nil).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureQueue(context.Background(), "recovers"))
		ns.AssertNumberOfCalls(t, "CreateQueue", 2)
	})
}

func TestEnsureQueueConflict(t *testing.T) {
	t.Parallel()

	t.Run("conflict with confirmed entity marks known", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateQueue", mock.Anything, "racy", mock.Anything).
			Return(conflictErr("racy")).Once()
		ns.On("QueueExists", mock.Anything, "racy").Return(true, nil).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureQueue(context.Background(), "racy"))
		require.NoError(t, m.EnsureQueue(context.Background(), "racy"))
		ns.AssertNumberOfCalls(t, "CreateQueue", 1)
	})

	t.Run("conflict without confirmation fails", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateQueue", mock.Anything, "ghost", mock.Anything).
			Return(conflictErr("ghost")).Once()
		ns.On("QueueExists", mock.Anything, "ghost").Return(false, nil).Once()

		m := entity.NewManager(ns, fastRetry())

		var creation *entity.CreationError
		require.ErrorAs(t, m.EnsureQueue(context.Background(), "ghost"), &creation)
		assert.Equal(t, "ghost", creation.Path)
	})
}

// Ten concurrent callers ensure the same topic while one create loses a
// race. All callers succeed, the transport sees at most two creates and
// the topic ends up known.
func TestEnsureTopicConcurrent(t *testing.T) {
	t.Parallel()

	ns := &MockNamespace{}
	emptyListing(ns)

	var creates atomic.Int32
	ns.On("CreateTopic", mock.Anything, "T1", mock.Anything).
		Return(conflictErr("T1")).Once().
		Run(func(mock.Arguments) { creates.Add(1) })
	ns.On("CreateTopic", mock.Anything, "T1", mock.Anything).
		Return(nil).
		Run(func(mock.Arguments) { creates.Add(1) })
	ns.On("TopicExists", mock.Anything, "T1").Return(true, nil)

	m := entity.NewManager(ns, fastRetry())

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureTopic(context.Background(), "T1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.LessOrEqual(t, creates.Load(), int32(2))

	// Known-set monotonicity: once created, no further transport calls.
	require.NoError(t, m.EnsureTopic(context.Background(), "T1"))
	assert.LessOrEqual(t, creates.Load(), int32(2))
}

func TestEnsureSubscription(t *testing.T) {
	t.Parallel()

	t.Run("ensures the owning topic first", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		emptyListing(ns)
		ns.On("CreateTopic", mock.Anything, "orders.orderplaced", mock.Anything).Return(nil).Once()
		ns.On("CreateSubscription", mock.Anything, "orders.orderplaced", "billing", mock.Anything).Return(nil).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureSubscription(context.Background(), "orders.orderplaced", "billing"))
		ns.AssertExpectations(t)
	})

	t.Run("subscription key is topic/name composite", func(t *testing.T) {
		t.Parallel()

		ns := &MockNamespace{}
		ns.On("ListEntities", mock.Anything).Return(entity.Listing{
			Topics:        []string{"t"},
			Subscriptions: []string{"t/sub"},
		}, nil).Once()

		m := entity.NewManager(ns, fastRetry())

		require.NoError(t, m.EnsureSubscription(context.Background(), "t", "sub"))
		ns.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWarmUpTimeout(t *testing.T) {
	t.Parallel()

	ns := &MockNamespace{}
	ns.On("ListEntities", mock.Anything).
		Return(entity.Listing{}, context.DeadlineExceeded).Once()

	m := entity.NewManager(ns, fastRetry(), entity.WithDefaultTimeout(10*time.Millisecond))

	err := m.EnsureQueue(context.Background(), "q")
	assert.ErrorIs(t, err, entity.ErrTimeout)
}

func existsErr(path string) error {
	return errWrap(entity.ErrAlreadyExists, path)
}

func conflictErr(path string) error {
	return errWrap(entity.ErrConflictPending, path)
}

func errWrap(sentinel error, path string) error {
	return &wrappedErr{sentinel: sentinel, path: path}
}

type wrappedErr struct {
	sentinel error
	path     string
}

func (e *wrappedErr) Error() string { return e.sentinel.Error() + ": " + e.path }
func (e *wrappedErr) Unwrap() error { return e.sentinel }

package correlation

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/messagebus/core/envelope"
)

const (
	// DefaultReapInterval is how often the reaper scans for expired
	// outstanding requests.
	DefaultReapInterval = time.Second

	// DefaultMulticastBuffer is the reply buffer size per multicast
	// request. Replies beyond the buffer are dropped with a log entry.
	DefaultMulticastBuffer = 64
)

// Correlator maps outstanding request ids to pending response handles.
// It owns every record exclusively: records are created on send and
// destroyed on completion, timeout or cancellation. A background reaper
// is the single source of timeout truth.
type Correlator struct {
	clock           envelope.Clock
	logger          *slog.Logger
	reapInterval    time.Duration
	multicastBuffer int

	mu      sync.RWMutex
	pending map[string]*record

	stop     chan struct{}
	stopOnce sync.Once
	reaperWG sync.WaitGroup
}

type record struct {
	expiresAt time.Time
	single    *ResponseHandle
	multi     *MulticastHandle
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock overrides the wall-clock source.
func WithClock(clock envelope.Clock) Option {
	return func(c *Correlator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger configures structured logging for correlator operations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReapInterval overrides the reaper scan interval.
func WithReapInterval(interval time.Duration) Option {
	return func(c *Correlator) {
		if interval > 0 {
			c.reapInterval = interval
		}
	}
}

// New creates a correlator and starts its reaper. Call Close to stop it.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		clock:           envelope.SystemClock(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		reapInterval:    DefaultReapInterval,
		multicastBuffer: DefaultMulticastBuffer,
		pending:         make(map[string]*record),
		stop:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.reaperWG.Add(1)
	go c.reapLoop()

	return c
}

// RecordRequest registers an outstanding request and returns the handle
// its reply will be signalled on. Completion is single-shot.
func (c *Correlator) RecordRequest(messageID string, expiresAt time.Time) *ResponseHandle {
	h := &ResponseHandle{
		messageID: messageID,
		done:      make(chan struct{}),
		cancel:    func() { c.Cancel(messageID) },
	}

	c.mu.Lock()
	c.pending[messageID] = &record{expiresAt: expiresAt, single: h}
	c.mu.Unlock()

	return h
}

// RecordMulticast registers an outstanding multicast request. Replies
// stream into the handle until the expiry closes it.
func (c *Correlator) RecordMulticast(messageID string, expiresAt time.Time) *MulticastHandle {
	h := &MulticastHandle{
		messageID: messageID,
		replies:   make(chan *envelope.Envelope, c.multicastBuffer),
	}

	c.mu.Lock()
	c.pending[messageID] = &record{expiresAt: expiresAt, multi: h}
	c.mu.Unlock()

	return h
}

// TryComplete matches a reply envelope against the outstanding requests
// by CorrelationID. Unmatched or expired envelopes are dropped silently;
// this is not an error on a shared reply queue.
func (c *Correlator) TryComplete(env *envelope.Envelope) bool {
	id := env.CorrelationID
	if id == "" {
		return false
	}

	c.mu.Lock()
	rec, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if c.clock.Now().After(rec.expiresAt) {
		c.mu.Unlock()
		return false
	}
	if rec.single != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if rec.single != nil {
		if env.Faulted() {
			rec.single.complete(nil, remoteError(env))
		} else {
			rec.single.complete(env, nil)
		}
		return true
	}

	if env.Faulted() {
		c.logger.Debug("dropping faulted multicast reply",
			slog.String("correlation_id", id))
		return false
	}

	select {
	case rec.multi.replies <- env:
		return true
	default:
		c.logger.Warn("multicast reply buffer full, dropping reply",
			slog.String("correlation_id", id))
		return false
	}
}

// Cancel removes an outstanding request and signals its awaiter. The
// already-sent envelope is not recalled.
func (c *Correlator) Cancel(messageID string) {
	c.mu.Lock()
	rec, ok := c.pending[messageID]
	delete(c.pending, messageID)
	c.mu.Unlock()

	if !ok {
		return
	}
	if rec.single != nil {
		rec.single.complete(nil, ErrCancelled)
	}
	if rec.multi != nil {
		rec.multi.close()
	}
}

// Outstanding returns the number of pending requests, for observability.
func (c *Correlator) Outstanding() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Close stops the reaper and times out every outstanding request.
func (c *Correlator) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.reaperWG.Wait()

	c.mu.Lock()
	remaining := c.pending
	c.pending = make(map[string]*record)
	c.mu.Unlock()

	for _, rec := range remaining {
		if rec.single != nil {
			rec.single.complete(nil, ErrTimeout)
		}
		if rec.multi != nil {
			rec.multi.close()
		}
	}
	return nil
}

func (c *Correlator) reapLoop() {
	defer c.reaperWG.Done()

	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.reap()
		}
	}
}

// reap times out expired records. Reaper failures are logged and never
// propagate.
func (c *Correlator) reap() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("correlation reaper panicked", slog.Any("panic", r))
		}
	}()

	now := c.clock.Now()

	c.mu.Lock()
	var expired []*record
	for id, rec := range c.pending {
		if rec.expiresAt.Before(now) {
			expired = append(expired, rec)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, rec := range expired {
		if rec.single != nil {
			rec.single.complete(nil, ErrTimeout)
		}
		if rec.multi != nil {
			rec.multi.close()
		}
	}
}

func remoteError(env *envelope.Envelope) error {
	var detail envelope.FaultDetail
	if err := json.Unmarshal(env.Payload, &detail); err != nil {
		detail.Message = string(env.Payload)
	}
	return &RemoteError{Detail: detail}
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/messagebus/core/envelope"
	"github.com/dmitrymomot/messagebus/core/registry"
	"github.com/dmitrymomot/messagebus/core/router"
	"github.com/dmitrymomot/messagebus/core/transport"
)

// Start provisions the bus entities and blocks pumping deliveries into
// the dispatchers until the context is cancelled. Use Run for the
// errgroup pattern or call Start in a goroutine.
func (b *Bus) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer b.running.Store(false)

	b.registry.Freeze()

	busCtx, cancel := context.WithCancel(ctx)
	b.cancelFunc.Store(&cancel)

	done := make(chan struct{})
	b.done.Store(&done)
	defer close(done)

	if err := b.entities.EnsureQueue(busCtx, transport.DeadLetterQueuePath); err != nil {
		cancel()
		return fmt.Errorf("failed to provision dead-letter queue: %w", err)
	}
	if err := b.entities.EnsureQueue(busCtx, b.replyQueue); err != nil {
		cancel()
		return fmt.Errorf("failed to provision reply queue: %w", err)
	}

	g, gctx := errgroup.WithContext(busCtx)

	if err := b.startReplyPump(gctx, g); err != nil {
		cancel()
		return err
	}
	if err := b.startQueuePumps(gctx, g, registry.Command); err != nil {
		cancel()
		return err
	}
	if err := b.startQueuePumps(gctx, g, registry.Request); err != nil {
		cancel()
		return err
	}
	if err := b.startSubscriptionPumps(gctx, g, registry.CompetingEvent, b.cfg.ApplicationName); err != nil {
		cancel()
		return err
	}
	instanceSub := b.cfg.ApplicationName + "." + b.cfg.InstanceName
	if err := b.startSubscriptionPumps(gctx, g, registry.MulticastEvent, instanceSub); err != nil {
		cancel()
		return err
	}
	if err := b.startSubscriptionPumps(gctx, g, registry.MulticastRequest, instanceSub); err != nil {
		cancel()
		return err
	}

	b.logger.InfoContext(busCtx, "bus started",
		slog.String("application", b.cfg.ApplicationName),
		slog.String("instance", b.cfg.InstanceName),
		slog.String("reply_queue", b.replyQueue))

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.ErrorContext(ctx, "bus pump failed", slog.String("error", err.Error()))
		return err
	}
	b.logger.Info("bus stopped")
	return busCtx.Err()
}

// startReplyPump feeds the instance reply queue into the correlator.
// Every reply is acked; unmatched replies are dropped by design.
func (b *Bus) startReplyPump(ctx context.Context, g *errgroup.Group) error {
	receiver, err := b.transport.QueueReceiver(b.replyQueue)
	if err != nil {
		return fmt.Errorf("failed to open reply receiver: %w", err)
	}

	g.Go(func() error {
		err := receiver.Listen(ctx, func(_ context.Context, env *envelope.Envelope) transport.Outcome {
			b.correlator.TryComplete(env)
			return transport.Ack
		})
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return err
	})
	return nil
}

// startQueuePumps opens one queue receiver per registered message name
// of the shape and feeds it the matching dispatcher.
func (b *Bus) startQueuePumps(ctx context.Context, g *errgroup.Group, shape registry.Shape) error {
	handler := b.dispatchers.Dispatcher(shape)

	for _, name := range b.registry.Names(shape) {
		path := b.router.Route(name, router.Queue)
		if err := b.entities.EnsureQueue(ctx, path); err != nil {
			return err
		}
		receiver, err := b.transport.QueueReceiver(path)
		if err != nil {
			return fmt.Errorf("failed to open receiver for %s: %w", path, err)
		}
		g.Go(func() error {
			return receiver.Listen(ctx, handler)
		})
	}
	return nil
}

// startSubscriptionPumps opens one subscription receiver per registered
// message name of the shape. Competing events share the application-named
// subscription across instances; multicast shapes use an instance-named
// subscription so every instance gets its own delivery.
func (b *Bus) startSubscriptionPumps(ctx context.Context, g *errgroup.Group, shape registry.Shape, subscription string) error {
	handler := b.dispatchers.Dispatcher(shape)

	for _, name := range b.registry.Names(shape) {
		path := b.router.Route(name, router.Topic)
		if err := b.entities.EnsureSubscription(ctx, path, subscription); err != nil {
			return err
		}
		receiver, err := b.transport.SubscriptionReceiver(path, subscription)
		if err != nil {
			return fmt.Errorf("failed to open receiver for %s/%s: %w", path, subscription, err)
		}
		g.Go(func() error {
			return receiver.Listen(ctx, handler)
		})
	}
	return nil
}

// Stop gracefully shuts the bus down, waiting for the pumps up to the
// shutdown timeout.
func (b *Bus) Stop() error {
	if !b.running.Load() {
		return ErrNotStarted
	}

	if cancel := b.cancelFunc.Load(); cancel != nil {
		(*cancel)()
	}

	b.logger.Info("bus stopping, waiting for pumps to drain",
		slog.Duration("timeout", b.cfg.ShutdownTimeout))

	if done := b.done.Load(); done != nil {
		select {
		case <-*done:
		case <-time.After(b.cfg.ShutdownTimeout):
			b.logger.Warn("bus shutdown timeout exceeded",
				slog.Duration("timeout", b.cfg.ShutdownTimeout))
			return fmt.Errorf("shutdown timeout exceeded after %s", b.cfg.ShutdownTimeout)
		}
	}

	return b.correlator.Close()
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
//
// Example:
//
//	g, ctx := errgroup.WithContext(context.Background())
//	g.Go(b.Run(ctx))
func (b *Bus) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			if stopErr := b.Stop(); stopErr != nil && !errors.Is(stopErr, ErrNotStarted) {
				b.logger.Error("graceful shutdown failed", slog.String("error", stopErr.Error()))
			}
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Healthcheck validates that the bus is operational.
func (b *Bus) Healthcheck(_ context.Context) error {
	if !b.running.Load() {
		return ErrNotStarted
	}
	return nil
}

package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/messagebus/core/envelope"
	"github.com/dmitrymomot/messagebus/core/transport"
)

// streamReceiver pumps one consumer group on one stream. Fresh entries
// arrive through XREADGROUP; deliveries abandoned by dead or nacking
// consumers come back through the reclaim pass with the group's
// delivery counter as the attempt count.
type streamReceiver struct {
	transport *Transport
	stream    string
	group     string
	consumer  string
}

func (r *streamReceiver) Listen(ctx context.Context, fn transport.Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.reclaim(ctx, fn); err != nil {
			return err
		}

		streams, err := r.transport.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, ">"},
			Count:    r.transport.cfg.ReadBatch,
			Block:    r.transport.cfg.BlockInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.transport.logger.Error("stream read failed",
				slog.String("stream", r.stream),
				slog.String("group", r.group),
				slog.String("error", err.Error()))
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				r.deliver(ctx, fn, msg, 1)
			}
		}
	}
}

// reclaim takes over deliveries that sat pending past the min-idle
// window and redelivers them with their accumulated attempt count.
func (r *streamReceiver) reclaim(ctx context.Context, fn transport.Handler) error {
	minIdle := r.transport.cfg.ReclaimMinIdle
	if minIdle <= 0 {
		return nil
	}

	pending, err := r.transport.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.stream,
		Group:  r.group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  r.transport.cfg.ReadBatch,
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Group may not exist yet; the read path surfaces real trouble.
		return nil
	}

	for _, p := range pending {
		claimed, err := r.transport.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			Consumer: r.consumer,
			MinIdle:  minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue // another consumer won the claim
		}
		// XCLAIM increments the delivery counter past the pending count.
		r.deliver(ctx, fn, claimed[0], int(p.RetryCount)+1)
	}
	return nil
}

func (r *streamReceiver) deliver(ctx context.Context, fn transport.Handler, msg redis.XMessage, attempt int) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		r.transport.logger.Error("stream entry carries no envelope",
			slog.String("stream", r.stream),
			slog.String("entry_id", msg.ID))
		r.ack(ctx, msg.ID)
		return
	}

	env, err := envelope.Unmarshal([]byte(raw))
	if err != nil {
		r.transport.logger.Error("failed to unmarshal envelope",
			slog.String("stream", r.stream),
			slog.String("entry_id", msg.ID),
			slog.String("error", err.Error()))
		r.ack(ctx, msg.ID)
		return
	}
	env.SetDeliveryAttempt(attempt)

	if fn(ctx, env) == transport.Ack {
		r.ack(ctx, msg.ID)
		return
	}

	if attempt >= r.transport.cfg.MaxDeliveryAttempts {
		if err := r.transport.deadLetter(ctx, raw); err != nil {
			r.transport.logger.Error("failed to dead-letter envelope",
				slog.String("message_id", env.MessageID),
				slog.String("error", err.Error()))
			return // leave pending, retried on the next reclaim
		}
		r.transport.logger.Warn("envelope dead-lettered",
			slog.String("message_id", env.MessageID),
			slog.Int("delivery_attempt", attempt))
		r.ack(ctx, msg.ID)
		return
	}
	// Leave the entry pending; the reclaim pass redelivers it after the
	// min-idle window with an incremented counter.
}

func (r *streamReceiver) ack(ctx context.Context, id string) {
	if err := r.transport.client.XAck(ctx, r.stream, r.group, id).Err(); err != nil {
		r.transport.logger.Error("failed to ack stream entry",
			slog.String("stream", r.stream),
			slog.String("entry_id", id),
			slog.String("error", err.Error()))
	}
}

func (r *streamReceiver) Close() error { return nil }

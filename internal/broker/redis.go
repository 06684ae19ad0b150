package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions tunes the Redis broker.
type RedisOptions struct {
	Prefix            string
	VisibilityTimeout time.Duration
	PollTimeout       time.Duration
	MaintainInterval  time.Duration
}

// RedisBroker implements Broker on Redis lists.
//
// Each queue uses a ready list, an in-flight list with a deadline hash, a
// delayed sorted set and a dead-letter list. Consumers move a message from
// ready to in-flight atomically; acknowledging removes it. Maintain returns
// expired in-flight messages and due delayed messages to the ready list.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
	opts   RedisOptions
}

// NewRedisBroker builds a broker over an existing client.
func NewRedisBroker(client *redis.Client, logger *zap.Logger, opts RedisOptions) *RedisBroker {
	if opts.Prefix == "" {
		opts.Prefix = "wa"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.MaintainInterval <= 0 {
		opts.MaintainInterval = time.Second
	}
	return &RedisBroker{client: client, logger: logger.Named("broker"), opts: opts}
}

func (b *RedisBroker) readyKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s", b.opts.Prefix, queue)
}

func (b *RedisBroker) processingKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:processing", b.opts.Prefix, queue)
}

func (b *RedisBroker) deadlineKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:deadlines", b.opts.Prefix, queue)
}

func (b *RedisBroker) delayedKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:delayed", b.opts.Prefix, queue)
}

func (b *RedisBroker) deadKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:dead", b.opts.Prefix, queue)
}

// Publish pushes body onto the ready list.
func (b *RedisBroker) Publish(ctx context.Context, queue string, body []byte) error {
	return b.client.LPush(ctx, b.readyKey(queue), body).Err()
}

// PublishDelayed schedules body to become ready after delay.
func (b *RedisBroker) PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	if delay <= 0 {
		return b.Publish(ctx, queue, body)
	}
	due := time.Now().Add(delay).UnixMilli()
	return b.client.ZAdd(ctx, b.delayedKey(queue), redis.Z{Score: float64(due), Member: body}).Err()
}

// DeadLetter parks body on the dead-letter list.
func (b *RedisBroker) DeadLetter(ctx context.Context, queue string, body []byte) error {
	return b.client.LPush(ctx, b.deadKey(queue), body).Err()
}

// Consume delivers messages until ctx is done. A handler error leaves the
// message in flight; Maintain requeues it after the visibility timeout.
func (b *RedisBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	ready, processing, deadlines := b.readyKey(queue), b.processingKey(queue), b.deadlineKey(queue)
	backoff := 100 * time.Millisecond

	for {
		if ctx.Err() != nil {
			return nil
		}

		body, err := b.client.BLMove(ctx, ready, processing, "RIGHT", "LEFT", b.opts.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("consume failed", zap.String("queue", queue), zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond

		deadline := time.Now().Add(b.opts.VisibilityTimeout).UnixMilli()
		if err := b.client.HSet(ctx, deadlines, body, deadline).Err(); err != nil {
			b.logger.Warn("record deadline failed", zap.String("queue", queue), zap.Error(err))
		}

		if err := handler(ctx, Delivery{Queue: queue, Body: []byte(body)}); err != nil {
			b.logger.Warn("handler failed; leaving message in flight", zap.String("queue", queue), zap.Error(err))
			continue
		}

		if err := b.ack(context.WithoutCancel(ctx), queue, body); err != nil {
			b.logger.Error("ack failed", zap.String("queue", queue), zap.Error(err))
		}
	}
}

func (b *RedisBroker) ack(ctx context.Context, queue, body string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.processingKey(queue), 1, body)
		pipe.HDel(ctx, b.deadlineKey(queue), body)
		return nil
	})
	return err
}

// Maintain runs the delayed-promotion and in-flight reaper loop for queues
// until ctx is done.
func (b *RedisBroker) Maintain(ctx context.Context, queues ...string) error {
	ticker := time.NewTicker(b.opts.MaintainInterval)
	defer ticker.Stop()

	for {
		for _, queue := range queues {
			if _, err := b.PromoteDue(ctx, queue, time.Now()); err != nil && ctx.Err() == nil {
				b.logger.Warn("promote delayed failed", zap.String("queue", queue), zap.Error(err))
			}
			if _, err := b.RequeueExpired(ctx, queue, time.Now()); err != nil && ctx.Err() == nil {
				b.logger.Warn("requeue expired failed", zap.String("queue", queue), zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// promoteScript moves up to ARGV[2] delayed messages due at ARGV[1] onto
// the ready list. Running server side makes each move all or nothing.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, body in ipairs(due) do
  redis.call('ZREM', KEYS[1], body)
  redis.call('LPUSH', KEYS[2], body)
end
return #due
`)

// requeueScript returns in-flight messages whose deadline passed to the
// ready list. Messages without a deadline get one ARGV[2] ms from ARGV[1].
var requeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local requeued = 0
for _, body in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
  local deadline = redis.call('HGET', KEYS[2], body)
  if not deadline then
    redis.call('HSET', KEYS[2], body, now + tonumber(ARGV[2]))
  elseif tonumber(deadline) and now >= tonumber(deadline) then
    if redis.call('LREM', KEYS[1], 1, body) > 0 then
      redis.call('HDEL', KEYS[2], body)
      redis.call('LPUSH', KEYS[3], body)
      requeued = requeued + 1
    end
  end
end
return requeued
`)

const promoteBatch = 100

// PromoteDue moves delayed messages due at now onto the ready list.
func (b *RedisBroker) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	return promoteScript.Run(ctx, b.client,
		[]string{b.delayedKey(queue), b.readyKey(queue)},
		now.UnixMilli(), promoteBatch,
	).Int()
}

// RequeueExpired returns in-flight messages whose deadline passed to the ready list.
func (b *RedisBroker) RequeueExpired(ctx context.Context, queue string, now time.Time) (int, error) {
	return requeueScript.Run(ctx, b.client,
		[]string{b.processingKey(queue), b.deadlineKey(queue), b.readyKey(queue)},
		now.UnixMilli(), b.opts.VisibilityTimeout.Milliseconds(),
	).Int()
}

// DeadLetterCount returns the dead-letter list length.
func (b *RedisBroker) DeadLetterCount(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, b.deadKey(queue)).Result()
}

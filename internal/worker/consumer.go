package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
)

// MessageHandler processes one decoded queue envelope.
type MessageHandler func(ctx context.Context, msg domain.QueueMessage) error

// ConsumerOptions controls concurrency and the retry policy.
type ConsumerOptions struct {
	ConsumersPerQueue int
	MaxRetries        int
	RetryBase         time.Duration
	RetryMax          time.Duration
	HandlerTimeout    time.Duration
}

// QueueConsumer runs long-lived consumers over broker queues. A failed
// envelope is re-published with retryCount+1 after an exponential delay and
// dead-lettered once retryCount reaches MaxRetries. Handlers return
// backoff.Permanent errors to dead-letter at once.
type QueueConsumer struct {
	broker     broker.Broker
	opts       ConsumerOptions
	handlers   map[string]MessageHandler
	order      []string
	logger     *zap.Logger
	metrics    *observability.Metrics
	dispatcher events.Dispatcher
}

// NewQueueConsumer builds a consumer. Register handlers before Run.
func NewQueueConsumer(b broker.Broker, opts ConsumerOptions, logger *zap.Logger, metrics *observability.Metrics, dispatcher events.Dispatcher) *QueueConsumer {
	if opts.ConsumersPerQueue <= 0 {
		opts.ConsumersPerQueue = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = opts.RetryBase
	}
	return &QueueConsumer{
		broker:     b,
		opts:       opts,
		handlers:   map[string]MessageHandler{},
		logger:     logger.Named("consumer"),
		metrics:    metrics,
		dispatcher: dispatcher,
	}
}

// Handle registers the handler for queue.
func (c *QueueConsumer) Handle(queue string, handler MessageHandler) {
	if _, ok := c.handlers[queue]; !ok {
		c.order = append(c.order, queue)
	}
	c.handlers[queue] = handler
}

// Queues returns the registered queue names.
func (c *QueueConsumer) Queues() []string {
	return append([]string(nil), c.order...)
}

// Run blocks until ctx is done or a consumer fails.
func (c *QueueConsumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range c.order {
		queue := queue
		deliver := c.Deliver(queue)
		for i := 0; i < c.opts.ConsumersPerQueue; i++ {
			g.Go(func() error {
				err := c.broker.Consume(ctx, queue, deliver)
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		}
		c.logger.Info("consuming queue", zap.String("queue", queue), zap.Int("consumers", c.opts.ConsumersPerQueue))
	}
	return g.Wait()
}

// Deliver adapts the registered handler for queue to the broker. Handler
// failures are turned into delayed re-publication; only a failure to
// re-publish leaves the delivery unacknowledged.
func (c *QueueConsumer) Deliver(queue string) broker.Handler {
	return func(ctx context.Context, d broker.Delivery) error {
		handler, ok := c.handlers[queue]
		if !ok {
			c.logger.Error("no handler for queue", zap.String("queue", queue))
			return c.deadLetter(ctx, queue, d.Body, domain.QueueMessage{LastError: "no handler"})
		}

		var msg domain.QueueMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			c.logger.Error("undecodable queue message", zap.String("queue", queue), zap.Error(err))
			return c.deadLetter(ctx, queue, d.Body, domain.QueueMessage{LastError: err.Error()})
		}

		hctx := ctx
		if c.opts.HandlerTimeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, c.opts.HandlerTimeout)
			defer cancel()
		}

		err := safeRun(hctx, func(ctx context.Context) error { return handler(ctx, msg) })
		if err == nil {
			c.metrics.RecordQueueMessage(queue, "ok")
			return nil
		}

		msg.LastError = err.Error()
		var permanent *backoff.PermanentError
		if msg.RetryCount >= c.opts.MaxRetries || errors.As(err, &permanent) {
			body, encErr := json.Marshal(msg)
			if encErr != nil {
				body = d.Body
			}
			c.logger.Error("queue message exhausted retries",
				zap.String("queue", queue),
				zap.String("message_id", msg.ID),
				zap.String("type", string(msg.Type)),
				zap.Int("retry_count", msg.RetryCount),
				zap.Error(err))
			return c.deadLetter(ctx, queue, body, msg)
		}

		msg.RetryCount++
		body, encErr := json.Marshal(msg)
		if encErr != nil {
			return encErr
		}
		delay := c.RetryDelay(msg.RetryCount)
		if pubErr := c.broker.PublishDelayed(ctx, queue, body, delay); pubErr != nil {
			c.logger.Error("re-publish failed, leaving message for redelivery", zap.String("queue", queue), zap.Error(pubErr))
			return pubErr
		}
		c.metrics.RecordQueueMessage(queue, "retry")
		c.logger.Warn("queue message failed, retry scheduled",
			zap.String("queue", queue),
			zap.String("message_id", msg.ID),
			zap.Int("retry_count", msg.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err))
		return nil
	}
}

func (c *QueueConsumer) deadLetter(ctx context.Context, queue string, body []byte, msg domain.QueueMessage) error {
	if err := c.broker.DeadLetter(ctx, queue, body); err != nil {
		return err
	}
	c.metrics.RecordQueueMessage(queue, "dead_letter")
	events.Emit(ctx, c.dispatcher, events.Event{
		Type:      events.EventQueueDeadLettered,
		SubjectID: msg.ID,
		Actor:     events.SystemActor,
		Payload: events.DeadLetterPayload{
			Queue:      queue,
			Kind:       string(msg.Type),
			RetryCount: msg.RetryCount,
			LastError:  msg.LastError,
		},
	})
	return nil
}

// RetryDelay returns the wait before attempt retryCount, doubling from
// RetryBase up to RetryMax with jitter.
func (c *QueueConsumer) RetryDelay(retryCount int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryBase
	policy.MaxInterval = c.opts.RetryMax
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0
	policy.Reset()

	delay := policy.NextBackOff()
	for i := 1; i < retryCount; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

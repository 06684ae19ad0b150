// Package broker provides durable at-least-once queues for deferred work.
package broker

import (
	"context"
	"time"
)

// Queue names used by the media lifecycle.
const (
	QueueMediaUpload  = "media.upload"
	QueueMediaDelete  = "media.delete"
	QueueMediaCleanup = "media.cleanup"
)

// Delivery is one message handed to a consumer.
type Delivery struct {
	Queue string
	Body  []byte
}

// Handler processes a delivery. Returning nil acknowledges it; returning an
// error leaves it unacknowledged so the broker redelivers it.
type Handler func(ctx context.Context, d Delivery) error

// Broker is a durable queue with manual acknowledgement.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error
	DeadLetter(ctx context.Context, queue string, body []byte) error
	// Consume blocks, delivering messages one at a time until ctx is done.
	Consume(ctx context.Context, queue string, handler Handler) error
}

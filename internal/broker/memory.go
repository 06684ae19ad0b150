package broker

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker. Messages do not survive a restart.
type MemoryBroker struct {
	mu              sync.Mutex
	ready           map[string][][]byte
	dead            map[string][][]byte
	signals         map[string]chan struct{}
	redeliveryDelay time.Duration
}

// NewMemoryBroker creates an empty broker. Failed deliveries are retried
// after redeliveryDelay.
func NewMemoryBroker(redeliveryDelay time.Duration) *MemoryBroker {
	if redeliveryDelay <= 0 {
		redeliveryDelay = 100 * time.Millisecond
	}
	return &MemoryBroker{
		ready:           make(map[string][][]byte),
		dead:            make(map[string][][]byte),
		signals:         make(map[string]chan struct{}),
		redeliveryDelay: redeliveryDelay,
	}
}

func (b *MemoryBroker) signal(queue string) chan struct{} {
	ch, ok := b.signals[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		b.signals[queue] = ch
	}
	return ch
}

func (b *MemoryBroker) push(queue string, body []byte) {
	b.mu.Lock()
	b.ready[queue] = append(b.ready[queue], append([]byte(nil), body...))
	ch := b.signal(queue)
	b.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) pop(queue string) ([]byte, chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.signal(queue)
	items := b.ready[queue]
	if len(items) == 0 {
		return nil, ch, false
	}
	body := items[0]
	b.ready[queue] = items[1:]
	return body, ch, true
}

// Publish appends body to queue.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.push(queue, body)
	return nil
}

// PublishDelayed appends body to queue after delay.
func (b *MemoryBroker) PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		b.push(queue, body)
		return nil
	}
	copied := append([]byte(nil), body...)
	time.AfterFunc(delay, func() { b.push(queue, copied) })
	return nil
}

// DeadLetter parks body on the queue's dead-letter list.
func (b *MemoryBroker) DeadLetter(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead[queue] = append(b.dead[queue], append([]byte(nil), body...))
	return nil
}

// Consume delivers messages until ctx is done.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	for {
		body, ch, ok := b.pop(queue)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
		if err := handler(ctx, Delivery{Queue: queue, Body: body}); err != nil {
			time.AfterFunc(b.redeliveryDelay, func() { b.push(queue, body) })
		}
		// Another consumer may be parked on the same signal.
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of ready messages on queue.
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready[queue])
}

// DeadLetters returns a copy of the dead-letter list for queue.
func (b *MemoryBroker) DeadLetters(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.dead[queue]))
	copy(out, b.dead[queue])
	return out
}

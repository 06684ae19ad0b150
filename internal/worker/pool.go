package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
)

var (
	// ErrPoolSaturated is returned when no worker frees up within the submit timeout.
	ErrPoolSaturated = errors.New("worker pool saturated")
	// ErrPoolClosed is returned after Shutdown.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task is one unit of background work.
type Task = func(ctx context.Context) error

// PoolOptions sizes a Pool.
type PoolOptions struct {
	Name          string
	Workers       int
	QueueSize     int
	SubmitTimeout time.Duration
	TaskTimeout   time.Duration
}

type job struct {
	name string
	task Task
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded channel.
// Tasks run on the pool's own context, detached from the submitter's.
type Pool struct {
	opts    PoolOptions
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewPool starts the workers.
func NewPool(opts PoolOptions, logger *zap.Logger, metrics *observability.Metrics) *Pool {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:    opts,
		jobs:    make(chan job, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("pool").With(zap.String("pool", opts.Name)),
		metrics: metrics,
	}

	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.run(j)
			}
		}()
	}
	return p
}

// Submit queues task, waiting up to the submit timeout for space. A
// saturated pool drops the task and returns ErrPoolSaturated.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	j := job{name: name, task: task}
	select {
	case p.jobs <- j:
		return nil
	default:
	}

	timer := time.NewTimer(p.opts.SubmitTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- j:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.metrics.TaskDropped(p.opts.Name)
	p.logger.Error("dropping task, pool saturated",
		zap.String("task", name),
		zap.Int("workers", p.opts.Workers),
		zap.Int("queue_size", p.opts.QueueSize))
	return ErrPoolSaturated
}

func (p *Pool) run(j job) {
	ctx := p.ctx
	if p.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	p.metrics.TaskStarted()
	outcome := "ok"
	defer func() {
		p.metrics.TaskFinished(p.opts.Name, outcome, time.Since(start))
	}()

	if err := safeRun(ctx, j.task); err != nil {
		outcome = "error"
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			outcome = "panic"
		}
		p.logger.Error("task failed", zap.String("task", j.name), zap.String("outcome", outcome), zap.Error(err))
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx expires first, running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// PanicError wraps a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return task(ctx)
}

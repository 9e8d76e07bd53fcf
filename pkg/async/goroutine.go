package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown has started
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by TrySubmit when no queue slot is free
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of background work
type Task func(context.Context) error

// ErrorHandler receives task failures, including recovered panics
type ErrorHandler func(taskName string, err error)

// SafeGo executes a function in a goroutine with:
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, logger, 5*time.Second, "audit write", func(ctx context.Context) error {
//	    return store.Append(ctx, entry)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn Task) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// PoolConfig configures a WorkerPool
type PoolConfig struct {
	Workers   int
	QueueSize int
	TaskName  string
	Timeout   time.Duration
	Logger    *observability.Logger
	OnError   ErrorHandler
}

// WorkerPool runs submitted tasks on a fixed set of workers.
// Task failures never reach the submitter; they are logged and passed to OnError.
type WorkerPool struct {
	cfg    PoolConfig
	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewWorkerPool creates and starts a worker pool.
// Task contexts are derived from ctx without its cancellation, so request-scoped
// parents do not abort queued work.
//
// Example:
//
//	pool := NewWorkerPool(ctx, PoolConfig{Workers: 4, QueueSize: 256, TaskName: "audit", Timeout: 5 * time.Second, Logger: logger})
//	defer pool.Shutdown(shutdownCtx)
func NewWorkerPool(ctx context.Context, cfg PoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &WorkerPool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		ctx:    poolCtx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Submit queues fn, waiting for a free slot until ctx is done
func (p *WorkerPool) Submit(ctx context.Context, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues fn without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish.
// If ctx expires first, in-flight task contexts are cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			p.shutdownErr = fmt.Errorf("worker pool %q shutdown: %w", p.cfg.TaskName, ctx.Err())
		}
		p.cancel()
	})

	return p.shutdownErr
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for fn := range p.queue {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				observability.LogPanic(p.cfg.Logger.WithField("worker", id), p.cfg.TaskName, r)
				err = observability.NewPanicError(r)
			}
		}()
		err = fn(ctx)
	}()

	if err == nil {
		return
	}

	p.cfg.Logger.WithError(err).
		WithField("task", p.cfg.TaskName).
		WithField("worker", id).
		Error("background task failed")
	if p.cfg.OnError != nil {
		p.cfg.OnError(p.cfg.TaskName, err)
	}
}

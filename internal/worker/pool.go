// Package worker runs background persistence tasks on a fixed pool of
// goroutines. Callers submit work and return immediately; failures are
// delivered on a channel that the pool drains into the log.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is a unit of background work.
type Task struct {
	Run   func(ctx context.Context) error
	ctx   context.Context
	Name  string
	Attrs []any // Extra log attributes, as key/value pairs
}

// Failure records a task that returned an error or panicked.
type Failure struct {
	At    time.Time
	Err   error
	Task  string
	Attrs []any
}

// Stats counts finished tasks.
type Stats struct {
	Completed int64
	Failed    int64
}

// Config sizes the pool.
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Pool executes submitted tasks in the background.
type Pool struct {
	logger    *slog.Logger
	tasks     chan Task
	failures  chan Failure
	onFailure func(Failure)
	workers   sync.WaitGroup
	reporter  sync.WaitGroup
	timeout   time.Duration
	completed atomic.Int64
	failed    atomic.Int64
	mu        sync.RWMutex
	closed    bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithFailureHook registers fn to be called for every failure after it is logged.
func WithFailureHook(fn func(Failure)) Option {
	return func(p *Pool) { p.onFailure = fn }
}

// NewPool starts the workers and the failure reporter.
func NewPool(cfg Config, logger *slog.Logger, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		logger:   logger,
		tasks:    make(chan Task, cfg.QueueSize),
		failures: make(chan Failure, cfg.QueueSize),
		timeout:  cfg.TaskTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.reporter.Add(1)
	go p.report()

	for i := 0; i < cfg.Workers; i++ {
		p.workers.Add(1)
		go p.work()
	}

	return p
}

// Submit queues a task. The task runs with a context detached from ctx's
// cancellation but carrying its values. Submit blocks while the queue is full
// until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q has no function", task.Name)
	}
	task.ctx = context.WithoutCancel(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to queue task %q: %w", task.Name, ctx.Err())
	}
}

// Close stops accepting tasks, waits for queued tasks to finish and flushes
// the failure log.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.workers.Wait()
	close(p.failures)
	p.reporter.Wait()
	return nil
}

// Stats returns counts of finished tasks.
func (p *Pool) Stats() Stats {
	return Stats{Completed: p.completed.Load(), Failed: p.failed.Load()}
}

func (p *Pool) work() {
	defer p.workers.Done()
	for task := range p.tasks {
		if err := p.run(task); err != nil {
			p.failed.Add(1)
			p.failures <- Failure{At: time.Now(), Err: err, Task: task.Name, Attrs: task.Attrs}
			continue
		}
		p.completed.Add(1)
	}
}

func (p *Pool) run(task Task) (err error) {
	ctx, cancel := context.WithTimeout(task.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	start := time.Now()
	err = task.Run(ctx)
	p.logger.Debug("background task finished",
		append([]any{"task", task.Name, "duration", time.Since(start), "ok", err == nil}, task.Attrs...)...)
	return err
}

func (p *Pool) report() {
	defer p.reporter.Done()
	for f := range p.failures {
		p.logger.Error("background task failed",
			append([]any{"task", f.Task, "error", f.Err}, f.Attrs...)...)
		if p.onFailure != nil {
			p.onFailure(f)
		}
	}
}

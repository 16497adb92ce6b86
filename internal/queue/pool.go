package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/jnwheeler44/tentd/internal/core/notifications"
)

var (
	// ErrQueueFull is returned by Submit when the buffer has no room
	ErrQueueFull = errors.New("task queue is full")

	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("task pool is closed")
)

// Handler performs one delivery task
type Handler interface {
	Handle(ctx context.Context, task notifications.Task) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task notifications.Task) error

// Handle calls f(ctx, task)
func (f HandlerFunc) Handle(ctx context.Context, task notifications.Task) error {
	return f(ctx, task)
}

// PoolConfig tunes a Pool. Zero values select defaults.
type PoolConfig struct {
	Workers       int
	BufferSize    int
	RatePerSecond float64 // <= 0 disables throttling
	Burst         int
	DedupeSize    int // number of recent task keys remembered for idempotent enqueue
	MaxAttempts   int
	RetryDelay    time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Burst <= 0 {
		c.Burst = c.Workers
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 10000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Pool is an in-process task executor: a buffered channel drained by a fixed
// set of workers. Submit never blocks.
type Pool struct {
	handler Handler
	tasks   chan notifications.Task
	limiter *rate.Limiter
	seen    *lru.Cache[string, struct{}]
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     PoolConfig
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewPool starts the workers. If logger is nil, slog.Default() is used.
func NewPool(handler Handler, cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handler: handler,
		tasks:   make(chan notifications.Task, cfg.BufferSize),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		seen:    seen,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}

	logger.Info("task pool started",
		"workers", cfg.Workers,
		"buffer", cfg.BufferSize,
		"rate_per_second", cfg.RatePerSecond)
	return p, nil
}

var _ notifications.Submitter = (*Pool)(nil)

// Submit enqueues a task. A task whose key was recently accepted is dropped
// silently; a full buffer fails fast with ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, task notifications.Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	key := task.Key()
	if found, _ := p.seen.ContainsOrAdd(key, struct{}{}); found {
		p.logger.Debug("duplicate task dropped", "key", key)
		return nil
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		p.seen.Remove(key)
		return ErrQueueFull
	}
}

// Pending returns the number of buffered tasks
func (p *Pool) Pending() int {
	return len(p.tasks)
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.process(task)
	}
}

func (p *Pool) process(task notifications.Task) {
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.limiter.Wait(p.ctx); err != nil {
			p.logger.Warn("task abandoned", "key", task.Key(), "error", err)
			return
		}

		err := p.handler.Handle(p.ctx, task)
		if err == nil {
			return
		}

		p.logger.Warn("task failed",
			"key", task.Key(),
			"attempt", attempt,
			"max_attempts", p.cfg.MaxAttempts,
			"error", err)

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
		case <-p.ctx.Done():
			return
		}
	}

	// forget the key so a later save of the same version can try again
	p.seen.Remove(task.Key())
	p.logger.Error("task dropped after retries", "key", task.Key())
}

// Shutdown stops accepting tasks and waits for buffered tasks to finish.
// When ctx expires first, in-flight work is cancelled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("task pool shutdown complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Package workpool runs blocking work (transcoding, inference calls) on a
// fixed set of goroutines so the update loop never blocks on it.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

const DefaultSize = 4

var (
	ErrStopped    = errors.New("workpool: stopped")
	ErrNotStarted = errors.New("workpool: not started")
)

// PanicError is returned by Do when the submitted function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workpool: job panicked: %v", e.Value)
}

type job struct {
	ctx  context.Context
	run  func(context.Context)
	fail func(error)
}

// Pool is a bounded set of workers fed through an unbuffered channel.
// A submission waits until a worker is free.
type Pool struct {
	size   int
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool

	busy atomic.Int32
}

func New(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		jobs:   make(chan job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "workpool"),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Debug("Started", "workers", p.size)
}

// Stop waits for running jobs to finish. Later submissions fail with ErrStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Debug("Stopped")
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Busy returns the number of workers currently running a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				j.fail(err)
				continue
			}
			p.busy.Add(1)
			j.run(j.ctx)
			p.busy.Add(-1)
		}
	}
}

func (p *Pool) submit(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}
	if !p.started {
		return ErrNotStarted
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- j:
		return nil
	}
}

type result[T any] struct {
	val T
	err error
}

// Do runs fn on a worker and waits for its result. If ctx ends first, Do
// returns ctx.Err() and the result, if any, is discarded.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan result[T], 1)

	j := job{
		ctx: ctx,
		run: func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Job panicked", "panic", r)
					done <- result[T]{err: &PanicError{Value: r, Stack: debug.Stack()}}
				}
			}()
			v, err := fn(ctx)
			done <- result[T]{val: v, err: err}
		},
		fail: func(err error) {
			done <- result[T]{err: err}
		},
	}

	if err := p.submit(ctx, j); err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

package serial

import (
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pool runs submitted tasks on shared goroutines. Submit must not block the
// caller: tasks running on the pool submit further work to it.
type Pool interface {
	Submit(task func()) error
}

// WorkerPool caps concurrency at a fixed number of workers over pond's
// unbounded task queue.
type WorkerPool struct {
	mu     sync.RWMutex
	pool   pond.Pool
	closed bool
	logger zerolog.Logger
}

// NewWorkerPool starts a pool with the given number of workers
func NewWorkerPool(workers int) (*WorkerPool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkers, workers)
	}

	p := &WorkerPool{
		pool:   pond.NewPool(workers),
		logger: log.With().Str("component", "worker_pool").Logger(),
	}

	p.logger.Debug().Int("workers", workers).Msg("Worker pool started")
	return p, nil
}

// Submit enqueues a task. It never waits for a free worker.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.pool.Submit(func() { p.run(task) })
	return nil
}

// Backlog returns the number of tasks waiting for a worker
func (p *WorkerPool) Backlog() int {
	return int(p.pool.WaitingTasks())
}

// Close stops accepting tasks, lets the workers finish the backlog and waits
// for them to exit.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pool.StopAndWait()
	p.logger.Debug().
		Uint64("completed", p.pool.CompletedTasks()).
		Msg("Worker pool stopped")
}

// run recovers panics itself so they are logged instead of parked on a
// task handle nobody waits on.
func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Task panicked")
		}
	}()
	task()
}

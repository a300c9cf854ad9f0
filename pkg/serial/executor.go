package serial

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Executor serializes the tasks of one owner on a shared Pool. At most one
// task of an owner is in flight, tasks run in submission order, and different
// executors run concurrently.
type Executor struct {
	mu     sync.Mutex
	pool   Pool
	tasks  *queue.Queue
	active bool
	logger zerolog.Logger
}

// NewExecutor creates an executor for one owner. name is used in logs only.
func NewExecutor(pool Pool, name string) *Executor {
	return &Executor{
		pool:   pool,
		tasks:  queue.New(),
		logger: log.With().Str("executor", name).Logger(),
	}
}

// Submit appends a task to the owner's queue. If nothing of this owner is
// running the task is handed to the pool immediately.
func (e *Executor) Submit(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tasks.Add(task)
	if e.active {
		return nil
	}
	return e.scheduleNextLocked()
}

// Pending returns the number of queued tasks, excluding the running one
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks.Length()
}

func (e *Executor) scheduleNextLocked() error {
	if e.tasks.Length() == 0 {
		e.active = false
		return nil
	}

	task := e.tasks.Remove().(func())
	if err := e.pool.Submit(func() { e.run(task) }); err != nil {
		e.active = false
		return err
	}
	e.active = true
	return nil
}

// run executes one task and dispatches the next one even if the task panics
func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Serial task panicked")
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.scheduleNextLocked(); err != nil {
			e.logger.Error().Err(err).Int("pending", e.tasks.Length()).Msg("Failed to schedule next task")
		}
	}()

	task()
}

// Package performance provides the worker pool used to fan backtests out
// across tickers.
package performance

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrPoolStopped is returned when submitting to a pool that is not running.
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool manages a pool of workers for concurrent task execution.
// Submit blocks while the queue is full so no task is ever dropped.
type WorkerPool struct {
	workers int
	tasks   chan func()
	logger  zerolog.Logger

	workersWG sync.WaitGroup
	pending   sync.WaitGroup

	// mu guards running and the close of tasks.
	mu      sync.RWMutex
	running bool

	tasksTotal    atomic.Uint64
	tasksDone     atomic.Uint64
	tasksPanicked atomic.Uint64
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0, it defaults to runtime.NumCPU().
func NewWorkerPool(workers int, logger zerolog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*4),
		logger:  logger.With().Str("component", "pool").Logger(),
	}
}

// Start starts the worker pool.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.workersWG.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.workersWG.Done()

	for task := range p.tasks {
		p.run(task)
	}
}

// run executes one task. A panicking task is logged and counted; the worker
// survives.
func (p *WorkerPool) run(task func()) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.tasksPanicked.Add(1)
			p.logger.Error().Str("panic", fmt.Sprint(r)).Msg("Task panicked")
		}
		p.tasksDone.Add(1)
	}()
	task()
}

// Submit queues task, blocking until there is room or ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}

	p.pending.Add(1)
	select {
	case p.tasks <- task:
		p.tasksTotal.Add(1)
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.pending.Wait()
}

// Stop drains queued tasks and waits for all workers to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.tasks)
	p.mu.Unlock()

	p.workersWG.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	return PoolStats{
		Workers:     p.workers,
		Running:     running,
		TasksTotal:  p.tasksTotal.Load(),
		TasksDone:   p.tasksDone.Load(),
		TasksFailed: p.tasksPanicked.Load(),
		QueueLen:    len(p.tasks),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers     int
	Running     bool
	TasksTotal  uint64
	TasksDone   uint64
	TasksFailed uint64
	QueueLen    int
}

package usecase

import (
	"context"
	"log"
	"sync"
)

// Job is a unit of background work submitted to the WorkerPool.
type Job func(ctx context.Context) error

// WorkerPool runs enrichment jobs on a fixed number of goroutines. The
// triggering request path enqueues and returns immediately; job errors are
// logged, never propagated back to the caller.
type WorkerPool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	workers int
	logger  *log.Logger
	closeMu sync.Mutex
	closed  bool
}

// ErrPoolClosed is returned if a Submit is attempted after Close.
var ErrPoolClosed = &PoolError{"worker pool closed"}

// ErrPoolFull is returned when the job queue has no capacity left. Callers
// treat it as backpressure; a dropped enrichment job is recovered by the
// stale sweep.
var ErrPoolFull = &PoolError{"worker pool queue full"}

// PoolError provides a simple typed error for pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }

// NewWorkerPool creates a pool with the specified number of workers and
// job queue capacity.
func NewWorkerPool(workers, queue int, logger *log.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &WorkerPool{
		jobs:    make(chan Job, queue),
		workers: workers,
		logger:  logger,
	}
}

// Start begins the worker goroutines; they run until ctx is done or Close
// is called.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					if err := job(ctx); err != nil && p.logger != nil {
						p.logger.Printf("background job failed: %v", err)
					}
				}
			}
		}()
	}
}

// Submit enqueues a job for processing without blocking. Returns
// ErrPoolClosed after Close and ErrPoolFull when the queue is at capacity.
func (p *WorkerPool) Submit(job Job) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting new jobs and waits for workers to finish.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.wg.Wait()
}

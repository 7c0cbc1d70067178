// Package workerpool provides a bounded pool of goroutines for
// best-effort background work. Submission never blocks the caller: when
// the queue is full the task is rejected and counted, not queued.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is one unit of background work
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Pool manages a fixed set of workers draining a bounded queue
type Pool struct {
	name      string
	taskQueue chan Task
	logger    *zap.Logger
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}

	completed uint64
	failed    uint64
	rejected  uint64
}

// Config holds pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// New creates and starts a worker pool
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		name:      cfg.Name,
		taskQueue: make(chan Task, cfg.QueueSize),
		logger:    cfg.Logger,
		stopChan:  make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			// Drain remaining queued tasks before exiting.
			for {
				select {
				case task := <-p.taskQueue:
					p.run(task)
				default:
					return
				}
			}
		case task := <-p.taskQueue:
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	err := p.safeRun(task)
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Warn("Background task failed",
			zap.String("pool", p.name),
			zap.String("task_id", task.ID),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completed, 1)
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Fn(context.Background())
}

// TrySubmit enqueues a task without blocking. Returns false when the pool
// is stopped or the queue is full.
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejected, 1)
		return false
	default:
	}

	select {
	case p.taskQueue <- task:
		return true
	default:
		atomic.AddUint64(&p.rejected, 1)
		return false
	}
}

// Stop stops the pool and waits for in-flight tasks to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.wg.Wait()
	})
}

// Stats is a point-in-time snapshot of pool counters
type Stats struct {
	Completed uint64
	Failed    uint64
	Rejected  uint64
	Queued    int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Rejected:  atomic.LoadUint64(&p.rejected),
		Queued:    len(p.taskQueue),
	}
}

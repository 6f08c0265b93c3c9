// Package workerpool provides a bounded worker pool for controlled
// concurrency. Used for bulk medication imports where each record is
// independently verified against the FDA collaborator.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
}

// Result represents the outcome of task processing
type Result struct {
	TaskID  string
	Success bool
	Error   error
	Data    interface{}
}

// WorkerFunc is the function signature for task processing
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int
	// RetryDelay is the base delay between retries
	RetryDelay time.Duration
}

// DefaultConfig returns defaults sized for interactive bulk imports
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		QueueSize:  256,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
}

// New creates a new worker pool. Cancelling ctx aborts in-flight and queued
// work the same way Stop does; workers see the cancellation through the
// context handed to the worker function.
func New(ctx context.Context, cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		resultChan: make(chan *Result, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a task to the queue
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// Results returns the result channel for async processing
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// Close signals that no more tasks will be submitted. Workers drain the
// queue and the result channel closes when they are done.
func (p *Pool) Close() {
	close(p.taskChan)
	go func() {
		p.wg.Wait()
		close(p.resultChan)
	}()
}

// Stop aborts processing without draining the queue
func (p *Pool) Stop() {
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskChan {
		result := p.processTask(task)
		if result.Success {
			atomic.AddInt64(&p.tasksCompleted, 1)
		} else {
			atomic.AddInt64(&p.tasksFailed, 1)
			p.logger.Debug("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker_id", id),
				zap.Error(result.Error))
		}
		p.resultChan <- result
	}
}

// processTask handles a single task with retries
func (p *Pool) processTask(task *Task) *Result {
	var result *Result
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		select {
		case <-p.ctx.Done():
			return &Result{TaskID: task.ID, Error: p.ctx.Err()}
		default:
		}

		result = p.workerFunc(p.ctx, task)
		if result.Success {
			return result
		}

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.tasksRetried, 1)
			select {
			case <-p.ctx.Done():
				return &Result{TaskID: task.ID, Error: p.ctx.Err()}
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}
	return result
}

// Stats holds pool counters
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
	}
}

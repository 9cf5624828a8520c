package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolClosed is returned when submitting to a pool that is shutting down
var ErrPoolClosed = errors.New("worker pool is closed")

// ErrBackpressure is returned by Submit when the queue is full
var ErrBackpressure = errors.New("worker pool queue full (backpressure)")

// Task is one unit of work. Key identifies it in results and logs.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// Result is the outcome of a Task
type Result struct {
	Key      string
	Err      error
	Duration time.Duration
}

type job struct {
	task    Task
	ctx     context.Context
	results chan<- Result
}

// WorkerPool runs tasks on a fixed number of goroutines
type WorkerPool struct {
	jobs        chan job
	workerCount int
	taskTimeout time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	metrics     *PoolMetrics

	mu     sync.RWMutex
	closed bool
}

// PoolMetrics tracks worker pool performance
type PoolMetrics struct {
	mu              sync.RWMutex
	processed       int64
	failed          int64
	backpressure    int64
	totalProcessing time.Duration
}

// NewWorkerPool creates a new worker pool. Each task gets taskTimeout to finish.
func NewWorkerPool(workerCount, queueSize int, taskTimeout time.Duration, logger *slog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		jobs:        make(chan job, queueSize),
		workerCount: workerCount,
		taskTimeout: taskTimeout,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &PoolMetrics{},
	}
}

// Start initializes and starts all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("starting worker pool", "workers", wp.workerCount, "queue_size", cap(wp.jobs))

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case j, ok := <-wp.jobs:
			if !ok {
				return
			}
			j.results <- wp.processTask(id, j)
		}
	}
}

// processTask runs one task, turning panics into errors
func (wp *WorkerPool) processTask(workerID int, j job) (res Result) {
	res.Key = j.task.Key
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("worker panic recovered", "worker", workerID, "task", j.task.Key, "panic", r)
			res.Err = fmt.Errorf("task %s panicked: %v", j.task.Key, r)
			res.Duration = time.Since(startTime)
			wp.metrics.incrementFailed()
		}
	}()

	ctx := j.ctx
	if wp.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.taskTimeout)
		defer cancel()
	}

	res.Err = j.task.Run(ctx)
	res.Duration = time.Since(startTime)

	if res.Err != nil {
		wp.logger.Debug("task failed", "worker", workerID, "task", j.task.Key, "error", res.Err, "took", res.Duration)
		wp.metrics.incrementFailed()
		return res
	}
	wp.metrics.recordSuccess(res.Duration)
	return res
}

// Submit queues a task without blocking. The result is delivered on results,
// which must have room for it.
func (wp *WorkerPool) Submit(ctx context.Context, task Task, results chan<- Result) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobs <- job{task: task, ctx: ctx, results: results}:
		return nil
	default:
		wp.logger.Warn("queue full, rejecting task", "task", task.Key)
		wp.metrics.incrementBackpressure()
		return ErrBackpressure
	}
}

// RunBatch runs every task and waits for all results. Tasks that cannot be
// queued before ctx is done are reported with ctx's error. Results come back
// in completion order.
func (wp *WorkerPool) RunBatch(ctx context.Context, tasks []Task) []Result {
	results := make(chan Result, len(tasks))
	queued := 0
	out := make([]Result, 0, len(tasks))

	wp.mu.RLock()
	for i, task := range tasks {
		if wp.closed {
			out = append(out, Result{Key: task.Key, Err: ErrPoolClosed})
			continue
		}
		select {
		case wp.jobs <- job{task: task, ctx: ctx, results: results}:
			queued++
		case <-ctx.Done():
			for _, rest := range tasks[i:] {
				out = append(out, Result{Key: rest.Key, Err: ctx.Err()})
			}
			wp.mu.RUnlock()
			return wp.collect(out, results, queued)
		case <-wp.ctx.Done():
			out = append(out, Result{Key: task.Key, Err: ErrPoolClosed})
		}
	}
	wp.mu.RUnlock()

	return wp.collect(out, results, queued)
}

func (wp *WorkerPool) collect(out []Result, results <-chan Result, n int) []Result {
	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			out = append(out, r)
		case <-wp.ctx.Done():
			// forced shutdown, remaining workers are gone
			return out
		}
	}
	return out
}

// Shutdown gracefully stops the worker pool
func (wp *WorkerPool) Shutdown(timeout time.Duration) error {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return nil
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info("worker pool stopped", "metrics", wp.GetMetrics())
		return nil

	case <-time.After(timeout):
		wp.cancel()
		wp.logger.Warn("worker pool shutdown timed out", "timeout", timeout)
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetMetrics returns a snapshot of the pool metrics
func (wp *WorkerPool) GetMetrics() map[string]interface{} {
	wp.metrics.mu.RLock()
	defer wp.metrics.mu.RUnlock()

	avgProcessing := time.Duration(0)
	if wp.metrics.processed > 0 {
		avgProcessing = wp.metrics.totalProcessing / time.Duration(wp.metrics.processed)
	}

	return map[string]interface{}{
		"processed":           wp.metrics.processed,
		"failed":              wp.metrics.failed,
		"backpressure_events": wp.metrics.backpressure,
		"avg_processing_time": avgProcessing.String(),
		"queue_utilization":   fmt.Sprintf("%d/%d", len(wp.jobs), cap(wp.jobs)),
	}
}

// Metrics helper methods
func (pm *PoolMetrics) recordSuccess(duration time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.processed++
	pm.totalProcessing += duration
}

func (pm *PoolMetrics) incrementFailed() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.failed++
}

func (pm *PoolMetrics) incrementBackpressure() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.backpressure++
}

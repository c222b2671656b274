// Package runner provides an in-process prompt queue. It implements
// host.Queue and executes queued jobs on a pool of worker goroutines.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FrontOfQueue is the position that places jobs at the head of the queue
const FrontOfQueue = -1

// Job is one queued prompt execution
type Job struct {
	ID         string
	EnqueuedAt time.Time
}

// Processor defines the interface for job processing implementations.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, job Job) error

// Process implements Processor
func (f ProcessorFunc) Process(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Runner queues jobs and distributes them to worker goroutines
type Runner struct {
	processor      Processor
	numWorkers     int
	processTimeout time.Duration
	logger         *zap.Logger
	tracer         trace.Tracer

	mu      sync.Mutex
	pending []Job
	notify  chan struct{}
}

// NewRunner creates a Runner.
// numWorkers specifies the number of worker goroutines executing jobs.
// processTimeout specifies the maximum time allowed for processing a single job.
// Returns an error if any of the parameters are invalid.
func NewRunner(processor Processor, numWorkers int, processTimeout time.Duration, logger *zap.Logger) (*Runner, error) {
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if numWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if processTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Runner{
		processor:      processor,
		numWorkers:     numWorkers,
		processTimeout: processTimeout,
		logger:         logger,
		tracer:         otel.Tracer("daedalus/runner"),
		notify:         make(chan struct{}, 1),
	}, nil
}

// QueuePrompt implements host.Queue. It never blocks: jobs wait in memory
// until a worker picks them up.
func (r *Runner) QueuePrompt(ctx context.Context, position, count int) {
	if count < 1 {
		return
	}

	jobs := make([]Job, 0, count)
	for i := 0; i < count; i++ {
		jobs = append(jobs, Job{ID: uuid.NewString(), EnqueuedAt: time.Now()})
	}

	r.mu.Lock()
	if position == FrontOfQueue {
		r.pending = append(jobs, r.pending...)
	} else {
		r.pending = append(r.pending, jobs...)
	}
	depth := len(r.pending)
	r.mu.Unlock()

	r.logger.Debug("Jobs queued",
		zap.Int("count", count),
		zap.Bool("front", position == FrontOfQueue),
		zap.Int("pending", depth))
	r.signal()
}

// Pending returns the number of jobs waiting for a worker
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Runner) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Runner) pop() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return Job{}, false
	}
	job := r.pending[0]
	r.pending = r.pending[1:]
	if len(r.pending) > 0 {
		r.signal()
	}
	return job, true
}

// Run starts the workers and blocks until the context is cancelled and all
// workers have finished their current job. It returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < r.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	r.logger.Info("Runner stopped due to context cancellation", zap.Int("pending", r.Pending()))
	return ctx.Err()
}

// worker processes jobs until the context is cancelled
func (r *Runner) worker(ctx context.Context, workerID int) {
	r.logger.Debug("Worker started", zap.Int("workerID", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("workerID", workerID))

	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := r.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				continue
			}
		}
		r.processJob(ctx, workerID, job)
	}
}

// processJob handles the actual job processing logic
func (r *Runner) processJob(ctx context.Context, workerID int, job Job) {
	ctx, span := r.tracer.Start(ctx, "runner.processJob",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.id", job.ID),
		))
	defer span.End()

	processCtx, cancel := context.WithTimeout(ctx, r.processTimeout)
	defer cancel()

	start := time.Now()
	err := r.processor.Process(processCtx, job)
	processingTime := time.Since(start)

	span.SetAttributes(attribute.Int64("processing.duration_ms", processingTime.Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Error processing job",
			zap.Int("workerID", workerID),
			zap.String("jobID", job.ID),
			zap.Duration("processingTime", processingTime),
			zap.Error(err))
		return
	}

	span.SetStatus(codes.Ok, "Job processed successfully")
	r.logger.Debug("Successfully processed job",
		zap.Int("workerID", workerID),
		zap.String("jobID", job.ID),
		zap.Duration("processingTime", processingTime),
		zap.Duration("queueLatency", start.Sub(job.EnqueuedAt)))
}

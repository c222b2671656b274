package comfy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FrontOfQueue is the position that places prompts at the head of the queue
const FrontOfQueue = -1

// Queue implements host.Queue by posting the current workflow to ComfyUI
type Queue struct {
	client  *Client
	source  WorkflowSource
	breaker *Breaker
	logger  *zap.Logger
}

// NewQueue creates a queue posting workflows from source through client
func NewQueue(client *Client, source WorkflowSource, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("workflow source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client:  client,
		source:  source,
		breaker: NewBreaker(0, 0, 0),
		logger:  logger,
	}, nil
}

// SetBreaker replaces the circuit breaker guarding the server
func (q *Queue) SetBreaker(b *Breaker) {
	if b != nil {
		q.breaker = b
	}
}

// QueuePrompt posts the workflow count times. Failures are logged here and
// never reported to the caller.
func (q *Queue) QueuePrompt(ctx context.Context, position, count int) {
	if count < 1 {
		return
	}

	workflow, err := q.source.Workflow(ctx)
	if err != nil {
		q.logger.Error("Failed to load workflow for queueing", zap.Error(err))
		return
	}

	front := position == FrontOfQueue
	for i := 0; i < count; i++ {
		if !q.breaker.Allow() {
			q.logger.Warn("ComfyUI circuit open, prompt not queued",
				zap.Int("batch_index", i),
				zap.Int("batch_count", count))
			return
		}

		resp, err := q.client.QueuePrompt(ctx, workflow, front)
		if err != nil {
			q.breaker.RecordFailure()
			q.logger.Error("Failed to queue prompt",
				zap.Int("batch_index", i),
				zap.Int("batch_count", count),
				zap.Error(err))
			return
		}
		q.breaker.RecordSuccess()
		q.logger.Info("Queued prompt",
			zap.String("prompt_id", resp.PromptID),
			zap.Int("number", resp.Number))
	}
}

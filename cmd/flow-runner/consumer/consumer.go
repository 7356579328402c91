package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tessera-ai/flowengine/common/logger"
	"github.com/tessera-ai/flowengine/common/queue"
	"github.com/tessera-ai/flowengine/engine"
	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/flow"
)

// TopicSubmitted carries queued execution jobs
const TopicSubmitted = "execution.submitted"

// Job is the queued form of an execution request
type Job struct {
	ExecutionID string                 `json:"execution_id"`
	OwnerID     string                 `json:"owner_id"`
	Flow        *flow.Flow             `json:"flow"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Trigger     map[string]interface{} `json:"trigger,omitempty"`
	TimeoutMs   int64                  `json:"timeout_ms,omitempty"`
}

// ExecutionConsumer drains queued execution jobs and runs them on the engine
type ExecutionConsumer struct {
	queue  queue.Queue
	engine *engine.Engine
	logger *logger.Logger
}

// NewExecutionConsumer creates a consumer for async execution submissions
func NewExecutionConsumer(q queue.Queue, eng *engine.Engine, log *logger.Logger) *ExecutionConsumer {
	return &ExecutionConsumer{
		queue:  q,
		engine: eng,
		logger: log,
	}
}

// Start subscribes to the submission topic. Jobs run on the subscription
// goroutine; the queue buffers bursts.
func (c *ExecutionConsumer) Start(ctx context.Context) error {
	return c.queue.Subscribe(ctx, TopicSubmitted, c.handle)
}

// handle runs one queued job to a terminal state
func (c *ExecutionConsumer) handle(ctx context.Context, key string, value []byte) error {
	var job Job
	if err := json.Unmarshal(value, &job); err != nil {
		c.logger.Error("dropping malformed execution job", "key", key, "error", err)
		return nil
	}

	c.logger.Info("running queued execution",
		"execution_id", job.ExecutionID,
		"flow_id", job.Flow.ID,
		"owner_id", job.OwnerID)

	opts := execution.Options{
		ExecutionID: job.ExecutionID,
		OwnerID:     job.OwnerID,
		Input:       job.Input,
		Trigger:     job.Trigger,
	}
	if job.TimeoutMs > 0 {
		opts.Timeout = time.Duration(job.TimeoutMs) * time.Millisecond
	}

	snap, err := c.engine.Execute(ctx, job.Flow, opts)
	if err != nil {
		status := "failed"
		if snap != nil {
			status = string(snap.Status)
		}
		c.logger.Warn("queued execution finished with error",
			"execution_id", job.ExecutionID,
			"status", status,
			"error", err)
		return nil
	}

	c.logger.Info("queued execution completed", "execution_id", snap.ID)
	return nil
}

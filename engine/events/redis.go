package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisClient "github.com/tessera-ai/flowengine/common/redis"
)

// Key and channel layout for progress fanout
const (
	channelPrefix   = "flow:events:"
	statusKeyPrefix = "exec:status:"
	statusTTL       = 24 * time.Hour
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ChannelFor returns the pub/sub channel carrying events for one owner
func ChannelFor(ownerID string) string {
	return channelPrefix + ownerID
}

// StatusKey returns the key mirroring an execution's latest status
func StatusKey(executionID string) string {
	return statusKeyPrefix + executionID
}

// RedisSink publishes events to the owner's channel and mirrors execution
// status into a hot key so status polls never touch the database.
type RedisSink struct {
	redis  *redisClient.Client
	logger Logger
}

// NewRedisSink creates a Redis-backed progress sink
func NewRedisSink(redis *redisClient.Client, logger Logger) *RedisSink {
	return &RedisSink{redis: redis, logger: logger}
}

// Emit implements Sink. Publish failures are logged and dropped: progress
// delivery is best-effort and must never fail an execution.
func (s *RedisSink) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := s.redis.NewPipeline()
	pipe.PublishEvent(ctx, ChannelFor(event.OwnerID), string(payload))
	if mirror := statusMirror(event); mirror != "" {
		pipe.SetWithExpiry(ctx, StatusKey(event.ExecutionID), mirror, statusTTL)
	}
	if err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("event publish failed", "type", event.Type, "execution_id", event.ExecutionID, "error", err)
	}
}

// statusMirror returns the JSON status snapshot for lifecycle events, or
// empty for node-level events
func statusMirror(event Event) string {
	var status string
	switch event.Type {
	case TypeExecutionStarted:
		status = "running"
	case TypeExecutionCompleted:
		status = "completed"
	case TypeExecutionFailed:
		status = "failed"
	case TypeExecutionCancelled:
		status = "cancelled"
	default:
		return ""
	}

	snapshot := map[string]interface{}{
		"execution_id": event.ExecutionID,
		"flow_id":      event.FlowID,
		"status":       status,
		"updated_at":   event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.Error != "" {
		snapshot["error"] = event.Error
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	return string(payload)
}

// ReadStatus fetches the mirrored status snapshot for an execution
func ReadStatus(ctx context.Context, redis *redisClient.Client, executionID string) (map[string]interface{}, error) {
	raw, err := redis.Get(ctx, StatusKey(executionID))
	if err != nil {
		return nil, fmt.Errorf("status not cached for %s: %w", executionID, err)
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt status snapshot for %s: %w", executionID, err)
	}
	return snapshot, nil
}

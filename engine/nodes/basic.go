// Package nodes contains the built-in node executors. Each executor reads
// its already-resolved config from the node context and reports failures
// inside the returned result.
package nodes

import (
	"context"
	"time"

	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// TriggerExecutor starts a traversal. Its output is the trigger descriptor
// so downstream nodes can reference {{nodes.<trigger>.…}} as well as
// {{trigger.…}}.
type TriggerExecutor struct{}

// NewTriggerExecutor creates the trigger executor
func NewTriggerExecutor() *TriggerExecutor { return &TriggerExecutor{} }

func (e *TriggerExecutor) Type() string { return flow.NodeTypeTrigger }

func (e *TriggerExecutor) Validate(node flow.Node) []string { return nil }

func (e *TriggerExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	scope := nc.Scope()
	return executor.Succeed(map[string]interface{}{
		"trigger": scope["trigger"],
		"input":   scope["input"],
	})
}

// VariableExecutor writes one or more execution variables
type VariableExecutor struct{}

// NewVariableExecutor creates the variable setter executor
func NewVariableExecutor() *VariableExecutor { return &VariableExecutor{} }

func (e *VariableExecutor) Type() string { return "variable:set" }

func (e *VariableExecutor) Validate(node flow.Node) []string {
	if _, hasMap := node.Config["variables"]; hasMap {
		return nil
	}
	if name, _ := node.Config["name"].(string); name != "" {
		return nil
	}
	return []string{"variable node requires either a variables map or a name"}
}

func (e *VariableExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	updates := make(map[string]interface{})

	if raw, ok := nc.Data["variables"].(map[string]interface{}); ok {
		for k, v := range raw {
			updates[k] = v
		}
	}
	if name, _ := nc.Data["name"].(string); name != "" {
		updates[name] = nc.Data["value"]
	}

	if len(updates) == 0 {
		return executor.Fail(flowerr.Validation("variable node resolved to no assignments").WithNode(nc.Node.ID))
	}

	return executor.Succeed(map[string]interface{}{"set": updates}).WithVariables(updates)
}

// DelayExecutor pauses the walk for a configured duration, waking early on
// cancellation
type DelayExecutor struct{}

// NewDelayExecutor creates the delay executor
func NewDelayExecutor() *DelayExecutor { return &DelayExecutor{} }

func (e *DelayExecutor) Type() string { return "delay" }

func (e *DelayExecutor) Validate(node flow.Node) []string {
	if _, ok := durationFrom(node.Config); !ok {
		return []string{"delay node requires a positive durationMs"}
	}
	return nil
}

func (e *DelayExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	d, ok := durationFrom(nc.Data)
	if !ok {
		return executor.Fail(flowerr.Validation("delay duration missing or not positive").WithNode(nc.Node.ID))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return executor.Succeed(map[string]interface{}{"delayed_ms": d.Milliseconds()})
	case <-ctx.Done():
		return executor.Fail(flowerr.Classify(context.Cause(ctx)).WithNode(nc.Node.ID))
	}
}

// durationFrom reads durationMs from a config map
func durationFrom(config map[string]interface{}) (time.Duration, bool) {
	ms, ok := numberFrom(config["durationMs"])
	if !ok || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// LogExecutor writes a message to the structured log and passes through
type LogExecutor struct{}

// NewLogExecutor creates the log executor
func NewLogExecutor() *LogExecutor { return &LogExecutor{} }

func (e *LogExecutor) Type() string { return "log" }

func (e *LogExecutor) Validate(node flow.Node) []string { return nil }

func (e *LogExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	msg, _ := nc.Data["message"].(string)
	level, _ := nc.Data["level"].(string)

	switch level {
	case "error":
		nc.Logger.Error(msg, "node_id", nc.Node.ID)
	case "warn":
		nc.Logger.Warn(msg, "node_id", nc.Node.ID)
	case "debug":
		nc.Logger.Debug(msg, "node_id", nc.Node.ID)
	default:
		nc.Logger.Info(msg, "node_id", nc.Node.ID)
	}

	return executor.Succeed(map[string]interface{}{"message": msg})
}

// numberFrom accepts the numeric shapes JSON decoding produces
func numberFrom(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

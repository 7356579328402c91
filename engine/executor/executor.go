package executor

import (
	"context"

	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// NodeResult is the structured outcome of one executor call
type NodeResult struct {
	// Success indicates whether the node completed its work
	Success bool

	// Output is the JSON-shaped node output, nil allowed
	Output interface{}

	// Error is present iff Success is false
	Error *flowerr.Error

	// Continue controls traversal: when false, the walk stops after
	// recording the result
	Continue bool

	// NextBranches overrides default branching when non-nil
	NextBranches []string

	// VariableUpdates is merged into the execution scope after the node
	// completes
	VariableUpdates map[string]interface{}
}

// Succeed builds a successful, continuing result
func Succeed(output interface{}) *NodeResult {
	return &NodeResult{
		Success:  true,
		Output:   output,
		Continue: true,
	}
}

// Fail builds a failed result carrying a typed error
func Fail(err *flowerr.Error) *NodeResult {
	return &NodeResult{
		Success:  false,
		Error:    err,
		Continue: false,
	}
}

// WithBranches sets explicit next-branch labels
func (r *NodeResult) WithBranches(labels ...string) *NodeResult {
	r.NextBranches = labels
	return r
}

// WithVariables sets variable updates to merge into the scope
func (r *NodeResult) WithVariables(updates map[string]interface{}) *NodeResult {
	r.VariableUpdates = updates
	return r
}

// Halt marks the result as non-continuing
func (r *NodeResult) Halt() *NodeResult {
	r.Continue = false
	return r
}

// NodeContext is the view over the Execution Context offered to executors:
// the node with its config already resolved, a logger, and scope access
// for advanced nodes. Collaborators are injected into executors at
// construction time, not per call.
type NodeContext struct {
	Execution *execution.Context
	Node      flow.Node
	Data      map[string]interface{}
	Logger    Logger
}

// Scope returns the four-root lookup tree for this execution
func (nc *NodeContext) Scope() map[string]interface{} {
	return nc.Execution.Scope()
}

// NodeExecutor is the contract every node kind implements
type NodeExecutor interface {
	// Type is the identifier used for registration; may be compound,
	// e.g. "messaging:sendText"
	Type() string

	// Validate returns human-readable problems; empty means valid.
	// Called before every execution.
	Validate(node flow.Node) []string

	// Execute performs the work and returns a node result. Failures are
	// reported inside the result, not as a Go error.
	Execute(ctx context.Context, nc *NodeContext) *NodeResult
}

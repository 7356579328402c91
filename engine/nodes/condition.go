package nodes

import (
	"context"

	"github.com/tessera-ai/flowengine/engine/condition"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// ConditionExecutor evaluates a boolean expression and routes the walk down
// the true or false branch
type ConditionExecutor struct {
	evaluator *condition.Evaluator
}

// NewConditionExecutor creates the condition executor
func NewConditionExecutor(evaluator *condition.Evaluator) *ConditionExecutor {
	return &ConditionExecutor{evaluator: evaluator}
}

func (e *ConditionExecutor) Type() string { return "condition" }

func (e *ConditionExecutor) Validate(node flow.Node) []string {
	if expr, _ := node.Config["expression"].(string); expr == "" {
		return []string{"condition node requires an expression"}
	}
	return nil
}

func (e *ConditionExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	// The expression is read from the raw config: resolution would splice
	// values into the expression text instead of binding them as variables
	expr, _ := nc.Node.Config["expression"].(string)

	scope := nc.Scope()
	var prior interface{}
	if edges := nc.Execution.Flow().IncomingEdges(nc.Node.ID); len(edges) > 0 {
		prior, _ = nc.Execution.NodeOutput(edges[0].From)
	}

	result, err := e.evaluator.Evaluate(expr, prior, scope)
	if err != nil {
		return executor.Fail(flowerr.Validation("condition evaluation failed: %v", err).WithNode(nc.Node.ID))
	}

	branch := flow.BranchFalse
	if result {
		branch = flow.BranchTrue
	}
	return executor.Succeed(map[string]interface{}{
		"result": result,
		"branch": branch,
	}).WithBranches(branch)
}

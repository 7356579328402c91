package engine

import (
	"context"
	"time"

	"github.com/tessera-ai/flowengine/engine/events"
	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/parallel"
)

// Loop iteration cap applied when neither items nor a break condition
// bound the loop
const defaultMaxIterations = 100

// runParallel splits the walk across the node's branch edges and joins
// them under the configured mode. Edges labeled done continue after the
// join; every other outgoing edge starts a branch.
func (e *Engine) runParallel(ec *execution.Context, node flow.Node) ([]string, *flowerr.Error) {
	ec.MarkExecuted(node.ID)
	started := time.Now()

	resolved := e.resolver.ResolveConfig(node.Config, ec.Scope())
	mode := parallel.ParseMode(stringFrom(resolved["mode"]))
	maxConcurrent := intFrom(resolved["maxConcurrent"])
	continueOnError := boolFrom(resolved["continueOnError"])

	var branchEdges []flow.Edge
	for _, edge := range ec.Flow().OutgoingEdges(node.ID) {
		if edge.Label != flow.BranchDone {
			branchEdges = append(branchEdges, edge)
		}
	}
	if len(branchEdges) == 0 {
		err := flowerr.Validation("parallel node has no branch edges").WithNode(node.ID)
		e.record(ec, node, execution.NodeFailed, nil, err, 1, started)
		return nil, err
	}

	branches := make([]parallel.Branch, 0, len(branchEdges))
	children := make([]*execution.Context, 0, len(branchEdges))
	for i, edge := range branchEdges {
		child := ec.NewChild()
		children = append(children, child)
		start := edge.To
		branches = append(branches, parallel.Branch{
			Index:     i,
			StartNode: start,
			Child:     child,
			Run: func(ctx context.Context) error {
				if err := e.walk(child, []string{start}); err != nil {
					return err
				}
				return nil
			},
		})
	}

	e.emitNode(ec, events.TypeNodeStarted, node, nil)
	outcome, joinErr := e.parallel.Run(ec.Ctx(), branches, parallel.Options{
		Mode:            mode,
		MaxConcurrent:   maxConcurrent,
		ContinueOnError: continueOnError,
	})

	// Fold overlays back only from branches the join kept: successful
	// branches for an all-join, the winner for race and first-success
	// joins. A failed join merges nothing.
	failed := 0
	if outcome != nil {
		succeeded := make(map[int]bool, len(outcome.Results))
		for _, res := range outcome.Results {
			succeeded[res.Index] = res.Err == nil
			if res.Err != nil {
				failed++
			}
		}
		if joinErr == nil {
			for i, child := range children {
				if i == outcome.Winner || (mode == parallel.ModeAll && succeeded[i]) {
					ec.MergeChild(child)
				}
			}
		}
	}

	if joinErr != nil {
		ferr := flowerr.Classify(joinErr).WithNode(node.ID)
		e.record(ec, node, execution.NodeFailed, nil, ferr, 1, started)
		e.emitNode(ec, events.TypeNodeFailed, node, ferr)
		return nil, ferr
	}

	output := map[string]interface{}{
		"mode":     string(mode),
		"branches": len(branches),
		"winner":   outcome.Winner,
		"failed":   failed,
	}
	ec.SetNodeOutput(node.ID, output)
	e.record(ec, node, execution.NodeCompleted, output, nil, 1, started)
	e.emitNode(ec, events.TypeNodeCompleted, node, nil)

	return e.targets(ec, node.ID, []string{flow.BranchDone}), nil
}

// runLoop executes the node's body subtree repeatedly. Iterations are
// bounded by an item list, a break condition, or the iteration cap,
// whichever applies first. Each iteration opens a fresh execution frame
// for the body nodes.
func (e *Engine) runLoop(ec *execution.Context, node flow.Node) ([]string, *flowerr.Error) {
	ec.MarkExecuted(node.ID)
	started := time.Now()
	e.emitNode(ec, events.TypeNodeStarted, node, nil)

	resolved := e.resolver.ResolveConfig(node.Config, ec.Scope())

	maxIterations := intFrom(resolved["maxIterations"])
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	breakIf := stringFrom(resolved["breakIf"])
	items, hasItems := resolved["items"].([]interface{})
	itemVar := stringFrom(resolved["itemVar"])
	if itemVar == "" {
		itemVar = "item"
	}

	var bodyStarts []string
	for _, edge := range ec.Flow().OutgoingEdges(node.ID) {
		if edge.Label == flow.BranchBody {
			bodyStarts = append(bodyStarts, edge.To)
		}
	}
	if len(bodyStarts) == 0 {
		err := flowerr.Validation("loop node has no body edges").WithNode(node.ID)
		e.record(ec, node, execution.NodeFailed, nil, err, 1, started)
		return nil, err
	}
	bodyIDs := ec.Flow().Subtree(node.ID, flow.BranchBody)

	iterations := 0
	for {
		if err := ec.Err(); err != nil {
			e.record(ec, node, execution.NodeCancelled, nil, err, iterations, started)
			return nil, err.WithNode(node.ID)
		}
		if iterations >= maxIterations {
			break
		}
		if hasItems {
			if iterations >= len(items) {
				break
			}
			ec.SetVariable(itemVar, items[iterations])
		}
		ec.SetVariable("loop_index", iterations)

		ec.ClearExecuted(bodyIDs)
		if err := e.walk(ec, bodyStarts); err != nil {
			e.record(ec, node, execution.NodeFailed, nil, err, iterations+1, started)
			return nil, err
		}
		iterations++

		if breakIf != "" {
			stop, err := e.condition.Evaluate(breakIf, iterations, ec.Scope())
			if err != nil {
				ferr := flowerr.Validation("loop break condition failed: %v", err).WithNode(node.ID)
				e.record(ec, node, execution.NodeFailed, nil, ferr, iterations, started)
				return nil, ferr
			}
			if stop {
				break
			}
		}
	}

	output := map[string]interface{}{"iterations": iterations}
	ec.SetNodeOutput(node.ID, output)
	e.record(ec, node, execution.NodeCompleted, output, nil, 1, started)
	e.emitNode(ec, events.TypeNodeCompleted, node, nil)

	return e.targets(ec, node.ID, []string{flow.BranchDone}), nil
}

// stringFrom reads an optional string config value
func stringFrom(v interface{}) string {
	s, _ := v.(string)
	return s
}

// intFrom reads an optional numeric config value
func intFrom(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// boolFrom reads an optional boolean config value
func boolFrom(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// Package engine walks flow graphs: it resolves node configs, dispatches
// node executors, applies per-node error policies, runs parallel splits and
// loops, and reports progress through the event sink.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tessera-ai/flowengine/engine/condition"
	"github.com/tessera-ai/flowengine/engine/events"
	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/parallel"
	"github.com/tessera-ai/flowengine/engine/recovery"
	"github.com/tessera-ai/flowengine/engine/resolver"
	"github.com/tessera-ai/flowengine/engine/services"
	"github.com/tessera-ai/flowengine/engine/waiter"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Opts wires the engine's collaborators
type Opts struct {
	Registry  *executor.Registry
	Resolver  *resolver.Resolver
	Recovery  *recovery.Handler
	Parallel  *parallel.Manager
	Waits     *waiter.Coordinator
	Condition *condition.Evaluator
	Sink      events.Sink
	Store     services.ExecutionStore
	Logger    Logger

	// DefaultTimeout bounds executions that do not set their own budget
	DefaultTimeout time.Duration
}

// Engine executes flow definitions
type Engine struct {
	registry  *executor.Registry
	resolver  *resolver.Resolver
	recovery  *recovery.Handler
	parallel  *parallel.Manager
	waits     *waiter.Coordinator
	condition *condition.Evaluator
	sink      events.Sink
	store     services.ExecutionStore
	logger    Logger

	defaultTimeout time.Duration

	active map[string]*execution.Context
	mu     sync.Mutex
}

// New creates a flow engine
func New(opts *Opts) *Engine {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Engine{
		registry:       opts.Registry,
		resolver:       opts.Resolver,
		recovery:       opts.Recovery,
		parallel:       opts.Parallel,
		waits:          opts.Waits,
		condition:      opts.Condition,
		sink:           opts.Sink,
		store:          opts.Store,
		logger:         opts.Logger,
		defaultTimeout: timeout,
		active:         make(map[string]*execution.Context),
	}
}

// Execute runs a flow to a terminal state and returns the final execution
// snapshot. Graph and node validation failures return before anything is
// recorded as started.
func (e *Engine) Execute(ctx context.Context, f *flow.Flow, opts execution.Options) (*execution.Execution, error) {
	if err := f.Validate(); err != nil {
		return nil, flowerr.Validation("invalid flow %s: %v", f.ID, err)
	}
	if problems := e.preflight(f); len(problems) > 0 {
		return nil, flowerr.Validation("flow %s failed validation: %s", f.ID, strings.Join(problems, "; "))
	}

	if opts.Timeout <= 0 {
		opts.Timeout = e.defaultTimeout
	}

	ec := execution.NewContext(ctx, f, opts)
	if err := ec.Start(); err != nil {
		return nil, flowerr.Validation("%v", err)
	}

	e.track(ec)
	defer e.untrack(ec.ID())

	if e.store != nil {
		if err := e.store.Insert(ctx, ec.Snapshot()); err != nil {
			e.logger.Error("failed to persist execution start", "execution_id", ec.ID(), "error", err)
		}
	}
	e.emitLifecycle(ec, events.TypeExecutionStarted, nil)

	walkErr := e.run(ec)
	return e.finish(ec, walkErr)
}

// Cancel aborts a running execution. Pending waits are withdrawn so the
// walk unwinds promptly.
func (e *Engine) Cancel(executionID, reason string) error {
	e.mu.Lock()
	ec, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok {
		return flowerr.Validation("execution %s is not running", executionID)
	}

	if reason == "" {
		reason = "cancelled by request"
	}
	ec.Abort(flowerr.Cancelled("%s", reason))
	e.waits.CancelFor(executionID)
	e.logger.Info("execution cancel requested", "execution_id", executionID, "reason", reason)
	return nil
}

// ListActive returns the IDs of currently running executions
func (e *Engine) ListActive() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// GetExecution returns a live snapshot for running executions and falls
// back to the store for finished ones
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*execution.Execution, error) {
	e.mu.Lock()
	ec, ok := e.active[executionID]
	e.mu.Unlock()
	if ok {
		return ec.Snapshot(), nil
	}
	if e.store == nil {
		return nil, flowerr.Validation("execution %s not found", executionID)
	}
	return e.store.GetByID(ctx, executionID)
}

// DeliverInbound routes an inbound message to a pending wait. Returns true
// when a wait consumed the message.
func (e *Engine) DeliverInbound(ctx context.Context, msg *services.InboundMessage) bool {
	return e.waits.Deliver(ctx, msg)
}

// preflight validates every node that has a registered executor. Unknown
// node types pass: they are skipped with a reason at execution time.
func (e *Engine) preflight(f *flow.Flow) []string {
	var problems []string
	for _, node := range f.Nodes {
		exec, ok := e.registry.Lookup(node)
		if !ok {
			continue
		}
		for _, p := range exec.Validate(node) {
			problems = append(problems, node.ID+": "+p)
		}
	}
	return problems
}

// run walks the graph from every entry node
func (e *Engine) run(ec *execution.Context) *flowerr.Error {
	entries := ec.Flow().EntryNodes(executor.IsTrigger)
	if len(entries) == 0 {
		return flowerr.Validation("flow %s has no entry nodes", ec.Flow().ID)
	}

	starts := make([]string, 0, len(entries))
	for _, n := range entries {
		starts = append(starts, n.ID)
	}
	return e.walk(ec, starts)
}

// walk traverses from the given start nodes in depth-first order.
// Parallel and loop nodes are structural: the walk handles them inline
// instead of dispatching an executor.
func (e *Engine) walk(ec *execution.Context, starts []string) *flowerr.Error {
	stack := make([]string, len(starts))
	copy(stack, starts)

	for len(stack) > 0 {
		if err := ec.Err(); err != nil {
			return err
		}
		if err := ec.CheckDeadline(); err != nil {
			return err
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if ec.WasExecuted(id) {
			continue
		}
		node, ok := ec.Flow().NodeByID(id)
		if !ok {
			return flowerr.Validation("edge points at unknown node %s", id)
		}

		var next []string
		var err *flowerr.Error
		switch node.Type {
		case flow.NodeTypeParallel:
			next, err = e.runParallel(ec, node)
		case flow.NodeTypeLoop:
			next, err = e.runLoop(ec, node)
		default:
			next, err = e.runNode(ec, node)
		}
		if err != nil {
			return err
		}

		// Push in reverse so declared edge order is walked first
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return nil
}

// runNode executes a single node under its error policy and returns the
// IDs to walk next
func (e *Engine) runNode(ec *execution.Context, node flow.Node) ([]string, *flowerr.Error) {
	ec.MarkExecuted(node.ID)

	exec, ok := e.registry.Lookup(node)
	if !ok {
		res := executor.SkipResult(node)
		ec.SetNodeOutput(node.ID, res.Output)
		e.record(ec, node, execution.NodeSkipped, res.Output, nil, 1, time.Now())
		e.emitNode(ec, events.TypeNodeSkipped, node, nil)
		return e.targets(ec, node.ID, nil), nil
	}

	policy := recovery.ParsePolicy(node)
	attempt := 0

	for {
		attempt++
		started := time.Now()
		e.emitNode(ec, events.TypeNodeStarted, node, nil)

		res := e.attempt(ec, exec, node)
		if res.Success {
			e.apply(ec, node, res)
			e.record(ec, node, execution.NodeCompleted, res.Output, nil, attempt, started)
			e.emitNode(ec, events.TypeNodeCompleted, node, nil)
			if !res.Continue {
				return nil, nil
			}
			return e.targets(ec, node.ID, res.NextBranches), nil
		}

		nodeErr := res.Error
		if nodeErr == nil {
			nodeErr = flowerr.NodeFailed(node.ID, nil)
		}

		decision := e.recovery.Decide(policy, nodeErr, attempt)
		e.logger.Debug("node failure decision",
			"execution_id", ec.ID(), "node_id", node.ID,
			"attempt", attempt, "action", string(decision.Action), "reason", decision.Reason)

		switch decision.Action {
		case recovery.ActionRetry:
			e.record(ec, node, execution.NodeFailed, nil, nodeErr, attempt, started)
			if err := e.sleep(ec, decision.Delay); err != nil {
				return nil, err
			}
			continue

		case recovery.ActionSkip:
			output := map[string]interface{}{
				"skipped": true,
				"reason":  nodeErr.Message,
			}
			ec.SetNodeOutput(node.ID, output)
			e.record(ec, node, execution.NodeSkipped, output, nodeErr, attempt, started)
			e.emitNode(ec, events.TypeNodeSkipped, node, nodeErr)
			return e.targets(ec, node.ID, []string{flow.BranchFailed, ""}), nil

		case recovery.ActionRedirect:
			e.record(ec, node, execution.NodeFailed, nil, nodeErr, attempt, started)
			e.emitNode(ec, events.TypeNodeFailed, node, nodeErr)
			if _, ok := ec.Flow().NodeByID(decision.RedirectTo); !ok {
				return nil, flowerr.Validation("redirect target %s does not exist", decision.RedirectTo).WithNode(node.ID)
			}
			return []string{decision.RedirectTo}, nil

		case recovery.ActionFallback:
			ec.SetNodeOutput(node.ID, decision.Output)
			e.record(ec, node, execution.NodeCompleted, decision.Output, nodeErr, attempt, started)
			e.emitNode(ec, events.TypeNodeCompleted, node, nil)
			return e.targets(ec, node.ID, nil), nil

		default:
			status := execution.NodeFailed
			if nodeErr.Kind == flowerr.KindCancelled {
				status = execution.NodeCancelled
			}
			e.record(ec, node, status, nil, nodeErr, attempt, started)
			e.emitNode(ec, events.TypeNodeFailed, node, nodeErr)
			return nil, nodeErr.WithNode(node.ID)
		}
	}
}

// attempt resolves the node config against the current scope and runs the
// executor once
func (e *Engine) attempt(ec *execution.Context, exec executor.NodeExecutor, node flow.Node) *executor.NodeResult {
	resolved := e.resolver.ResolveConfig(node.Config, ec.Scope())
	nc := &executor.NodeContext{
		Execution: ec,
		Node:      node,
		Data:      resolved,
		Logger:    e.logger,
	}
	return exec.Execute(ec.Ctx(), nc)
}

// apply folds a successful result back into the execution scope
func (e *Engine) apply(ec *execution.Context, node flow.Node, res *executor.NodeResult) {
	for name, value := range res.VariableUpdates {
		ec.SetVariable(name, value)
	}
	ec.SetNodeOutput(node.ID, res.Output)
}

// targets maps branch labels to downstream node IDs
func (e *Engine) targets(ec *execution.Context, nodeID string, branches []string) []string {
	edges := ec.NextEdges(nodeID, branches)
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.To)
	}
	return ids
}

// sleep pauses between retries, waking early on cancellation
func (e *Engine) sleep(ec *execution.Context, d time.Duration) *flowerr.Error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ec.Done():
		return ec.Err()
	}
}

// record appends a node record to the execution history
func (e *Engine) record(ec *execution.Context, node flow.Node, status execution.NodeStatus, output interface{}, nodeErr *flowerr.Error, attempt int, started time.Time) {
	rec := execution.NodeRecord{
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     status,
		Output:     output,
		Attempt:    attempt,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if nodeErr != nil {
		rec.Error = nodeErr.Message
		rec.ErrorKind = string(nodeErr.Kind)
	}
	ec.AppendRecord(rec)
}

// finish drives the execution to its terminal status, persists the final
// snapshot and emits the closing lifecycle event
func (e *Engine) finish(ec *execution.Context, walkErr *flowerr.Error) (*execution.Execution, error) {
	switch {
	case walkErr == nil:
		if err := ec.Complete(ec.CollectFinalOutput()); err != nil {
			e.logger.Warn("completion race", "execution_id", ec.ID(), "error", err)
		}
		e.emitLifecycle(ec, events.TypeExecutionCompleted, nil)

	case walkErr.Kind == flowerr.KindCancelled:
		if err := ec.Cancelled(walkErr); err != nil {
			e.logger.Warn("cancellation race", "execution_id", ec.ID(), "error", err)
		}
		e.emitLifecycle(ec, events.TypeExecutionCancelled, walkErr)

	default:
		if err := ec.Fail(walkErr); err != nil {
			e.logger.Warn("failure race", "execution_id", ec.ID(), "error", err)
		}
		e.emitLifecycle(ec, events.TypeExecutionFailed, walkErr)
	}

	e.waits.CancelFor(ec.ID())

	snap := ec.Snapshot()
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Update(ctx, snap); err != nil {
			e.logger.Error("failed to persist final execution state", "execution_id", ec.ID(), "error", err)
		}
	}

	if walkErr != nil {
		return snap, walkErr
	}
	return snap, nil
}

// track registers a running execution
func (e *Engine) track(ec *execution.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[ec.ID()] = ec
}

// untrack removes a finished execution
func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// emitLifecycle publishes an execution-level event
func (e *Engine) emitLifecycle(ec *execution.Context, eventType string, walkErr *flowerr.Error) {
	if e.sink == nil {
		return
	}
	exec := ec.Execution()
	event := events.Event{
		Type:        eventType,
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		OwnerID:     exec.OwnerID,
		Status:      string(ec.Status()),
	}
	if walkErr != nil {
		event.Error = walkErr.Message
	}
	e.sink.Emit(event)
}

// emitNode publishes a node-level event
func (e *Engine) emitNode(ec *execution.Context, eventType string, node flow.Node, nodeErr *flowerr.Error) {
	if e.sink == nil {
		return
	}
	exec := ec.Execution()
	event := events.Event{
		Type:        eventType,
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		OwnerID:     exec.OwnerID,
		NodeID:      node.ID,
		NodeType:    node.Type,
	}
	if nodeErr != nil {
		event.Error = nodeErr.Message
	}
	e.sink.Emit(event)
}

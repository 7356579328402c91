package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// Options configures a new execution context
type Options struct {
	ExecutionID string
	OwnerID     string
	Trigger     map[string]interface{}
	Input       map[string]interface{}
	Timeout     time.Duration
}

// Context owns all per-run mutable state: the variable scope, per-node
// outputs, the node execution history, and the cancellation/deadline
// primitives propagated to every inner operation.
//
// A root context is mutated only by its own traversal task. Child contexts
// (parallel branches) write into a branch-local overlay that merges back into
// the parent once, at branch join.
type Context struct {
	mu sync.Mutex

	exec *Execution
	flow *flow.Flow

	variables   map[string]interface{}
	nodeOutputs map[string]interface{}
	executed    map[string]bool

	parent *Context

	base           context.Context
	ctx            context.Context
	cancel         context.CancelCauseFunc
	cancelDeadline context.CancelFunc
	deadline       time.Time
	timeout        time.Duration
}

// NewContext creates a root execution context in pending state
func NewContext(base context.Context, f *flow.Flow, opts Options) *Context {
	id := opts.ExecutionID
	if id == "" {
		id = uuid.New().String()
	}

	input := opts.Input
	if input == nil {
		input = make(map[string]interface{})
	}

	return &Context{
		exec: &Execution{
			ID:        id,
			FlowID:    f.ID,
			OwnerID:   opts.OwnerID,
			Trigger:   opts.Trigger,
			Input:     input,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		flow:        f,
		variables:   make(map[string]interface{}),
		nodeOutputs: make(map[string]interface{}),
		executed:    make(map[string]bool),
		base:        base,
		timeout:     opts.Timeout,
	}
}

// Start transitions the execution to running and starts the deadline clock.
// Fails if the execution is not pending.
func (c *Context) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exec.Status != StatusPending {
		return fmt.Errorf("cannot start execution %s in status %s", c.exec.ID, c.exec.Status)
	}

	now := time.Now()
	c.exec.Status = StatusRunning
	c.exec.StartedAt = &now

	ctx, cancel := context.WithCancelCause(c.base)
	if c.timeout > 0 {
		c.deadline = now.Add(c.timeout)
		ctx, c.cancelDeadline = context.WithDeadline(ctx, c.deadline)
	}
	c.ctx = ctx
	c.cancel = cancel

	return nil
}

// Ctx returns the cancellation context for the run
func (c *Context) Ctx() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return c.base
}

// Done exposes the cancellation signal for cooperative checkpoints
func (c *Context) Done() <-chan struct{} {
	return c.Ctx().Done()
}

// Err returns the typed error behind a tripped cancellation signal, or nil
func (c *Context) Err() *flowerr.Error {
	ctx := c.Ctx()
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
		return flowerr.Classify(cause)
	}
	return flowerr.Classify(ctx.Err())
}

// Abort triggers cancellation with a reason; any observer checking the
// signal fails with the classified cause
func (c *Context) Abort(reason error) {
	if c.cancel != nil {
		c.cancel(reason)
	} else if c.parent != nil {
		c.parent.Abort(reason)
	}
}

// CheckDeadline fails with a timeout error once the deadline has passed
func (c *Context) CheckDeadline() *flowerr.Error {
	root := c.root()
	if root.deadline.IsZero() {
		return nil
	}
	if time.Now().Before(root.deadline) {
		return nil
	}
	return flowerr.Timeout("execution %s exceeded its %s budget", root.exec.ID, root.timeout)
}

// Deadline returns the absolute deadline and whether one is set
func (c *Context) Deadline() (time.Time, bool) {
	root := c.root()
	return root.deadline, !root.deadline.IsZero()
}

// RemainingBudget returns the time left before the deadline, or 0 when
// no deadline is set
func (c *Context) RemainingBudget() time.Duration {
	root := c.root()
	if root.deadline.IsZero() {
		return 0
	}
	return time.Until(root.deadline)
}

// SetVariable upserts a variable, observable by subsequent node resolutions
func (c *Context) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Variable looks up a variable, consulting parent scopes for child contexts
func (c *Context) Variable(name string) (interface{}, bool) {
	c.mu.Lock()
	v, ok := c.variables[name]
	c.mu.Unlock()
	if ok {
		return v, true
	}
	if c.parent != nil {
		return c.parent.Variable(name)
	}
	return nil, false
}

// SetNodeOutput stores the last successful output for a node, overwriting
// any prior value
func (c *Context) SetNodeOutput(nodeID string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeOutputs[nodeID] = value
}

// NodeOutput looks up a node's last successful output
func (c *Context) NodeOutput(nodeID string) (interface{}, bool) {
	c.mu.Lock()
	v, ok := c.nodeOutputs[nodeID]
	c.mu.Unlock()
	if ok {
		return v, true
	}
	if c.parent != nil {
		return c.parent.NodeOutput(nodeID)
	}
	return nil, false
}

// MarkExecuted marks a node as visited in the current traversal
func (c *Context) MarkExecuted(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed[nodeID] = true
}

// WasExecuted reports whether a node was visited in the current traversal
func (c *Context) WasExecuted(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed[nodeID]
}

// ClearExecuted resets visited marks for the given nodes. Loop bodies use
// this to open a fresh execution frame per iteration.
func (c *Context) ClearExecuted(nodeIDs map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range nodeIDs {
		delete(c.executed, id)
	}
}

// NextEdges returns the outgoing edges to walk after a node completes.
// Explicit branch labels filter the edges; otherwise every outgoing edge is
// taken. Edges are returned in the flow's declared order.
func (c *Context) NextEdges(nodeID string, branches []string) []flow.Edge {
	edges := c.flow.OutgoingEdges(nodeID)
	if branches == nil {
		return edges
	}

	allowed := make(map[string]bool, len(branches))
	for _, b := range branches {
		allowed[b] = true
	}

	var filtered []flow.Edge
	for _, e := range edges {
		if allowed[e.Label] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// Flow returns the flow definition under execution
func (c *Context) Flow() *flow.Flow {
	return c.flow
}

// Scope returns the four-root lookup tree the resolver addresses:
// input, variables, nodes, and trigger. Child overlays shadow parent values.
func (c *Context) Scope() map[string]interface{} {
	root := c.root()

	vars := make(map[string]interface{})
	outputs := make(map[string]interface{})
	c.collectScope(vars, outputs)

	return map[string]interface{}{
		"input":     root.exec.Input,
		"variables": vars,
		"nodes":     outputs,
		"trigger":   root.exec.Trigger,
	}
}

// collectScope overlays variables and outputs from root to leaf so that
// child writes shadow parent values
func (c *Context) collectScope(vars, outputs map[string]interface{}) {
	if c.parent != nil {
		c.parent.collectScope(vars, outputs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.variables {
		vars[k] = v
	}
	for k, v := range c.nodeOutputs {
		outputs[k] = v
	}
}

// NewChild creates a branch-local context sharing read access to this
// context's state. Writes land in the child's overlay until MergeChild.
// The child inherits the parent's cancellation signal and gains its own
// cancel for losing-branch teardown.
func (c *Context) NewChild() *Context {
	ctx, cancel := context.WithCancelCause(c.Ctx())
	return &Context{
		exec:        c.root().exec,
		flow:        c.flow,
		variables:   make(map[string]interface{}),
		nodeOutputs: make(map[string]interface{}),
		executed:    make(map[string]bool),
		parent:      c,
		base:        ctx,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// MergeChild folds a child's overlay back into this context under an
// exclusive critical section: last-writer-wins on variable names, node
// outputs merged by node-id
func (c *Context) MergeChild(child *Context) {
	child.mu.Lock()
	vars := child.variables
	outputs := child.nodeOutputs
	child.variables = make(map[string]interface{})
	child.nodeOutputs = make(map[string]interface{})
	child.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range vars {
		c.variables[k] = v
	}
	for k, v := range outputs {
		c.nodeOutputs[k] = v
	}
}

// AppendRecord appends a node execution record atomically. Records always
// land on the root execution, regardless of which branch produced them.
func (c *Context) AppendRecord(rec NodeRecord) {
	root := c.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.exec.Records = append(root.exec.Records, rec)
}

// Records returns a copy of the node execution history
func (c *Context) Records() []NodeRecord {
	root := c.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	out := make([]NodeRecord, len(root.exec.Records))
	copy(out, root.exec.Records)
	return out
}

// CollectFinalOutput returns the union of variables plus the last successful
// output of every terminal node
func (c *Context) CollectFinalOutput() map[string]interface{} {
	vars := make(map[string]interface{})
	outputs := make(map[string]interface{})
	c.collectScope(vars, outputs)

	terminals := make(map[string]interface{})
	for _, n := range c.flow.TerminalNodes() {
		if out, ok := outputs[n.ID]; ok {
			terminals[n.ID] = out
		}
	}

	return map[string]interface{}{
		"variables": vars,
		"nodes":     terminals,
	}
}

// Complete transitions the execution to completed with a final output
func (c *Context) Complete(output map[string]interface{}) error {
	return c.finish(StatusCompleted, output, nil)
}

// Fail transitions the execution to failed with a final error
func (c *Context) Fail(err *flowerr.Error) error {
	return c.finish(StatusFailed, nil, err)
}

// Cancelled transitions the execution to cancelled; the final error is
// always of kind cancelled
func (c *Context) Cancelled(err *flowerr.Error) error {
	if err == nil || err.Kind != flowerr.KindCancelled {
		err = flowerr.Cancelled("execution cancelled")
	}
	return c.finish(StatusCancelled, nil, err)
}

// finish performs a monotonic transition into a terminal status and sets
// the end timestamp
func (c *Context) finish(status Status, output map[string]interface{}, ferr *flowerr.Error) error {
	root := c.root()
	root.mu.Lock()
	defer root.mu.Unlock()

	if root.exec.Status.rank() >= status.rank() && root.exec.Status.IsTerminal() {
		return fmt.Errorf("execution %s already terminal: %s", root.exec.ID, root.exec.Status)
	}

	now := time.Now()
	root.exec.Status = status
	root.exec.FinishedAt = &now
	root.exec.Output = output
	if ferr != nil {
		root.exec.Error = ferr.Message
		root.exec.ErrorKind = string(ferr.Kind)
	}

	if root.cancelDeadline != nil {
		root.cancelDeadline()
	}
	if root.cancel != nil {
		root.cancel(nil)
	}

	return nil
}

// Snapshot returns a copy of the execution record safe for persistence
// and event payloads
func (c *Context) Snapshot() *Execution {
	root := c.root()
	root.mu.Lock()
	defer root.mu.Unlock()

	snap := *root.exec
	snap.Records = make([]NodeRecord, len(root.exec.Records))
	copy(snap.Records, root.exec.Records)
	return &snap
}

// Execution returns the live execution record. Callers outside the engine
// should prefer Snapshot.
func (c *Context) Execution() *Execution {
	return c.root().exec
}

// ID returns the execution identifier
func (c *Context) ID() string {
	return c.root().exec.ID
}

// Status returns the current execution status
func (c *Context) Status() Status {
	root := c.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.exec.Status
}

// root walks up to the root context
func (c *Context) root() *Context {
	ctx := c
	for ctx.parent != nil {
		ctx = ctx.parent
	}
	return ctx
}

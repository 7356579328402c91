package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-ai/flowengine/engine/breaker"
	"github.com/tessera-ai/flowengine/engine/condition"
	"github.com/tessera-ai/flowengine/engine/dispatch"
	"github.com/tessera-ai/flowengine/engine/events"
	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/nodes"
	"github.com/tessera-ai/flowengine/engine/parallel"
	"github.com/tessera-ai/flowengine/engine/recovery"
	"github.com/tessera-ai/flowengine/engine/resolver"
	"github.com/tessera-ai/flowengine/engine/services"
	"github.com/tessera-ai/flowengine/engine/waiter"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// memoryStore is an in-memory execution store
type memoryStore struct {
	mu    sync.Mutex
	execs map[string]*execution.Execution
}

func newMemoryStore() *memoryStore {
	return &memoryStore{execs: make(map[string]*execution.Execution)}
}

func (s *memoryStore) Insert(ctx context.Context, exec *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[exec.ID] = exec
	return nil
}

func (s *memoryStore) Update(ctx context.Context, exec *execution.Execution) error {
	return s.Insert(ctx, exec)
}

func (s *memoryStore) GetByID(ctx context.Context, id string) (*execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, flowerr.Validation("execution %s not found", id)
	}
	return exec, nil
}

// recordingMessenger captures outbound sends
type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMessenger) Send(ctx context.Context, platform, recipient, content string, opts services.SendOptions) (*services.SendReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, platform+"|"+recipient+"|"+content)
	return &services.SendReceipt{MessageID: "m1", Platform: platform, Status: "sent"}, nil
}

func (m *recordingMessenger) SendRetryPrompt(ctx context.Context, waitID, text string) error {
	return nil
}

func (m *recordingMessenger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// scriptedAI returns canned responses per agent
type scriptedAI struct {
	replies map[string]string
}

func (s *scriptedAI) Query(ctx context.Context, agentID string, messages []services.AIMessage, opts services.AIOptions) (*services.AIResponse, error) {
	reply, ok := s.replies[agentID]
	if !ok {
		return nil, flowerr.Resource("unknown agent %s", agentID)
	}
	return &services.AIResponse{Content: reply, Model: "scripted"}, nil
}

// flakyExecutor fails failCount times before succeeding
type flakyExecutor struct {
	mu        sync.Mutex
	failCount int
	calls     int
}

func (f *flakyExecutor) Type() string                { return "flaky" }
func (f *flakyExecutor) Validate(flow.Node) []string { return nil }

func (f *flakyExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failCount {
		return executor.Fail(flowerr.External(true, "transient outage"))
	}
	return executor.Succeed(map[string]interface{}{"calls": f.calls})
}

// blockingExecutor parks until its context is cancelled
type blockingExecutor struct {
	started chan struct{}
}

func (b *blockingExecutor) Type() string                { return "block" }
func (b *blockingExecutor) Validate(flow.Node) []string { return nil }

func (b *blockingExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return executor.Fail(flowerr.Classify(context.Cause(ctx)))
}

type testHarness struct {
	engine    *Engine
	store     *memoryStore
	messenger *recordingMessenger
	events    <-chan events.Event
	coord     *waiter.Coordinator
	registry  *executor.Registry
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := nopLogger{}

	registry := executor.NewRegistry(logger)
	breakers := breaker.NewManager(breaker.DefaultOptions(), logger)
	evaluator := condition.NewEvaluator()
	messenger := &recordingMessenger{}
	bridge := dispatch.NewBridge(messenger, logger)
	coord := waiter.NewCoordinator(messenger, logger)
	ai := &scriptedAI{replies: map[string]string{"support": "how can I help?"}}

	registry.Register(nodes.NewTriggerExecutor())
	registry.Register(nodes.NewVariableExecutor())
	registry.Register(nodes.NewDelayExecutor())
	registry.Register(nodes.NewLogExecutor())
	registry.Register(nodes.NewConditionExecutor(evaluator))
	registry.Register(nodes.NewTransformExecutor())
	registry.Register(nodes.NewAIExecutor(ai, breakers))
	registry.Register(nodes.NewHTTPExecutor(breakers))
	registry.Register(nodes.NewWaitExecutor(coord, time.Minute, 1))
	for _, m := range nodes.MessageExecutors(bridge, breakers) {
		registry.Register(m)
	}

	broadcaster := events.NewBroadcaster()
	eventCh, cancelSub := broadcaster.Subscribe(256)
	t.Cleanup(cancelSub)

	store := newMemoryStore()
	eng := New(&Opts{
		Registry:  registry,
		Resolver:  resolver.New(logger),
		Recovery:  recovery.NewHandler(logger),
		Parallel:  parallel.NewManager(32, 256, logger),
		Waits:     coord,
		Condition: evaluator,
		Sink:      broadcaster,
		Store:     store,
		Logger:    logger,
	})

	return &testHarness{
		engine:    eng,
		store:     store,
		messenger: messenger,
		events:    eventCh,
		coord:     coord,
		registry:  registry,
	}
}

func TestLinearFlowWithInterpolation(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "onboarding",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "greet", Type: "set_variable", Config: map[string]interface{}{
				"name": "greeting", "value": "hello {{input.customer}}",
			}},
			{ID: "notify", Type: "send_whatsapp", Config: map[string]interface{}{
				"content": "{{variables.greeting}}", "to": "{{trigger.conversation_id}}",
			}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "greet"},
			{From: "greet", To: "notify"},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{
		OwnerID: "owner-1",
		Input:   map[string]interface{}{"customer": "ada"},
		Trigger: map[string]interface{}{"conversation_id": "conv-1", "channel": "whatsapp"},
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	sent := h.messenger.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "whatsapp|conv-1|hello ada", sent[0])

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, "hello ada", vars["greeting"])

	// start, greet, notify all recorded once
	assert.Len(t, exec.Records, 3)

	stored, err := h.store.GetByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, stored.Status)
}

func TestConditionRoutesBranches(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "routing",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "check", Type: "condition", Config: map[string]interface{}{
				"expression": `input.amount > 100.0`,
			}},
			{ID: "high", Type: "set_variable", Config: map[string]interface{}{"name": "tier", "value": "high"}},
			{ID: "low", Type: "set_variable", Config: map[string]interface{}{"name": "tier", "value": "low"}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "check"},
			{From: "check", To: "high", Label: flow.BranchTrue},
			{From: "check", To: "low", Label: flow.BranchFalse},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{
		Input: map[string]interface{}{"amount": 250.0},
	})
	require.NoError(t, err)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, "high", vars["tier"])

	for _, rec := range exec.Records {
		assert.NotEqual(t, "low", rec.NodeID, "false branch must not run")
	}
}

func TestRetryPolicyRecovers(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyExecutor{failCount: 2}
	h.registry.Register(flaky)

	f := &flow.Flow{
		ID: "retrying",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "unstable", Type: "flaky", Config: map[string]interface{}{
				"onError": map[string]interface{}{
					"strategy":   "retry",
					"maxRetries": float64(3),
					"backoffMs":  float64(1),
					"jitter":     false,
				},
			}},
		},
		Edges: []flow.Edge{{From: "start", To: "unstable"}},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)
	assert.Equal(t, 3, flaky.calls)

	// Two failed attempts recorded, then the success
	var failed, completed int
	for _, rec := range exec.Records {
		if rec.NodeID != "unstable" {
			continue
		}
		switch rec.Status {
		case execution.NodeFailed:
			failed++
		case execution.NodeCompleted:
			completed++
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, completed)
}

func TestRedirectPolicyTakesRecoveryPath(t *testing.T) {
	h := newHarness(t)
	h.registry.Register(&flakyExecutor{failCount: 99})

	f := &flow.Flow{
		ID: "redirecting",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "broken", Type: "flaky", Config: map[string]interface{}{
				"onError": map[string]interface{}{"strategy": "redirect", "redirectTo": "apologize"},
			}},
			{ID: "apologize", Type: "set_variable", Config: map[string]interface{}{"name": "handled", "value": true}},
		},
		Edges: []flow.Edge{{From: "start", To: "broken"}},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, true, vars["handled"])
}

func TestFallbackOutputContinues(t *testing.T) {
	h := newHarness(t)
	h.registry.Register(&flakyExecutor{failCount: 99})

	f := &flow.Flow{
		ID: "fallback",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "broken", Type: "flaky", Config: map[string]interface{}{
				"onError": map[string]interface{}{
					"strategy": "fallback_output",
					"output":   map[string]interface{}{"degraded": true},
				},
			}},
			{ID: "after", Type: "set_variable", Config: map[string]interface{}{
				"name": "mode", "value": "{{nodes.broken.degraded}}",
			}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "broken"},
			{From: "broken", To: "after"},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, true, vars["mode"])
}

func TestParallelAllMergesEveryBranch(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "fanout",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "split", Type: flow.NodeTypeParallel, Config: map[string]interface{}{"mode": "all"}},
			{ID: "a", Type: "set_variable", Config: map[string]interface{}{"name": "a", "value": 1.0}},
			{ID: "b", Type: "set_variable", Config: map[string]interface{}{"name": "b", "value": 2.0}},
			{ID: "after", Type: "log", Config: map[string]interface{}{"message": "joined"}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "split"},
			{From: "split", To: "a"},
			{From: "split", To: "b"},
			{From: "split", To: "after", Label: flow.BranchDone},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, 1.0, vars["a"])
	assert.Equal(t, 2.0, vars["b"])

	var joined bool
	for _, rec := range exec.Records {
		if rec.NodeID == "after" && rec.Status == execution.NodeCompleted {
			joined = true
		}
	}
	assert.True(t, joined, "done edge must run after the join")
}

func TestParallelFirstSuccessDiscardsLoser(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "race",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "split", Type: flow.NodeTypeParallel, Config: map[string]interface{}{"mode": "first_success"}},
			{ID: "fast", Type: "set_variable", Config: map[string]interface{}{"name": "winner", "value": "fast"}},
			{ID: "slow", Type: "delay", Config: map[string]interface{}{"durationMs": float64(300)}},
			{ID: "slow-set", Type: "set_variable", Config: map[string]interface{}{"name": "winner", "value": "slow"}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "split"},
			{From: "split", To: "fast"},
			{From: "split", To: "slow"},
			{From: "slow", To: "slow-set"},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, "fast", vars["winner"], "losing branch overlay must not merge")
}

func TestParallelAllFailureCancelsSiblings(t *testing.T) {
	h := newHarness(t)
	h.registry.Register(&flakyExecutor{failCount: 99})

	f := &flow.Flow{
		ID: "doomed-fanout",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "split", Type: flow.NodeTypeParallel, Config: map[string]interface{}{"mode": "all"}},
			{ID: "a-delay", Type: "delay", Config: map[string]interface{}{"durationMs": float64(400)}},
			{ID: "a-set", Type: "set_variable", Config: map[string]interface{}{"name": "a", "value": 1.0}},
			{ID: "b-delay", Type: "delay", Config: map[string]interface{}{"durationMs": float64(50)}},
			{ID: "broken", Type: "flaky"},
		},
		Edges: []flow.Edge{
			{From: "start", To: "split"},
			{From: "split", To: "a-delay"},
			{From: "split", To: "b-delay"},
			{From: "a-delay", To: "a-set"},
			{From: "b-delay", To: "broken"},
		},
	}

	started := time.Now()
	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	elapsed := time.Since(started)

	require.Error(t, err)
	require.Equal(t, execution.StatusFailed, exec.Status)
	assert.Less(t, elapsed, 300*time.Millisecond, "join must not wait out an aborted sibling")

	var delayCancelled bool
	for _, rec := range exec.Records {
		assert.NotEqual(t, "a-set", rec.NodeID, "aborted branch must not keep walking")
		if rec.NodeID == "a-delay" && rec.Status == execution.NodeCancelled {
			delayCancelled = true
		}
	}
	assert.True(t, delayCancelled, "sibling must be recorded as cancelled")
}

func TestParallelAllContinueOnErrorCompletes(t *testing.T) {
	h := newHarness(t)
	h.registry.Register(&flakyExecutor{failCount: 99})

	f := &flow.Flow{
		ID: "lenient-fanout",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "split", Type: flow.NodeTypeParallel, Config: map[string]interface{}{
				"mode": "all", "continueOnError": true,
			}},
			{ID: "ok", Type: "set_variable", Config: map[string]interface{}{"name": "ok", "value": 1.0}},
			{ID: "leak", Type: "set_variable", Config: map[string]interface{}{"name": "leak", "value": 1.0}},
			{ID: "broken", Type: "flaky"},
		},
		Edges: []flow.Edge{
			{From: "start", To: "split"},
			{From: "split", To: "ok"},
			{From: "split", To: "leak"},
			{From: "leak", To: "broken"},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, 1.0, vars["ok"])
	assert.NotContains(t, vars, "leak", "failed branch overlay must not merge")

	for _, rec := range exec.Records {
		if rec.NodeID == "split" {
			require.Equal(t, execution.NodeCompleted, rec.Status)
			out := rec.Output.(map[string]interface{})
			assert.Equal(t, 1, out["failed"])
		}
	}
}

func TestSkipStrategyExposesSkipOutput(t *testing.T) {
	h := newHarness(t)
	h.registry.Register(&flakyExecutor{failCount: 99})

	f := &flow.Flow{
		ID: "skipping",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "broken", Type: "flaky", Config: map[string]interface{}{
				"onError": map[string]interface{}{"strategy": "skip"},
			}},
			{ID: "after", Type: "set_variable", Config: map[string]interface{}{
				"name": "was_skipped", "value": "{{nodes.broken.skipped}}",
			}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "broken"},
			{From: "broken", To: "after"},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, true, vars["was_skipped"])

	for _, rec := range exec.Records {
		if rec.NodeID == "broken" {
			require.Equal(t, execution.NodeSkipped, rec.Status)
			out, ok := rec.Output.(map[string]interface{})
			require.True(t, ok, "skipped node must carry a synthetic output")
			assert.Equal(t, true, out["skipped"])
			assert.NotEmpty(t, out["reason"])
		}
	}
}

func TestLoopIteratesOverItems(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "batch",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "each", Type: flow.NodeTypeLoop, Config: map[string]interface{}{
				"items":   []interface{}{"a", "b", "c"},
				"itemVar": "current",
			}},
			{ID: "mark", Type: "set_variable", Config: map[string]interface{}{
				"name": "last", "value": "{{variables.current}}",
			}},
			{ID: "after", Type: "log", Config: map[string]interface{}{"message": "loop done"}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "each"},
			{From: "each", To: "mark", Label: flow.BranchBody},
			{From: "each", To: "after", Label: flow.BranchDone},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, "c", vars["last"])

	var bodyRuns int
	for _, rec := range exec.Records {
		if rec.NodeID == "mark" && rec.Status == execution.NodeCompleted {
			bodyRuns++
		}
	}
	assert.Equal(t, 3, bodyRuns)
}

func TestWaitForReplyRoundTrip(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "confirm",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "ask", Type: "send_telegram", Config: map[string]interface{}{"content": "confirm?"}},
			{ID: "wait", Type: "wait_reply", Config: map[string]interface{}{
				"match": "exact", "pattern": "yes", "timeoutMs": float64(5000),
			}},
			{ID: "confirmed", Type: "set_variable", Config: map[string]interface{}{"name": "ok", "value": true}},
			{ID: "expired", Type: "set_variable", Config: map[string]interface{}{"name": "ok", "value": false}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "ask"},
			{From: "ask", To: "wait"},
			{From: "wait", To: "confirmed", Label: flow.BranchReply},
			{From: "wait", To: "expired", Label: flow.BranchTimeout},
		},
	}

	type runResult struct {
		exec *execution.Execution
		err  error
	}
	done := make(chan runResult, 1)
	go func() {
		exec, err := h.engine.Execute(context.Background(), f, execution.Options{
			OwnerID: "owner-1",
			Trigger: map[string]interface{}{"channel": "telegram", "conversation_id": "conv-1"},
		})
		done <- runResult{exec, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.coord.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, h.coord.Pending(), "wait never registered")

	consumed := h.engine.DeliverInbound(context.Background(), &services.InboundMessage{
		Channel:        "telegram",
		ConversationID: "conv-1",
		Content:        "yes",
		Timestamp:      time.Now(),
	})
	assert.True(t, consumed)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		vars := res.exec.Output["variables"].(map[string]interface{})
		assert.Equal(t, true, vars["ok"])
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not finish after reply")
	}
}

func TestCancelMidExecution(t *testing.T) {
	h := newHarness(t)
	blocker := &blockingExecutor{started: make(chan struct{}, 1)}
	h.registry.Register(blocker)

	f := &flow.Flow{
		ID: "cancellable",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "park", Type: "block"},
			{ID: "never", Type: "log", Config: map[string]interface{}{"message": "unreachable"}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "park"},
			{From: "park", To: "never"},
		},
	}

	type runResult struct {
		exec *execution.Execution
		err  error
	}
	done := make(chan runResult, 1)
	go func() {
		exec, err := h.engine.Execute(context.Background(), f, execution.Options{OwnerID: "owner-1"})
		done <- runResult{exec, err}
	}()

	select {
	case <-blocker.started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking node never started")
	}

	active := h.engine.ListActive()
	require.Len(t, active, 1)
	require.NoError(t, h.engine.Cancel(active[0], "operator request"))

	select {
	case res := <-done:
		require.Error(t, res.err)
		assert.Equal(t, execution.StatusCancelled, res.exec.Status)
		assert.Equal(t, string(flowerr.KindCancelled), res.exec.ErrorKind)

		for _, rec := range res.exec.Records {
			assert.NotEqual(t, "never", rec.NodeID, "downstream node must not run after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("execution did not unwind after cancel")
	}

	assert.Empty(t, h.engine.ListActive())
}

func TestUnknownNodeTypeSkipped(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "forward-compat",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "exotic", Type: "quantum_entangle"},
			{ID: "after", Type: "set_variable", Config: map[string]interface{}{"name": "done", "value": true}},
		},
		Edges: []flow.Edge{
			{From: "start", To: "exotic"},
			{From: "exotic", To: "after"},
		},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusCompleted, exec.Status)

	var skipped bool
	for _, rec := range exec.Records {
		if rec.NodeID == "exotic" && rec.Status == execution.NodeSkipped {
			skipped = true
		}
	}
	assert.True(t, skipped, "unknown node must be recorded as skipped")

	vars := exec.Output["variables"].(map[string]interface{})
	assert.Equal(t, true, vars["done"])
}

func TestExecutionTimeoutFailsWithTimeoutKind(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "slow",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "nap", Type: "delay", Config: map[string]interface{}{"durationMs": float64(5000)}},
		},
		Edges: []flow.Edge{{From: "start", To: "nap"}},
	}

	exec, err := h.engine.Execute(context.Background(), f, execution.Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, execution.StatusFailed, exec.Status)
	assert.Equal(t, string(flowerr.KindTimeout), exec.ErrorKind)
}

func TestPreflightRejectsInvalidNodeConfig(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "invalid",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "check", Type: "condition"}, // missing expression
		},
		Edges: []flow.Edge{{From: "start", To: "check"}},
	}

	_, err := h.engine.Execute(context.Background(), f, execution.Options{})
	require.Error(t, err)
	assert.Equal(t, flowerr.KindValidation, flowerr.KindOf(err))
}

func TestLifecycleEventsEmitted(t *testing.T) {
	h := newHarness(t)

	f := &flow.Flow{
		ID: "observed",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "note", Type: "log", Config: map[string]interface{}{"message": "hi"}},
		},
		Edges: []flow.Edge{{From: "start", To: "note"}},
	}

	_, err := h.engine.Execute(context.Background(), f, execution.Options{OwnerID: "owner-1"})
	require.NoError(t, err)

	seen := make(map[string]bool)
	timeout := time.After(time.Second)
	for !seen[events.TypeExecutionCompleted] {
		select {
		case ev := <-h.events:
			seen[ev.Type] = true
		case <-timeout:
			t.Fatalf("missing completion event, saw %v", seen)
		}
	}
	assert.True(t, seen[events.TypeExecutionStarted])
	assert.True(t, seen[events.TypeNodeStarted])
	assert.True(t, seen[events.TypeNodeCompleted])
}

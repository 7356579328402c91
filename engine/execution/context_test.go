package execution

import (
	"context"
	"testing"
	"time"

	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

func startedContext(t *testing.T, opts Options) *Context {
	t.Helper()
	f := &flow.Flow{
		ID: "f1",
		Nodes: []flow.Node{
			{ID: "start", Type: "trigger"},
			{ID: "check", Type: "condition"},
			{ID: "yes", Type: "log"},
			{ID: "no", Type: "log"},
		},
		Edges: []flow.Edge{
			{From: "start", To: "check"},
			{From: "check", To: "yes", Label: flow.BranchTrue},
			{From: "check", To: "no", Label: flow.BranchFalse},
		},
	}
	ec := NewContext(context.Background(), f, opts)
	if err := ec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return ec
}

func TestStartIsSingleShot(t *testing.T) {
	ec := startedContext(t, Options{})
	if err := ec.Start(); err == nil {
		t.Error("second Start should fail")
	}
	if ec.Status() != StatusRunning {
		t.Errorf("status = %s, want running", ec.Status())
	}
}

func TestScopeExposesFourRoots(t *testing.T) {
	ec := startedContext(t, Options{
		Input:   map[string]interface{}{"customer": "ada"},
		Trigger: map[string]interface{}{"conversation_id": "conv-1"},
	})
	ec.SetVariable("greeting", "hello")
	ec.SetNodeOutput("check", map[string]interface{}{"result": true})

	scope := ec.Scope()
	input := scope["input"].(map[string]interface{})
	if input["customer"] != "ada" {
		t.Errorf("input = %v", input)
	}
	vars := scope["variables"].(map[string]interface{})
	if vars["greeting"] != "hello" {
		t.Errorf("variables = %v", vars)
	}
	nodes := scope["nodes"].(map[string]interface{})
	if nodes["check"] == nil {
		t.Errorf("nodes = %v", nodes)
	}
	trigger := scope["trigger"].(map[string]interface{})
	if trigger["conversation_id"] != "conv-1" {
		t.Errorf("trigger = %v", trigger)
	}
}

func TestChildOverlayShadowsAndMerges(t *testing.T) {
	ec := startedContext(t, Options{})
	ec.SetVariable("count", 1)

	child := ec.NewChild()
	child.SetVariable("count", 2)
	child.SetNodeOutput("yes", "branch output")

	// Child sees its own write, parent still sees the original
	if v, _ := child.Variable("count"); v != 2 {
		t.Errorf("child count = %v", v)
	}
	if v, _ := ec.Variable("count"); v != 1 {
		t.Errorf("parent count before merge = %v", v)
	}

	ec.MergeChild(child)
	if v, _ := ec.Variable("count"); v != 2 {
		t.Errorf("parent count after merge = %v", v)
	}
	if out, ok := ec.NodeOutput("yes"); !ok || out != "branch output" {
		t.Errorf("merged output = %v", out)
	}
}

func TestRecordsAlwaysLandOnRoot(t *testing.T) {
	ec := startedContext(t, Options{})
	child := ec.NewChild()
	child.AppendRecord(NodeRecord{NodeID: "yes", Status: NodeCompleted})

	records := ec.Records()
	if len(records) != 1 || records[0].NodeID != "yes" {
		t.Errorf("records = %v", records)
	}
}

func TestNextEdgesFiltersByBranch(t *testing.T) {
	ec := startedContext(t, Options{})

	all := ec.NextEdges("check", nil)
	if len(all) != 2 {
		t.Fatalf("nil filter returned %d edges", len(all))
	}

	trueOnly := ec.NextEdges("check", []string{flow.BranchTrue})
	if len(trueOnly) != 1 || trueOnly[0].To != "yes" {
		t.Errorf("true branch = %v", trueOnly)
	}

	unlabeled := ec.NextEdges("start", []string{""})
	if len(unlabeled) != 1 || unlabeled[0].To != "check" {
		t.Errorf("unlabeled branch = %v", unlabeled)
	}
}

func TestAbortClassifiesCause(t *testing.T) {
	ec := startedContext(t, Options{})
	ec.Abort(flowerr.Cancelled("operator request"))

	select {
	case <-ec.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}

	err := ec.Err()
	if err == nil || err.Kind != flowerr.KindCancelled {
		t.Errorf("err = %v", err)
	}
}

func TestDeadlineCheck(t *testing.T) {
	ec := startedContext(t, Options{Timeout: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	err := ec.CheckDeadline()
	if err == nil || err.Kind != flowerr.KindTimeout {
		t.Errorf("deadline err = %v", err)
	}
}

func TestTerminalTransitionIsMonotonic(t *testing.T) {
	ec := startedContext(t, Options{})
	if err := ec.Complete(map[string]interface{}{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := ec.Fail(flowerr.Timeout("too late")); err == nil {
		t.Error("Fail after Complete should be rejected")
	}
	if ec.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", ec.Status())
	}
}

func TestCollectFinalOutputUsesTerminalNodes(t *testing.T) {
	ec := startedContext(t, Options{})
	ec.SetVariable("greeting", "hello")
	ec.SetNodeOutput("check", map[string]interface{}{"result": true})
	ec.SetNodeOutput("yes", "done")

	out := ec.CollectFinalOutput()
	vars := out["variables"].(map[string]interface{})
	if vars["greeting"] != "hello" {
		t.Errorf("variables = %v", vars)
	}
	nodes := out["nodes"].(map[string]interface{})
	if nodes["yes"] != "done" {
		t.Errorf("terminal outputs = %v", nodes)
	}
	if _, ok := nodes["check"]; ok {
		t.Error("non-terminal node leaked into final output")
	}
}

func TestClearExecutedReopensFrame(t *testing.T) {
	ec := startedContext(t, Options{})
	ec.MarkExecuted("yes")
	if !ec.WasExecuted("yes") {
		t.Fatal("mark not visible")
	}
	ec.ClearExecuted(map[string]bool{"yes": true})
	if ec.WasExecuted("yes") {
		t.Error("clear did not reset the frame")
	}
}

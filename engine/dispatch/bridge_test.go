package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/tessera-ai/flowengine/engine/flowerr"
	"github.com/tessera-ai/flowengine/engine/services"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeMessenger fails delivery to recipients listed in failFor
type fakeMessenger struct {
	sent    []string
	failFor map[string]bool
}

func (f *fakeMessenger) Send(ctx context.Context, platform, recipient, content string, opts services.SendOptions) (*services.SendReceipt, error) {
	if f.failFor[recipient] {
		return nil, errors.New("gateway rejected message")
	}
	f.sent = append(f.sent, recipient)
	return &services.SendReceipt{MessageID: "m-" + recipient, Platform: platform, Status: "sent"}, nil
}

func (f *fakeMessenger) SendRetryPrompt(ctx context.Context, waitID, text string) error {
	return nil
}

func scopeWithTrigger(trigger map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"trigger":   trigger,
		"variables": map[string]interface{}{},
	}
}

func TestDispatchReplyMode(t *testing.T) {
	m := &fakeMessenger{}
	b := NewBridge(m, nopLogger{})

	scope := scopeWithTrigger(map[string]interface{}{
		"conversation_id": "conv-9",
		"sender":          "user-1",
	})

	res, err := b.Dispatch(context.Background(), Target{Mode: TargetReply, Platform: "whatsapp"}, "hello", services.SendOptions{}, scope)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Sent != 1 || len(m.sent) != 1 || m.sent[0] != "conv-9" {
		t.Errorf("reply should go to the conversation, sent=%v", m.sent)
	}
}

func TestDispatchReplyWithoutTrigger(t *testing.T) {
	b := NewBridge(&fakeMessenger{}, nopLogger{})

	_, err := b.Dispatch(context.Background(), Target{Mode: TargetReply, Platform: "whatsapp"}, "hello", services.SendOptions{}, map[string]interface{}{})
	if flowerr.KindOf(err) != flowerr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDispatchSpecificFailsFast(t *testing.T) {
	m := &fakeMessenger{failFor: map[string]bool{"b": true}}
	b := NewBridge(m, nopLogger{})

	target := Target{Mode: TargetSpecific, Platform: "email", Recipients: []string{"a", "b", "c"}}
	res, err := b.Dispatch(context.Background(), target, "hi", services.SendOptions{}, map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error on first failed recipient")
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("sent=%d failed=%d, want 1/1", res.Sent, res.Failed)
	}
	if len(m.sent) != 1 {
		t.Errorf("delivery should stop at first failure, sent=%v", m.sent)
	}
}

func TestDispatchVariableMode(t *testing.T) {
	m := &fakeMessenger{}
	b := NewBridge(m, nopLogger{})

	scope := map[string]interface{}{
		"variables": map[string]interface{}{
			"approvers": []interface{}{"lead@x.io", "cto@x.io"},
		},
	}

	res, err := b.Dispatch(context.Background(), Target{Mode: TargetVariable, Platform: "email", Variable: "approvers"}, "review please", services.SendOptions{}, scope)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Sent != 2 {
		t.Errorf("sent = %d, want 2", res.Sent)
	}
}

func TestDispatchVariableMissing(t *testing.T) {
	b := NewBridge(&fakeMessenger{}, nopLogger{})

	_, err := b.Dispatch(context.Background(), Target{Mode: TargetVariable, Platform: "email", Variable: "nobody"}, "x", services.SendOptions{}, map[string]interface{}{})
	if flowerr.KindOf(err) != flowerr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDispatchBroadcastPartialFailure(t *testing.T) {
	m := &fakeMessenger{failFor: map[string]bool{"b": true}}
	b := NewBridge(m, nopLogger{})

	target := Target{Mode: TargetBroadcast, Platform: "telegram", Recipients: []string{"a", "b", "c"}}
	res, err := b.Dispatch(context.Background(), target, "fanout", services.SendOptions{}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("partial broadcast must not error: %v", err)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Errorf("sent=%d failed=%d, want 2/1", res.Sent, res.Failed)
	}
	if len(res.Recipients) != 3 {
		t.Errorf("per-recipient results = %d, want 3", len(res.Recipients))
	}
}

func TestDispatchBroadcastTotalFailure(t *testing.T) {
	m := &fakeMessenger{failFor: map[string]bool{"a": true, "b": true}}
	b := NewBridge(m, nopLogger{})

	target := Target{Mode: TargetBroadcast, Platform: "telegram", Recipients: []string{"a", "b"}}
	_, err := b.Dispatch(context.Background(), target, "fanout", services.SendOptions{}, map[string]interface{}{})
	if err == nil {
		t.Fatal("wholly failed broadcast must error")
	}
	if !flowerr.IsRecoverable(err) {
		t.Error("wholly failed broadcast should be recoverable")
	}
}

func TestDispatchNoRecipients(t *testing.T) {
	b := NewBridge(&fakeMessenger{}, nopLogger{})

	_, err := b.Dispatch(context.Background(), Target{Mode: TargetSpecific, Platform: "email"}, "x", services.SendOptions{}, map[string]interface{}{})
	if flowerr.KindOf(err) != flowerr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

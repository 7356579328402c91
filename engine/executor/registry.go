package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tessera-ai/flowengine/engine/flow"
)

// aliases maps legacy flat node types onto their compound registrations.
// Flows authored against older builders keep working without migration.
var aliases = map[string]string{
	"ai_response":   "ai:chatCompletion",
	"send_whatsapp": "messaging:sendWhatsApp",
	"send_telegram": "messaging:sendTelegram",
	"send_email":    "messaging:sendEmail",
	"wait_reply":    "wait:forReply",
	"set_variable":  "variable:set",
	"http_request":  "http:request",
}

// Registry maps node types to executors. Lookup tries the literal type
// first, then the compound "type:subtype" form, then the legacy alias
// table. Registration is expected at startup; lookup is read-mostly.
type Registry struct {
	executors map[string]NodeExecutor
	mu        sync.RWMutex
	logger    Logger
}

// NewRegistry creates an empty node registry
func NewRegistry(logger Logger) *Registry {
	return &Registry{
		executors: make(map[string]NodeExecutor),
		logger:    logger,
	}
}

// Register adds an executor under its declared type. Re-registering a type
// replaces the previous executor.
func (r *Registry) Register(exec NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := exec.Type()
	if _, exists := r.executors[key]; exists {
		r.logger.Warn("replacing node executor", "type", key)
	}
	r.executors[key] = exec
}

// Lookup finds the executor for a node. The boolean is false when no
// registration matches under any resolution rule.
func (r *Registry) Lookup(node flow.Node) (NodeExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if exec, ok := r.executors[node.Type]; ok {
		return exec, true
	}
	if node.Subtype != "" {
		if exec, ok := r.executors[node.Type+":"+node.Subtype]; ok {
			return exec, true
		}
	}
	if target, ok := aliases[node.Type]; ok {
		if exec, ok := r.executors[target]; ok {
			return exec, true
		}
	}
	return nil, false
}

// MustLookup is Lookup with an error for callers that treat a missing
// executor as a configuration fault rather than a skippable node
func (r *Registry) MustLookup(node flow.Node) (NodeExecutor, error) {
	exec, ok := r.Lookup(node)
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q (subtype %q)", node.Type, node.Subtype)
	}
	return exec, nil
}

// Types returns the registered type keys in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for key := range r.executors {
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}

// IsTrigger reports whether a node type denotes an entry point
func IsTrigger(node flow.Node) bool {
	return node.Type == flow.NodeTypeTrigger || node.Type == "webhook_trigger" || node.Type == "schedule_trigger"
}

// SkipResult builds the success result recorded for a node whose type has
// no executor: the walk continues past it with a reason in the output
func SkipResult(node flow.Node) *NodeResult {
	return &NodeResult{
		Success:  true,
		Continue: true,
		Output: map[string]interface{}{
			"skipped": true,
			"reason":  fmt.Sprintf("unknown node type %q", node.Type),
		},
	}
}

package nodes

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// TransformExecutor reshapes a resolved value with a JSON patch or merge
// patch and exposes the result as its node output
type TransformExecutor struct{}

// NewTransformExecutor creates the transform executor
func NewTransformExecutor() *TransformExecutor { return &TransformExecutor{} }

func (e *TransformExecutor) Type() string { return "transform" }

func (e *TransformExecutor) Validate(node flow.Node) []string {
	_, hasPatch := node.Config["patch"]
	_, hasMerge := node.Config["merge"]
	if !hasPatch && !hasMerge {
		return []string{"transform node requires a patch or a merge document"}
	}
	return nil
}

func (e *TransformExecutor) Execute(ctx context.Context, nc *executor.NodeContext) *executor.NodeResult {
	source := nc.Data["value"]
	if source == nil {
		source = map[string]interface{}{}
	}
	doc, err := json.Marshal(source)
	if err != nil {
		return executor.Fail(flowerr.Validation("transform source is not serializable: %v", err).WithNode(nc.Node.ID))
	}

	if rawPatch, ok := nc.Data["patch"]; ok {
		doc, err = applyPatch(doc, rawPatch)
	} else {
		doc, err = applyMerge(doc, nc.Data["merge"])
	}
	if err != nil {
		return executor.Fail(flowerr.Validation("transform failed: %v", err).WithNode(nc.Node.ID))
	}

	var out interface{}
	if err := json.Unmarshal(doc, &out); err != nil {
		return executor.Fail(flowerr.Validation("transform produced invalid JSON: %v", err).WithNode(nc.Node.ID))
	}

	result := executor.Succeed(out)
	if name, _ := nc.Data["outputVariable"].(string); name != "" {
		result = result.WithVariables(map[string]interface{}{name: out})
	}
	return result
}

// applyPatch applies an RFC 6902 operation list
func applyPatch(doc []byte, rawPatch interface{}) ([]byte, error) {
	encoded, err := json.Marshal(rawPatch)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(encoded)
	if err != nil {
		return nil, err
	}
	return patch.Apply(doc)
}

// applyMerge applies an RFC 7386 merge patch
func applyMerge(doc []byte, rawMerge interface{}) ([]byte, error) {
	encoded, err := json.Marshal(rawMerge)
	if err != nil {
		return nil, err
	}
	return jsonpatch.MergePatch(doc, encoded)
}

package resolver

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasttemplate"
)

// Template delimiters for variable references
const (
	startTag = "{{"
	endTag   = "}}"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Resolver substitutes {{path.to.value}} references in node configuration
// against a lookup scope. Path lookup supports dot notation and numeric
// indices for ordered sequences. The resolver never executes code.
type Resolver struct {
	logger Logger
}

// New creates a new variable resolver
func New(logger Logger) *Resolver {
	return &Resolver{logger: logger}
}

// ResolveConfig resolves all variable references in a config map
func (r *Resolver) ResolveConfig(config map[string]interface{}, scope map[string]interface{}) map[string]interface{} {
	if len(config) == 0 {
		return map[string]interface{}{}
	}

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		r.logger.Error("failed to marshal scope", "error", err)
		scopeJSON = []byte("{}")
	}

	resolved := make(map[string]interface{}, len(config))
	for key, value := range config {
		resolved[key] = r.resolveValue(value, scopeJSON)
	}
	return resolved
}

// Resolve resolves a single value (string, map, list or primitive)
func (r *Resolver) Resolve(value interface{}, scope map[string]interface{}) interface{} {
	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		r.logger.Error("failed to marshal scope", "error", err)
		scopeJSON = []byte("{}")
	}
	return r.resolveValue(value, scopeJSON)
}

// resolveValue recursively resolves a value against the serialized scope
func (r *Resolver) resolveValue(value interface{}, scopeJSON []byte) interface{} {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, scopeJSON)
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for key, item := range v {
			resolved[key] = r.resolveValue(item, scopeJSON)
		}
		return resolved
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, item := range v {
			resolved[i] = r.resolveValue(item, scopeJSON)
		}
		return resolved
	default:
		// Primitives (numbers, bools, nil) pass through
		return value
	}
}

// resolveString handles the two substitution modes: a whole-token reference
// returns the raw leaf value (possibly a map or list); anything else is
// treated as text interpolation with stringified leaves.
func (r *Resolver) resolveString(s string, scopeJSON []byte) interface{} {
	if !strings.Contains(s, startTag) {
		return s
	}

	if path, ok := wholeToken(s); ok {
		result := gjson.GetBytes(scopeJSON, path)
		if !result.Exists() {
			return nil
		}
		return result.Value()
	}

	t, err := fasttemplate.NewTemplate(s, startTag, endTag)
	if err != nil {
		// Unbalanced delimiters: leave the text as-is
		r.logger.Warn("unparseable template, leaving unresolved", "value", s)
		return s
	}

	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		result := gjson.GetBytes(scopeJSON, strings.TrimSpace(tag))
		if !result.Exists() {
			return 0, nil
		}
		return w.Write([]byte(stringify(result)))
	})
}

// wholeToken reports whether s is exactly one {{path}} reference
func wholeToken(s string) (string, bool) {
	if !strings.HasPrefix(s, startTag) || !strings.HasSuffix(s, endTag) {
		return "", false
	}
	inner := s[len(startTag) : len(s)-len(endTag)]
	if strings.Contains(inner, startTag) || strings.Contains(inner, endTag) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// stringify renders a gjson result for text substitution: scalars as their
// natural text, objects and arrays as compact JSON
func stringify(result gjson.Result) string {
	switch result.Type {
	case gjson.String:
		return result.Str
	case gjson.JSON:
		return result.Raw
	default:
		return result.String()
	}
}

// Package tool is the Tool ABI: a registry mapping tool name to
// {argument schema, handler}, built once at startup.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Definition is the stable contract a tool exposes to the LLM Gateway.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// Result is what every handler returns. Tool errors are returned here with
// IsError=true, not as a Go error, so ToolUsage and EditConflict failures
// surface as tool_result blocks the model can recover from.
type Result struct {
	Output  string
	IsError bool
}

func Ok(output string) Result       { return Result{Output: output} }
func Err(message string) Result     { return Result{Output: message, IsError: true} }
func Errf(format string, a ...any) Result { return Err(fmt.Sprintf(format, a...)) }

// Handler executes one tool call. Input is the raw tool_use.input map.
type Handler func(ctx context.Context, input map[string]interface{}) Result

// Tool pairs a Definition with its Handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Registry is the name -> {schema, handler} map built once at startup,
// in place of a big switch statement over tool names.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition.Name] = t
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the subset of registered tools named, in the order
// requested, for building one phase's available-tools list.
func (r *Registry) Definitions(names ...string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t.Definition)
		}
	}
	return out
}

// Execute looks up a tool by name and invokes it; an unknown name is
// rejected with a ToolUsage-flavored error result before any handler runs.
func (r *Registry) Execute(ctx context.Context, name string, rawInput map[string]interface{}) Result {
	t, ok := r.Lookup(name)
	if !ok {
		return Err(fmt.Sprintf("unknown tool %q", name))
	}
	return t.Handler(ctx, rawInput)
}

// StringArg / OptStringArg are small helpers every builtin handler uses to
// pull typed fields out of the untyped input map.
func StringArg(input map[string]interface{}, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func OptStringArg(input map[string]interface{}, key, def string) string {
	v, ok := input[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func OptIntArg(input map[string]interface{}, key string, def int) int {
	v, ok := input[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return def
		}
		return int(i)
	default:
		return def
	}
}

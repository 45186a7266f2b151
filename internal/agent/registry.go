// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound marks a tool call naming a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments marks a tool call whose arguments are not a valid
	// JSON object or do not fit the tool's parameters.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ToolHandler executes a tool. args is always a JSON object. The returned
// value is JSON-serialized into the tool-role message.
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool binds a descriptor to its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     ToolHandler
}

// Definition returns the descriptor offered to the model.
func (t *Tool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Registry is the closed set of tools available to conversations. All
// registration happens at startup; once frozen it is read-only and safe to
// share between concurrent conversations.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	frozen bool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. It must not be called once the registry is frozen
// or while conversations are running.
func (r *Registry) Register(t *Tool) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	if t == nil || t.Handler == nil {
		return fmt.Errorf("tool must have a handler")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is empty")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions lists tool descriptors in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// DispatchResult is the outcome of one tool call. Content is always a JSON
// document suitable for the tool-role message; Err is non-nil when the call
// did not succeed and can be matched against ErrToolNotFound and
// ErrInvalidArguments.
type DispatchResult struct {
	Content string
	Err     error
}

// Dispatch resolves call against the registry, checks its arguments and
// runs the handler. Failures never escape as panics or returned errors;
// they are folded into an {"error": ...} payload for the model.
func (r *Registry) Dispatch(ctx context.Context, call ToolCall) (res DispatchResult) {
	tool, ok := r.Lookup(call.Name)
	if !ok {
		return failed(fmt.Errorf("%w: %s", ErrToolNotFound, call.Name))
	}

	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &obj); err != nil {
		return failed(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	if obj == nil {
		return failed(fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArguments))
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = failed(fmt.Errorf("tool %s panicked: %v", call.Name, rec))
		}
	}()

	out, err := tool.Handler(ctx, json.RawMessage(args))
	if err != nil {
		return failed(err)
	}

	content, err := json.Marshal(out)
	if err != nil {
		return failed(fmt.Errorf("encode %s result: %w", call.Name, err))
	}
	return DispatchResult{Content: string(content)}
}

func failed(err error) DispatchResult {
	content, _ := json.Marshal(map[string]string{"error": err.Error()})
	return DispatchResult{Content: string(content), Err: err}
}

// TypedHandler adapts fn to a ToolHandler by decoding the arguments into T.
// Unknown fields and type mismatches are reported as ErrInvalidArguments.
func TypedHandler[T any](fn func(ctx context.Context, args T) (interface{}, error)) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args T
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return fn(ctx, args)
	}
}

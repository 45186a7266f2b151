// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type echoArgs struct {
	Text string `json:"text"`
}

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo text back",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
		},
		Handler: TypedHandler(func(_ context.Context, args echoArgs) (interface{}, error) {
			return map[string]string{"echo": args.Text}, nil
		}),
	}
}

func TestRegistry_Register(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := reg.Register(echoTool()); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := reg.Register(&Tool{Name: "nohandler"}); err == nil {
		t.Error("Expected registration without handler to fail")
	}
	if err := reg.Register(&Tool{Name: " ", Handler: echoTool().Handler}); err == nil {
		t.Error("Expected registration with blank name to fail")
	}

	bare := &Tool{Name: "bare", Handler: echoTool().Handler}
	if err := reg.Register(bare); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if bare.Parameters["type"] != "object" {
		t.Errorf("Expected default object schema, got %v", bare.Parameters)
	}

	reg.Freeze()
	if err := reg.Register(&Tool{Name: "late", Handler: echoTool().Handler}); err == nil {
		t.Error("Expected registration on frozen registry to fail")
	}
}

func TestRegistry_DefinitionsInOrder(t *testing.T) {
	reg, _ := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if err := reg.Register(&Tool{Name: name, Handler: echoTool().Handler}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("Expected 3 definitions, got %d", len(defs))
	}
	if got := strings.Join(reg.Names(), ","); got != "b,a,c" {
		t.Errorf("Expected registration order b,a,c, got %s", got)
	}
	if defs[0].Name != "b" {
		t.Errorf("Expected first definition 'b', got '%s'", defs[0].Name)
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	reg, _ := NewRegistry(echoTool())
	ctx := context.Background()

	res := reg.Dispatch(ctx, ToolCall{ID: "1", Name: "echo", Arguments: `{"text":"hi"}`})
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if res.Content != `{"echo":"hi"}` {
		t.Errorf("Expected {\"echo\":\"hi\"}, got %s", res.Content)
	}

	res = reg.Dispatch(ctx, ToolCall{ID: "2", Name: "echo", Arguments: ""})
	if res.Err != nil {
		t.Errorf("Expected empty arguments to be treated as {}, got %v", res.Err)
	}
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	reg, _ := NewRegistry(echoTool())

	res := reg.Dispatch(context.Background(), ToolCall{ID: "1", Name: "missing", Arguments: "{}"})
	if !errors.Is(res.Err, ErrToolNotFound) {
		t.Fatalf("Expected ErrToolNotFound, got %v", res.Err)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("Expected JSON content, got %s", res.Content)
	}
	if !strings.Contains(payload["error"], "missing") {
		t.Errorf("Expected error naming the tool, got %q", payload["error"])
	}
}

func TestRegistry_DispatchInvalidArguments(t *testing.T) {
	reg, _ := NewRegistry(echoTool())
	ctx := context.Background()

	cases := []string{`{not json`, `[1,2]`, `"text"`, `null`, `{"text":5}`, `{"other":"x"}`}
	for _, args := range cases {
		res := reg.Dispatch(ctx, ToolCall{ID: "1", Name: "echo", Arguments: args})
		if !errors.Is(res.Err, ErrInvalidArguments) {
			t.Errorf("Arguments %s: expected ErrInvalidArguments, got %v", args, res.Err)
		}
		if !strings.HasPrefix(res.Content, `{"error":`) {
			t.Errorf("Arguments %s: expected error payload, got %s", args, res.Content)
		}
	}
}

func TestRegistry_DispatchRecoversPanic(t *testing.T) {
	reg, _ := NewRegistry(&Tool{
		Name: "boom",
		Handler: func(context.Context, json.RawMessage) (interface{}, error) {
			panic("kaboom")
		},
	})

	res := reg.Dispatch(context.Background(), ToolCall{ID: "1", Name: "boom"})
	if res.Err == nil {
		t.Fatal("Expected error from panicking handler")
	}
	if !strings.Contains(res.Content, "kaboom") {
		t.Errorf("Expected panic value in content, got %s", res.Content)
	}
}

func TestRegistry_DispatchHandlerError(t *testing.T) {
	reg, _ := NewRegistry(&Tool{
		Name: "fail",
		Handler: func(context.Context, json.RawMessage) (interface{}, error) {
			return nil, errors.New("backend down")
		},
	})

	res := reg.Dispatch(context.Background(), ToolCall{ID: "1", Name: "fail"})
	if res.Content != `{"error":"backend down"}` {
		t.Errorf("Expected error payload, got %s", res.Content)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg, _ := NewRegistry(echoTool())

	tool, ok := reg.Lookup("echo")
	if !ok || tool.Name != "echo" {
		t.Errorf("Expected echo tool, got %v (ok=%v)", tool, ok)
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Expected lookup of unknown tool to fail")
	}
}

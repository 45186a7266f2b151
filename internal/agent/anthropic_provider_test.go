// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

// personaToolDefinitions mirrors the descriptors the side-effect tools publish.
func personaToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "record_user_details",
			Description: "Record that a visitor wants to stay in touch",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"email": map[string]interface{}{"type": "string"},
					"name":  map[string]interface{}{"type": "string"},
					"notes": map[string]interface{}{"type": "string"},
				},
				"required": []string{"email"},
			},
		},
		{
			Name:        "record_unknown_question",
			Description: "Record a question that could not be answered",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{"type": "string"},
				},
				// Decoded from JSON config, required arrives as []interface{}.
				"required": []interface{}{"question"},
			},
		},
		{
			Name:        "list_openings",
			Description: "MCP-provided tool without arguments",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

func TestToAnthropicTools(t *testing.T) {
	result := toAnthropicTools(personaToolDefinitions())
	if len(result) != 3 {
		t.Fatalf("Expected 3 tools, got %d", len(result))
	}

	tests := []struct {
		name     string
		required []string
		props    int
	}{
		{"record_user_details", []string{"email"}, 3},
		{"record_unknown_question", []string{"question"}, 1},
		{"list_openings", nil, 0},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := result[i].OfTool
			if tool == nil {
				t.Fatal("Expected OfTool to be set")
			}
			if tool.Name != tt.name {
				t.Errorf("Expected name '%s', got '%s'", tt.name, tool.Name)
			}
			if len(tool.InputSchema.Required) != len(tt.required) {
				t.Fatalf("Expected required %v, got %v", tt.required, tool.InputSchema.Required)
			}
			for j, r := range tt.required {
				if tool.InputSchema.Required[j] != r {
					t.Errorf("Expected required '%s', got '%s'", r, tool.InputSchema.Required[j])
				}
			}
			props, ok := tool.InputSchema.Properties.(map[string]interface{})
			if !ok {
				t.Fatalf("Expected properties to be map[string]interface{}, got %T", tool.InputSchema.Properties)
			}
			if len(props) != tt.props {
				t.Errorf("Expected %d properties, got %d", tt.props, len(props))
			}
		})
	}
}

func TestToAnthropicMessages_Conversation(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "You are acting as Ada Lovelace."},
		{Role: RoleUser, Content: "Can I get in touch? grace@example.com"},
		{
			Role:    RoleAssistant,
			Content: "Let me note that down.",
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Name: "record_user_details", Arguments: `{"email":"grace@example.com"}`},
			},
		},
		{Role: RoleTool, Content: `{"recorded":"ok"}`, ToolCallID: "toolu_1"},
		{Role: RoleAssistant, Content: "Done, Ada will be in touch."},
	}

	result := toAnthropicMessages(msgs)

	// The system prompt travels separately.
	if len(result) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(result))
	}

	user := result[0]
	if user.Role != anthropic.MessageParamRoleUser || user.Content[0].OfText == nil {
		t.Fatalf("Expected user text first, got %+v", user)
	}
	if user.Content[0].OfText.Text != "Can I get in touch? grace@example.com" {
		t.Errorf("Unexpected user text '%s'", user.Content[0].OfText.Text)
	}

	call := result[1]
	if call.Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("Expected role 'assistant', got '%s'", call.Role)
	}
	if len(call.Content) != 2 || call.Content[0].OfText == nil || call.Content[1].OfToolUse == nil {
		t.Fatalf("Expected text + tool_use blocks, got %d blocks", len(call.Content))
	}
	if call.Content[1].OfToolUse.Name != "record_user_details" {
		t.Errorf("Expected tool name 'record_user_details', got '%s'", call.Content[1].OfToolUse.Name)
	}

	reply := result[2]
	if reply.Role != anthropic.MessageParamRoleUser {
		t.Errorf("Expected role 'user' for tool result, got '%s'", reply.Role)
	}
	if len(reply.Content) != 1 || reply.Content[0].OfToolResult == nil {
		t.Fatal("Expected a single tool result block")
	}
	if reply.Content[0].OfToolResult.ToolUseID != "toolu_1" {
		t.Errorf("Expected ToolUseID 'toolu_1', got '%s'", reply.Content[0].OfToolResult.ToolUseID)
	}

	if result[3].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("Expected closing assistant message, got '%s'", result[3].Role)
	}
}

func TestToAnthropicMessages_EmptyArgumentsBecomeObject(t *testing.T) {
	msgs := []Message{
		{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "toolu_1", Name: "list_openings", Arguments: ""}},
		},
	}

	result := toAnthropicMessages(msgs)

	if len(result[0].Content) != 1 {
		t.Fatalf("Expected 1 content block, got %d", len(result[0].Content))
	}
	tu := result[0].Content[0].OfToolUse
	if tu == nil {
		t.Fatal("Expected tool_use block")
	}
	input, ok := tu.Input.(json.RawMessage)
	if !ok {
		t.Fatalf("Expected Input to be json.RawMessage, got %T", tu.Input)
	}
	if string(input) != "{}" {
		t.Errorf("Expected input '{}', got '%s'", string(input))
	}
}

func TestToAnthropicMessages_MergesToolResults(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "Remember me, and what is Ada's favourite opera?"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Name: "record_user_details", Arguments: `{"email":"grace@example.com"}`},
				{ID: "toolu_2", Name: "record_unknown_question", Arguments: `{"question":"favourite opera"}`},
			},
		},
		{Role: RoleTool, Content: `{"recorded":"ok"}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"recorded":"ok"}`, ToolCallID: "toolu_2"},
	}

	result := toAnthropicMessages(msgs)

	if len(result) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(result))
	}
	last := result[2]
	if last.Role != anthropic.MessageParamRoleUser {
		t.Errorf("Expected role 'user' for tool results, got '%s'", last.Role)
	}
	if len(last.Content) != 2 {
		t.Fatalf("Expected 2 tool result blocks, got %d", len(last.Content))
	}
	if last.Content[1].OfToolResult == nil || last.Content[1].OfToolResult.ToolUseID != "toolu_2" {
		t.Error("Expected second block to answer toolu_2")
	}
}

func TestFromAnthropicMessage_Text(t *testing.T) {
	tests := []struct {
		name   string
		blocks []anthropic.ContentBlockUnion
		want   string
	}{
		{"single", []anthropic.ContentBlockUnion{makeTextBlock("Ada studied with De Morgan.")}, "Ada studied with De Morgan."},
		{"joined", []anthropic.ContentBlockUnion{makeTextBlock("First part"), makeTextBlock("Second part")}, "First part\nSecond part"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := fromAnthropicMessage(&anthropic.Message{Content: tt.blocks})
			if result.Role != RoleAssistant {
				t.Errorf("Expected role 'assistant', got '%s'", result.Role)
			}
			if result.Content != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, result.Content)
			}
			if len(result.ToolCalls) != 0 {
				t.Errorf("Expected 0 tool calls, got %d", len(result.ToolCalls))
			}
		})
	}
}

func TestFromAnthropicMessage_ToolUse(t *testing.T) {
	resp := &anthropic.Message{
		StopReason: anthropic.StopReasonToolUse,
		Content: []anthropic.ContentBlockUnion{
			makeTextBlock("Noting that."),
			makeToolUseBlock("toolu_1", "record_user_details", `{"email":"grace@example.com","name":"Grace"}`),
			makeToolUseBlock("toolu_2", "record_unknown_question", `{"question":"favourite opera"}`),
		},
	}

	result := fromAnthropicMessage(resp)

	if result.Content != "Noting that." {
		t.Errorf("Expected 'Noting that.', got '%s'", result.Content)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("Expected 2 tool calls, got %d", len(result.ToolCalls))
	}
	first := result.ToolCalls[0]
	if first.ID != "toolu_1" || first.Name != "record_user_details" {
		t.Errorf("Unexpected first call %+v", first)
	}
	if first.Arguments != `{"email":"grace@example.com","name":"Grace"}` {
		t.Errorf("Expected raw arguments, got '%s'", first.Arguments)
	}
	if result.ToolCalls[1].Name != "record_unknown_question" {
		t.Errorf("Expected second tool 'record_unknown_question', got '%s'", result.ToolCalls[1].Name)
	}
}

func TestFromAnthropicMessage_StopReason(t *testing.T) {
	resp := &anthropic.Message{
		StopReason: anthropic.StopReasonToolUse,
		Content: []anthropic.ContentBlockUnion{
			makeToolUseBlock("toolu_1", "record_unknown_question", `{"question":"q"}`),
		},
	}

	result := fromAnthropicMessage(resp)

	if result.FinishReason != FinishReasonToolCalls {
		t.Errorf("Expected finish reason %q, got %q", FinishReasonToolCalls, result.FinishReason)
	}

	resp.StopReason = anthropic.StopReasonEndTurn
	if got := fromAnthropicMessage(resp).FinishReason; got != FinishReasonStop {
		t.Errorf("Expected finish reason %q, got %q", FinishReasonStop, got)
	}
}

func makeTextBlock(text string) anthropic.ContentBlockUnion {
	raw := `{"type":"text","text":` + mustJSON(text) + `}`
	var block anthropic.ContentBlockUnion
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		panic("makeTextBlock: " + err.Error())
	}
	return block
}

func makeToolUseBlock(id, name, inputJSON string) anthropic.ContentBlockUnion {
	raw := `{"type":"tool_use","id":` + mustJSON(id) + `,"name":` + mustJSON(name) + `,"input":` + inputJSON + `}`
	var block anthropic.ContentBlockUnion
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		panic("makeToolUseBlock: " + err.Error())
	}
	return block
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

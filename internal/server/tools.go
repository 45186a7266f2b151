// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"context"
	"reflect"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolDefinition represents a tool that can be registered with the MCP server
type ToolDefinition struct {
	// Name is the name of the tool
	Name string

	// Description is a brief description of what the tool does
	Description string

	// Handler is the function that will be called when the tool is invoked
	Handler func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error)

	// Parameters is the parameter schema for the tool (can be a struct)
	Parameters interface{}
}

// toolDefinitions lists the tools this server offers. Store and scheduler
// tools are left out when their backing component is absent.
func (s *MCPServer) toolDefinitions() []ToolDefinition {
	tools := []ToolDefinition{
		{
			Name:        "chat",
			Description: "Sends a visitor message to the persona and returns its reply. Pass earlier messages in 'history' to continue a conversation.",
			Handler:     s.handleChat,
			Parameters:  ChatParams{},
		},
	}

	if s.leadStore != nil {
		tools = append(tools,
			ToolDefinition{
				Name:        "list_leads",
				Description: "Lists visitors who left contact details, newest first",
				Handler:     s.handleListLeads,
				Parameters:  ListParams{},
			},
			ToolDefinition{
				Name:        "list_unknown_questions",
				Description: "Lists questions the persona could not answer, newest first",
				Handler:     s.handleListUnknownQuestions,
				Parameters:  ListParams{},
			},
		)
	}
	if s.turnStore != nil {
		tools = append(tools, ToolDefinition{
			Name:        "get_turn",
			Description: "Gets the audit record of a chat turn by ID",
			Handler:     s.handleGetTurn,
			Parameters:  TurnIDParams{},
		})
	}
	if s.scheduler != nil {
		tools = append(tools, ToolDefinition{
			Name:        "list_jobs",
			Description: "Lists background jobs with their schedule and last outcome",
			Handler:     s.handleListJobs,
			Parameters:  struct{}{},
		})
	}
	return tools
}

// registerToolsDeclarative sets up all the MCP tools
func (s *MCPServer) registerToolsDeclarative() {
	for _, tool := range s.toolDefinitions() {
		registerToolWithError(s.server, tool)
	}
}

// registerToolWithError registers a tool with the MCP server
func registerToolWithError(srv *mcp.Server, def ToolDefinition) {
	schema := buildSchema(def.Parameters)
	tool := &mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schema,
	}
	srv.AddTool(tool, def.Handler)
}

// buildSchema converts a Go struct with json and description tags into a JSON Schema object
func buildSchema(params interface{}) map[string]interface{} {
	t := reflect.TypeOf(params)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	properties := map[string]interface{}{}
	var required []string

	collectFields(t, properties, &required)

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// collectFields extracts JSON schema properties from struct fields,
// recursing into embedded (anonymous) structs.
func collectFields(t reflect.Type, properties map[string]interface{}, required *[]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// Recurse into embedded structs
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectFields(field.Type, properties, required)
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		parts := strings.Split(jsonTag, ",")
		fieldName := parts[0]
		omitempty := false
		for _, p := range parts[1:] {
			if p == "omitempty" {
				omitempty = true
			}
		}

		prop := fieldSchema(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}

		properties[fieldName] = prop

		if !omitempty {
			*required = append(*required, fieldName)
		}
	}
}

// fieldSchema describes one field. Slices carry an items schema and
// structs are described by their own fields.
func fieldSchema(t reflect.Type) map[string]interface{} {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	prop := map[string]interface{}{
		"type": goTypeToJSONType(t),
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		prop["items"] = fieldSchema(t.Elem())
	case reflect.Struct:
		properties := map[string]interface{}{}
		var required []string
		collectFields(t, properties, &required)
		prop["properties"] = properties
		if len(required) > 0 {
			prop["required"] = required
		}
	}
	return prop
}

// goTypeToJSONType maps Go types to JSON Schema types
func goTypeToJSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	default:
		return "string"
	}
}

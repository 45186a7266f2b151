// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/persona-agent/internal/logging"
)

// mcpServersFile is the usual mcpServers JSON layout shared by MCP clients.
type mcpServersFile struct {
	MCP map[string]struct {
		Command string   `json:"command,omitempty"`
		Args    []string `json:"args,omitempty"`
		URL     string   `json:"url,omitempty"`
	} `json:"mcpServers"`
}

// MCPTools holds the client sessions backing tools loaded from MCP servers.
type MCPTools struct {
	sessions []*mcp.ClientSession
}

// Close ends every MCP session.
func (m *MCPTools) Close() {
	if m == nil {
		return
	}
	for _, s := range m.sessions {
		_ = s.Close()
	}
}

// LoadMCPTools connects to every server listed in the config file at path
// and registers the tools they expose into reg. Servers that fail to connect
// or list tools are logged and skipped, as are tools whose names collide
// with ones already registered.
func LoadMCPTools(ctx context.Context, path string, version string, reg *Registry, logger *logging.Logger) (*MCPTools, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read MCP config: %w", err)
	}
	var cfg mcpServersFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse MCP config %s: %w", path, err)
	}

	names := make([]string, 0, len(cfg.MCP))
	for name := range cfg.MCP {
		names = append(names, name)
	}
	sort.Strings(names)

	loaded := &MCPTools{}
	for _, name := range names {
		entry := cfg.MCP[name]
		var tp mcp.Transport
		switch {
		case entry.Command != "":
			tp = &mcp.CommandTransport{Command: exec.Command(entry.Command, entry.Args...)}
		case entry.URL != "":
			tp = &mcp.SSEClientTransport{Endpoint: entry.URL}
		default:
			logger.Warnf("MCP server %s has neither command nor url, skipping", name)
			continue
		}

		cli := mcp.NewClient(&mcp.Implementation{Name: "persona-agent", Version: version}, nil)
		session, err := cli.Connect(ctx, tp, nil)
		if err != nil {
			logger.Warnf("Failed to connect to MCP server %s: %v", name, err)
			continue
		}
		loaded.sessions = append(loaded.sessions, session)

		resp, err := session.ListTools(ctx, nil)
		if err != nil {
			logger.Warnf("Failed to list tools for MCP server %s: %v", name, err)
			continue
		}
		for _, tl := range resp.Tools {
			params, err := schemaMap(tl.InputSchema)
			if err != nil {
				logger.Warnf("Skipping MCP tool %s: %v", tl.Name, err)
				continue
			}
			tool := &Tool{
				Name:        tl.Name,
				Description: tl.Description,
				Parameters:  params,
				Handler:     mcpToolHandler(session, tl.Name),
			}
			if err := reg.Register(tool); err != nil {
				logger.Warnf("Skipping MCP tool %s from %s: %v", tl.Name, name, err)
				continue
			}
			logger.Infof("Registered MCP tool %s from %s", tl.Name, name)
		}
	}
	return loaded, nil
}

// schemaMap converts an MCP input schema into the map form used by
// ToolDefinition. Object schemas without properties get an empty map so
// strict providers accept them.
func schemaMap(schema interface{}) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if schema != nil {
		b, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema: %w", err)
		}
		if err := json.Unmarshal(b, &params); err != nil {
			return nil, fmt.Errorf("unmarshal input schema: %w", err)
		}
	}
	if params["type"] == nil {
		params["type"] = "object"
	}
	if props, ok := params["properties"].(map[string]interface{}); !ok || props == nil {
		params["properties"] = map[string]interface{}{}
	}
	return params, nil
}

func mcpToolHandler(session *mcp.ClientSession, name string) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args map[string]interface{}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		})
		if err != nil {
			return nil, fmt.Errorf("call MCP tool %s: %w", name, err)
		}
		if res.IsError {
			out, _ := json.Marshal(res.Content)
			return nil, fmt.Errorf("MCP tool %s reported an error: %s", name, out)
		}
		return res.Content, nil
	}
}

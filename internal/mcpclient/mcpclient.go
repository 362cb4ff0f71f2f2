// Package mcpclient connects to a single MCP tool server over a stdio
// subprocess transport, lists and sanitizes its tool schemas, and
// normalizes call results into the map shape the orchestrator's tool-args
// engine expects.
//
// Grounded on manifold/internal/mcpclient/mcpclient.go (CommandTransport
// connection, schema sanitizing) and
// original_source/app/services/orchestrator.py::_parse_mcp_output (the
// structuredContent-then-text-JSON precedence this package's CallTool
// implements).
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// clientName is advertised to the MCP server during the initial handshake.
const clientName = "matchmaking-orchestrator"

// clientVersion is advertised alongside clientName; this module carries no
// separate version package, so it is pinned here.
const clientVersion = "1.0.0"

// Client holds one MCP server subprocess session and the tool catalog it
// exposed at connect time.
type Client struct {
	session *mcppkg.ClientSession
	tools   []model.ToolSchema
}

// Connect launches the MCP server as a subprocess and lists its tools.
func Connect(ctx context.Context, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	client := mcppkg.NewClient(&mcppkg.Implementation{Name: clientName, Version: clientVersion}, nil)

	session, err := client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", command, err)
	}

	c := &Client{session: session}
	if err := c.refreshTools(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return c, nil
}

// Close terminates the subprocess session.
func (c *Client) Close() error {
	return c.session.Close()
}

// Tools returns the cleaned schema for every tool the server exposed.
func (c *Client) Tools() []model.ToolSchema {
	return c.tools
}

// ToolMeta returns the schema for a single named tool, or false if the
// server never exposed it.
func (c *Client) ToolMeta(name string) (model.ToolSchema, bool) {
	for _, t := range c.tools {
		if t.Name == name {
			return t, true
		}
	}
	return model.ToolSchema{}, false
}

func (c *Client) refreshTools(ctx context.Context) error {
	var schemas []model.ToolSchema
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("list mcp tools: %w", err)
		}
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if tool.InputSchema != nil {
			if b, err := json.Marshal(tool.InputSchema); err == nil {
				var m map[string]any
				if json.Unmarshal(b, &m) == nil && m != nil {
					for k, v := range m {
						params[k] = v
					}
				}
			}
		}
		sanitizeSchema(params)
		properties, _ := params["properties"].(map[string]any)
		schemas = append(schemas, model.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			Properties:  properties,
		})
	}
	c.tools = schemas
	return nil
}

// sanitizeSchema normalizes a JSON-schema-shaped map in place: every object
// gets a properties map, every array gets an items schema, and
// oneOf/anyOf/allOf branches are recursed into. Ported from the teacher's
// mcpclient.sanitizeSchema.
func sanitizeSchema(s map[string]any) {
	hasType := func(v any, want string) bool {
		switch tt := v.(type) {
		case string:
			return tt == want
		case []any:
			for _, x := range tt {
				if xs, ok := x.(string); ok && xs == want {
					return true
				}
			}
		}
		return false
	}

	if hasType(s["type"], "object") {
		if _, ok := s["properties"].(map[string]any); !ok {
			s["properties"] = map[string]any{}
		}
	}
	if hasType(s["type"], "array") {
		if _, ok := s["items"].(map[string]any); !ok {
			s["items"] = map[string]any{"type": "string"}
		}
	}
	if props, ok := s["properties"].(map[string]any); ok {
		for _, v := range props {
			if m, ok := v.(map[string]any); ok {
				sanitizeSchema(m)
			}
		}
	}
	if it, ok := s["items"].(map[string]any); ok {
		sanitizeSchema(it)
	}
	for _, key := range []string{"oneOf", "anyOf", "allOf"} {
		if arr, ok := s[key].([]any); ok {
			for _, v := range arr {
				if m, ok := v.(map[string]any); ok {
					sanitizeSchema(m)
				}
			}
		}
	}
	if req, ok := s["required"].([]any); ok {
		out := make([]string, 0, len(req))
		for _, x := range req {
			if xs, ok := x.(string); ok {
				out = append(out, xs)
			}
		}
		s["required"] = out
	}
}

// CallTool invokes a tool by name and normalizes its result, preferring
// structured content and falling back to the first text-content block
// parsed as JSON, matching the source's _parse_mcp_output precedence. A nil
// result with a nil error means the tool produced nothing parseable.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &mcppkg.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %s returned an error result", name)
	}

	if res.StructuredContent != nil {
		if m, ok := asMap(res.StructuredContent); ok {
			return m, nil
		}
	}

	for _, block := range res.Content {
		text, ok := block.(*mcppkg.TextContent)
		if !ok {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text.Text), &parsed); err == nil {
			return parsed, nil
		}
		log.Warn().Str("tool", name).Msg("mcpclient: text content block is not a JSON object, skipping")
	}

	return nil, nil
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return m, true
}

// FormatToolDescriptions renders a short, numbered tool catalog for
// inclusion in the tool-selection prompt.
func FormatToolDescriptions(tools []model.ToolSchema) string {
	var b strings.Builder
	for i, t := range tools {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, t.Name, t.Description)
	}
	return b.String()
}

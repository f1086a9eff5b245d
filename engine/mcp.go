package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/reportlens/metric"
)

// RegisterMCP registers the reportlens tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerStatusTool(srv)
	e.registerRefreshTool(srv)
	e.registerToggleTool(srv)
	e.registerHideColumnTool(srv)
	e.registerAggregateTool(srv)
	e.registerExportTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// descriptorKeys lists the toggleable descriptor keys for schema enums.
func descriptorKeys() []any {
	keys := make([]any, len(metric.Specs))
	for i, s := range metric.Specs {
		keys[i] = s.Key
	}
	return keys
}

// addJSONTool registers a tool whose handler returns a JSON-marshalable
// value. Handler errors become tool errors, not protocol errors.
func addJSONTool(srv *mcp.Server, tool *mcp.Tool, handle func(ctx context.Context, args json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := handle(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// addTextTool registers a tool whose handler already produces text
// (markdown, CSV) that must not be JSON-quoted.
func addTextTool(srv *mcp.Server, tool *mcp.Tool, handle func(ctx context.Context, args json.RawMessage) (string, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := handle(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	})
}

// --- status ---

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "reportlens_status",
		Description: "Engine status: product, source, scan counters, derived descriptor states, hidden columns.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	addJSONTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return e.Status(), nil
	})
}

// --- refresh ---

func (e *Engine) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "reportlens_refresh",
		Description: "Run an augmentation pass now and return the updated status.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	addJSONTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if err := e.ScanOnce(ctx); err != nil {
			return nil, err
		}
		return e.Status(), nil
	})
}

// --- toggle ---

type toggleRequest struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

func (e *Engine) registerToggleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "reportlens_toggle",
		Description: "Enable or disable a derived percentage column by key. Takes effect immediately in the served document.",
		InputSchema: inputSchema(map[string]any{
			"key":     map[string]any{"type": "string", "enum": descriptorKeys(), "description": "Descriptor key"},
			"enabled": map[string]any{"type": "boolean", "description": "New state"},
		}, []string{"key", "enabled"}),
	}

	addJSONTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r toggleRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if err := e.Toggle(ctx, r.Key, r.Enabled); err != nil {
			return nil, err
		}
		return map[string]any{"key": r.Key, "enabled": r.Enabled}, nil
	})
}

// --- hide_column ---

type hideColumnRequest struct {
	Header string `json:"header"`
	Hidden *bool  `json:"hidden,omitempty"`
}

func (e *Engine) registerHideColumnTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "reportlens_hide_column",
		Description: "Hide or show an original report column by its exact header text. Hides when 'hidden' is omitted.",
		InputSchema: inputSchema(map[string]any{
			"header": map[string]any{"type": "string", "description": "Header text as it appears in the report"},
			"hidden": map[string]any{"type": "boolean", "description": "false to show the column again (default: true)"},
		}, []string{"header"}),
	}

	addJSONTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r hideColumnRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		hidden := true
		if r.Hidden != nil {
			hidden = *r.Hidden
		}
		if err := e.SetColumnHidden(ctx, r.Header, hidden); err != nil {
			return nil, err
		}
		return map[string]any{"header": r.Header, "hidden": hidden}, nil
	})
}

// --- aggregate ---

type aggregateRequest struct {
	Format string `json:"format"`
}

func (e *Engine) registerAggregateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "reportlens_aggregate",
		Description: "Aggregate all report tables into the per-agent, per-list pivot. Formats: markdown (default), html, json.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{"type": "string", "enum": []any{"markdown", "html", "json"}, "description": "Output format (default: markdown)"},
		}, nil),
	}

	addTextTool(srv, tool, func(ctx context.Context, args json.RawMessage) (string, error) {
		var r aggregateRequest
		if len(args) > 0 {
			if err := json.Unmarshal(args, &r); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
		}
		switch r.Format {
		case "", "markdown":
			return e.AggregateMarkdown(), nil
		case "html":
			return e.AggregateHTML(), nil
		case "json":
			data, err := json.Marshal(e.Aggregate())
			if err != nil {
				return "", fmt.Errorf("marshal: %w", err)
			}
			return string(data), nil
		default:
			return "", fmt.Errorf("unknown format %q", r.Format)
		}
	})
}

// --- export ---

func (e *Engine) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "reportlens_export",
		Description: "Export the pivot as CSV text.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	addTextTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (string, error) {
		data, _, err := e.ExportCSV()
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

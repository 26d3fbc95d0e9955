package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jnoelg/watchbridge/internal/bridge"
	"github.com/jnoelg/watchbridge/internal/options"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Loop     *bridge.Loop
	Repo     *options.Repository
	Messages MessageStore
}

// NewMCPServer creates an MCP server exposing the configuration flow as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"watchbridge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("watchbridge: open the watchface settings page, submit page responses and inspect stored options."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("show_configuration",
			mcp.WithDescription("Open the watchface settings page with the current options and return its URL."),
		),
		mcpShowConfiguration(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_configuration",
			mcp.WithDescription("Close the settings page with the given response, as the page would. A valid response is stored and sent to the watch."),
			mcp.WithString("response", mcp.Description("Raw page response, a percent-encoded JSON object such as {\"hh-in-bold\":\"1\"}"), mcp.Required()),
		),
		mcpSubmitConfiguration(deps),
	)

	s.AddTool(
		mcp.NewTool("get_options",
			mcp.WithDescription("Return the options the settings page would be opened with."),
		),
		mcpGetOptions(deps),
	)

	s.AddTool(
		mcp.NewTool("list_messages",
			mcp.WithDescription("List recent messages sent to the watch with their delivery status."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListMessages(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"bridge://options",
			"Watchface Options",
			mcp.WithResourceDescription("Stored options, or the variant defaults when none are stored"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceOptions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"bridge://state",
			"Bridge State",
			mcp.WithResourceDescription("Readiness and configuration flow state"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceState(deps),
	)

	return s
}

func mcpShowConfiguration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Loop.ShowConfiguration(ctx)
		if errors.Is(err, bridge.ErrFlowInProgress) {
			return mcpError("a settings page is already open; submit a response first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("show configuration failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpSubmitConfiguration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		response, err := req.RequireString("response")
		if err != nil {
			return mcpError("response is required"), nil
		}

		res, err := deps.Loop.WebviewClosed(ctx, response)
		if err != nil {
			return mcpError(fmt.Sprintf("configuration not saved: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpGetOptions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := deps.Repo.Resolve(deps.Loop.Bridge().Variant())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read options: %v", err)), nil
		}
		return mcpJSON(snap)
	}
}

func mcpListMessages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		msgs, err := deps.Messages.ListMessages(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list messages: %v", err)), nil
		}
		if len(msgs) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(msgs)
	}
}

func mcpResourceOptions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := deps.Repo.Resolve(deps.Loop.Bridge().Variant())
		if err != nil {
			return nil, fmt.Errorf("failed to read options: %w", err)
		}
		return jsonResource(req.Params.URI, snap)
	}
}

func mcpResourceState(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Loop.Bridge().State())
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

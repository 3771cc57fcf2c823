package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/missiond/internal/missions"
	"github.com/kalambet/missiond/internal/router"
	"github.com/kalambet/missiond/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Router   Router
	Digester *missions.Digester
}

// NewMCPServer creates an MCP server with the missiond tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"missiond",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("missiond routes business events to missions and reports on leads, drafts and notifications."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("route_event",
			mcp.WithDescription("Route one event envelope to its mission and return the result."),
			mcp.WithString("event", mcp.Description("Event type, e.g. invoice.overdue"), mcp.Required()),
			mcp.WithString("resource_id", mcp.Description("Id of the resource the event is about"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Owning user id"), mcp.Required()),
			mcp.WithString("timestamp", mcp.Description("RFC 3339 time of the event (default now)")),
		),
		mcpRouteEvent(deps),
	)

	s.AddTool(
		mcp.NewTool("daily_digest",
			mcp.WithDescription("Build the user's digest of tasks, warm leads, projects and revenue without sending it."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpDailyDigest(deps),
	)

	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the user's most recent notifications."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListNotifications(deps),
	)

	s.AddTool(
		mcp.NewTool("list_drafts",
			mcp.WithDescription("List the user's reply drafts, optionally filtered by status."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithString("status", mcp.Description("pending, approved, sent, dismissed or failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListDrafts(deps),
	)

	return s
}

func mcpRouteEvent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		event, err := req.RequireString("event")
		if err != nil {
			return mcpError("event is required"), nil
		}
		resourceID, err := req.RequireString("resource_id")
		if err != nil {
			return mcpError("resource_id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		ts := time.Now().UTC()
		if s := req.GetString("timestamp", ""); s != "" {
			ts, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid timestamp: %v", err)), nil
			}
		}

		res := deps.Router.Route(ctx, router.Envelope{
			Event:      event,
			ResourceID: resourceID,
			UserID:     userID,
			Timestamp:  ts,
		})
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if !res.Dispatched {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDailyDigest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		d, err := deps.Digester.Build(ctx, userID, time.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("digest failed: %v", err)), nil
		}
		b, err := json.Marshal(struct {
			Summary string `json:"summary"`
			missions.Digest
		}{d.Summary(), d})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal digest: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListNotifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		ns, err := deps.Store.ListNotifications(ctx, userID, clampLimit(req.GetInt("limit", 20)))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list notifications: %v", err)), nil
		}
		b, err := json.Marshal(newNotificationViews(ns))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal notifications: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDrafts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		status := req.GetString("status", "")

		drafts, err := deps.Store.ListDrafts(ctx, userID, status, clampLimit(req.GetInt("limit", 20)))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list drafts: %v", err)), nil
		}
		b, err := json.Marshal(newDraftViews(drafts))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal drafts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func clampLimit(n int) int {
	if n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
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

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/locshare/api"
)

// Client is a thin MCP client that proxies to the inspection API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the inspection API at baseURL
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"locshare",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`locshare - MCP Interface

Read-only view of a live location sharing hub. Participants join short
session codes (e.g. ABC123) over WebSocket and share their position and
chat with everyone else in the same session.

This is a thin client that proxies all requests to the HTTP API server.
Coordinates are never exposed; only whether a participant has reported one.

AVAILABLE TOOLS:
- list_sessions: List live sessions with participant and online counts
- get_session: Show one session's participants, their color, presence and last activity
- server_health: Number of live sessions and open connections`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all live sessions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sort": map[string]any{
					"type":        "string",
					"enum":        []string{"created", "online"},
					"description": "Sort key (default created)",
				},
				"order": map[string]any{
					"type":        "string",
					"enum":        []string{"asc", "desc"},
					"description": "Sort order (default desc)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum number of sessions to return",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get the participants of a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session code, case-insensitive",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_health",
		Description: "Report whether the hub is up, with session and connection counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, c.handleServerHealth)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// Tool handlers

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := url.Values{}
	if sortBy := request.GetString("sort", ""); sortBy != "" {
		query.Set("sort", sortBy)
	}
	if order := request.GetString("order", ""); order != "" {
		query.Set("order", order)
	}
	if limit := request.GetInt("limit", 0); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/sessions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var list api.SessionList
	if err := c.apiCall(ctx, http.MethodGet, path, nil, &list); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionList(list)), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var detail api.SessionDetail
	if err := c.apiCall(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &detail); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionDetail(detail)), nil
}

func (c *Client) handleServerHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var health api.Health
	if err := c.apiCall(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := fmt.Sprintf("Status: %s\nLive sessions: %d\nOpen connections: %d\n",
		health.Status, health.Sessions, health.Connections)
	return mcp.NewToolResultText(result), nil
}

func formatSessionList(list api.SessionList) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Live Sessions (%d of %d, sorted by %s %s):\n", list.Count, list.Total, list.Sort, list.Order)
	if list.Count == 0 {
		sb.WriteString("\nNo live sessions.\n")
		return sb.String()
	}
	sb.WriteString("\n")
	for _, s := range list.Sessions {
		fmt.Fprintf(&sb, "- %s: %d online / %d participants (created %s)\n",
			s.SessionID, s.Online, s.Participants, s.CreatedAt.Format(time.RFC3339))
	}
	return sb.String()
}

func formatSessionDetail(d api.SessionDetail) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", d.SessionID)
	fmt.Fprintf(&sb, "Created: %s\n", d.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Online: %d of %d\n\n", d.Online, len(d.Users))

	for _, u := range d.Users {
		status := "offline"
		if u.Online {
			status = "online"
		}
		location := "no location yet"
		if u.HasLocation {
			location = "sharing location"
		}
		color := ""
		if u.Color != "" {
			color = " [" + u.Color + "]"
		}
		fmt.Fprintf(&sb, "- %s%s: %s, %s, last seen %s\n",
			u.Username, color, status, location, u.LastSeen.Format(time.RFC3339))
	}
	return sb.String()
}

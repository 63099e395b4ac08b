package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/fastws/admin"
	fastws "github.com/wricardo/fastws/server"
)

// Client is a thin MCP client that proxies to the admin REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client. baseURL includes the admin prefix,
// e.g. "http://localhost:8080/admin".
func NewClient(baseURL, version string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer(version)
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer(version string) {
	c.mcpServer = server.NewMCPServer(
		"fastws admin",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`fastws admin - MCP Interface

This is a thin client that proxies all requests to the admin REST API of a
running fastws server.

AVAILABLE TOOLS:
- server_status: Listen state, port, session and route counts
- list_routes: Registered HTTP and WebSocket routes
- list_sessions: Live WebSocket sessions
- get_session: Details of one session
- close_session: Close one session
- close_idle_sessions: Close sessions idle longer than a duration
- broadcast: Send a named event to every subscriber of a topic
- broadcast_message: Send a plain message to every subscriber of a topic
- reload: Purge the static file cache and listen again on the same port`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_status",
		Description: "Get the server listen state, port, and session and route counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_routes",
		Description: "List registered routes in registration order",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRoutes)

	// Sessions
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List live WebSocket sessions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sort": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"active", "opened"},
					"description": "Sort by last activity (default) or open time",
				},
				"order": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"asc", "desc"},
					"description": "Sort order (default desc)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of sessions to return",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to retrieve",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "close_session",
		Description: "Close a WebSocket session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to close",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleCloseSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "close_idle_sessions",
		Description: "Close sessions whose client has been silent for longer than max_age",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"max_age": map[string]interface{}{
					"type":        "string",
					"description": "Go duration such as 30s or 5m",
				},
			},
			Required: []string{"max_age"},
		},
	}, c.handleCloseIdle)

	// Broadcasting
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "broadcast",
		Description: "Send a named event to every session subscribed to a topic",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Topic to publish to",
				},
				"event": map[string]interface{}{
					"type":        "string",
					"description": "Event name",
				},
				"data": map[string]interface{}{
					"description": "Event payload, any JSON value",
				},
				"compress": map[string]interface{}{
					"type":        "boolean",
					"description": "Compress the frame",
				},
			},
			Required: []string{"topic", "event"},
		},
	}, c.handleBroadcast)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "broadcast_message",
		Description: "Send a plain message to every session subscribed to a topic",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Topic to publish to",
				},
				"data": map[string]interface{}{
					"description": "Message payload, any JSON value",
				},
				"compress": map[string]interface{}{
					"type":        "boolean",
					"description": "Compress the frame",
				},
			},
			Required: []string{"topic"},
		},
	}, c.handleBroadcastMessage)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reload",
		Description: "Purge the static file cache and listen again on the same port",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleReload)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Handler serves JSON-RPC messages over HTTP POST.
func (c *Client) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)
		if response == nil {
			// Notifications have no response
			w.WriteHeader(http.StatusAccepted)
			return
		}

		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(responseData)
	})
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	endpoint := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
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
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status admin.Status
	if err := c.apiCall(ctx, "GET", "/status", nil, &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleListRoutes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count  int                `json:"count"`
		Routes []fastws.RouteInfo `json:"routes"`
	}
	if err := c.apiCall(ctx, "GET", "/routes", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Routes (%d):\n\n", response.Count)
	for _, r := range response.Routes {
		result += fmt.Sprintf("- %-7s %s\n", r.Method, r.Path)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	params := url.Values{}
	if sortBy, ok := args["sort"].(string); ok && sortBy != "" {
		params.Set("sort", sortBy)
	}
	if order, ok := args["order"].(string); ok && order != "" {
		params.Set("order", order)
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", int(limit)))
	}

	path := "/sessions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response struct {
		Count    int                  `json:"count"`
		Total    int                  `json:"total"`
		Sessions []*admin.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Active Sessions (%d of %d):\n\n", response.Count, response.Total)
	for _, s := range response.Sessions {
		result += fmt.Sprintf("- %s (%s, opened %s, last active %s)\n",
			s.ID, s.RemoteAddress, s.OpenedAt.Format("15:04:05"), s.LastActive.Format("15:04:05"))
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	var session admin.SessionInfo
	if err := c.apiCall(ctx, "GET", "/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleCloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	var response struct {
		Message string `json:"message"`
	}
	if err := c.apiCall(ctx, "DELETE", "/sessions/"+url.PathEscape(sessionID), nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(response.Message), nil
}

func (c *Client) handleCloseIdle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	maxAge, _ := args["max_age"].(string)

	var response struct {
		Closed int    `json:"closed"`
		MaxAge string `json:"max_age"`
	}
	body := map[string]string{"max_age": maxAge}
	if err := c.apiCall(ctx, "POST", "/sessions/close-idle", body, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Closed %d sessions idle longer than %s", response.Closed, response.MaxAge)), nil
}

func (c *Client) handleBroadcast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	event, _ := args["event"].(string)
	if event == "" {
		return mcp.NewToolResultError("event is required"), nil
	}
	return c.broadcast(ctx, args, event)
}

func (c *Client) handleBroadcastMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return c.broadcast(ctx, args, "")
}

func (c *Client) broadcast(ctx context.Context, args map[string]interface{}, event string) (*mcp.CallToolResult, error) {
	topic, _ := args["topic"].(string)
	compress, _ := args["compress"].(bool)

	body := admin.BroadcastRequest{
		Topic:    topic,
		Event:    event,
		Compress: compress,
	}
	if data, ok := args["data"]; ok {
		raw, err := json.Marshal(data)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid data: %v", err)), nil
		}
		body.Data = raw
	}

	var result admin.BroadcastResult
	if err := c.apiCall(ctx, "POST", "/broadcast", body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatBroadcastResult(&result)), nil
}

func (c *Client) handleReload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Message string `json:"message"`
	}
	if err := c.apiCall(ctx, "POST", "/reload", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Server " + response.Message), nil
}

func formatStatus(status *admin.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", status.State)
	fmt.Fprintf(&b, "Port: %d\n", status.Port)
	if status.Addr != "" {
		fmt.Fprintf(&b, "Address: %s\n", status.Addr)
	}
	fmt.Fprintf(&b, "Sessions: %d\n", status.Sessions)
	fmt.Fprintf(&b, "Routes: %d\n", status.Routes)
	fmt.Fprintf(&b, "Cached files: %d\n", status.CachedFiles)
	if status.Version != "" {
		fmt.Fprintf(&b, "Version: %s\n", status.Version)
	}
	if !status.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Up since: %s\n", status.StartedAt.Format(time.RFC3339))
	}
	return b.String()
}

func formatSessionInfo(session *admin.SessionInfo) string {
	state := "pending"
	if session.Acked {
		state = "established"
	}
	return fmt.Sprintf("Session: %s\nRemote: %s\nPath: %s\nState: %s\nOpened: %s\nLast active: %s\nBuffered: %d bytes\n",
		session.ID, session.RemoteAddress, session.Path, state,
		session.OpenedAt.Format(time.RFC3339), session.LastActive.Format(time.RFC3339),
		session.BufferedAmount)
}

func formatBroadcastResult(result *admin.BroadcastResult) string {
	kind := "message"
	if result.Event != "" {
		kind = fmt.Sprintf("event %q", result.Event)
	}
	return fmt.Sprintf("Broadcast %s to topic %q: %d recipients", kind, result.Topic, result.Recipients)
}

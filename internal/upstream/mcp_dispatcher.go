package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/home-voice-lab/internal/logging"
	"github.com/home-voice-lab/internal/session"
)

// MCPDispatcher forwards finished utterances as a tool call to an
// orchestrator MCP server over websocket. The connection is established
// lazily and re-dialed after failures.
type MCPDispatcher struct {
	URL       string
	ToolName  string
	TimeoutMs int

	mu      sync.Mutex
	client  *sdk.Client
	session *sdk.ClientSession
}

// NewMCPDispatcher builds a dispatcher for the given ws:// endpoint. The
// tool name defaults to "handle_query".
func NewMCPDispatcher(rawurl, toolName string, timeoutMs int) *MCPDispatcher {
	if toolName == "" {
		toolName = "handle_query"
	}
	impl := &sdk.Implementation{Name: "home-voice-lab", Version: "0.1.0"}
	return &MCPDispatcher{
		URL:       rawurl,
		ToolName:  toolName,
		TimeoutMs: timeoutMs,
		client:    sdk.NewClient(impl, nil),
	}
}

func (d *MCPDispatcher) connectLocked(ctx context.Context) error {
	if d.session != nil {
		return nil
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrUpstreamUnavailable, err)
	}
	sess, err := d.client.Connect(ctx, newClientWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %v", session.ErrUpstreamUnavailable, err)
	}
	d.session = sess
	logging.Infow("mcp dispatcher connected", "url", u.String())
	return nil
}

func (d *MCPDispatcher) dropLocked() {
	if d.session != nil {
		_ = d.session.Close()
		d.session = nil
	}
}

// Dispatch implements session.QueryDispatcher via an MCP tool call.
func (d *MCPDispatcher) Dispatch(ctx context.Context, q session.Query) (string, error) {
	if d == nil || d.URL == "" {
		return "", fmt.Errorf("mcp dispatcher not configured")
	}
	timeout := d.TimeoutMs
	if timeout <= 0 {
		timeout = 60000
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.connectLocked(callCtx); err != nil {
		return "", err
	}

	args := map[string]interface{}{
		"transcript": q.Transcript,
		"session_id": q.SessionID,
		"transport":  q.Transport,
	}
	if ic := q.Interruption; ic != nil {
		args["interruption"] = map[string]interface{}{
			"interrupted_response": ic.InterruptedResponse,
			"previous_query":       ic.PreviousQuery,
			"audio_position_ms":    ic.AudioPositionMs,
		}
	}
	res, err := d.session.CallTool(callCtx, &sdk.CallToolParams{
		Name:      d.ToolName,
		Arguments: args,
	})
	if err != nil {
		// Drop the session so the next call re-dials.
		d.dropLocked()
		return "", classify(err)
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// Close tears down the underlying MCP session if one is open.
func (d *MCPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropLocked()
	return nil
}

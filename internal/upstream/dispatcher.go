package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/home-voice-lab/internal/logging"
	"github.com/home-voice-lab/internal/session"
)

// ChatDispatcher forwards finished utterances to an OpenAI-compatible chat
// completions endpoint and returns the reply text. The session metadata and
// any interruption context travel in the system message so the orchestrator
// can acknowledge that it was cut off.
type ChatDispatcher struct {
	URL       string
	Model     string
	AuthToken string
	TimeoutMs int
	Client    *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Dispatch implements session.QueryDispatcher.
func (d *ChatDispatcher) Dispatch(ctx context.Context, q session.Query) (string, error) {
	if d == nil || d.URL == "" {
		return "", fmt.Errorf("dispatcher not configured")
	}
	sys := fmt.Sprintf("source: home-voice-lab; session_id: %s; transport: %s", q.SessionID, q.Transport)
	if ic := q.Interruption; ic != nil {
		sys += fmt.Sprintf(
			"; interrupted_response: %q; previous_query: %q; interrupted_at_ms: %d",
			ic.InterruptedResponse, ic.PreviousQuery, ic.AudioPositionMs)
	}
	payload := map[string]interface{}{
		"messages": []chatMessage{
			{Role: "system", Content: sys},
			{Role: "user", Content: q.Transcript},
		},
	}
	if d.Model != "" {
		payload["model"] = d.Model
	}
	body, _ := json.Marshal(payload)

	timeout := d.TimeoutMs
	if timeout <= 0 {
		timeout = 60000
	}
	start := time.Now()
	resp, err := PostWithRetries(ctx, d.Client, d.URL, "application/json", body, d.AuthToken, timeout, 3, correlationFrom(ctx))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("dispatcher returned status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	logging.Infow("dispatcher reply received",
		"session_id", q.SessionID, "reply_len", len(reply),
		"latency_ms", time.Since(start).Milliseconds())
	return reply, nil
}

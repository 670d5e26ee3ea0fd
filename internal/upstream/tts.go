package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/home-voice-lab/internal/logging"
)

// TTSClient performs text->audio synthesis against an external service that
// accepts {"text": "..."} and answers raw PCM16 bytes.
type TTSClient struct {
	URL       string
	AuthToken string
	TimeoutMs int
	Client    *http.Client
}

// Synthesize implements session.TextToSpeech.
func (t *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if t == nil || t.URL == "" {
		return nil, fmt.Errorf("tts client not configured")
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	timeout := t.TimeoutMs
	if timeout <= 0 {
		timeout = 30000
	}
	start := time.Now()
	resp, err := PostWithRetries(ctx, t.Client, t.URL, "application/json", body, t.AuthToken, timeout, 2, correlationFrom(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.Debugw("tts response received",
		"text_len", len(text), "audio_bytes", len(audio),
		"latency_ms", time.Since(start).Milliseconds())
	return audio, nil
}

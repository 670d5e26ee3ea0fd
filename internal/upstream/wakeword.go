package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WakeClient asks an external wake-word service whether a rolling audio
// window contains the trigger phrase. The service accepts a WAV body and
// answers {"detected": bool, "confidence": float}.
type WakeClient struct {
	URL       string
	TimeoutMs int
	Client    *http.Client
}

// Detect implements session.WakeWordDetector. Errors are treated by the
// machine as "capability absent for this call".
func (w *WakeClient) Detect(ctx context.Context, pcm []byte, rate, channels int) (float64, error) {
	if w == nil || w.URL == "" {
		return 0, fmt.Errorf("wake client not configured")
	}
	wav := buildWAV(pcm, rate, channels, 16)
	timeout := w.TimeoutMs
	if timeout <= 0 {
		timeout = 5000
	}
	resp, err := PostWithRetries(ctx, w.Client, w.URL, "audio/wav", wav, "", timeout, 1, correlationFrom(ctx))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("wake service returned status %d", resp.StatusCode)
	}
	var out struct {
		Detected   bool    `json:"detected"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if !out.Detected && out.Confidence == 0 {
		return 0, nil
	}
	return out.Confidence, nil
}

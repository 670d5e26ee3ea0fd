package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/home-voice-lab/internal/logging"
	"github.com/home-voice-lab/internal/session"
)

// PostWithRetries posts a body to url with retry/backoff and returns the
// response. Caller must close resp.Body.
func PostWithRetries(ctx context.Context, client *http.Client, url, contentType string, body []byte, authToken string, timeoutMs, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		req, rerr := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewReader(body))
		if rerr != nil {
			cancel()
			return nil, rerr
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		if correlationID != "" {
			req.Header.Set("X-Correlation-ID", correlationID)
		}
		resp, err := doClient(client, timeoutMs).Do(req)
		if err != nil {
			cancel()
			lastErr = err
			logging.Debugw("post attempt failed", "url", url, "attempt", i+1, "err", err, "correlation_id", correlationID)
			if ctx.Err() != nil {
				break
			}
			if i < attempts-1 {
				time.Sleep(time.Duration(200*(1<<i)) * time.Millisecond)
				continue
			}
			break
		}
		// The request context must stay live until the caller finishes
		// reading the body.
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return nil, classify(lastErr)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func doClient(client *http.Client, timeoutMs int) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond}
}

// classify maps transport-level failures onto the session error taxonomy.
func classify(err error) error {
	if err == nil {
		return fmt.Errorf("%w: no response", session.ErrUpstreamUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", session.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", session.ErrUpstreamUnavailable, err)
}

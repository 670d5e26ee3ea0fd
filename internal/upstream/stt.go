package upstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/home-voice-lab/internal/logging"
)

// buildWAV creates a simple RIFF/WAVE header for 16-bit PCM and returns the
// concatenated bytes (header + data).
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}

// STTClient transcribes PCM16 audio by wrapping it in a WAV and POSTing it
// to a whisper-style HTTP endpoint that answers {"text": "..."}.
type STTClient struct {
	URL       string
	Language  string
	BeamSize  int
	TimeoutMs int
	Client    *http.Client
}

// Transcribe implements session.SpeechToText. Failures surface as errors;
// the machine treats them the same as an empty transcript.
func (c *STTClient) Transcribe(ctx context.Context, pcm []byte, rate, channels int) (string, error) {
	if c == nil || c.URL == "" {
		return "", fmt.Errorf("stt client not configured")
	}
	endpoint := c.URL
	if u, err := url.Parse(c.URL); err == nil {
		q := u.Query()
		if c.Language != "" {
			q.Set("language", c.Language)
		}
		if c.BeamSize > 0 {
			q.Set("beam_size", strconv.Itoa(c.BeamSize))
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	wav := buildWAV(pcm, rate, channels, 16)
	timeout := c.TimeoutMs
	if timeout <= 0 {
		timeout = 30000
	}
	sendTs := time.Now()
	resp, err := PostWithRetries(ctx, c.Client, endpoint, "audio/wav", wav, "", timeout, 3, correlationFrom(ctx))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("stt returned status %d", resp.StatusCode)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	logging.Debugw("stt response received",
		"bytes", len(pcm), "latency_ms", time.Since(sendTs).Milliseconds(),
		"transcript_len", len(out.Text))
	return strings.TrimSpace(out.Text), nil
}

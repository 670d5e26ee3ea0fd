package session

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

type sttFunc func(ctx context.Context, pcm []byte, rate, channels int) (string, error)

func (f sttFunc) Transcribe(ctx context.Context, pcm []byte, rate, channels int) (string, error) {
	return f(ctx, pcm, rate, channels)
}

type ttsFunc func(ctx context.Context, text string) ([]byte, error)

func (f ttsFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

type dispatchFunc func(ctx context.Context, q Query) (string, error)

func (f dispatchFunc) Dispatch(ctx context.Context, q Query) (string, error) {
	return f(ctx, q)
}

type wakeFunc func(ctx context.Context, pcm []byte, rate, channels int) (float64, error)

func (f wakeFunc) Detect(ctx context.Context, pcm []byte, rate, channels int) (float64, error) {
	return f(ctx, pcm, rate, channels)
}

type staticFlags map[string]bool

func (s staticFlags) Enabled(name string) bool { return s[name] }

// captureSink records outbound chunks and unpublishes. onChunk, when set,
// runs synchronously inside SendChunk with the running chunk count.
type captureSink struct {
	mu          sync.Mutex
	frames      []Frame
	unpublishes int
	onChunk     func(n int)
}

func (s *captureSink) SendChunk(ctx context.Context, f Frame) error {
	s.mu.Lock()
	cp := f
	cp.PCM = append([]byte(nil), f.PCM...)
	s.frames = append(s.frames, cp)
	n := len(s.frames)
	cb := s.onChunk
	s.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (s *captureSink) Unpublish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unpublishes++
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *captureSink) unpubs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unpublishes
}

// tone builds a constant-amplitude PCM16 frame at 16kHz mono, so its RMS is
// exactly amp on the absolute scale.
func tone(ms int, amp int16) Frame {
	n := 16 * ms
	pcm := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(amp))
	}
	return Frame{PCM: pcm, Rate: 16000, Channels: 1, Width: 2}
}

func quiet(ms int) Frame { return tone(ms, 0) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkMs = 20
	cfg.FollowUpDelayMs = 40
	return cfg
}

// chunkBytes returns one playback chunk's size under cfg.
func chunkBytes(cfg Config) int {
	return cfg.PlaybackRate * cfg.PlaybackChannels * 2 * cfg.ChunkMs / 1000
}

func newTestMachine(t *testing.T, mod func(*Options)) (*Machine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	cfg := testConfig()
	opts := Options{
		Transport: "test",
		Sink:      sink,
		STT: sttFunc(func(ctx context.Context, pcm []byte, rate, channels int) (string, error) {
			return "turn on the lights", nil
		}),
		TTS: ttsFunc(func(ctx context.Context, text string) ([]byte, error) {
			return make([]byte, 2*chunkBytes(cfg)), nil
		}),
		Dispatcher: dispatchFunc(func(ctx context.Context, q Query) (string, error) {
			return "done", nil
		}),
		Config: cfg,
	}
	if mod != nil {
		mod(&opts)
	}
	m := NewMachine(opts)
	t.Cleanup(func() { _ = m.Close() })
	return m, sink
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

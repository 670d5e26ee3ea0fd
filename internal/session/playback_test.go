package session

import (
	"context"
	"errors"
	"testing"
)

func TestStreamChunksCancellationBound(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkMs = 100
	m, sink := newTestMachine(t, func(o *Options) { o.Config = cfg })

	m.mu.Lock()
	h := m.newPlaybackLocked()
	m.mu.Unlock()

	// Cancel while the fourth chunk is in flight: the check runs strictly
	// before each send, so exactly four chunks leave and no fifth follows.
	sink.onChunk = func(n int) {
		if n == 4 {
			h.cancelled.Store(true)
		}
	}
	pcm := make([]byte, 10*chunkBytes(cfg))
	sentMs, cancelled, err := m.streamChunks(context.Background(), pcm, h)
	if err != nil {
		t.Fatalf("streamChunks: %v", err)
	}
	if !cancelled {
		t.Fatalf("cancellation not reported")
	}
	if sink.count() != 4 {
		t.Fatalf("sent %d chunks, want 4", sink.count())
	}
	if sentMs != 400 {
		t.Fatalf("sentMs = %d, want 400", sentMs)
	}
	if sink.unpubs() != 1 {
		t.Fatalf("unpublishes = %d, want 1", sink.unpubs())
	}
}

func TestStreamChunksPreCancelledSendsNothing(t *testing.T) {
	m, sink := newTestMachine(t, nil)
	m.mu.Lock()
	h := m.newPlaybackLocked()
	m.mu.Unlock()
	h.cancelled.Store(true)

	sentMs, cancelled, err := m.streamChunks(context.Background(), make([]byte, 10*chunkBytes(m.cfg)), h)
	if err != nil || !cancelled || sentMs != 0 {
		t.Fatalf("sentMs=%d cancelled=%v err=%v, want 0/true/nil", sentMs, cancelled, err)
	}
	if sink.count() != 0 {
		t.Fatalf("pre-cancelled playback sent %d chunks", sink.count())
	}
	if sink.unpubs() != 1 {
		t.Fatalf("unpublishes = %d, want 1", sink.unpubs())
	}
}

func TestStreamChunksCompletion(t *testing.T) {
	m, sink := newTestMachine(t, nil)
	m.mu.Lock()
	h := m.newPlaybackLocked()
	m.mu.Unlock()

	pcm := make([]byte, 3*chunkBytes(m.cfg))
	sentMs, cancelled, err := m.streamChunks(context.Background(), pcm, h)
	if err != nil || cancelled {
		t.Fatalf("cancelled=%v err=%v, want false/nil", cancelled, err)
	}
	if sink.count() != 3 {
		t.Fatalf("sent %d chunks, want 3", sink.count())
	}
	if want := 3 * m.cfg.ChunkMs; sentMs != want {
		t.Fatalf("sentMs = %d, want %d", sentMs, want)
	}
}

func TestStreamChunksTrailingPartialChunk(t *testing.T) {
	m, sink := newTestMachine(t, nil)
	m.mu.Lock()
	h := m.newPlaybackLocked()
	m.mu.Unlock()

	// 2.5 chunks of audio: the final send carries the short remainder.
	pcm := make([]byte, 2*chunkBytes(m.cfg)+chunkBytes(m.cfg)/2)
	sentMs, cancelled, err := m.streamChunks(context.Background(), pcm, h)
	if err != nil || cancelled {
		t.Fatalf("cancelled=%v err=%v", cancelled, err)
	}
	if sink.count() != 3 {
		t.Fatalf("sent %d chunks, want 3", sink.count())
	}
	if want := 2*m.cfg.ChunkMs + m.cfg.ChunkMs/2; sentMs != want {
		t.Fatalf("sentMs = %d, want %d", sentMs, want)
	}
}

type failingSink struct{ captureSink }

func (s *failingSink) SendChunk(ctx context.Context, f Frame) error {
	return errors.New("socket reset")
}

func TestStreamChunksSendErrorIsTransport(t *testing.T) {
	sink := &failingSink{}
	m, _ := newTestMachine(t, func(o *Options) { o.Sink = sink })
	m.mu.Lock()
	h := m.newPlaybackLocked()
	m.mu.Unlock()

	_, _, err := m.streamChunks(context.Background(), make([]byte, chunkBytes(m.cfg)), h)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if sink.unpubs() != 1 {
		t.Fatalf("stream not unpublished after send failure")
	}
}

func TestPlaybackAccessors(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	if m.PlaybackCancelled() || m.PlaybackPositionMs() != 0 {
		t.Fatalf("fresh machine reports active playback")
	}
	m.mu.Lock()
	h := m.newPlaybackLocked()
	m.mu.Unlock()
	h.posMs.Store(240)
	h.cancelled.Store(true)
	if !m.PlaybackCancelled() {
		t.Fatalf("cancelled flag not visible")
	}
	if m.PlaybackPositionMs() != 240 {
		t.Fatalf("position = %d, want 240", m.PlaybackPositionMs())
	}
}

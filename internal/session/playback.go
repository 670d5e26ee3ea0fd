package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/home-voice-lab/internal/logging"
)

// playbackHandle tracks one outbound stream. Cancellation is cooperative:
// the flag is set by the interruption controller and polled by the streamer
// before every chunk, so at most one already-dispatched chunk follows it.
type playbackHandle struct {
	cancelled atomic.Bool
	posMs     atomic.Int64
}

// newPlaybackLocked installs a fresh handle as the session's current
// response playback. Callers hold m.mu.
func (m *Machine) newPlaybackLocked() *playbackHandle {
	h := &playbackHandle{}
	m.play = h
	return h
}

// newDirectPlayLocked registers a handle for an out-of-band stream (direct
// synthesize, stop acknowledgment, follow-up prompt). Direct handles never
// replace m.play; they are tracked so cancellation reaches every live
// stream. Callers hold m.mu.
func (m *Machine) newDirectPlayLocked() *playbackHandle {
	h := &playbackHandle{}
	m.directPlays[h] = struct{}{}
	return h
}

// cancelPlaybackLocked flags every live outbound stream, the conversation
// response and direct plays alike. Callers hold m.mu.
func (m *Machine) cancelPlaybackLocked() {
	if m.play != nil {
		m.play.cancelled.Store(true)
	}
	for h := range m.directPlays {
		h.cancelled.Store(true)
	}
}

// PlaybackCancelled reports whether the current playback has been cancelled.
func (m *Machine) PlaybackCancelled() bool {
	m.mu.Lock()
	h := m.play
	m.mu.Unlock()
	return h != nil && h.cancelled.Load()
}

// PlaybackPositionMs returns the streamed-so-far duration of the current
// playback.
func (m *Machine) PlaybackPositionMs() int {
	m.mu.Lock()
	h := m.play
	m.mu.Unlock()
	if h == nil {
		return 0
	}
	return int(h.posMs.Load())
}

// synthesize calls the TTS collaborator with the configured bounded timeout.
func (m *Machine) synthesize(ctx context.Context, text string) ([]byte, error) {
	if m.tts == nil {
		return nil, fmt.Errorf("%w: no tts configured", ErrCapability)
	}
	tctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.TTSTimeoutMs)*time.Millisecond)
	defer cancel()
	start := m.now()
	pcm, err := m.tts.Synthesize(tctx, text)
	if err != nil {
		return nil, err
	}
	logging.Debugw("tts synthesized", "bytes", len(pcm),
		"latency_ms", m.now().Sub(start).Milliseconds(), "session_id", m.id)
	return pcm, nil
}

// streamChunks emits pcm to the sink in fixed-duration chunks, pacing to
// real time. The handle's cancel flag is checked strictly before each send,
// bounding cancellation latency to one chunk's duration. The outbound stream
// is unpublished on every exit, including mid-stream cancellation.
func (m *Machine) streamChunks(ctx context.Context, pcm []byte, h *playbackHandle) (sentMs int, cancelled bool, err error) {
	chunkBytes := m.cfg.PlaybackRate * m.cfg.PlaybackChannels * 2 * m.cfg.ChunkMs / 1000
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}
	defer func() {
		uctx, cancelU := context.WithTimeout(context.Background(), 5*time.Second)
		if uerr := m.sink.Unpublish(uctx); uerr != nil {
			logging.Debugw("unpublish failed", "err", uerr, "session_id", m.id)
		}
		cancelU()
	}()
	for off := 0; off < len(pcm); off += chunkBytes {
		if h.cancelled.Load() {
			return sentMs, true, nil
		}
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		f := Frame{PCM: pcm[off:end], Rate: m.cfg.PlaybackRate, Channels: m.cfg.PlaybackChannels, Width: 2}
		if serr := m.sink.SendChunk(ctx, f); serr != nil {
			return sentMs, false, fmt.Errorf("%w: %v", ErrTransport, serr)
		}
		d := f.DurationMs()
		sentMs += d
		h.posMs.Store(int64(sentMs))
		select {
		case <-m.ctx.Done():
			return sentMs, true, nil
		case <-time.After(time.Duration(d) * time.Millisecond):
		}
	}
	return sentMs, false, nil
}

// speakResponse runs the playback half of a turn: synthesis, chunked
// streaming, and the clean-completion bookkeeping that arms the follow-up
// scheduler. On barge-in the interruption controller has already moved the
// session to interrupted; this only records the final streamed position.
func (m *Machine) speakResponse(ctx context.Context, text string, h *playbackHandle) {
	pcm, err := m.synthesize(ctx, text)
	if err != nil {
		logging.Warnw("tts failed; skipping playback", "err", err, "session_id", m.id)
		m.mu.Lock()
		if m.state == StateSpeaking {
			m.transitionLocked(StateIdle, "tts failed")
		}
		m.mu.Unlock()
		return
	}
	sentMs, cancelled, err := m.streamChunks(ctx, pcm, h)
	if err != nil {
		logging.Warnw("playback send failed", "err", err, "session_id", m.id)
		m.mu.Lock()
		if m.state == StateSpeaking {
			m.transitionLocked(StateIdle, "playback failed")
		}
		m.mu.Unlock()
		return
	}
	if cancelled {
		m.mu.Lock()
		if m.interruption != nil {
			m.interruption.AudioPositionMs = sentMs
		}
		m.mu.Unlock()
		logging.Infow("playback cancelled", "position_ms", sentMs, "session_id", m.id)
		return
	}
	m.mu.Lock()
	completed := m.state == StateSpeaking && m.transitionLocked(StateIdle, "playback complete")
	if completed {
		m.lastResponseAt = m.now()
		m.currentResponse = ""
		m.play = nil
	}
	m.mu.Unlock()
	if completed {
		logging.Infow("playback complete", "duration_ms", sentMs, "session_id", m.id)
		m.scheduleFollowUp()
	}
}

// playDirect synthesizes and streams text outside the conversation state
// machine. Used for direct synthesize requests, stop-command acknowledgments
// and follow-up prompts.
func (m *Machine) playDirect(ctx context.Context, text string) bool {
	pcm, err := m.synthesize(ctx, text)
	if err != nil {
		logging.Warnw("tts failed; skipping playback", "err", err, "session_id", m.id)
		return false
	}
	m.mu.Lock()
	h := m.newDirectPlayLocked()
	m.mu.Unlock()
	_, cancelled, err := m.streamChunks(ctx, pcm, h)
	m.mu.Lock()
	delete(m.directPlays, h)
	m.mu.Unlock()
	if err != nil {
		logging.Warnw("playback send failed", "err", err, "session_id", m.id)
		return false
	}
	return !cancelled
}

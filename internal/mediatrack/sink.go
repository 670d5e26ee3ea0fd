package mediatrack

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/home-voice-lab/internal/session"
)

// trackSink publishes playback as a live outbound track: PCM chunks are
// opus-encoded into 20ms frames and pushed onto the voice connection.
// Unpublish drops the speaking flag, which is how this transport realizes
// mid-stream cancellation.
type trackSink struct {
	vc *discordgo.VoiceConnection

	mu       sync.Mutex
	enc      *opus.Encoder
	speaking bool
}

func newTrackSink(vc *discordgo.VoiceConnection) *trackSink {
	return &trackSink{vc: vc}
}

// SendChunk implements session.ChunkSink.
func (s *trackSink) SendChunk(ctx context.Context, f session.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		enc, err := opus.NewEncoder(trackRate, trackChannels, opus.AppVoIP)
		if err != nil {
			return err
		}
		s.enc = enc
	}
	if !s.speaking {
		if err := s.vc.Speaking(true); err != nil {
			return fmt.Errorf("%w: %v", session.ErrTransport, err)
		}
		s.speaking = true
	}
	samples := bytesToInt16(f.PCM)
	buf := make([]byte, 4000)
	for off := 0; off < len(samples); off += frameSamples {
		end := off + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		frame := samples[off:end]
		if len(frame) < frameSamples {
			// pad the trailing partial frame with silence
			padded := make([]int16, frameSamples)
			copy(padded, frame)
			frame = padded
		}
		n, err := s.enc.Encode(frame, buf)
		if err != nil {
			return err
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case s.vc.OpusSend <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Unpublish implements session.ChunkSink.
func (s *trackSink) Unpublish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking {
		return nil
	}
	s.speaking = false
	return s.vc.Speaking(false)
}

func bytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

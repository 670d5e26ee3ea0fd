package mediatrack

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/home-voice-lab/internal/logging"
	"github.com/home-voice-lab/internal/session"
)

const (
	trackRate     = 48000
	trackChannels = 1
	frameSamples  = trackRate / 50 // 20ms opus frames
)

// Agent is the continuous track adapter: it joins a voice room as a named
// participant and consumes the unbounded live frame stream. Utterance
// boundaries are inferred purely from VAD and timers inside the machine;
// there is no explicit start/stop. One session exists per speaking source
// (SSRC) and is destroyed when that participant leaves.
type Agent struct {
	Token      string
	GuildID    string
	ChannelID  string
	STT        session.SpeechToText
	TTS        session.TextToSpeech
	Dispatcher session.QueryDispatcher
	Wake       session.WakeWordDetector
	Flags      session.FeatureFlags
	Config     session.Config

	ds *discordgo.Session
	vc *discordgo.VoiceConnection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	machines map[uint32]*session.Machine
	decoders map[uint32]*opus.Decoder
	userByS  map[uint32]string
}

// Start connects to the room and begins consuming frames.
func (a *Agent) Start(ctx context.Context) error {
	if a.Token == "" || a.GuildID == "" || a.ChannelID == "" {
		return fmt.Errorf("track adapter requires token, guild and channel")
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.machines = make(map[uint32]*session.Machine)
	a.decoders = make(map[uint32]*opus.Decoder)
	a.userByS = make(map[uint32]string)

	ds, err := discordgo.New("Bot " + a.Token)
	if err != nil {
		return err
	}
	a.ds = ds
	if err := ds.Open(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrTransport, err)
	}
	vc, err := ds.ChannelVoiceJoin(a.GuildID, a.ChannelID, false, false)
	if err != nil {
		_ = ds.Close()
		return fmt.Errorf("%w: %v", session.ErrTransport, err)
	}
	a.vc = vc
	vc.AddHandler(a.handleSpeakingUpdate)
	ds.AddHandler(a.handleVoiceState)

	a.wg.Add(1)
	go a.recvLoop()
	logging.Infow("track adapter joined room", "guild_id", a.GuildID, "channel_id", a.ChannelID)
	return nil
}

// Stop leaves the room and destroys all sessions.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.vc != nil {
		_ = a.vc.Disconnect()
	}
	if a.ds != nil {
		_ = a.ds.Close()
	}
	a.wg.Wait()
	a.mu.Lock()
	machines := a.machines
	a.machines = map[uint32]*session.Machine{}
	a.mu.Unlock()
	for _, m := range machines {
		_ = m.Close()
	}
	logging.Infow("track adapter stopped", "guild_id", a.GuildID)
}

func (a *Agent) recvLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case pkt, ok := <-a.vc.OpusRecv:
			if !ok {
				return
			}
			a.handlePacket(pkt)
		}
	}
}

func (a *Agent) handlePacket(pkt *discordgo.Packet) {
	a.mu.Lock()
	dec := a.decoders[pkt.SSRC]
	if dec == nil {
		d, err := opus.NewDecoder(trackRate, trackChannels)
		if err != nil {
			a.mu.Unlock()
			logging.Errorw("opus decoder init failed", "ssrc", pkt.SSRC, "err", err)
			return
		}
		dec = d
		a.decoders[pkt.SSRC] = dec
	}
	m := a.machines[pkt.SSRC]
	if m == nil {
		m = a.newMachineLocked(pkt.SSRC)
	}
	a.mu.Unlock()

	pcm := make([]int16, frameSamples)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Debugw("opus decode error; dropping frame", "ssrc", pkt.SSRC, "err", err)
		return
	}
	m.HandleFrame(a.ctx, session.Frame{
		PCM:      int16ToBytes(pcm[:n]),
		Rate:     trackRate,
		Channels: trackChannels,
		Width:    2,
	})
}

func (a *Agent) newMachineLocked(ssrc uint32) *session.Machine {
	cfg := a.Config
	cfg.PlaybackRate = trackRate
	cfg.PlaybackChannels = trackChannels
	m := session.NewMachine(session.Options{
		Transport:  "track",
		Sink:       newTrackSink(a.vc),
		STT:        a.STT,
		TTS:        a.TTS,
		Dispatcher: a.Dispatcher,
		Wake:       a.Wake,
		Flags:      a.Flags,
		Config:     cfg,
	})
	a.machines[ssrc] = m
	logging.Infow("track session created", "ssrc", ssrc, "session_id", m.ID())
	return m
}

// handleSpeakingUpdate maps SSRC -> user so sessions can be torn down when
// that participant leaves the room.
func (a *Agent) handleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	a.mu.Lock()
	a.userByS[uint32(su.SSRC)] = su.UserID
	a.mu.Unlock()
	logging.Debugw("mapped ssrc to user", "ssrc", su.SSRC, "user_id", su.UserID)
}

// handleVoiceState destroys the session of a participant that left the
// channel.
func (a *Agent) handleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.ChannelID == a.ChannelID {
		return
	}
	a.mu.Lock()
	var gone []*session.Machine
	for ssrc, uid := range a.userByS {
		if uid != vs.UserID {
			continue
		}
		if m := a.machines[ssrc]; m != nil {
			gone = append(gone, m)
			delete(a.machines, ssrc)
		}
		delete(a.decoders, ssrc)
		delete(a.userByS, ssrc)
	}
	a.mu.Unlock()
	for _, m := range gone {
		logging.Infow("track session destroyed; participant left", "user_id", vs.UserID, "session_id", m.ID())
		_ = m.Close()
	}
}

// SessionCount reports the number of live per-source sessions.
func (a *Agent) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.machines)
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

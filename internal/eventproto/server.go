package eventproto

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/home-voice-lab/internal/logging"
	"github.com/home-voice-lab/internal/session"
)

// Server is the discrete event adapter: it accepts websocket connections,
// owns one session machine per connection, and maps protocol messages onto
// state-machine inputs. All session semantics live in the machine; this
// adapter only translates framing.
type Server struct {
	Addr       string
	STT        session.SpeechToText
	TTS        session.TextToSpeech
	Dispatcher session.QueryDispatcher
	Wake       session.WakeWordDetector
	Flags      session.FeatureFlags
	Config     session.Config

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	sessions map[string]*session.Machine
}

// Start begins listening. It returns once the listener is running; serve
// errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	s.sessions = make(map[string]*session.Machine)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{Addr: s.Addr, Handler: mux}
	go func() {
		logging.Infow("event adapter listening", "addr", s.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorw("event adapter listener failed", "err", err)
		}
	}()
	return nil
}

// Shutdown stops the listener and destroys all live sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.mu.Lock()
	machines := make([]*session.Machine, 0, len(s.sessions))
	for _, m := range s.sessions {
		machines = append(machines, m)
	}
	s.sessions = map[string]*session.Machine{}
	s.mu.Unlock()
	for _, m := range machines {
		_ = m.Close()
	}
	return err
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	logging.Infow("satellite connected", "remote", r.RemoteAddr)
	sink := &wsSink{conn: conn}
	m := session.NewMachine(session.Options{
		Transport:  "events",
		Sink:       sink,
		STT:        s.STT,
		TTS:        s.TTS,
		Dispatcher: s.Dispatcher,
		Wake:       s.Wake,
		Flags:      s.Flags,
		Config:     s.Config,
		Events: session.Events{
			OnTranscript: func(text string) {
				_ = sink.write(Message{Type: TypeTranscript, Text: text})
			},
			OnResponse: func(text string) {
				_ = sink.write(Message{Type: TypeResponse, Text: text})
			},
		},
	})
	s.mu.Lock()
	s.sessions[m.ID()] = m
	s.mu.Unlock()

	s.readLoop(r.Context(), conn, sink, m)

	s.mu.Lock()
	delete(s.sessions, m.ID())
	s.mu.Unlock()
	_ = m.Close()
	_ = conn.Close()
	logging.Infow("satellite disconnected", "remote", r.RemoteAddr, "session_id", m.ID())
}

// readLoop consumes protocol messages until the connection dies. Malformed
// messages are logged and ignored; only transport errors end the session.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sink *wsSink, m *session.Machine) {
	// Declared stream format from the last audio-start; chunks may override
	// per message.
	rate, width, channels := 16000, 2, 1
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logging.Debugw("connection closed", "err", err, "session_id", m.ID())
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warnw("ignoring malformed message", "err", err, "session_id", m.ID())
			continue
		}
		switch msg.Type {
		case TypeDescribe:
			caps := []string{TypeTranscribe, TypeSynthesize}
			if s.Wake != nil {
				caps = append(caps, "wake")
			}
			_ = sink.write(Message{Type: TypeInfo, Capabilities: caps})
		case TypeAudioStart:
			if msg.Rate > 0 {
				rate = msg.Rate
			}
			if msg.Width > 0 {
				width = msg.Width
			}
			if msg.Channels > 0 {
				channels = msg.Channels
			}
		case TypeAudioChunk:
			f := session.Frame{
				PCM:      msg.Audio,
				Rate:     pick(msg.Rate, rate),
				Width:    pick(msg.Width, width),
				Channels: pick(msg.Channels, channels),
			}
			m.HandleFrame(ctx, f)
		case TypeAudioStop:
			m.EndOfAudio(ctx)
		case TypeTranscribe:
			// Language hints are applied at the STT client; acknowledge only.
			logging.Debugw("transcribe request", "language", msg.Language, "session_id", m.ID())
		case TypeSynthesize:
			m.Speak(ctx, msg.Text)
		default:
			logging.Warnw("ignoring unknown message type", "type", msg.Type, "session_id", m.ID())
			_ = sink.write(Message{Type: TypeError, Message: "unknown message type: " + msg.Type})
		}
	}
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// wsSink delivers outbound audio as a finite audio-chunk sequence followed
// by audio-stop. A write mutex serializes chunk writes with protocol
// replies from the read loop.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

// SendChunk implements session.ChunkSink.
func (s *wsSink) SendChunk(ctx context.Context, f session.Frame) error {
	return s.write(Message{
		Type:     TypeAudioChunk,
		Rate:     f.Rate,
		Width:    f.Width,
		Channels: f.Channels,
		Audio:    f.PCM,
	})
}

// Unpublish implements session.ChunkSink by terminating the chunk sequence.
func (s *wsSink) Unpublish(ctx context.Context) error {
	return s.write(Message{Type: TypeAudioStop})
}

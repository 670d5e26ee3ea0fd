package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/home-voice-lab/internal/logging"
)

var tracer = otel.Tracer("github.com/home-voice-lab/internal/session")

// Options configures a Machine. Sink, STT, TTS and Dispatcher are required;
// Wake, Flags and Stop are optional capabilities with defined no-op behavior
// when absent.
type Options struct {
	ID         string
	Transport  string
	Sink       ChunkSink
	STT        SpeechToText
	TTS        TextToSpeech
	Dispatcher QueryDispatcher
	Wake       WakeWordDetector
	Flags      FeatureFlags
	Stop       StopClassifier
	Events     Events
	Config     Config
}

// Machine owns one live voice session end to end: it classifies inbound
// frames, decides when an utterance is complete, dispatches it, streams the
// synthesized answer back, and handles barge-in and follow-up prompts. Both
// transport adapters drive the same Machine; adapter-specific concerns stay
// in the adapters.
//
// Frames must be delivered by a single goroutine in arrival order. Dispatch,
// playback and follow-up work run on a bounded task pool so the frame loop
// is never blocked by upstream calls.
type Machine struct {
	cfg        Config
	id         string
	transport  string
	sink       ChunkSink
	stt        SpeechToText
	tts        TextToSpeech
	dispatcher QueryDispatcher
	wake       WakeWordDetector
	flags      FeatureFlags
	stopc      StopClassifier
	events     Events
	det        Detector
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	tasks  *taskRunner

	mu             sync.Mutex
	state          State
	createdAt      time.Time
	stateEnteredAt time.Time
	lastActivityAt time.Time

	audioBuf      []byte
	utterMs       int
	silenceMs     int
	frameRate     int
	frameChannels int
	frameWidth    int

	look *lookback

	burst       []byte
	burstMs     int
	burstEnergy float64

	interruption    *InterruptionContext
	lastQuery       string
	currentResponse string

	followUps      int
	lastResponseAt time.Time
	fuCancel       context.CancelFunc

	play        *playbackHandle
	directPlays map[*playbackHandle]struct{}
	generation  int64

	closed bool
}

// NewMachine builds a session machine around the given collaborators. The
// returned machine is live; call Close when the connection or track ends.
func NewMachine(opts Options) *Machine {
	cfg := opts.Config
	cfg.normalize()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	stopc := opts.Stop
	if stopc == nil {
		stopc = durationEnergyClassifier{maxDurationMs: cfg.StopMaxDurationMs, minEnergy: cfg.StopMinEnergy}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:           cfg,
		id:            id,
		transport:     opts.Transport,
		sink:          opts.Sink,
		stt:           opts.STT,
		tts:           opts.TTS,
		dispatcher:    opts.Dispatcher,
		wake:          opts.Wake,
		flags:         opts.Flags,
		stopc:         stopc,
		events:        opts.Events,
		det:           Detector{Mode: cfg.VADMode, Threshold: cfg.VADThreshold},
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		state:         StateIdle,
		directPlays:   make(map[*playbackHandle]struct{}),
		look:          newLookback(cfg.LookbackMs),
		frameRate:     16000,
		frameChannels: 1,
		frameWidth:    2,
	}
	m.createdAt = m.now()
	m.stateEnteredAt = m.createdAt
	m.lastActivityAt = m.createdAt
	m.tasks = newTaskRunner(ctx, cfg.Workers, cfg.QueueSize)
	logging.Infow("session created", logging.SessionFields(id, opts.Transport)...)
	return m
}

func (m *Machine) ID() string { return m.id }

// State returns the current lifecycle phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FollowUpCount reports how many AI-initiated prompts this session has played.
func (m *Machine) FollowUpCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.followUps
}

// transitionLocked applies a state change if the edge is enumerated, else
// logs and leaves the state untouched. Callers hold m.mu.
func (m *Machine) transitionLocked(to State, reason string) bool {
	from := m.state
	if !validEdges[from][to] {
		logging.Warnw("ignoring invalid transition",
			"from", from.String(), "to", to.String(), "reason", reason,
			"session_id", m.id)
		return false
	}
	m.state = to
	m.stateEnteredAt = m.now()
	logging.Debugw("state transition",
		"from", from.String(), "to", to.String(), "reason", reason,
		"session_id", m.id)
	return true
}

// HandleFrame feeds one inbound audio frame through the session. Errors and
// panics inside frame handling degrade the session to idle; they never
// propagate to the adapter loop.
func (m *Machine) HandleFrame(ctx context.Context, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw("frame handling panicked; degrading session to idle",
				"recovered", r, "session_id", m.id)
			m.degradeToIdle("panic in frame handler")
		}
	}()
	if len(f.PCM) == 0 || f.Rate <= 0 || f.Channels <= 0 || f.Width <= 0 {
		logging.Debugw("ignoring malformed frame",
			"bytes", len(f.PCM), "rate", f.Rate, "session_id", m.id)
		return
	}
	speech := m.det.IsSpeech(f)

	m.mu.Lock()
	if speech {
		m.lastActivityAt = m.now()
		m.cancelFollowUpLocked()
	}
	st := m.state
	m.mu.Unlock()

	switch st {
	case StateIdle:
		m.frameIdle(ctx, f, speech)
	case StateListening:
		m.frameListening(f, speech)
	case StateProcessing:
		// Audio between utterance end and response start only refreshes the
		// lookback; it is not part of any query.
		m.mu.Lock()
		if m.state == StateProcessing {
			m.look.push(f)
		}
		m.mu.Unlock()
	case StateSpeaking:
		if speech {
			m.interrupt(f)
		}
	case StateInterrupted:
		m.frameInterrupted(f, speech)
	}
}

func (m *Machine) frameIdle(ctx context.Context, f Frame, speech bool) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.look.push(f)
	var scan []byte
	if m.wake != nil && speech {
		scan = m.look.bytes()
	}
	m.mu.Unlock()

	if m.wake == nil {
		if speech {
			m.enterListening(f, "speech detected")
		}
		return
	}
	if scan == nil {
		return
	}
	// The wake scan runs on the frame loop, so it gets a short budget of its
	// own rather than the STT timeout.
	wctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.WakeTimeoutMs)*time.Millisecond)
	conf, err := m.wake.Detect(wctx, scan, f.Rate, f.Channels)
	cancel()
	if err != nil {
		// Capability errors mean "absent for this call", never fatal.
		logging.Debugw("wake detection failed; treating capability as absent",
			"err", err, "session_id", m.id)
		return
	}
	if conf >= m.cfg.WakeConfidence {
		logging.Infow("wake word detected", "confidence", conf, "session_id", m.id)
		m.enterListening(f, "wake word")
	}
}

// enterListening starts a new utterance, retaining the triggering frame.
func (m *Machine) enterListening(trigger Frame, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	if !m.transitionLocked(StateListening, reason) {
		return
	}
	m.audioBuf = append([]byte(nil), trigger.PCM...)
	m.utterMs = trigger.DurationMs()
	m.silenceMs = 0
	m.frameRate, m.frameChannels, m.frameWidth = trigger.Rate, trigger.Channels, trigger.Width
	m.look.reset()
}

func (m *Machine) frameListening(f Frame, speech bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateListening {
		return
	}
	m.audioBuf = append(m.audioBuf, f.PCM...)
	m.utterMs += f.DurationMs()
	if speech {
		m.silenceMs = 0
	} else {
		m.silenceMs += f.DurationMs()
	}
	switch {
	case m.silenceMs >= m.cfg.SilenceTimeoutMs:
		m.finishUtteranceLocked("silence timeout")
	case m.utterMs >= m.cfg.MaxQueryDurationMs:
		m.finishUtteranceLocked("max query duration")
	}
}

// finishUtteranceLocked closes the current utterance and hands it to the
// dispatch task. Exactly one dispatch is triggered per utterance; stale
// results from superseded dispatches are discarded when they complete.
func (m *Machine) finishUtteranceLocked(reason string) {
	if !m.transitionLocked(StateProcessing, reason) {
		return
	}
	buf := m.audioBuf
	rate, channels := m.frameRate, m.frameChannels
	ictx := m.interruption
	m.interruption = nil // consumed by this dispatch
	m.audioBuf = nil
	m.utterMs = 0
	m.silenceMs = 0
	m.generation++
	gen := m.generation
	if !m.tasks.submit(func() { m.runDispatch(gen, buf, rate, channels, ictx) }) {
		m.transitionLocked(StateIdle, "dispatch queue full")
	}
}

// EndOfAudio is the adapter's explicit end-of-utterance signal. In any other
// state it is a logged no-op.
func (m *Machine) EndOfAudio(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateListening:
		m.lastActivityAt = m.now()
		m.finishUtteranceLocked("end of audio")
	case StateInterrupted:
		m.resolveInterruptionLocked()
	default:
		logging.Debugw("end-of-audio ignored", "state", m.state.String(), "session_id", m.id)
	}
}

// Speak streams synthesized text to the sink without touching conversation
// state. It serves direct synthesize requests from the discrete protocol.
// Requests arriving while a response is on the air are dropped: the sink
// carries one stream at a time, and a second would escape barge-in
// cancellation.
func (m *Machine) Speak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	m.mu.Lock()
	busy := m.state == StateSpeaking || m.state == StateInterrupted
	m.mu.Unlock()
	if busy {
		logging.Warnw("dropping synthesize request during active response", "session_id", m.id)
		return
	}
	m.tasks.submit(func() { m.playDirect(m.ctx, text) })
}

// runDispatch executes the STT → dispatcher half of a turn on the task pool.
func (m *Machine) runDispatch(gen int64, pcm []byte, rate, channels int, ictx *InterruptionContext) {
	ctx, span := tracer.Start(m.ctx, "session.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", m.id),
		attribute.String("session.transport", m.transport),
		attribute.Int("audio.bytes", len(pcm)),
	)

	transcript := ""
	if m.stt != nil && len(pcm) > 0 {
		sctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.STTTimeoutMs)*time.Millisecond)
		t, err := m.stt.Transcribe(sctx, pcm, rate, channels)
		cancel()
		if err != nil {
			logging.Warnw("stt failed; dropping utterance", "err", err, "session_id", m.id)
		} else {
			transcript = strings.TrimSpace(t)
		}
	}
	if m.superseded(gen) {
		logging.Debugw("discarding stale transcript", "session_id", m.id)
		return
	}
	if transcript == "" {
		m.completeDispatchIdle(gen, "empty transcript")
		return
	}
	logging.Infow("transcript", "text", transcript, "session_id", m.id)
	if m.events.OnTranscript != nil {
		m.events.OnTranscript(transcript)
	}
	m.mu.Lock()
	m.lastQuery = transcript
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.DispatcherTimeoutMs)*time.Millisecond)
	resp, err := m.dispatcher.Dispatch(dctx, Query{
		Transcript:   transcript,
		SessionID:    m.id,
		Transport:    m.transport,
		Interruption: ictx,
	})
	cancel()
	if m.superseded(gen) {
		logging.Debugw("discarding stale response", "session_id", m.id)
		return
	}
	if err != nil {
		// Fallback path: no audio, back to idle, next turn proceeds normally.
		logging.Warnw("dispatch failed; returning to idle", "err", err, "session_id", m.id)
		m.completeDispatchIdle(gen, "dispatch failed")
		return
	}
	resp = strings.TrimSpace(resp)
	if resp == "" {
		m.completeDispatchIdle(gen, "empty response")
		return
	}
	if m.events.OnResponse != nil {
		m.events.OnResponse(resp)
	}

	m.mu.Lock()
	if m.state != StateProcessing || m.generation != gen {
		m.mu.Unlock()
		return
	}
	if !m.transitionLocked(StateSpeaking, "response ready") {
		m.mu.Unlock()
		return
	}
	m.currentResponse = resp
	h := m.newPlaybackLocked()
	m.mu.Unlock()

	m.speakResponse(ctx, resp, h)
}

func (m *Machine) superseded(gen int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation != gen
}

func (m *Machine) completeDispatchIdle(gen int64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateProcessing && m.generation == gen {
		m.transitionLocked(StateIdle, reason)
	}
}

// degradeToIdle is the error-path reset: it forces idle and clears all
// per-utterance state regardless of the enumerated edges.
func (m *Machine) degradeToIdle(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return
	}
	logging.Warnw("degrading session to idle", "from", m.state.String(), "reason", reason, "session_id", m.id)
	m.state = StateIdle
	m.stateEnteredAt = m.now()
	m.audioBuf = nil
	m.utterMs = 0
	m.silenceMs = 0
	m.burst = nil
	m.burstMs = 0
	m.burstEnergy = 0
	m.interruption = nil
	m.cancelPlaybackLocked()
}

// Close tears the session down: cancels pending follow-up work, stops any
// playback, drains the task pool and unpublishes the outbound stream.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancelFollowUpLocked()
	m.cancelPlaybackLocked()
	m.mu.Unlock()

	m.cancel()
	m.tasks.close()
	uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = m.sink.Unpublish(uctx)
	cancel()
	logging.Infow("session closed", logging.SessionFields(m.id, m.transport)...)
	return nil
}

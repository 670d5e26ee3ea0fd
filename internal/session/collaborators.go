package session

import "context"

// FlagFollowUps gates AI-initiated follow-up prompts.
const FlagFollowUps = "ai_follow_ups_enabled"

// SpeechToText transcribes one utterance of PCM16 audio. An empty transcript
// means nothing usable was heard; implementations map failures to errors and
// the machine treats both the same way.
type SpeechToText interface {
	Transcribe(ctx context.Context, pcm []byte, rate, channels int) (string, error)
}

// TextToSpeech synthesizes PCM16 audio for the given text at the machine's
// configured playback rate.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// QueryDispatcher forwards a finished utterance to the orchestrator and
// returns the response text to speak.
type QueryDispatcher interface {
	Dispatch(ctx context.Context, q Query) (string, error)
}

// WakeWordDetector is an optional capability. When configured, idle sessions
// enter listening only on a detection whose confidence clears the configured
// floor; when absent (nil), the first speech-positive frame starts listening.
type WakeWordDetector interface {
	Detect(ctx context.Context, pcm []byte, rate, channels int) (float64, error)
}

// FeatureFlags is a read-mostly flag view. Implementations never block on
// upstream unavailability; they return last-known values or false.
type FeatureFlags interface {
	Enabled(name string) bool
}

// ChunkSink is the adapter-provided outbound audio path. SendChunk delivers
// one playback chunk; Unpublish tears the outbound stream down, including
// mid-stream on cancellation.
type ChunkSink interface {
	SendChunk(ctx context.Context, f Frame) error
	Unpublish(ctx context.Context) error
}

// StopClassifier decides whether an interruption burst was a stop command
// (cancel playback, no new query) or the start of a new query. The default
// duration+energy heuristic is a placeholder for a keyword-spotting model;
// swap the policy rather than hardening it.
type StopClassifier interface {
	IsStopCommand(durationMs int, energy float64) bool
}

// durationEnergyClassifier is the placeholder policy: a short, loud burst is
// a stop command.
type durationEnergyClassifier struct {
	maxDurationMs int
	minEnergy     float64
}

func (c durationEnergyClassifier) IsStopCommand(durationMs int, energy float64) bool {
	return durationMs < c.maxDurationMs && energy > c.minEnergy
}

// Events carries optional adapter callbacks invoked outside the machine's
// lock. Nil fields are skipped.
type Events struct {
	// OnTranscript fires when speech-to-text produced a non-empty transcript.
	OnTranscript func(text string)
	// OnResponse fires when the dispatcher produced a response to speak.
	OnResponse func(text string)
}

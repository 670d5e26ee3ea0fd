package session

import "time"

// Frame is one span of captured or synthesized audio. PCM is little-endian
// signed 16-bit samples; Rate/Channels/Width describe the layout.
type Frame struct {
	PCM      []byte
	Rate     int
	Channels int
	Width    int
}

// DurationMs returns the playback duration of the frame in milliseconds.
func (f Frame) DurationMs() int {
	bps := f.Rate * f.Channels * f.Width
	if bps <= 0 {
		return 0
	}
	return len(f.PCM) * 1000 / bps
}

// InterruptionContext captures what was happening when the user barged in
// on playback. It exists only between an interruption and the next dispatch
// and is consumed exactly once.
type InterruptionContext struct {
	InterruptedResponse string
	PreviousQuery       string
	AudioPositionMs     int
	InterruptionPoint   time.Time
}

// Query is one utterance handed to the dispatcher.
type Query struct {
	Transcript   string
	SessionID    string
	Transport    string
	Interruption *InterruptionContext
}

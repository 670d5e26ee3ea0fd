package session

// lookback is a rolling pre-trigger audio buffer bounded by duration. It
// feeds wake-word scanning while the session is idle.
type lookback struct {
	frames []Frame
	durMs  int
	maxMs  int
}

func newLookback(maxMs int) *lookback {
	return &lookback{maxMs: maxMs}
}

func (l *lookback) push(f Frame) {
	if l.maxMs <= 0 {
		return
	}
	l.frames = append(l.frames, f)
	l.durMs += f.DurationMs()
	for len(l.frames) > 0 && l.durMs > l.maxMs {
		l.durMs -= l.frames[0].DurationMs()
		l.frames = l.frames[1:]
	}
}

// bytes concatenates the buffered PCM, oldest first.
func (l *lookback) bytes() []byte {
	total := 0
	for _, f := range l.frames {
		total += len(f.PCM)
	}
	out := make([]byte, 0, total)
	for _, f := range l.frames {
		out = append(out, f.PCM...)
	}
	return out
}

func (l *lookback) reset() {
	l.frames = nil
	l.durMs = 0
}

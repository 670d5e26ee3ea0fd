package session

// State is the lifecycle phase of a live voice session. All mutation goes
// through Machine.transition; adapters never write state directly.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// validEdges enumerates the allowed transitions. Anything else is a no-op.
var validEdges = map[State]map[State]bool{
	StateIdle:        {StateListening: true},
	StateListening:   {StateProcessing: true},
	StateProcessing:  {StateSpeaking: true, StateIdle: true},
	StateSpeaking:    {StateInterrupted: true, StateIdle: true},
	StateInterrupted: {StateListening: true, StateIdle: true},
}

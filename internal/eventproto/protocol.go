package eventproto

// Wire protocol for the discrete event adapter: typed JSON messages over a
// persistent websocket, compatible with voice-satellite clients that frame
// audio explicitly with start/chunk/stop.

const (
	TypeDescribe   = "describe"
	TypeInfo       = "info"
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"
	TypeTranscribe = "transcribe"
	TypeTranscript = "transcript"
	TypeResponse   = "response"
	TypeSynthesize = "synthesize"
	TypeError      = "error"
)

// Message is the envelope for every protocol frame. Unused fields are
// omitted per type; Audio is base64-encoded on the wire.
type Message struct {
	Type         string   `json:"type"`
	Rate         int      `json:"rate,omitempty"`
	Width        int      `json:"width,omitempty"`
	Channels     int      `json:"channels,omitempty"`
	Audio        []byte   `json:"audio,omitempty"`
	Text         string   `json:"text,omitempty"`
	Language     string   `json:"language,omitempty"`
	Message      string   `json:"message,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

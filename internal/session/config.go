package session

import (
	"os"
	"strconv"
	"strings"
)

// Config carries per-session tuning. Zero values are filled in by
// DefaultConfig / normalize so adapters can override only what they need.
type Config struct {
	// Utterance segmentation.
	SilenceTimeoutMs   int
	MaxQueryDurationMs int
	LookbackMs         int

	// Voice activity detection.
	VADMode      ThresholdMode
	VADThreshold float64

	// Wake word capability.
	WakeConfidence float64
	WakeTimeoutMs  int

	// Playback.
	ChunkMs          int
	PlaybackRate     int
	PlaybackChannels int

	// Stop-command heuristic.
	StopMaxDurationMs int
	StopMinEnergy     float64
	AckText           string

	// Follow-up prompts.
	FollowUpDelayMs int
	MaxFollowUps    int
	FollowUpPhrases []string

	// Upstream timeouts.
	STTTimeoutMs        int
	TTSTimeoutMs        int
	DispatcherTimeoutMs int

	// Background task pool.
	Workers   int
	QueueSize int
}

// DefaultConfig returns the baseline tuning shared by both transports.
func DefaultConfig() Config {
	return Config{
		SilenceTimeoutMs:    2000,
		MaxQueryDurationMs:  30000,
		LookbackMs:          3000,
		VADMode:             ThresholdNormalized,
		VADThreshold:        0.02,
		WakeConfidence:      0.5,
		WakeTimeoutMs:       5000,
		ChunkMs:             100,
		PlaybackRate:        16000,
		PlaybackChannels:    1,
		StopMaxDurationMs:   300,
		StopMinEnergy:       0.1,
		AckText:             "Okay.",
		FollowUpDelayMs:     3000,
		MaxFollowUps:        2,
		FollowUpPhrases:     defaultFollowUpPhrases,
		STTTimeoutMs:        30000,
		TTSTimeoutMs:        30000,
		DispatcherTimeoutMs: 60000,
		Workers:             4,
		QueueSize:           16,
	}
}

var defaultFollowUpPhrases = []string{
	"Is there anything else I can help you with?",
	"Anything else you need?",
	"Can I help with anything else?",
}

// ConfigFromEnv starts from defaults and applies SESSION_* overrides.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SilenceTimeoutMs = envInt("SESSION_SILENCE_TIMEOUT_MS", cfg.SilenceTimeoutMs)
	cfg.MaxQueryDurationMs = envInt("SESSION_MAX_QUERY_DURATION_MS", cfg.MaxQueryDurationMs)
	cfg.LookbackMs = envInt("SESSION_LOOKBACK_MS", cfg.LookbackMs)
	cfg.ChunkMs = envInt("SESSION_CHUNK_MS", cfg.ChunkMs)
	cfg.FollowUpDelayMs = envInt("SESSION_FOLLOW_UP_DELAY_MS", cfg.FollowUpDelayMs)
	cfg.MaxFollowUps = envInt("SESSION_MAX_FOLLOW_UPS", cfg.MaxFollowUps)
	if v := strings.TrimSpace(os.Getenv("SESSION_VAD_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.VADThreshold = f
			// Values above 1 only make sense on the absolute amplitude scale.
			if f > 1 {
				cfg.VADMode = ThresholdAbsolute
			} else {
				cfg.VADMode = ThresholdNormalized
			}
		}
	}
	return cfg
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.SilenceTimeoutMs <= 0 {
		c.SilenceTimeoutMs = d.SilenceTimeoutMs
	}
	if c.MaxQueryDurationMs <= 0 {
		c.MaxQueryDurationMs = d.MaxQueryDurationMs
	}
	if c.LookbackMs <= 0 {
		c.LookbackMs = d.LookbackMs
	}
	if c.VADThreshold <= 0 {
		c.VADMode = d.VADMode
		c.VADThreshold = d.VADThreshold
	}
	if c.WakeConfidence <= 0 {
		c.WakeConfidence = d.WakeConfidence
	}
	if c.WakeTimeoutMs <= 0 {
		c.WakeTimeoutMs = d.WakeTimeoutMs
	}
	if c.ChunkMs <= 0 {
		c.ChunkMs = d.ChunkMs
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = d.PlaybackRate
	}
	if c.PlaybackChannels <= 0 {
		c.PlaybackChannels = d.PlaybackChannels
	}
	if c.StopMaxDurationMs <= 0 {
		c.StopMaxDurationMs = d.StopMaxDurationMs
	}
	if c.StopMinEnergy <= 0 {
		c.StopMinEnergy = d.StopMinEnergy
	}
	if c.AckText == "" {
		c.AckText = d.AckText
	}
	if c.FollowUpDelayMs <= 0 {
		c.FollowUpDelayMs = d.FollowUpDelayMs
	}
	if c.MaxFollowUps < 0 {
		c.MaxFollowUps = d.MaxFollowUps
	}
	if len(c.FollowUpPhrases) == 0 {
		c.FollowUpPhrases = d.FollowUpPhrases
	}
	if c.STTTimeoutMs <= 0 {
		c.STTTimeoutMs = d.STTTimeoutMs
	}
	if c.TTSTimeoutMs <= 0 {
		c.TTSTimeoutMs = d.TTSTimeoutMs
	}
	if c.DispatcherTimeoutMs <= 0 {
		c.DispatcherTimeoutMs = d.DispatcherTimeoutMs
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

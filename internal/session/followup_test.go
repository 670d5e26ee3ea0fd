package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func runTurn(t *testing.T, m *Machine) {
	t.Helper()
	m.HandleFrame(context.Background(), tone(100, 8000))
	m.EndOfAudio(context.Background())
	waitFor(t, "turn to finish", func() bool { return m.State() == StateIdle })
}

func TestFollowUpFiresAfterCleanPlayback(t *testing.T) {
	cfg := testConfig()
	cfg.FollowUpPhrases = []string{"anything else?"}
	var ttsTexts []string
	var tmu sync.Mutex
	m, _ := newTestMachine(t, func(o *Options) {
		o.Config = cfg
		o.Flags = staticFlags{FlagFollowUps: true}
		o.TTS = ttsFunc(func(ctx context.Context, text string) ([]byte, error) {
			tmu.Lock()
			ttsTexts = append(ttsTexts, text)
			tmu.Unlock()
			return make([]byte, chunkBytes(cfg)), nil
		})
	})
	runTurn(t, m)
	waitFor(t, "follow-up to re-open listening", func() bool { return m.State() == StateListening })
	if got := m.FollowUpCount(); got != 1 {
		t.Fatalf("follow-up count = %d, want 1", got)
	}
	m.mu.Lock()
	bufLen := len(m.audioBuf)
	m.mu.Unlock()
	if bufLen != 0 {
		t.Fatalf("follow-up listening started with %d buffered bytes", bufLen)
	}
	found := false
	tmu.Lock()
	for _, s := range ttsTexts {
		if s == "anything else?" {
			found = true
		}
	}
	tmu.Unlock()
	if !found {
		t.Fatalf("follow-up phrase never synthesized")
	}
}

func TestFollowUpDisabledByFlag(t *testing.T) {
	m, _ := newTestMachine(t, func(o *Options) {
		o.Flags = staticFlags{FlagFollowUps: false}
	})
	runTurn(t, m)
	time.Sleep(5 * time.Duration(m.cfg.FollowUpDelayMs) * time.Millisecond)
	if got := m.FollowUpCount(); got != 0 {
		t.Fatalf("follow-up fired with flag off: count %d", got)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestFollowUpAbsentFlagStoreMeansDisabled(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	runTurn(t, m)
	time.Sleep(5 * time.Duration(m.cfg.FollowUpDelayMs) * time.Millisecond)
	if got := m.FollowUpCount(); got != 0 {
		t.Fatalf("follow-up fired with no flag store: count %d", got)
	}
}

func TestFollowUpCapNeverExceeded(t *testing.T) {
	m, _ := newTestMachine(t, func(o *Options) {
		o.Flags = staticFlags{FlagFollowUps: true}
	})
	m.mu.Lock()
	m.followUps = m.cfg.MaxFollowUps
	m.mu.Unlock()

	runTurn(t, m)
	time.Sleep(5 * time.Duration(m.cfg.FollowUpDelayMs) * time.Millisecond)
	if got := m.FollowUpCount(); got != m.cfg.MaxFollowUps {
		t.Fatalf("follow-up count = %d, want cap %d", got, m.cfg.MaxFollowUps)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle at cap", got)
	}
}

func TestFollowUpCancelledByUserSpeech(t *testing.T) {
	cfg := testConfig()
	cfg.FollowUpDelayMs = 200
	m, _ := newTestMachine(t, func(o *Options) {
		o.Config = cfg
		o.Flags = staticFlags{FlagFollowUps: true}
	})
	runTurn(t, m)
	// New speech well inside the delay window cancels the pending prompt.
	m.HandleFrame(context.Background(), tone(100, 8000))
	if got := m.State(); got != StateListening {
		t.Fatalf("state = %v, want listening", got)
	}
	time.Sleep(2 * time.Duration(cfg.FollowUpDelayMs) * time.Millisecond)
	if got := m.FollowUpCount(); got != 0 {
		t.Fatalf("cancelled follow-up still fired: count %d", got)
	}
}

package session

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/home-voice-lab/internal/logging"
)

// Follow-up scheduling: after a response finishes cleanly the session may
// re-engage the user once per configured cap. The pending wait is a real
// cancellable task, not a poll; any new speech cancels it outright.

func (m *Machine) cancelFollowUpLocked() {
	if m.fuCancel != nil {
		m.fuCancel()
		m.fuCancel = nil
	}
}

// scheduleFollowUp arms a follow-up prompt after a clean playback
// completion. It is a no-op when the flag is off or the cap is reached.
func (m *Machine) scheduleFollowUp() {
	if m.flags == nil || !m.flags.Enabled(FlagFollowUps) {
		return
	}
	m.mu.Lock()
	if m.state != StateIdle || m.followUps >= m.cfg.MaxFollowUps {
		m.mu.Unlock()
		return
	}
	m.cancelFollowUpLocked()
	fctx, cancel := context.WithCancel(m.ctx)
	m.fuCancel = cancel
	scheduledAt := m.now()
	m.mu.Unlock()

	delay := time.Duration(m.cfg.FollowUpDelayMs) * time.Millisecond
	if !m.tasks.submit(func() { m.runFollowUp(fctx, scheduledAt, delay) }) {
		cancel()
	}
}

func (m *Machine) runFollowUp(fctx context.Context, scheduledAt time.Time, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-fctx.Done():
		return
	case <-t.C:
	}

	m.mu.Lock()
	if m.state != StateIdle || m.followUps >= m.cfg.MaxFollowUps || m.lastActivityAt.After(scheduledAt) {
		m.mu.Unlock()
		return
	}
	m.followUps++
	count := m.followUps
	phrase := m.cfg.FollowUpPhrases[rand.IntN(len(m.cfg.FollowUpPhrases))]
	m.mu.Unlock()

	logging.Infow("follow-up prompt", "count", count, "phrase", phrase, "session_id", m.id)
	if !m.playDirect(m.ctx, phrase) {
		return
	}

	m.mu.Lock()
	if m.state == StateIdle {
		if m.transitionLocked(StateListening, "follow-up prompt") {
			m.audioBuf = nil
			m.utterMs = 0
			m.silenceMs = 0
			m.look.reset()
		}
	}
	m.mu.Unlock()
}

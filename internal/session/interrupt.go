package session

// Interruption handling: barge-in detection during playback and the
// resolution of the interrupting burst into either a stop command or the
// head of a new query.

// interrupt is invoked for the first speech-positive frame that arrives
// while the session is speaking. It snapshots the interruption context
// before the state changes, cancels playback, and begins collecting the
// burst for classification.
func (m *Machine) interrupt(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSpeaking {
		return
	}
	ic := &InterruptionContext{
		InterruptedResponse: m.currentResponse,
		PreviousQuery:       m.lastQuery,
		InterruptionPoint:   m.now(),
	}
	if m.play != nil {
		ic.AudioPositionMs = int(m.play.posMs.Load())
	}
	m.interruption = ic
	if !m.transitionLocked(StateInterrupted, "barge-in") {
		m.interruption = nil
		return
	}
	m.cancelPlaybackLocked()
	m.burst = append([]byte(nil), f.PCM...)
	m.burstMs = f.DurationMs()
	m.burstEnergy = RMS(f.PCM)
	m.frameRate, m.frameChannels, m.frameWidth = f.Rate, f.Channels, f.Width
	if m.burstMs >= m.cfg.StopMaxDurationMs {
		m.resolveInterruptionLocked()
	}
}

// frameInterrupted grows the burst while the user keeps speaking. The burst
// resolves on the first silence frame, or immediately once it is long
// enough that it cannot be a stop command.
func (m *Machine) frameInterrupted(f Frame, speech bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInterrupted {
		return
	}
	if !speech {
		m.resolveInterruptionLocked()
		return
	}
	m.burst = append(m.burst, f.PCM...)
	m.burstMs += f.DurationMs()
	if e := RMS(f.PCM); e > m.burstEnergy {
		m.burstEnergy = e
	}
	if m.burstMs >= m.cfg.StopMaxDurationMs {
		m.resolveInterruptionLocked()
	}
}

// resolveInterruptionLocked classifies the collected burst. A stop command
// plays a brief acknowledgment (bypassing dispatch) and returns to idle; any
// other speech becomes the head of a new query. Callers hold m.mu.
func (m *Machine) resolveInterruptionLocked() {
	burst := m.burst
	burstMs := m.burstMs
	stop := m.stopc.IsStopCommand(burstMs, m.burstEnergy)
	m.burst = nil
	m.burstMs = 0
	m.burstEnergy = 0

	if stop {
		// No dispatch follows a stop command; the snapshot dies with it.
		m.interruption = nil
		if m.transitionLocked(StateIdle, "stop command") {
			ack := m.cfg.AckText
			m.tasks.submit(func() { m.playDirect(m.ctx, ack) })
		}
		return
	}
	if m.transitionLocked(StateListening, "barge-in query") {
		m.audioBuf = burst
		m.utterMs = burstMs
		m.silenceMs = 0
	}
}

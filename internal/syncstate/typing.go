package syncstate

import "time"

// localTyping tracks one chat's locally-started typing indicator.
// gen guards against a stale timer firing after the indicator was
// restarted or explicitly stopped.
type localTyping struct {
	active bool
	gen    uint64
	timer  *time.Timer
}

// InputActivity records local keyboard input in a chat. The first call
// emits typing; every call re-arms the quiet-period timer. When the timer
// expires with no further input, stop-typing is emitted exactly once.
// The expiry is a local timer, independent of any server push.
func (s *Session) InputActivity(chatID string) {
	if chatID == "" {
		return
	}

	var emitStart bool

	s.mu.Lock()
	lt := s.typing[chatID]
	if lt == nil {
		lt = &localTyping{}
		s.typing[chatID] = lt
	}
	if !lt.active {
		lt.active = true
		emitStart = true
	}
	lt.gen++
	gen := lt.gen
	if lt.timer != nil {
		lt.timer.Stop()
	}
	lt.timer = time.AfterFunc(s.quiet, func() { s.typingExpired(chatID, gen) })
	s.mu.Unlock()

	if emitStart && s.emitter != nil {
		s.emitter.EmitTyping(chatID)
	}
}

// StopTyping explicitly ends the local typing indicator (e.g. the message
// was sent). Emits stop-typing only if an indicator was active.
func (s *Session) StopTyping(chatID string) {
	if chatID == "" {
		return
	}

	s.mu.Lock()
	lt := s.typing[chatID]
	wasActive := lt != nil && lt.active
	if lt != nil {
		lt.active = false
		lt.gen++
		if lt.timer != nil {
			lt.timer.Stop()
			lt.timer = nil
		}
	}
	s.mu.Unlock()

	if wasActive && s.emitter != nil {
		s.emitter.EmitStopTyping(chatID)
	}
}

func (s *Session) typingExpired(chatID string, gen uint64) {
	s.mu.Lock()
	lt := s.typing[chatID]
	if lt == nil || !lt.active || lt.gen != gen {
		s.mu.Unlock()
		return
	}
	lt.active = false
	lt.timer = nil
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitStopTyping(chatID)
	}
}

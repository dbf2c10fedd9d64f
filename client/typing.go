package client

import (
	"sync"
	"time"
)

// typingTracker auto-hides a peer's typing indicator after a quiet period.
// The server forwards pulses without retaining any indicator state, so
// expiry is entirely the receiving side's job; every new pulse re-arms the
// timer.
type typingTracker struct {
	quiet   time.Duration
	onStart func(senderID string)
	onStop  func(senderID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTypingTracker(quiet time.Duration, onStart, onStop func(senderID string)) *typingTracker {
	return &typingTracker{
		quiet:   quiet,
		onStart: onStart,
		onStop:  onStop,
		timers:  make(map[string]*time.Timer),
	}
}

func (t *typingTracker) pulse(senderID string) {
	t.mu.Lock()
	timer, active := t.timers[senderID]
	if active {
		timer.Reset(t.quiet)
	} else {
		t.timers[senderID] = time.AfterFunc(t.quiet, func() { t.expire(senderID) })
	}
	t.mu.Unlock()

	if !active && t.onStart != nil {
		t.onStart(senderID)
	}
}

func (t *typingTracker) expire(senderID string) {
	t.mu.Lock()
	delete(t.timers, senderID)
	t.mu.Unlock()
	if t.onStop != nil {
		t.onStop(senderID)
	}
}

func (t *typingTracker) stopAll() {
	t.mu.Lock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
}

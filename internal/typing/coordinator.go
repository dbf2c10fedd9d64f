// Package typing coordinates typing indicators. The server keeps no
// indicator state beyond a debounce stamp per (sender, receiver) pair; the
// receiving client is responsible for expiring the indicator on its own.
package typing

import (
	"sync"
	"time"

	"github.com/yourorg/chat-app/services/realtime-service/internal/events"
	"github.com/yourorg/chat-app/services/realtime-service/internal/metrics"
	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
)

type pair struct {
	sender   string
	receiver string
}

type Coordinator struct {
	reg    *registry.Registry
	window time.Duration

	mu   sync.Mutex
	last map[pair]time.Time

	now func() time.Time
}

func NewCoordinator(reg *registry.Registry, window time.Duration) *Coordinator {
	return &Coordinator{
		reg:    reg,
		window: window,
		last:   make(map[pair]time.Time),
		now:    time.Now,
	}
}

// Pulse handles one typing pulse from sender directed at receiver. Pulses
// inside the debounce window are dropped; rebroadcast is intentionally
// lossy. Returns whether the pulse was forwarded.
func (c *Coordinator) Pulse(senderID, receiverID string) bool {
	k := pair{sender: senderID, receiver: receiverID}
	now := c.now()

	c.mu.Lock()
	if prev, ok := c.last[k]; ok && now.Sub(prev) <= c.window {
		c.mu.Unlock()
		metrics.TypingDropped.Inc()
		return false
	}
	c.last[k] = now
	if len(c.last) > 4096 {
		c.prune(now)
	}
	c.mu.Unlock()

	c.reg.Deliver(receiverID, events.Typing(senderID))
	metrics.TypingForwarded.Inc()
	return true
}

// prune drops stale stamps. Called with the lock held.
func (c *Coordinator) prune(now time.Time) {
	for k, ts := range c.last {
		if now.Sub(ts) > c.window {
			delete(c.last, k)
		}
	}
}

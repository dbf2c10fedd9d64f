// Package presence announces online/offline transitions to the users who
// care about them: everyone linked to the transitioning user in the
// directory, in either direction.
package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/chat-app/services/realtime-service/internal/events"
	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
	"github.com/yourorg/chat-app/services/realtime-service/internal/store"
)

type Broadcaster struct {
	reg    *registry.Registry
	dir    store.UserDirectory
	mirror *RedisStore // optional
	logger *zap.SugaredLogger
}

func NewBroadcaster(reg *registry.Registry, dir store.UserDirectory, mirror *RedisStore, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{reg: reg, dir: dir, mirror: mirror, logger: logger}
}

// HandleTransition is wired as the registry's transition listener. It runs on
// the registry's dispatcher goroutine, so transitions for one user arrive in
// the order the connection set actually flipped.
func (b *Broadcaster) HandleTransition(t registry.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if b.mirror != nil {
		if err := b.mirror.SetPresence(ctx, t.UserID, t.Online); err != nil {
			b.logger.Warnw("presence mirror update failed", "user_id", t.UserID, "err", err)
		}
	}

	peers, err := b.dir.Correspondents(ctx, t.UserID)
	if err != nil {
		b.logger.Errorw("correspondent lookup failed", "user_id", t.UserID, "err", err)
		return
	}
	payload := events.UserStatus(t.UserID, t.Online)
	for _, peer := range peers {
		b.reg.Deliver(peer, payload)
	}
}

// IsOnline answers the periodic status poll. Presence is soft real-time:
// clients that miss a transition resynchronize through this.
func (b *Broadcaster) IsOnline(userID string) bool {
	return b.reg.IsOnline(userID)
}

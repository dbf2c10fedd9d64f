// Package registry tracks which connections currently represent each user.
// It is the single source of truth for "is this user reachable right now".
package registry

import (
	"sync"

	"go.uber.org/zap"
)

// A user is online iff their connection set is non-empty. Transition events
// are decided under the registry lock, so the online/offline sequence for a
// user matches the order their set actually flipped, then handed to the
// listener through a single dispatcher goroutine so listeners never run with
// the lock held.
type Transition struct {
	UserID string
	Online bool
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Client]struct{}

	transitions chan Transition
	listener    func(Transition)
	stop        chan struct{}
	stopOnce    sync.Once
	logger      *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Registry {
	r := &Registry{
		conns:       make(map[string]map[*Client]struct{}),
		transitions: make(chan Transition, 256),
		stop:        make(chan struct{}),
		logger:      logger,
	}
	go r.dispatch()
	return r
}

// OnTransition sets the presence listener. Must be called before any
// Register; there is exactly one listener (the presence broadcaster).
func (r *Registry) OnTransition(fn func(Transition)) {
	r.listener = fn
}

// Register adds a connection to its user's set. The first connection of a
// user emits an online transition.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	set, ok := r.conns[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[c.UserID] = set
	}
	wasEmpty := len(set) == 0
	set[c] = struct{}{}
	if wasEmpty {
		r.emit(Transition{UserID: c.UserID, Online: true})
	}
	r.mu.Unlock()
}

// Unregister removes a connection. Idempotent: a close event and a heartbeat
// timeout may both try to remove the same connection, only the first does
// anything. Emptying the set removes the entry and emits an offline
// transition atomically with the removal.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	set, ok := r.conns[c.UserID]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(r.conns, c.UserID)
				r.emit(Transition{UserID: c.UserID, Online: false})
			}
		}
	}
	r.mu.Unlock()
	c.Close()
}

// ConnectionsFor returns a snapshot of the user's connections. Callers may
// iterate it freely; it never aliases registry state.
func (r *Registry) ConnectionsFor(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Deliver fans one frame out to a snapshot of the user's connections taken
// at dispatch time. Returns how many connections accepted the frame.
func (r *Registry) Deliver(userID string, data []byte) int {
	delivered := 0
	for _, c := range r.ConnectionsFor(userID) {
		if c.Enqueue(data) {
			delivered++
		} else if r.logger != nil {
			r.logger.Warnw("dropping frame for saturated connection", "user_id", userID, "conn_id", c.ID)
		}
	}
	return delivered
}

type Stats struct {
	OnlineUsers      int            `json:"total_online_users"`
	TotalConnections int            `json:"total_connections"`
	PerUser          map[string]int `json:"users"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{PerUser: make(map[string]int, len(r.conns))}
	for uid, set := range r.conns {
		st.OnlineUsers++
		st.TotalConnections += len(set)
		st.PerUser[uid] = len(set)
	}
	return st
}

// Close stops the transition dispatcher. Registered connections are left to
// their own session teardown.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// emit is called with the lock held; it must not block. Presence is soft
// real-time, so under sustained pressure we drop rather than stall
// register/unregister.
func (r *Registry) emit(t Transition) {
	select {
	case r.transitions <- t:
	default:
		if r.logger != nil {
			r.logger.Warnw("presence transition dropped", "user_id", t.UserID, "online", t.Online)
		}
	}
}

func (r *Registry) dispatch() {
	for {
		select {
		case <-r.stop:
			return
		case t := <-r.transitions:
			if r.listener != nil {
				r.listener(t)
			}
		}
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
)

// MemoryStore implements MessageStore and UserDirectory in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
	order    []string            // insertion order of message ids
	users    map[string]struct{} // known user ids
	contacts map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*Message),
		users:    make(map[string]struct{}),
		contacts: make(map[string]map[string]struct{}),
	}
}

// AddUser registers a user id as known. Directory data normally comes from
// the user service; tests seed it directly.
func (s *MemoryStore) AddUser(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.users[id] = struct{}{}
	}
}

func (s *MemoryStore) Insert(_ context.Context, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	cp.ID = uuid.NewString()
	cp.Status = StatusSent
	cp.CreatedAt = time.Now().UTC()
	s.messages[cp.ID] = &cp
	s.order = append(s.order, cp.ID)

	out := cp
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) AdvanceStatus(_ context.Context, id, status string) (bool, error) {
	if !ValidStatus(status) {
		return false, apperr.ErrInternal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if statusRank(status) <= statusRank(m.Status) {
		return false, nil
	}
	m.Status = status
	return true, nil
}

func (s *MemoryStore) History(_ context.Context, userA, userB string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, id := range s.order {
		m := s.messages[id]
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) PendingFor(_ context.Context, receiverID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, id := range s.order {
		m := s.messages[id]
		if m.ReceiverID == receiverID && m.Status == StatusSent {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) KnownUser(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *MemoryStore) Correspondents(_ context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for c := range s.contacts[id] {
		seen[c] = struct{}{}
	}
	for owner, set := range s.contacts {
		if owner == id {
			continue
		}
		if _, ok := set[id]; ok {
			seen[owner] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) EnsureContact(_ context.Context, owner, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(owner, contact)
	s.link(contact, owner)
	return nil
}

func (s *MemoryStore) link(owner, contact string) {
	set, ok := s.contacts[owner]
	if !ok {
		set = make(map[string]struct{})
		s.contacts[owner] = set
	}
	set[contact] = struct{}{}
}

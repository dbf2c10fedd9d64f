package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
	"github.com/yourorg/chat-app/services/realtime-service/internal/store"
)

func insert(t *testing.T, s *store.MemoryStore, sender, receiver, content string) *store.Message {
	t.Helper()
	m, err := s.Insert(context.Background(), &store.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
	})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	return m
}

func TestInsert_AssignsIDAndSentStatus(t *testing.T) {
	s := store.NewMemoryStore()
	m := insert(t, s, "1", "2", "hi")

	if m.ID == "" {
		t.Error("Insert() left ID empty")
	}
	if m.Status != store.StatusSent {
		t.Errorf("Status = %q, want %q", m.Status, store.StatusSent)
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestGet_UnknownID(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestAdvanceStatus_MonotonicCAS(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := insert(t, s, "1", "2", "hi")

	changed, err := s.AdvanceStatus(ctx, m.ID, store.StatusDelivered)
	if err != nil || !changed {
		t.Fatalf("sent->delivered: changed=%v err=%v", changed, err)
	}

	// duplicate is a no-op, not an error
	changed, err = s.AdvanceStatus(ctx, m.ID, store.StatusDelivered)
	if err != nil || changed {
		t.Errorf("duplicate delivered: changed=%v err=%v, want false,nil", changed, err)
	}

	changed, err = s.AdvanceStatus(ctx, m.ID, store.StatusRead)
	if err != nil || !changed {
		t.Fatalf("delivered->read: changed=%v err=%v", changed, err)
	}

	// regression attempt
	changed, err = s.AdvanceStatus(ctx, m.ID, store.StatusDelivered)
	if err != nil || changed {
		t.Errorf("read->delivered: changed=%v err=%v, want false,nil", changed, err)
	}

	got, _ := s.Get(ctx, m.ID)
	if got.Status != store.StatusRead {
		t.Errorf("final status = %q, want read", got.Status)
	}
}

func TestAdvanceStatus_SkipsDeliveredOnDirectRead(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := insert(t, s, "1", "2", "hi")

	changed, err := s.AdvanceStatus(ctx, m.ID, store.StatusRead)
	if err != nil || !changed {
		t.Fatalf("sent->read: changed=%v err=%v", changed, err)
	}
}

func TestAdvanceStatus_Errors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	if _, err := s.AdvanceStatus(ctx, "missing", store.StatusRead); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	m := insert(t, s, "1", "2", "hi")
	if _, err := s.AdvanceStatus(ctx, m.ID, "bogus"); err == nil {
		t.Error("bogus status accepted")
	}
}

func TestHistory_OrderedAndBidirectional(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	first := insert(t, s, "1", "2", "first")
	second := insert(t, s, "2", "1", "second")
	insert(t, s, "1", "3", "other thread")

	got, err := s.History(ctx, "1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("History() returned %d messages, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("History() order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, first.ID, second.ID)
	}
}

func TestPendingFor_OnlySentToReceiver(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	pending := insert(t, s, "1", "2", "queued")
	delivered := insert(t, s, "1", "2", "already seen")
	insert(t, s, "2", "1", "wrong direction")
	if _, err := s.AdvanceStatus(ctx, delivered.ID, store.StatusDelivered); err != nil {
		t.Fatal(err)
	}

	got, err := s.PendingFor(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Errorf("PendingFor(2) = %v, want only %s", got, pending.ID)
	}
}

func TestDirectory_ContactsAreBidirectional(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.AddUser("1", "2")

	known, _ := s.KnownUser(ctx, "1")
	if !known {
		t.Fatal("seeded user not known")
	}
	known, _ = s.KnownUser(ctx, "ghost")
	if known {
		t.Fatal("unknown user reported known")
	}

	if err := s.EnsureContact(ctx, "1", "2"); err != nil {
		t.Fatal(err)
	}
	// repeat is idempotent
	if err := s.EnsureContact(ctx, "1", "2"); err != nil {
		t.Fatal(err)
	}

	for _, uid := range []string{"1", "2"} {
		peers, err := s.Correspondents(ctx, uid)
		if err != nil {
			t.Fatal(err)
		}
		if len(peers) != 1 {
			t.Errorf("Correspondents(%s) = %v, want one peer", uid, peers)
		}
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := insert(t, s, "1", "2", "hi")

	m.Status = "tampered"
	got, _ := s.Get(ctx, m.ID)
	if got.Status != store.StatusSent {
		t.Errorf("mutating a returned message leaked into the store: %q", got.Status)
	}
}

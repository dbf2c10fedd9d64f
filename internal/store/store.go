// Package store holds the persistence collaborators the realtime core
// depends on: the message store and the user directory. The core treats both
// as external; the Mongo implementations live here alongside an in-memory
// implementation used by tests and local runs.
package store

import (
	"context"
	"time"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// statusRank orders the delivery state machine. Transitions only ever move to
// a higher rank.
func statusRank(s string) int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// ValidStatus reports whether s is a known delivery state.
func ValidStatus(s string) bool { return statusRank(s) >= 0 }

type Message struct {
	ID         string    `bson:"_id,omitempty" json:"id"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	ReceiverID string    `bson:"receiver_id" json:"receiver_id"`
	Content    string    `bson:"content" json:"content"`
	MediaURL   string    `bson:"media_url,omitempty" json:"media_url,omitempty"`
	MediaType  string    `bson:"media_type,omitempty" json:"media_type,omitempty"`
	Status     string    `bson:"status" json:"status"`
	CreatedAt  time.Time `bson:"created_at" json:"timestamp"`
}

// MessageStore is the durability boundary. Insert assigns the id and is the
// only point after which a message is considered accepted.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) (*Message, error)
	Get(ctx context.Context, id string) (*Message, error)

	// AdvanceStatus moves a message to status iff it currently sits at a
	// lower rank. The bool result reports whether a change was made, which
	// makes duplicate receipts detectable without a separate read.
	AdvanceStatus(ctx context.Context, id, status string) (bool, error)

	// History returns all messages between two users in chronological order.
	History(ctx context.Context, userA, userB string) ([]*Message, error)

	// PendingFor returns messages addressed to receiverID still in "sent"
	// state, oldest first.
	PendingFor(ctx context.Context, receiverID string) ([]*Message, error)
}

// UserDirectory is the user-lookup collaborator.
type UserDirectory interface {
	KnownUser(ctx context.Context, id string) (bool, error)

	// Correspondents returns the users that should observe id's presence
	// transitions: everyone linked to id in either direction.
	Correspondents(ctx context.Context, id string) ([]string, error)

	// EnsureContact links two users bidirectionally. Idempotent.
	EnsureContact(ctx context.Context, owner, contact string) error
}

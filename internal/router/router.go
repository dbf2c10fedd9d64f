// Package router accepts inbound messages and receipts, advances the
// per-message delivery state machine (sent -> delivered -> read) and fans
// events out to the relevant live connections.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
	"github.com/yourorg/chat-app/services/realtime-service/internal/events"
	"github.com/yourorg/chat-app/services/realtime-service/internal/metrics"
	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
	"github.com/yourorg/chat-app/services/realtime-service/internal/store"
)

// EventProducer receives message lifecycle notifications (Kafka in
// production). May be nil.
type EventProducer interface {
	PublishMessageSent(ctx context.Context, m *store.Message) error
	PublishStatusChange(ctx context.Context, messageID, status string) error
}

const lockShards = 64

type Router struct {
	reg      *registry.Registry
	msgs     store.MessageStore
	dir      store.UserDirectory
	producer EventProducer
	logger   *zap.SugaredLogger

	// status advancement is serialized per message id so the sender observes
	// status_update events in non-decreasing order
	locks [lockShards]sync.Mutex
}

func New(reg *registry.Registry, msgs store.MessageStore, dir store.UserDirectory, producer EventProducer, logger *zap.SugaredLogger) *Router {
	return &Router{reg: reg, msgs: msgs, dir: dir, producer: producer, logger: logger}
}

func (r *Router) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return &r.locks[h.Sum32()%lockShards]
}

// Submit validates, persists and fans out one message. Persistence is the
// durability boundary: an offline receiver is not an error, the message
// stays "sent" and is replayed through history on their next login.
func (r *Router) Submit(ctx context.Context, senderID, receiverID, content, mediaURL, mediaType string) (*store.Message, error) {
	known, err := r.dir.KnownUser(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("recipient lookup: %w", err)
	}
	if !known {
		return nil, apperr.ErrUnknownRecipient
	}

	msg, err := r.msgs.Insert(ctx, &store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		MediaURL:   mediaURL,
		MediaType:  mediaType,
	})
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if err := r.dir.EnsureContact(ctx, senderID, receiverID); err != nil {
		r.logger.Warnw("contact link failed", "sender", senderID, "receiver", receiverID, "err", err)
	}
	if r.producer != nil {
		if err := r.producer.PublishMessageSent(ctx, msg); err != nil {
			r.logger.Warnw("message.sent publish failed", "message_id", msg.ID, "err", err)
		}
	}

	payload := marshalMessage(msg)
	// sender echo (other tabs/devices) and receiver delivery are independent;
	// no relative order is guaranteed between them
	r.reg.Deliver(msg.SenderID, payload)
	r.reg.Deliver(msg.ReceiverID, payload)
	metrics.MessagesRouted.Inc()
	return msg, nil
}

// AcknowledgeDelivered handles a delivered_receipt from the receiving
// client: sent -> delivered. Anything at delivered or beyond is a duplicate
// and silently ignored.
func (r *Router) AcknowledgeDelivered(ctx context.Context, messageID, senderID string) error {
	return r.advance(ctx, messageID, senderID, store.StatusDelivered)
}

// AcknowledgeRead handles a read_receipt. The read receipt is authoritative:
// a message still in "sent" transitions directly to "read" with a single
// status_update and no synthesized delivered event.
func (r *Router) AcknowledgeRead(ctx context.Context, messageID, senderID string) error {
	return r.advance(ctx, messageID, senderID, store.StatusRead)
}

func (r *Router) advance(ctx context.Context, messageID, senderID, status string) error {
	mu := r.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	changed, err := r.msgs.AdvanceStatus(ctx, messageID, status)
	if err != nil {
		return fmt.Errorf("advance %s to %s: %w", messageID, status, err)
	}
	if !changed {
		// duplicate or out-of-order receipt, not an error
		return nil
	}

	if r.producer != nil {
		if err := r.producer.PublishStatusChange(ctx, messageID, status); err != nil {
			r.logger.Warnw("message.status publish failed", "message_id", messageID, "err", err)
		}
	}
	r.reg.Deliver(senderID, events.StatusUpdate(messageID, status))
	metrics.StatusUpdates.WithLabelValues(status).Inc()
	return nil
}

// FlushPending promotes every stored message addressed to receiverID still in
// "sent" state to "delivered", notifying each sender. Called when one of the
// receiver's connections registers.
func (r *Router) FlushPending(ctx context.Context, receiverID string) {
	pending, err := r.msgs.PendingFor(ctx, receiverID)
	if err != nil {
		r.logger.Errorw("pending lookup failed", "receiver", receiverID, "err", err)
		return
	}
	for _, m := range pending {
		if err := r.AcknowledgeDelivered(ctx, m.ID, m.SenderID); err != nil {
			r.logger.Warnw("pending promote failed", "message_id", m.ID, "err", err)
		}
	}
}

// History returns the ordered conversation between two users.
func (r *Router) History(ctx context.Context, userA, userB string) ([]*store.Message, error) {
	return r.msgs.History(ctx, userA, userB)
}

func marshalMessage(m *store.Message) []byte {
	b, err := json.Marshal(events.MessageEvent{
		Type:       events.TypeMessage,
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		MediaType:  m.MediaType,
		Status:     m.Status,
		Timestamp:  m.CreatedAt,
	})
	if err != nil {
		panic(err)
	}
	return b
}

package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/yourorg/chat-app/services/realtime-service/internal/store"
)

// Producer publishes message lifecycle events for downstream consumers
// (notification fan-out, analytics). Best effort: delivery of the message to
// live connections never waits on it.
type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
	}
	return &Producer{writer: w}
}

type messageSentEvent struct {
	Type    string         `json:"type"`
	Message *store.Message `json:"message"`
}

type statusChangedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (p *Producer) PublishMessageSent(ctx context.Context, m *store.Message) error {
	return p.publish(ctx, []byte(m.ID), messageSentEvent{Type: "message.sent", Message: m})
}

func (p *Producer) PublishStatusChange(ctx context.Context, messageID, status string) error {
	return p.publish(ctx, []byte(messageID), statusChangedEvent{Type: "message.status", MessageID: messageID, Status: status})
}

func (p *Producer) publish(ctx context.Context, key []byte, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   key,
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

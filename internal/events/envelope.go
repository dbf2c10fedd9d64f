// Package events defines the bidirectional wire envelope spoken over one
// websocket session. All events are flat JSON objects discriminated by "type".
package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Inbound event kinds (client to server).
const (
	TypeSend             = "send"
	TypeTyping           = "typing"
	TypeDeliveredReceipt = "delivered_receipt"
	TypeReadReceipt      = "read_receipt"
	TypePing             = "ping"
)

// Outbound event kinds (server to client).
const (
	TypeMessage      = "message"
	TypeStatusUpdate = "status_update"
	TypeUserStatus   = "user_status"
	TypePong         = "pong"
	TypeError        = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var ErrUnknownType = errors.New("unknown event type")

// Inbound is the union of all client-issued event payloads. Which fields are
// meaningful depends on Type.
type Inbound struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
}

func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, ErrUnknownType
	}
	return &in, nil
}

// MessageEvent is the full message fan-out payload, sent both to the
// receiver's connections and back to the sender's own devices as an echo.
type MessageEvent struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	MediaURL   string    `json:"media_url,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

type StatusUpdateEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type UserStatusEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	SenderID string `json:"sender_id"`
}

type PongEvent struct {
	Type string `json:"type"`
}

// ErrorEvent is sent only to the connection whose request failed; failures
// local to one delivery are never surfaced to anyone else.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func StatusUpdate(messageID, status string) []byte {
	return mustMarshal(StatusUpdateEvent{Type: TypeStatusUpdate, MessageID: messageID, Status: status})
}

func UserStatus(userID string, online bool) []byte {
	status := StatusOffline
	if online {
		status = StatusOnline
	}
	return mustMarshal(UserStatusEvent{Type: TypeUserStatus, UserID: userID, Status: status})
}

func Typing(senderID string) []byte {
	return mustMarshal(TypingEvent{Type: TypeTyping, SenderID: senderID})
}

func Pong() []byte {
	return mustMarshal(PongEvent{Type: TypePong})
}

func Error(code, message string) []byte {
	return mustMarshal(ErrorEvent{Type: TypeError, Code: code, Message: message})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// all event types marshal cleanly; an error here is a programmer bug
		panic(err)
	}
	return b
}

// Package ws owns the server side of one websocket session: identity
// verification, registry lifecycle, and the inbound event read loop.
package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
	"github.com/yourorg/chat-app/services/realtime-service/internal/auth"
	"github.com/yourorg/chat-app/services/realtime-service/internal/config"
	"github.com/yourorg/chat-app/services/realtime-service/internal/events"
	"github.com/yourorg/chat-app/services/realtime-service/internal/metrics"
	"github.com/yourorg/chat-app/services/realtime-service/internal/presence"
	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
	"github.com/yourorg/chat-app/services/realtime-service/internal/router"
	"github.com/yourorg/chat-app/services/realtime-service/internal/typing"
)

const opTimeout = 10 * time.Second

type Handler struct {
	reg      *registry.Registry
	router   *router.Router
	typing   *typing.Coordinator
	verifier auth.Verifier
	mirror   *presence.RedisStore // optional
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func NewHandler(reg *registry.Registry, rt *router.Router, tc *typing.Coordinator, verifier auth.Verifier, mirror *presence.RedisStore, cfg *config.Config, logger *zap.SugaredLogger) *Handler {
	return &Handler{reg: reg, router: rt, typing: tc, verifier: verifier, mirror: mirror, cfg: cfg, logger: logger}
}

// Handle runs one session to completion. Mounted behind the fiber websocket
// upgrade middleware; token travels in the query string.
func (h *Handler) Handle(conn *websocket.Conn) {
	userID, err := h.verifier.Verify(conn.Query("token"))
	if err != nil {
		// refused before any registry entry exists
		_ = conn.WriteMessage(websocket.TextMessage, events.Error("unauthenticated", "identity verification failed"))
		_ = conn.Close()
		return
	}

	transport := newTransport(conn, h.cfg.WriteDeadline)
	client := registry.NewClient(userID, transport, h.cfg.WS.SendBufferSize)

	h.reg.Register(client)
	metrics.ActiveConnections.Inc()
	h.logger.Infow("connection registered", "user_id", userID, "conn_id", client.ID)

	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := h.mirror.AddConnection(ctx, userID, client.ID, 24*time.Hour); err != nil {
			h.logger.Warnw("redis connection mirror failed", "user_id", userID, "err", err)
		}
		cancel()
	}

	go client.WritePump(h.cfg.PingInterval)

	// the user is reachable now; promote anything still sitting in "sent"
	{
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		h.router.FlushPending(ctx, userID)
		cancel()
	}

	h.readLoop(client, conn)

	h.reg.Unregister(client)
	metrics.ActiveConnections.Dec()
	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := h.mirror.RemoveConnection(ctx, userID, client.ID); err != nil {
			h.logger.Warnw("redis connection unmirror failed", "user_id", userID, "err", err)
		}
		cancel()
	}
	h.logger.Infow("connection closed", "user_id", userID, "conn_id", client.ID)
}

func (h *Handler) readLoop(client *registry.Client, conn *websocket.Conn) {
	readWindow := 2*h.cfg.PingInterval + h.cfg.WriteDeadline

	conn.SetReadLimit(h.cfg.WS.MaxMessageSizeBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		client.MarkPong()
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		in, err := events.DecodeInbound(data)
		if err != nil {
			h.logger.Debugw("undecodable frame", "user_id", client.UserID, "err", err)
			continue
		}
		h.dispatch(client, in)
	}
}

func (h *Handler) dispatch(client *registry.Client, in *events.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch in.Type {
	case events.TypeSend:
		if in.ReceiverID == "" {
			client.Enqueue(events.Error("bad_request", "send requires receiver_id"))
			return
		}
		_, err := h.router.Submit(ctx, client.UserID, in.ReceiverID, in.Content, in.MediaURL, in.MediaType)
		if errors.Is(err, apperr.ErrUnknownRecipient) {
			client.Enqueue(events.Error("unknown_recipient", "no such user: "+in.ReceiverID))
			return
		}
		if err != nil {
			h.logger.Errorw("submit failed", "sender", client.UserID, "err", err)
			client.Enqueue(events.Error("internal", "message not accepted"))
		}

	case events.TypeTyping:
		if in.ReceiverID != "" {
			h.typing.Pulse(client.UserID, in.ReceiverID)
		}

	case events.TypeDeliveredReceipt:
		if err := h.router.AcknowledgeDelivered(ctx, in.MessageID, in.SenderID); err != nil {
			h.logger.Warnw("delivered receipt failed", "message_id", in.MessageID, "err", err)
		}

	case events.TypeReadReceipt:
		if err := h.router.AcknowledgeRead(ctx, in.MessageID, in.SenderID); err != nil {
			h.logger.Warnw("read receipt failed", "message_id", in.MessageID, "err", err)
		}

	case events.TypePing:
		client.MarkPong()
		client.Enqueue(events.Pong())

	default:
		h.logger.Debugw("unknown event type", "type", in.Type, "user_id", client.UserID)
	}
}

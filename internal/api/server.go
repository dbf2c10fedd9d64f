package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/yourorg/chat-app/services/realtime-service/internal/auth"
	"github.com/yourorg/chat-app/services/realtime-service/internal/metrics"
	"github.com/yourorg/chat-app/services/realtime-service/internal/presence"
	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
	"github.com/yourorg/chat-app/services/realtime-service/internal/router"
	"github.com/yourorg/chat-app/services/realtime-service/internal/store"
	wsh "github.com/yourorg/chat-app/services/realtime-service/internal/ws"
)

type Server struct {
	reg      *registry.Registry
	router   *router.Router
	pres     *presence.Broadcaster
	verifier auth.Verifier
}

// NewServer builds the fiber app: the websocket upgrade route plus the small
// HTTP surface the chat product polls (health, presence, history, registry
// stats, metrics).
func NewServer(reg *registry.Registry, rt *router.Router, pres *presence.Broadcaster, verifier auth.Verifier, handler *wsh.Handler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())
	s := &Server{reg: reg, router: rt, pres: pres, verifier: verifier}

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/v1")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(handler.Handle))

	api.Get("/users/:user_id/status", s.userStatus)

	authed := api.Group("", s.requireAuth)
	authed.Get("/chats/:peer_id/messages", s.history)
	authed.Get("/debug/connections", s.debugConnections)

	return app
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
	}
	userID, err := s.verifier.Verify(parts[1])
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}
	c.Locals("user_id", userID)
	return c.Next()
}

func (s *Server) userStatus(c *fiber.Ctx) error {
	uid := c.Params("user_id")
	return c.JSON(fiber.Map{"user_id": uid, "online": s.pres.IsOnline(uid)})
}

func (s *Server) history(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	peerID := c.Params("peer_id")
	msgs, err := s.router.History(c.Context(), userID, peerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history unavailable"})
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return c.JSON(fiber.Map{"status": "success", "data": msgs})
}

func (s *Server) debugConnections(c *fiber.Ctx) error {
	return c.JSON(s.reg.Stats())
}

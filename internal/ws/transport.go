package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/yourorg/chat-app/services/realtime-service/internal/registry"
)

// wsTransport adapts a fiber websocket connection to registry.Transport.
// Writes are serialized; the write pump is the only steady-state writer but
// teardown paths may race with it.
type wsTransport struct {
	conn          *websocket.Conn
	writeDeadline time.Duration
	mu            sync.Mutex
}

var _ registry.Transport = (*wsTransport)(nil)

func newTransport(conn *websocket.Conn, writeDeadline time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeDeadline: writeDeadline}
}

func (t *wsTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeDeadline))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeDeadline))
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}

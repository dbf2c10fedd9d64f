package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
	"github.com/yourorg/chat-app/services/realtime-service/internal/events"
)

// fakeWire is an in-memory wireConn. Frames pushed via serverSend appear to
// the read loop; Close unblocks pending reads with an error, like a dropped
// socket would.
type fakeWire struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeWire() *fakeWire {
	return &fakeWire{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeWire) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeWire) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeWire) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeWire) serverSend(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.in <- data
}

func (f *fakeWire) sentEvents(t *testing.T) []events.Inbound {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Inbound, 0, len(f.writes))
	for _, w := range f.writes {
		var in events.Inbound
		if err := json.Unmarshal(w, &in); err != nil {
			t.Fatalf("client wrote invalid frame %q: %v", w, err)
		}
		out = append(out, in)
	}
	return out
}

// dialScript hands out one scripted result per dial attempt; a nil entry is
// a dial failure. Attempts past the script fail too.
type dialScript struct {
	mu    sync.Mutex
	conns []*fakeWire
	calls int
}

func (s *dialScript) dial(context.Context) (wireConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.conns) || s.conns[i] == nil {
		return nil, errors.New("dial refused")
	}
	return s.conns[i], nil
}

func (s *dialScript) dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastConfig() Config {
	return Config{
		URL:          "ws://test/v1/ws",
		Token:        "t",
		MaxRetries:   3,
		BackoffBase:  time.Millisecond,
		BackoffCap:   4 * time.Millisecond,
		PingInterval: time.Hour, // keep the ping loop out of these tests
	}
}

func newTestClient(handlers Handlers, script *dialScript) *Client {
	c := New(fastConfig(), handlers)
	c.dial = script.dial
	return c
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", c.State(), want)
}

func TestConnect_RunsResync(t *testing.T) {
	var resyncs atomic.Int32
	script := &dialScript{conns: []*fakeWire{newFakeWire()}}
	c := newTestClient(Handlers{Resync: func() { resyncs.Add(1) }}, script)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitState(t, c, StateConnected)

	deadline := time.Now().Add(time.Second)
	for resyncs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if resyncs.Load() != 1 {
		t.Errorf("resync ran %d times, want 1", resyncs.Load())
	}
}

func TestSend_NotConnected(t *testing.T) {
	c := newTestClient(Handlers{}, &dialScript{})
	if err := c.Send("7", "hi"); err == nil {
		t.Error("Send() on an idle client succeeded")
	}
}

func TestSend_WritesWireFrames(t *testing.T) {
	wire := newFakeWire()
	script := &dialScript{conns: []*fakeWire{wire}}
	c := newTestClient(Handlers{}, script)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Send("7", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkRead("m1", "7"); err != nil {
		t.Fatal(err)
	}
	if err := c.Typing("7"); err != nil {
		t.Fatal(err)
	}

	sent := wire.sentEvents(t)
	if len(sent) != 3 {
		t.Fatalf("wrote %d frames, want 3", len(sent))
	}
	if sent[0].Type != events.TypeSend || sent[0].ReceiverID != "7" || sent[0].Content != "hello" {
		t.Errorf("send frame = %+v", sent[0])
	}
	if sent[1].Type != events.TypeReadReceipt || sent[1].MessageID != "m1" {
		t.Errorf("read receipt frame = %+v", sent[1])
	}
	if sent[2].Type != events.TypeTyping || sent[2].ReceiverID != "7" {
		t.Errorf("typing frame = %+v", sent[2])
	}
}

func TestRoute_DispatchesToHandlers(t *testing.T) {
	wire := newFakeWire()
	script := &dialScript{conns: []*fakeWire{wire}}

	var mu sync.Mutex
	var messages []events.MessageEvent
	var updates []events.StatusUpdateEvent
	var presences []events.UserStatusEvent

	c := newTestClient(Handlers{
		OnMessage:      func(ev events.MessageEvent) { mu.Lock(); messages = append(messages, ev); mu.Unlock() },
		OnStatusUpdate: func(ev events.StatusUpdateEvent) { mu.Lock(); updates = append(updates, ev); mu.Unlock() },
		OnUserStatus:   func(ev events.UserStatusEvent) { mu.Lock(); presences = append(presences, ev); mu.Unlock() },
	}, script)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	wire.serverSend(t, events.MessageEvent{Type: events.TypeMessage, ID: "m1", SenderID: "9", Content: "hi"})
	wire.serverSend(t, events.StatusUpdateEvent{Type: events.TypeStatusUpdate, MessageID: "m1", Status: "read"})
	wire.serverSend(t, events.UserStatusEvent{Type: events.TypeUserStatus, UserID: "9", Status: events.StatusOnline})
	wire.serverSend(t, []byte(nil)) // unparseable frame is ignored

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(messages) == 1 && len(updates) == 1 && len(presences) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 || messages[0].ID != "m1" {
		t.Errorf("messages = %+v", messages)
	}
	if len(updates) != 1 || updates[0].Status != "read" {
		t.Errorf("updates = %+v", updates)
	}
	if len(presences) != 1 || presences[0].UserID != "9" {
		t.Errorf("presences = %+v", presences)
	}
}

func TestRetryBudgetExhausts(t *testing.T) {
	var exhausted atomic.Int32
	script := &dialScript{} // every dial fails
	c := newTestClient(Handlers{OnExhausted: func() { exhausted.Add(1) }}, script)

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() with refused dial succeeded")
	}
	waitState(t, c, StateExhausted)

	// initial attempt plus MaxRetries retries
	if got := script.dials(); got != 4 {
		t.Errorf("dial attempts = %d, want 4", got)
	}
	time.Sleep(20 * time.Millisecond)
	if exhausted.Load() != 1 {
		t.Errorf("OnExhausted fired %d times, want 1", exhausted.Load())
	}

	if err := c.Connect(context.Background()); !errors.Is(err, apperr.ErrReconnectExhausted) {
		t.Errorf("Connect() after exhaustion: err = %v, want ErrReconnectExhausted", err)
	}
}

func TestReconnectAfterDrop_ResetsBackoff(t *testing.T) {
	first := newFakeWire()
	second := newFakeWire()
	script := &dialScript{conns: []*fakeWire{first, second}}
	c := newTestClient(Handlers{}, script)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitState(t, c, StateConnected)

	first.Close() // server drops the link
	deadline := time.Now().Add(2 * time.Second)
	for script.dials() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	waitState(t, c, StateConnected)

	c.mu.Lock()
	attempts := c.bo.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Errorf("backoff attempts after successful reconnect = %d, want 0", attempts)
	}
}

func TestClose_IsDeliberate(t *testing.T) {
	wire := newFakeWire()
	script := &dialScript{conns: []*fakeWire{wire, newFakeWire()}}
	c := newTestClient(Handlers{}, script)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitState(t, c, StateConnected)

	c.Close()
	waitState(t, c, StateIdle)

	time.Sleep(30 * time.Millisecond)
	if got := script.dials(); got != 1 {
		t.Errorf("dial attempts after Close = %d, want 1 (no reconnect)", got)
	}
	if c.State() != StateIdle {
		t.Errorf("state after Close = %q, want idle", c.State())
	}
}

func TestTypingIndicatorExpiresLocally(t *testing.T) {
	wire := newFakeWire()
	script := &dialScript{conns: []*fakeWire{wire}}

	var mu sync.Mutex
	var log []string
	cfg := fastConfig()
	cfg.TypingExpiry = 50 * time.Millisecond
	c := New(cfg, Handlers{
		OnTypingStart: func(s string) { mu.Lock(); log = append(log, "start:"+s); mu.Unlock() },
		OnTypingStop:  func(s string) { mu.Lock(); log = append(log, "stop:"+s); mu.Unlock() },
	})
	c.dial = script.dial
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	wire.serverSend(t, events.TypingEvent{Type: events.TypeTyping, SenderID: "9"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(log)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(log) != 2 || log[0] != "start:9" || log[1] != "stop:9" {
		t.Errorf("typing log = %v, want [start:9 stop:9]", log)
	}
}

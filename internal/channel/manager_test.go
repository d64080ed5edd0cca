package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// wsFixture is a bare websocket endpoint handing accepted connections to
// the test.
type wsFixture struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFixture) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *wsFixture) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []chat.Event
}

func (s *eventSink) handle(ev chat.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventSink) all() []chat.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Event(nil), s.events...)
}

func TestManager_PublishRequiresConnection(t *testing.T) {
	m := New("ws://localhost:1/ws", testLog)
	err := m.Publish(chat.Event{Type: chat.EventSendMessage})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	f := newWSFixture(t)
	m := New(f.url(), testLog)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background(), "tok"))
	require.Equal(t, StateConnected, m.State())
	require.NoError(t, m.Connect(context.Background(), "tok"), "second connect is a no-op")

	f.accept(t)
	select {
	case <-f.conns:
		t.Fatal("idempotent connect must not dial twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_FanOutAndHandlerIdentity(t *testing.T) {
	f := newWSFixture(t)
	m := New(f.url(), testLog)
	defer m.Disconnect()
	require.NoError(t, m.Connect(context.Background(), "tok"))
	server := f.accept(t)

	var a, b eventSink
	subA := m.Subscribe(chat.EventReceiveMessage, a.handle)
	m.Subscribe(chat.EventReceiveMessage, b.handle)
	_ = subA

	require.NoError(t, server.WriteJSON(chat.Event{Type: chat.EventReceiveMessage, Content: "one"}))
	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 },
		time.Second, 5*time.Millisecond, "both independent subscribers receive the event")

	// Cancelling one subscription must not touch the other handler for the
	// same event name.
	subA.Cancel()
	require.NoError(t, server.WriteJSON(chat.Event{Type: chat.EventReceiveMessage, Content: "two"}))
	require.Eventually(t, func() bool { return b.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.len())
}

func TestManager_DispatchPreservesOrder(t *testing.T) {
	f := newWSFixture(t)
	m := New(f.url(), testLog)
	defer m.Disconnect()
	require.NoError(t, m.Connect(context.Background(), "tok"))
	server := f.accept(t)

	var sink eventSink
	m.Subscribe(chat.EventReceiveMessage, sink.handle)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, server.WriteJSON(chat.Event{
			Type:      chat.EventReceiveMessage,
			MessageID: int64(i),
		}))
	}
	require.Eventually(t, func() bool { return sink.len() == n }, 2*time.Second, 5*time.Millisecond)
	for i, ev := range sink.all() {
		require.Equal(t, int64(i), ev.MessageID, "wire order preserved")
	}
}

func TestManager_PublishReachesServer(t *testing.T) {
	f := newWSFixture(t)
	m := New(f.url(), testLog)
	defer m.Disconnect()
	require.NoError(t, m.Connect(context.Background(), "tok"))
	server := f.accept(t)

	require.NoError(t, m.Publish(chat.Event{Type: chat.EventSendMessage, Content: "hi"}))

	var got chat.Event
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, server.ReadJSON(&got))
	assert.Equal(t, chat.EventSendMessage, got.Type)
	assert.Equal(t, "hi", got.Content)
}

func TestManager_ReconnectFiresHook(t *testing.T) {
	f := newWSFixture(t)
	m := New(f.url(), testLog)
	defer m.Disconnect()

	var reconnects sync.WaitGroup
	reconnects.Add(1)
	m.OnReconnect = func() { reconnects.Done() }

	require.NoError(t, m.Connect(context.Background(), "tok"))
	first := f.accept(t)

	// Kill the connection server-side; the manager re-dials on its own.
	first.Close()
	second := f.accept(t)
	require.NotNil(t, second)

	done := make(chan struct{})
	go func() { reconnects.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("OnReconnect was not invoked")
	}
	assert.Equal(t, StateConnected, m.State())
}

func TestManager_DisconnectIsSafeToRepeat(t *testing.T) {
	f := newWSFixture(t)
	m := New(f.url(), testLog)
	require.NoError(t, m.Connect(context.Background(), "tok"))
	f.accept(t)

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	err := m.Publish(chat.Event{Type: chat.EventSendMessage})
	assert.ErrorIs(t, err, ErrNotConnected)
}

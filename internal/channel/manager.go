// Package channel owns the one websocket connection a session holds against
// the chat server and fans incoming events out to subscribers.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120

	sendBuffer = 256

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// State of the underlying connection. Callers treat transport failures as a
// state change, not as hard errors.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected = errors.New("channel: not connected")
	ErrSendBacklog  = errors.New("channel: send buffer full")
)

// Handler receives a decoded event. Handlers for one connection run on a
// single dispatch goroutine, so delivery order matches wire order.
type Handler func(chat.Event)

// Subscription identifies one registered handler. Cancelling it removes only
// that handler, never other subscribers of the same event name.
type Subscription struct {
	m     *Manager
	event string
	id    int
}

// Cancel removes the handler. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.m == nil {
		return
	}
	s.m.mu.Lock()
	if set, ok := s.m.handlers[s.event]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(s.m.handlers, s.event)
		}
	}
	s.m.mu.Unlock()
}

// Manager holds one connection per authenticated session. Construct with New
// and inject into dependents; nothing here is package-global.
type Manager struct {
	wsURL string
	log   *slog.Logger

	// OnReconnect runs after an automatic re-dial succeeds. Room membership
	// is not retained by the server across connections, so the owner must
	// re-join conversations here. Set before Connect.
	OnReconnect func()

	state atomic.Int32

	mu         sync.Mutex
	conn       *websocket.Conn
	send       chan []byte
	credential string
	closing    bool
	nextSubID  int
	handlers   map[string]map[int]Handler

	dispatch     chan chat.Event
	dispatchOnce sync.Once
}

// New builds a manager for the given websocket endpoint, e.g.
// "ws://localhost:8080/ws". It does not dial.
func New(wsURL string, log *slog.Logger) *Manager {
	return &Manager{
		wsURL:    wsURL,
		log:      log,
		handlers: make(map[string]map[int]Handler),
		dispatch: make(chan chat.Event, sendBuffer),
	}
}

// State reports the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connect establishes the channel using the given credential (a bearer
// token, passed as the ws_handler's token query parameter). Idempotent while
// connected or connecting. After the first successful dial, transport drops
// are retried internally with capped backoff and never surfaced to callers.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	if !m.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}
	m.mu.Lock()
	m.credential = credential
	m.closing = false
	m.mu.Unlock()

	m.dispatchOnce.Do(func() { go m.runDispatch() })

	if err := m.dial(ctx); err != nil {
		m.state.Store(int32(StateDisconnected))
		return err
	}
	return nil
}

// Disconnect tears the connection down. Safe to call repeatedly, and safe
// to call Connect again afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	conn := m.conn
	m.conn = nil
	if m.send != nil {
		close(m.send)
		m.send = nil
	}
	m.mu.Unlock()

	m.state.Store(int32(StateDisconnected))
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// Subscribe registers a handler for one event name. Multiple independent
// subscribers per name are supported; each gets its own Subscription.
func (m *Manager) Subscribe(event string, h Handler) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	m.handlers[event][id] = h
	return Subscription{m: m, event: event, id: id}
}

// Publish emits an event, fire and forget. The only errors are local ones:
// no connection, or a full send buffer. No delivery acknowledgement exists.
func (m *Manager) Publish(ev chat.Event) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// The buffered send never blocks, so holding the lock here is cheap and
	// rules out a send racing the channel close on connection drop.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.send == nil {
		return ErrNotConnected
	}
	select {
	case m.send <- payload:
		return nil
	default:
		return ErrSendBacklog
	}
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	cred := m.credential
	m.mu.Unlock()

	endpoint := m.wsURL + "?token=" + url.QueryEscape(cred)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	send := make(chan []byte, sendBuffer)
	m.mu.Lock()
	m.conn = conn
	m.send = send
	m.mu.Unlock()
	m.state.Store(int32(StateConnected))

	go m.writePump(conn, send)
	go m.readPump(conn)
	return nil
}

func (m *Manager) readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn)
			return
		}
		var ev chat.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.log.Warn("channel: dropping undecodable event", "err", err)
			continue
		}
		m.dispatch <- ev
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// runDispatch delivers events to handlers one at a time. A handler never
// runs concurrently with another, which keeps per-conversation event order
// intact for every subscriber.
func (m *Manager) runDispatch() {
	for ev := range m.dispatch {
		m.mu.Lock()
		set := m.handlers[ev.Type]
		hs := make([]Handler, 0, len(set))
		for _, h := range set {
			hs = append(hs, h)
		}
		m.mu.Unlock()
		for _, h := range hs {
			h(ev)
		}
	}
}

// handleDrop runs when the read side fails. Unless Disconnect was asked
// for, it re-dials with capped backoff until the connection is back, then
// fires OnReconnect so owners can re-join their rooms.
func (m *Manager) handleDrop(conn *websocket.Conn) {
	m.mu.Lock()
	if m.closing || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	close(m.send)
	m.send = nil
	m.mu.Unlock()

	m.state.Store(int32(StateConnecting))
	m.log.Info("channel: connection lost, reconnecting")

	backoff := initialBackoff
	for {
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			m.state.Store(int32(StateDisconnected))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := m.dial(ctx)
		cancel()
		if err == nil {
			m.log.Info("channel: reconnected")
			if m.OnReconnect != nil {
				m.OnReconnect()
			}
			return
		}
		m.log.Warn("channel: reconnect failed", "err", err, "retry_in", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

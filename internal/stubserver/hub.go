package stubserver

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
)

// inbound is one unit of hub work: an event read from a client connection,
// or a server-originated broadcast (c == nil) enqueued by a REST handler.
type inbound struct {
	c  *wsClient
	ev chat.Event
}

// hub owns every live websocket connection and all room membership. A
// single Run goroutine owns the maps, so no locking; REST handlers reach
// the hub only through the events channel.
type hub struct {
	db    *sql.DB
	query func(string) string
	log   *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	events     chan inbound
	stop       chan struct{}

	// userID -> set of connections (multi-tab / multi-device)
	clients map[int64]map[*wsClient]bool
	// conversationID -> set of connections that joined the room
	rooms map[int64]map[*wsClient]bool
}

func newHub(db *sql.DB, query func(string) string, log *slog.Logger) *hub {
	return &hub{
		db:         db,
		query:      query,
		log:        log,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan inbound, 256),
		stop:       make(chan struct{}),
		clients:    make(map[int64]map[*wsClient]bool),
		rooms:      make(map[int64]map[*wsClient]bool),
	}
}

func (h *hub) Run() {
	for {
		select {
		case c := <-h.register:
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*wsClient]bool)
			}
			h.clients[c.userID][c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.userID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(h.clients, c.userID)
					}
				}
			}
			for _, room := range h.rooms {
				delete(room, c)
			}
		case in := <-h.events:
			h.handle(in)
		case <-h.stop:
			return
		}
	}
}

func (h *hub) Stop() { close(h.stop) }

// Broadcast enqueues a server-originated event for fan-out.
func (h *hub) Broadcast(ev chat.Event) {
	h.events <- inbound{ev: ev}
}

func (h *hub) handle(in inbound) {
	ev := in.ev
	switch ev.Type {
	case chat.EventJoinConversation:
		if in.c == nil || !h.isParticipant(ev.ConversationID, in.c.userID) {
			return
		}
		if h.rooms[ev.ConversationID] == nil {
			h.rooms[ev.ConversationID] = make(map[*wsClient]bool)
		}
		h.rooms[ev.ConversationID][in.c] = true

	case chat.EventLeaveConversation:
		if in.c != nil {
			delete(h.rooms[ev.ConversationID], in.c)
		}

	case chat.EventSendMessage:
		if in.c == nil {
			return
		}
		h.storeAndFanOut(in.c, ev)

	case chat.EventEditMessage:
		if in.c == nil {
			return
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := h.db.Exec(h.query(`UPDATE messages SET content=?, edited_at=? WHERE id=? AND sender_id=?`),
			ev.Content, now, ev.MessageID, in.c.userID); err != nil {
			h.log.Warn("stub: edit failed", "err", err)
			return
		}
		h.toParticipants(ev.ConversationID, 0, chat.Event{
			Type:           chat.EventMessageEdited,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			Content:        ev.Content,
		})

	case chat.EventMessageEdited:
		// Already persisted by the REST handler; fan out only.
		h.toParticipants(ev.ConversationID, 0, ev)

	case chat.EventDeleteMessage:
		if in.c == nil {
			return
		}
		if _, err := h.db.Exec(h.query(`DELETE FROM messages WHERE id=? AND sender_id=?`),
			ev.MessageID, in.c.userID); err != nil {
			h.log.Warn("stub: delete failed", "err", err)
			return
		}
		h.toParticipants(ev.ConversationID, 0, chat.Event{
			Type:           chat.EventMessageDeleted,
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
		})

	case chat.EventStartTyping, chat.EventStopTyping:
		if in.c == nil {
			return
		}
		out := chat.Event{
			Type:           chat.EventUserStartTyping,
			ConversationID: ev.ConversationID,
			UserID:         in.c.userID,
		}
		if ev.Type == chat.EventStopTyping {
			out.Type = chat.EventUserStopTyping
		}
		h.toRoom(ev.ConversationID, in.c, out)
	}
}

// storeAndFanOut persists the message and delivers receive_message to every
// connected participant, sender included: the echo carries the assigned id
// and local_id the client needs to confirm its optimistic entry.
func (h *hub) storeAndFanOut(c *wsClient, ev chat.Event) {
	if !h.isParticipant(ev.ConversationID, c.userID) {
		return
	}
	sentAt := time.Now().UTC()
	id, err := c.srv.insert(
		`INSERT INTO messages (conversation_id, sender_id, content, local_id, sent_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ConversationID, c.userID, ev.Content, ev.LocalID, sentAt.Format(time.RFC3339Nano))
	if err != nil {
		h.log.Warn("stub: message insert failed", "err", err)
		return
	}
	var username string
	_ = h.db.QueryRow(h.query(`SELECT username FROM users WHERE id=?`), c.userID).Scan(&username)

	h.toParticipants(ev.ConversationID, 0, chat.Event{
		Type:           chat.EventReceiveMessage,
		ConversationID: ev.ConversationID,
		MessageID:      id,
		SenderID:       c.userID,
		SenderUsername: username,
		Content:        ev.Content,
		LocalID:        ev.LocalID,
		SentAt:         sentAt.Format(time.RFC3339Nano),
	})
}

func (h *hub) isParticipant(conversationID, userID int64) bool {
	var n int
	_ = h.db.QueryRow(h.query(`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=?`),
		conversationID, userID).Scan(&n)
	return n > 0
}

// toParticipants sends the payload to every connected participant of the
// conversation, skipping the given user id (0 skips nobody).
func (h *hub) toParticipants(conversationID, skipUserID int64, ev chat.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	rows, err := h.db.Query(h.query(`SELECT user_id FROM participants WHERE conversation_id=?`), conversationID)
	if err != nil {
		h.log.Warn("stub: participants query failed", "err", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			continue
		}
		if skipUserID != 0 && uid == skipUserID {
			continue
		}
		h.deliver(h.clients[uid], payload)
	}
}

// toRoom sends the payload to every connection that joined the room,
// except the originating one.
func (h *hub) toRoom(conversationID int64, origin *wsClient, ev chat.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for c := range h.rooms[conversationID] {
		if c == origin {
			continue
		}
		h.deliverOne(c, payload)
	}
}

func (h *hub) deliver(set map[*wsClient]bool, payload []byte) {
	for c := range set {
		h.deliverOne(c, payload)
	}
}

func (h *hub) deliverOne(c *wsClient, payload []byte) {
	select {
	case c.send <- payload:
	default:
		// slow/broken client: drop the connection, not the hub
		close(c.send)
		if set, ok := h.clients[c.userID]; ok {
			delete(set, c)
		}
		for _, room := range h.rooms {
			delete(room, c)
		}
	}
}

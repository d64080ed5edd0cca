package messages

import (
	"log/slog"
	"sync"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
)

// Cache holds one Engine per tracked conversation and routes channel events
// to whichever engine they belong to. Events for untracked conversations
// are dropped here; every tracked conversation gets the same reconciliation
// treatment whether or not it is the one currently on screen.
type Cache struct {
	log *slog.Logger

	mu      sync.Mutex
	engines map[int64]*Engine
}

func NewCache(log *slog.Logger) *Cache {
	return &Cache{log: log, engines: make(map[int64]*Engine)}
}

// Engine returns the engine for the conversation, creating it on first use.
// A previously created engine keeps its loaded message page, which is what
// lets the resolver skip a re-fetch on conversation re-open.
func (c *Cache) Engine(conversationID int64) *Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[conversationID]
	if !ok {
		eng = NewEngine(conversationID, c.log)
		c.engines[conversationID] = eng
	}
	return eng
}

// Lookup returns the engine without creating one.
func (c *Cache) Lookup(conversationID int64) (*Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[conversationID]
	return eng, ok
}

// Drop forgets a conversation's engine entirely.
func (c *Cache) Drop(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.engines, conversationID)
}

// HandleEvent is the channel-facing entry point for the three message
// events. Wire it to the connection manager once per session.
func (c *Cache) HandleEvent(ev chat.Event) {
	eng, ok := c.Lookup(ev.ConversationID)
	if !ok {
		return
	}
	switch ev.Type {
	case chat.EventReceiveMessage:
		eng.ReconcileIncoming(ev.Message())
	case chat.EventMessageEdited:
		eng.ApplyRemoteEdit(ev.MessageID, ev.Content)
	case chat.EventMessageDeleted:
		eng.ApplyRemoteDelete(ev.MessageID)
	}
}

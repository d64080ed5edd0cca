// Package messages maintains the canonical, deduplicated message sequence
// of each tracked conversation, merging fetched history, optimistic local
// sends and authoritative channel events.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/google/uuid"
)

// pendingMatchWindow bounds the timestamp distance between an optimistic
// placeholder and the server echo that supersedes it. Used only when the
// server does not round-trip the local_id.
const pendingMatchWindow = 5 * time.Second

// LoadState is the per-conversation lifecycle: empty until a history fetch
// starts, loaded once it lands, back to empty on Reset.
type LoadState int

const (
	StateEmpty LoadState = iota
	StateLoading
	StateLoaded
)

// HistoryLoader is the slice of the persistence API the engine needs.
type HistoryLoader interface {
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]chat.Message, error)
}

// MessageUpdater is the API call behind an edit round-trip.
type MessageUpdater interface {
	UpdateMessage(ctx context.Context, messageID int64, content string) error
}

// Engine reconciles one conversation's message list. All mutation goes
// through it; readers get copies.
type Engine struct {
	conversationID int64
	log            *slog.Logger

	// loadMu serializes history fetches so concurrent openers of the same
	// conversation trigger one fetch, not several.
	loadMu sync.Mutex

	mu    sync.Mutex
	state LoadState
	list  []chat.Message
}

func NewEngine(conversationID int64, log *slog.Logger) *Engine {
	return &Engine{conversationID: conversationID, log: log}
}

func (e *Engine) ConversationID() int64 { return e.conversationID }

func (e *Engine) State() LoadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Messages returns a copy of the current list, oldest first.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]chat.Message(nil), e.list...)
}

// Load fetches the historical page and transitions empty → loading → loaded.
// On failure the list stays empty and the error is returned for the caller
// to retry; the engine itself never re-fetches. The page is merged through
// the same reconciliation as channel events: anything that arrived on the
// channel while the fetch was in flight survives even when the server's
// query snapshot predates it, and fetched entries keep the state the server
// reports (an edited message stays edited across a reload).
func (e *Engine) Load(ctx context.Context, loader HistoryLoader, limit int) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	if e.state == StateLoaded {
		e.mu.Unlock()
		return nil
	}
	e.state = StateLoading
	e.mu.Unlock()

	page, err := loader.ListMessages(ctx, e.conversationID, limit, 0)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = StateEmpty
		return fmt.Errorf("load history for conversation %d: %w", e.conversationID, err)
	}
	for _, m := range page {
		e.reconcileLocked(m)
	}
	e.state = StateLoaded
	return nil
}

// AddOptimistic appends a pending placeholder so the sender sees their
// message before the server acknowledges it. The returned message carries
// the correlation local_id to attach to the outgoing send_message event.
func (e *Engine) AddOptimistic(senderID int64, content string) chat.Message {
	msg := chat.Message{
		LocalID:        uuid.NewString(),
		ConversationID: e.conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         time.Now().UTC(),
		State:          chat.StatePending,
	}
	e.mu.Lock()
	e.list = append(e.list, msg)
	e.mu.Unlock()
	return msg
}

// ReconcileIncoming merges one authoritative message from the channel.
// Duplicate server ids are suppressed, a matching optimistic placeholder is
// removed, and the confirmed message is inserted in timestamp order.
// Returns false when the event was a duplicate no-op.
func (e *Engine) ReconcileIncoming(msg chat.Message) bool {
	if msg.ConversationID != e.conversationID {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcileLocked(msg)
}

func (e *Engine) reconcileLocked(msg chat.Message) bool {
	for _, m := range e.list {
		if m.Confirmed() && m.ID == msg.ID {
			return false
		}
	}
	if i := e.findPending(msg); i >= 0 {
		e.list = append(e.list[:i], e.list[i+1:]...)
	}
	if msg.State == "" || msg.State == chat.StatePending {
		msg.State = chat.StateConfirmed
	}
	e.list = append(e.list, msg)
	restoreOrder(e.list, len(e.list)-1)
	return true
}

// findPending locates the optimistic placeholder superseded by msg:
// exact local_id correlation when the server echoes it, otherwise the
// sender + trimmed-content + time-window heuristic.
func (e *Engine) findPending(msg chat.Message) int {
	if msg.LocalID != "" {
		for i, m := range e.list {
			if m.Pending() && m.LocalID == msg.LocalID {
				return i
			}
		}
	}
	want := strings.TrimSpace(msg.Content)
	for i, m := range e.list {
		if !m.Pending() || m.SenderID != msg.SenderID {
			continue
		}
		if strings.TrimSpace(m.Content) != want {
			continue
		}
		d := msg.SentAt.Sub(m.SentAt)
		if d < 0 {
			d = -d
		}
		if d <= pendingMatchWindow {
			return i
		}
	}
	return -1
}

// Edit applies the new content optimistically, then runs the API round-trip.
// A failed round-trip rolls the message back to its pre-edit snapshot.
func (e *Engine) Edit(ctx context.Context, updater MessageUpdater, messageID int64, content string) error {
	e.mu.Lock()
	idx := e.indexByID(messageID)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("edit: message %d not found", messageID)
	}
	snapshot := e.list[idx]
	e.list[idx].Content = content
	e.list[idx].State = chat.StateEdited
	e.mu.Unlock()

	if err := updater.UpdateMessage(ctx, messageID, content); err != nil {
		e.mu.Lock()
		if i := e.indexByID(messageID); i >= 0 {
			e.list[i] = snapshot
		}
		e.mu.Unlock()
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}

	// Re-apply verbatim; together with ApplyRemoteEdit being a no-op for
	// matching content this stays idempotent when the server echoes the
	// edit back on the channel.
	e.mu.Lock()
	if i := e.indexByID(messageID); i >= 0 {
		e.list[i].Content = content
		e.list[i].State = chat.StateEdited
	}
	e.mu.Unlock()
	return nil
}

// Delete removes the message optimistically and then emits the deletion
// (deletes travel over the channel, not HTTP). If the emit fails the
// message is re-inserted at its original sorted position.
func (e *Engine) Delete(messageID int64, emit func() error) error {
	e.mu.Lock()
	idx := e.indexByID(messageID)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("delete: message %d not found", messageID)
	}
	removed := e.list[idx]
	e.list = append(e.list[:idx], e.list[idx+1:]...)
	e.mu.Unlock()

	if err := emit(); err != nil {
		e.mu.Lock()
		e.list = append(e.list, removed)
		restoreOrder(e.list, len(e.list)-1)
		e.mu.Unlock()
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

// ApplyRemoteEdit handles a message_edited channel event. Unknown ids and
// repeats are benign no-ops; an echo of our own edit must not change state.
func (e *Engine) ApplyRemoteEdit(messageID int64, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexByID(messageID)
	if i < 0 {
		return
	}
	if e.list[i].Content == content && e.list[i].State == chat.StateEdited {
		return
	}
	e.list[i].Content = content
	e.list[i].State = chat.StateEdited
}

// ApplyRemoteDelete handles a message_deleted channel event. Unknown ids
// (already deleted locally, or never fetched) are no-ops.
func (e *Engine) ApplyRemoteDelete(messageID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexByID(messageID)
	if i < 0 {
		return
	}
	e.list = append(e.list[:i], e.list[i+1:]...)
}

// Reset drops all state, used when the conversation is closed.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateEmpty
	e.list = nil
}

func (e *Engine) indexByID(messageID int64) int {
	for i, m := range e.list {
		if m.Confirmed() && m.ID == messageID {
			return i
		}
	}
	return -1
}

// restoreOrder bubbles list[i] toward the front until the ascending
// SentAt order holds again. The list is append-mostly, so this is O(1) in
// the common in-order case and beats a full re-sort. Comparison is at
// millisecond resolution; equal timestamps keep arrival order.
func restoreOrder(list []chat.Message, i int) {
	for i > 0 && list[i-1].SentAt.UnixMilli() > list[i].SentAt.UnixMilli() {
		list[i-1], list[i] = list[i], list[i-1]
		i--
	}
}

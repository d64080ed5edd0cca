// Package typing tracks the transient "is typing" state of one open
// conversation, on both sides: local keystrokes debounced into start/stop
// emissions, remote events expired after a silence window.
package typing

import (
	"sync"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
)

const (
	// DefaultIdleTimeout is the local inactivity window after which a stop
	// event is emitted automatically.
	DefaultIdleTimeout = 2 * time.Second
	// DefaultRemoteExpiry clears the remote indicator when no stop event
	// ever arrives.
	DefaultRemoteExpiry = 3 * time.Second
)

// Emitter is the outbound side of the channel. *channel.Manager satisfies it.
type Emitter interface {
	Publish(ev chat.Event) error
}

// Tracker is bound to one conversation and one counterpart. Reset state by
// closing the tracker and creating a new one when the open conversation
// changes.
type Tracker struct {
	IdleTimeout  time.Duration
	RemoteExpiry time.Duration

	emit           Emitter
	conversationID int64
	userID         int64
	otherUserID    int64

	mu          sync.Mutex
	selfTyping  bool
	remoteUp    bool
	idleTimer   *time.Timer
	expiryTimer *time.Timer
	closed      bool
}

func NewTracker(emit Emitter, conversationID, userID, otherUserID int64) *Tracker {
	return &Tracker{
		IdleTimeout:    DefaultIdleTimeout,
		RemoteExpiry:   DefaultRemoteExpiry,
		emit:           emit,
		conversationID: conversationID,
		userID:         userID,
		otherUserID:    otherUserID,
	}
}

// Touch records local keystroke activity. The first call of a burst emits
// one start_typing event; further calls only re-arm the inactivity timer,
// so no two start events are ever sent without a stop in between.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.selfTyping {
		t.idleTimer.Reset(t.IdleTimeout)
		return
	}
	t.selfTyping = true
	t.idleTimer = time.AfterFunc(t.IdleTimeout, t.Stop)
	_ = t.emit.Publish(chat.Event{
		Type:           chat.EventStartTyping,
		ConversationID: t.conversationID,
		UserID:         t.userID,
		OtherUserID:    t.otherUserID,
	})
}

// Stop ends the local typing burst, emitting stop_typing. No-op when idle.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.selfTyping {
		return
	}
	t.selfTyping = false
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	_ = t.emit.Publish(chat.Event{
		Type:           chat.EventStopTyping,
		ConversationID: t.conversationID,
		UserID:         t.userID,
		OtherUserID:    t.otherUserID,
	})
}

// HandleEvent consumes user_start_typing / user_stop_typing channel events.
// Events for other conversations or from ourselves are ignored.
func (t *Tracker) HandleEvent(ev chat.Event) {
	if ev.ConversationID != t.conversationID || ev.UserID == t.userID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	switch ev.Type {
	case chat.EventUserStartTyping:
		t.remoteUp = true
		if t.expiryTimer != nil {
			t.expiryTimer.Reset(t.RemoteExpiry)
		} else {
			t.expiryTimer = time.AfterFunc(t.RemoteExpiry, t.expireRemote)
		}
	case chat.EventUserStopTyping:
		t.remoteUp = false
		if t.expiryTimer != nil {
			t.expiryTimer.Stop()
			t.expiryTimer = nil
		}
	}
}

func (t *Tracker) expireRemote() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteUp = false
	t.expiryTimer = nil
}

// SelfTyping reports whether a local burst is active.
func (t *Tracker) SelfTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfTyping
}

// RemoteTyping reports whether the counterpart is currently typing.
func (t *Tracker) RemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteUp
}

// Close cancels all timers and sends a final stop if a burst was active.
// The tracker is unusable afterwards.
func (t *Tracker) Close() {
	t.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.remoteUp = false
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
		t.expiryTimer = nil
	}
}

// Package session wires the client pieces together for one authenticated
// user: the channel connection, the conversation registry, the per
// conversation reconciliation engines and the typing tracker of the open
// conversation. UI surfaces consume this one type instead of re-assembling
// the parts themselves.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/api"
	"github.com/ageniuscoder/mmchat/client/internal/channel"
	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/ageniuscoder/mmchat/client/internal/conversations"
	"github.com/ageniuscoder/mmchat/client/internal/messages"
	"github.com/ageniuscoder/mmchat/client/internal/resolver"
	"github.com/ageniuscoder/mmchat/client/internal/typing"
)

type Session struct {
	UserID   int64
	API      *api.Client
	Channel  *channel.Manager
	Registry *conversations.Registry
	Cache    *messages.Cache
	Resolver *resolver.Resolver

	log  *slog.Logger
	subs []channel.Subscription

	mu      sync.Mutex
	joined  map[int64]bool
	open    int64
	tracker *typing.Tracker
}

// New assembles a session after a successful login. The api client must
// already hold its token; the channel manager must not be connected yet.
func New(userID int64, apiClient *api.Client, ch *channel.Manager, log *slog.Logger) *Session {
	reg := conversations.NewRegistry()
	cache := messages.NewCache(log)
	s := &Session{
		UserID:   userID,
		API:      apiClient,
		Channel:  ch,
		Registry: reg,
		Cache:    cache,
		Resolver: resolver.New(userID, apiClient, reg, cache, log),
		log:      log,
		joined:   make(map[int64]bool),
	}
	ch.OnReconnect = s.rejoin
	return s
}

// Start connects the channel, loads the conversation list (the one full
// sort) and registers the event plumbing: reconciliation before promotion,
// so a bump always sees the message already inserted.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Channel.Connect(ctx, s.API.Token()); err != nil {
		return err
	}
	convs, err := s.API.ListConversations(ctx)
	if err != nil {
		return err
	}
	s.Registry.Load(convs)

	s.subs = append(s.subs,
		s.Channel.Subscribe(chat.EventReceiveMessage, s.onReceive),
		s.Channel.Subscribe(chat.EventMessageEdited, s.Cache.HandleEvent),
		s.Channel.Subscribe(chat.EventMessageDeleted, s.Cache.HandleEvent),
		s.Channel.Subscribe(chat.EventUserStartTyping, s.onTyping),
		s.Channel.Subscribe(chat.EventUserStopTyping, s.onTyping),
	)
	return nil
}

func (s *Session) onReceive(ev chat.Event) {
	s.Cache.HandleEvent(ev)
	msg := ev.Message()
	s.Registry.Bump(ev.ConversationID, msg.SentAt)
}

func (s *Session) onTyping(ev chat.Event) {
	s.mu.Lock()
	tr := s.tracker
	s.mu.Unlock()
	if tr != nil {
		tr.HandleEvent(ev)
	}
}

// Open resolves the counterpart, joins the conversation room and installs a
// fresh typing tracker for it. Any previously open conversation is left and
// its tracker closed, so typing state never leaks across a switch.
func (s *Session) Open(ctx context.Context, counterpartID int64) (conversations.Conversation, *messages.Engine, *typing.Tracker, error) {
	conv, eng, err := s.Resolver.Resolve(ctx, counterpartID)
	if err != nil {
		return conversations.Conversation{}, nil, nil, err
	}

	s.mu.Lock()
	prevOpen, prevTracker := s.open, s.tracker
	s.open = conv.ID
	tr := typing.NewTracker(s.Channel, conv.ID, s.UserID, counterpartID)
	s.tracker = tr
	s.joined[conv.ID] = true
	s.mu.Unlock()

	if prevTracker != nil {
		prevTracker.Close()
	}
	if prevOpen != 0 && prevOpen != conv.ID {
		_ = s.Channel.Publish(chat.Event{Type: chat.EventLeaveConversation, ConversationID: prevOpen})
		s.mu.Lock()
		delete(s.joined, prevOpen)
		s.mu.Unlock()
	}
	_ = s.Channel.Publish(chat.Event{Type: chat.EventJoinConversation, ConversationID: conv.ID})
	return conv, eng, tr, nil
}

// Send shows the message optimistically and emits it. The placeholder's
// local_id travels with the event; the server echoes it in receive_message
// and the engine supersedes the placeholder on that echo.
func (s *Session) Send(conversationID int64, content string) (chat.Message, error) {
	eng := s.Cache.Engine(conversationID)
	msg := eng.AddOptimistic(s.UserID, content)
	err := s.Channel.Publish(chat.Event{
		Type:           chat.EventSendMessage,
		ConversationID: conversationID,
		SenderID:       s.UserID,
		Content:        content,
		LocalID:        msg.LocalID,
	})
	if err != nil {
		return msg, err
	}
	s.Registry.Bump(conversationID, time.Now().UTC())
	return msg, nil
}

// Edit runs the optimistic edit round-trip through the API.
func (s *Session) Edit(ctx context.Context, conversationID, messageID int64, content string) error {
	return s.Cache.Engine(conversationID).Edit(ctx, s.API, messageID, content)
}

// Delete removes the message optimistically and emits the deletion over the
// channel (deletes are not an HTTP call).
func (s *Session) Delete(conversationID, messageID int64) error {
	return s.Cache.Engine(conversationID).Delete(messageID, func() error {
		return s.Channel.Publish(chat.Event{
			Type:           chat.EventDeleteMessage,
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         s.UserID,
		})
	})
}

// rejoin re-emits join_conversation for every joined room after a
// reconnect; the server keeps no room membership across connections.
func (s *Session) rejoin() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.Channel.Publish(chat.Event{Type: chat.EventJoinConversation, ConversationID: id})
	}
}

// Close cancels subscriptions, closes the typing tracker and disconnects.
func (s *Session) Close() {
	s.mu.Lock()
	tr := s.tracker
	s.tracker = nil
	s.mu.Unlock()
	if tr != nil {
		tr.Close()
	}
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	s.Channel.Disconnect()
}

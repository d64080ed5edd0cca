package messages

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func confirmed(id int64, sender int64, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: 1,
		SenderID:       sender,
		Content:        content,
		SentAt:         at,
		State:          chat.StateConfirmed,
	}
}

type stubLoader struct {
	page []chat.Message
	err  error
	n    int
}

func (s *stubLoader) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]chat.Message, error) {
	s.n++
	return s.page, s.err
}

type stubUpdater struct {
	err error
	n   int
}

func (s *stubUpdater) UpdateMessage(ctx context.Context, id int64, content string) error {
	s.n++
	return s.err
}

func contents(list []chat.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Content
	}
	return out
}

func TestEngine_LoadSortsAscending(t *testing.T) {
	base := time.Now().UTC()
	loader := &stubLoader{page: []chat.Message{
		confirmed(3, 1, "c", base.Add(2*time.Second)),
		confirmed(1, 1, "a", base),
		confirmed(2, 2, "b", base.Add(time.Second)),
	}}
	e := NewEngine(1, testLog)
	require.Equal(t, StateEmpty, e.State())
	require.NoError(t, e.Load(context.Background(), loader, 50))
	require.Equal(t, StateLoaded, e.State())
	assert.Equal(t, []string{"a", "b", "c"}, contents(e.Messages()))

	// A second load is a no-op once loaded.
	require.NoError(t, e.Load(context.Background(), loader, 50))
	assert.Equal(t, 1, loader.n)
}

func TestEngine_LoadKeepsEditedState(t *testing.T) {
	base := time.Now().UTC()
	edited := confirmed(2, 1, "fixed", base.Add(time.Second))
	edited.State = chat.StateEdited
	blank := confirmed(1, 1, "a", base)
	blank.State = ""
	loader := &stubLoader{page: []chat.Message{blank, edited}}

	e := NewEngine(1, testLog)
	require.NoError(t, e.Load(context.Background(), loader, 50))

	list := e.Messages()
	require.Len(t, list, 2)
	assert.Equal(t, chat.StateConfirmed, list[0].State, "missing state defaults to confirmed")
	assert.Equal(t, chat.StateEdited, list[1].State, "server-reported edit survives a reload")

	// The same-content echo of that edit stays a no-op after the reload.
	e.ApplyRemoteEdit(2, "fixed")
	assert.Equal(t, chat.StateEdited, e.Messages()[1].State)
}

func TestEngine_LoadMergesEventsArrivedDuringFetch(t *testing.T) {
	base := time.Now().UTC()
	e := NewEngine(1, testLog)

	// Both of these land while the history fetch is in flight: a live
	// message the page's query snapshot does not include yet, and an
	// optimistic send whose echo the page does include.
	pending := e.AddOptimistic(5, "mine")
	e.ReconcileIncoming(confirmed(9, 2, "live", base.Add(3*time.Second)))

	echoed := confirmed(4, 5, "mine", base.Add(2*time.Second))
	echoed.LocalID = pending.LocalID
	loader := &stubLoader{page: []chat.Message{
		confirmed(1, 2, "a", base),
		echoed,
	}}
	require.NoError(t, e.Load(context.Background(), loader, 50))

	assert.Equal(t, []string{"a", "mine", "live"}, contents(e.Messages()),
		"stale page neither drops the live message nor duplicates the echo")
	for _, m := range e.Messages() {
		assert.True(t, m.Confirmed())
	}
}

func TestEngine_LoadFailureLeavesEmpty(t *testing.T) {
	loader := &stubLoader{err: errors.New("boom")}
	e := NewEngine(1, testLog)
	err := e.Load(context.Background(), loader, 50)
	require.Error(t, err)
	assert.Equal(t, StateEmpty, e.State())
	assert.Empty(t, e.Messages())
}

func TestEngine_IdempotentConfirmation(t *testing.T) {
	e := NewEngine(1, testLog)
	msg := confirmed(7, 2, "hi", time.Now().UTC())

	require.True(t, e.ReconcileIncoming(msg))
	require.False(t, e.ReconcileIncoming(msg), "duplicate id must be a no-op")

	list := e.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, int64(7), list[0].ID)
}

func TestEngine_OptimisticSupersededByHeuristic(t *testing.T) {
	e := NewEngine(1, testLog)
	pending := e.AddOptimistic(5, "hi")

	incoming := confirmed(9, 5, "hi", pending.SentAt.Add(2*time.Second))
	incoming.LocalID = "" // server that does not echo the correlation id
	require.True(t, e.ReconcileIncoming(incoming))

	list := e.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, chat.StateConfirmed, list[0].State)
	assert.Equal(t, int64(9), list[0].ID)
}

func TestEngine_OptimisticSupersededByLocalID(t *testing.T) {
	e := NewEngine(1, testLog)
	pending := e.AddOptimistic(5, "hi")

	// Same sender sends the identical text twice in quick succession; the
	// correlation id keeps the match exact where the heuristic would collide.
	incoming := confirmed(9, 5, "hi", pending.SentAt.Add(time.Second))
	incoming.LocalID = pending.LocalID
	require.True(t, e.ReconcileIncoming(incoming))

	list := e.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, int64(9), list[0].ID)
}

func TestEngine_PendingOutsideWindowKept(t *testing.T) {
	e := NewEngine(1, testLog)
	pending := e.AddOptimistic(5, "hi")

	incoming := confirmed(9, 5, "hi", pending.SentAt.Add(10*time.Second))
	require.True(t, e.ReconcileIncoming(incoming))

	// Too far apart: the placeholder is someone else's message still in
	// flight and must survive.
	list := e.Messages()
	require.Len(t, list, 2)
}

func TestEngine_OrderingStability(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Millisecond)
	e := NewEngine(1, testLog)

	// Delivered out of timestamp order, including a tie on id 4 vs id 5.
	e.ReconcileIncoming(confirmed(2, 1, "b", base.Add(200*time.Millisecond)))
	e.ReconcileIncoming(confirmed(1, 1, "a", base))
	e.ReconcileIncoming(confirmed(4, 1, "d", base.Add(400*time.Millisecond)))
	e.ReconcileIncoming(confirmed(5, 1, "e", base.Add(400*time.Millisecond)))
	e.ReconcileIncoming(confirmed(3, 1, "c", base.Add(300*time.Millisecond)))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, contents(e.Messages()),
		"ascending by sent_at, ties in arrival order")
}

func TestEngine_EditRollsBackOnFailure(t *testing.T) {
	e := NewEngine(1, testLog)
	e.ReconcileIncoming(confirmed(1, 1, "original", time.Now().UTC()))

	up := &stubUpdater{err: errors.New("rejected")}
	err := e.Edit(context.Background(), up, 1, "changed")
	require.Error(t, err)

	list := e.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, "original", list[0].Content)
	assert.Equal(t, chat.StateConfirmed, list[0].State)
}

func TestEngine_EditAppliesAndEchoIsNoOp(t *testing.T) {
	e := NewEngine(1, testLog)
	e.ReconcileIncoming(confirmed(1, 1, "original", time.Now().UTC()))

	up := &stubUpdater{}
	require.NoError(t, e.Edit(context.Background(), up, 1, "changed"))

	// The channel may echo the edit back; applying it twice must not change
	// anything further.
	e.ApplyRemoteEdit(1, "changed")
	e.ApplyRemoteEdit(1, "changed")

	list := e.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, "changed", list[0].Content)
	assert.Equal(t, chat.StateEdited, list[0].State)
}

func TestEngine_RemoteEditIdempotent(t *testing.T) {
	e := NewEngine(1, testLog)
	e.ReconcileIncoming(confirmed(1, 1, "old", time.Now().UTC()))

	e.ApplyRemoteEdit(1, "new")
	e.ApplyRemoteEdit(1, "new")

	list := e.Messages()
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Content)
	assert.Equal(t, chat.StateEdited, list[0].State)

	// Unknown id: benign no-op.
	e.ApplyRemoteEdit(42, "x")
	assert.Len(t, e.Messages(), 1)
}

func TestEngine_DeleteRollbackRestoresPosition(t *testing.T) {
	base := time.Now().UTC()
	e := NewEngine(1, testLog)
	e.ReconcileIncoming(confirmed(1, 1, "a", base))
	e.ReconcileIncoming(confirmed(2, 1, "b", base.Add(time.Second)))
	e.ReconcileIncoming(confirmed(3, 1, "c", base.Add(2*time.Second)))

	err := e.Delete(2, func() error { return errors.New("offline") })
	require.Error(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, contents(e.Messages()),
		"failed delete restores the message at its sorted position, not at the end")
}

func TestEngine_DeleteRemovesAndRemoteDeleteIdempotent(t *testing.T) {
	base := time.Now().UTC()
	e := NewEngine(1, testLog)
	e.ReconcileIncoming(confirmed(1, 1, "a", base))
	e.ReconcileIncoming(confirmed(2, 1, "b", base.Add(time.Second)))

	require.NoError(t, e.Delete(2, func() error { return nil }))
	assert.Equal(t, []string{"a"}, contents(e.Messages()))

	// Server echo of our own delete, then a stray repeat.
	e.ApplyRemoteDelete(2)
	e.ApplyRemoteDelete(2)
	assert.Equal(t, []string{"a"}, contents(e.Messages()))
}

func TestEngine_IgnoresOtherConversations(t *testing.T) {
	e := NewEngine(1, testLog)
	other := confirmed(1, 1, "x", time.Now().UTC())
	other.ConversationID = 2
	assert.False(t, e.ReconcileIncoming(other))
	assert.Empty(t, e.Messages())
}

func TestEngine_Reset(t *testing.T) {
	e := NewEngine(1, testLog)
	e.ReconcileIncoming(confirmed(1, 1, "a", time.Now().UTC()))
	e.Reset()
	assert.Equal(t, StateEmpty, e.State())
	assert.Empty(t, e.Messages())
}

func TestCache_RoutesEvents(t *testing.T) {
	c := NewCache(testLog)
	eng := c.Engine(1)

	at := time.Now().UTC().Format(time.RFC3339Nano)
	c.HandleEvent(chat.Event{
		Type: chat.EventReceiveMessage, ConversationID: 1,
		MessageID: 1, SenderID: 2, Content: "hi", SentAt: at,
	})
	require.Len(t, eng.Messages(), 1)

	// Untracked conversation: dropped, no engine springs into being.
	c.HandleEvent(chat.Event{
		Type: chat.EventReceiveMessage, ConversationID: 99,
		MessageID: 2, SenderID: 2, Content: "yo", SentAt: at,
	})
	_, ok := c.Lookup(99)
	assert.False(t, ok)

	c.HandleEvent(chat.Event{Type: chat.EventMessageEdited, ConversationID: 1, MessageID: 1, Content: "hi!"})
	assert.Equal(t, "hi!", eng.Messages()[0].Content)

	c.HandleEvent(chat.Event{Type: chat.EventMessageDeleted, ConversationID: 1, MessageID: 1})
	assert.Empty(t, eng.Messages())
}

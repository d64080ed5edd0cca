package conversations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

func direct(id int64, self, other int64, active time.Time) Conversation {
	return Conversation{
		ID:             id,
		ParticipantIDs: []int64{self, other},
		LastActivityAt: active,
	}
}

func ids(list []Conversation) []int64 {
	out := make([]int64, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestRegistry_LoadSortsOnce(t *testing.T) {
	r := NewRegistry()
	r.Load([]Conversation{
		direct(1, 10, 11, at(1)),
		direct(2, 10, 12, at(5)),
		direct(3, 10, 13, at(3)),
	})
	assert.Equal(t, []int64{2, 3, 1}, ids(r.List(nil)))
}

func TestRegistry_BumpMovesToFrontOnly(t *testing.T) {
	r := NewRegistry()
	// [A(t=1), B(t=5), C(t=3)] ordered on load to [B, C, A].
	r.Load([]Conversation{
		direct(1, 10, 11, at(1)), // A
		direct(2, 10, 12, at(5)), // B
		direct(3, 10, 13, at(3)), // C
	})

	r.Bump(1, at(10))

	got := r.List(nil)
	require.Equal(t, []int64{1, 2, 3}, ids(got),
		"only A moves; B and C keep their relative order")
	assert.Equal(t, at(10), got[0].LastActivityAt)
}

func TestRegistry_BumpUnknownIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Load([]Conversation{direct(1, 10, 11, at(1))})
	r.Bump(99, at(5))
	assert.Equal(t, []int64{1}, ids(r.List(nil)))
}

func TestRegistry_BumpKeepsLaterActivity(t *testing.T) {
	r := NewRegistry()
	r.Load([]Conversation{direct(1, 10, 11, at(9))})
	// A stale bump (out-of-order event) must not rewind the timestamp.
	r.Bump(1, at(4))
	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, at(9), got.LastActivityAt)
}

func TestRegistry_UpsertIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Load([]Conversation{direct(1, 10, 11, at(1))})

	r.Upsert(direct(2, 10, 12, at(2)))
	r.Upsert(direct(2, 10, 12, at(2)))

	require.Equal(t, 2, r.Len())
	assert.Equal(t, []int64{2, 1}, ids(r.List(nil)), "new conversation lands at the front")
}

func TestRegistry_FindDirect(t *testing.T) {
	r := NewRegistry()
	group := Conversation{ID: 5, IsGroup: true, ParticipantIDs: []int64{10, 11, 12}}
	r.Load([]Conversation{direct(1, 10, 11, at(1)), group})

	got, ok := r.FindDirect(10, 11)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID, "group containing both users does not count")

	_, ok = r.FindDirect(10, 99)
	assert.False(t, ok)
}

func TestRegistry_ListFilter(t *testing.T) {
	r := NewRegistry()
	r.Load([]Conversation{
		direct(1, 10, 11, at(3)),
		direct(2, 10, 12, at(2)),
		direct(3, 10, 13, at(1)),
	})

	got := r.List(&Filter{Self: 10, ParticipantAllowList: []int64{11, 13}})
	assert.Equal(t, []int64{1, 3}, ids(got))

	// Self in the allow-list matches nothing on its own.
	got = r.List(&Filter{Self: 10, ParticipantAllowList: []int64{10}})
	assert.Empty(t, got)
}

func TestConversation_DisplayName(t *testing.T) {
	d := Conversation{CounterpartUsername: "bob"}
	assert.Equal(t, "bob", d.DisplayName())
	g := Conversation{IsGroup: true, Name: "team"}
	assert.Equal(t, "team", g.DisplayName())
}

// Package conversations keeps the client-side list of conversations and its
// most-recently-active-first ordering.
package conversations

import (
	"sort"
	"sync"
	"time"
)

// Conversation mirrors what the server hands back for one chat thread.
type Conversation struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	IsGroup        bool    `json:"is_group"`
	ParticipantIDs []int64 `json:"participant_ids"`
	// CounterpartUsername is set for direct conversations only.
	CounterpartUsername string    `json:"counterpart_username,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivityAt      time.Time `json:"last_activity_at"`
}

// DisplayName is the explicit name for groups and the counterpart's name
// for direct conversations.
func (c Conversation) DisplayName() string {
	if c.IsGroup {
		return c.Name
	}
	return c.CounterpartUsername
}

// Has reports whether the given user is a participant.
func (c Conversation) Has(userID int64) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Filter restricts List output. A nil allow-list means no restriction.
type Filter struct {
	// ParticipantAllowList keeps only conversations whose participant set
	// intersects this list beyond the viewing user, e.g. "friends only".
	ParticipantAllowList []int64
	// Self is the viewing user, excluded from the intersection test.
	Self int64
}

func (f *Filter) match(c Conversation) bool {
	if f == nil || f.ParticipantAllowList == nil {
		return true
	}
	for _, id := range f.ParticipantAllowList {
		if id != f.Self && c.Has(id) {
			return true
		}
	}
	return false
}

// Registry is the authoritative client-side conversation collection. The
// initial Load sorts once; afterwards ordering is maintained with
// move-to-front bumps only, so unrelated entries never swap places.
type Registry struct {
	mu    sync.Mutex
	list  []Conversation
	index map[int64]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[int64]int)}
}

// Load replaces the collection with a freshly fetched one and performs the
// single full sort, most recent activity first.
func (r *Registry) Load(convs []Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append([]Conversation(nil), convs...)
	sort.SliceStable(r.list, func(i, j int) bool {
		return r.list[i].LastActivityAt.After(r.list[j].LastActivityAt)
	})
	r.reindex()
}

// List returns the ordered conversations, optionally filtered.
func (r *Registry) List(f *Filter) []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, 0, len(r.list))
	for _, c := range r.list {
		if f.match(c) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns a conversation by id.
func (r *Registry) Get(id int64) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return Conversation{}, false
	}
	return r.list[i], true
}

// FindDirect locates an existing direct conversation between the two users.
func (r *Registry) FindDirect(selfID, otherID int64) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.list {
		if !c.IsGroup && c.Has(selfID) && c.Has(otherID) {
			return c, true
		}
	}
	return Conversation{}, false
}

// Upsert inserts the conversation at the front if it is not tracked yet and
// is a no-op when it is, so the resolver may call it speculatively.
func (r *Registry) Upsert(conv Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[conv.ID]; ok {
		return
	}
	r.list = append([]Conversation{conv}, r.list...)
	r.reindex()
}

// Bump moves the conversation to the front and advances LastActivityAt.
// Unknown ids are ignored: a message can arrive on the channel before the
// conversation metadata has been fetched.
func (r *Registry) Bump(conversationID int64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[conversationID]
	if !ok {
		return
	}
	c := r.list[i]
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	copy(r.list[1:i+1], r.list[:i])
	r.list[0] = c
	r.reindex()
}

// Len reports how many conversations are tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

func (r *Registry) reindex() {
	for id := range r.index {
		delete(r.index, id)
	}
	for i, c := range r.list {
		r.index[c.ID] = i
	}
}

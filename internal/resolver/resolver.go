// Package resolver maps a counterpart user to a ready-to-use conversation:
// existing one from the registry, or freshly created, with its message page
// primed either from the local cache or the API.
package resolver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ageniuscoder/mmchat/client/internal/chat"
	"github.com/ageniuscoder/mmchat/client/internal/conversations"
	"github.com/ageniuscoder/mmchat/client/internal/messages"
)

// DefaultPageLimit is the history page size requested when priming.
const DefaultPageLimit = 50

// API is the slice of the persistence client the resolver needs.
type API interface {
	CreateDirectConversation(ctx context.Context, otherUserID int64) (conversations.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]chat.Message, error)
}

type flight struct {
	done chan struct{}
	conv conversations.Conversation
	err  error
}

// Resolver serializes resolution per counterpart: while one create is in
// flight, later calls for the same counterpart wait for its outcome instead
// of issuing a second create (the server does not promise idempotency).
type Resolver struct {
	selfID   int64
	api      API
	registry *conversations.Registry
	cache    *messages.Cache
	log      *slog.Logger

	mu       sync.Mutex
	inflight map[int64]*flight
}

func New(selfID int64, api API, registry *conversations.Registry, cache *messages.Cache, log *slog.Logger) *Resolver {
	return &Resolver{
		selfID:   selfID,
		api:      api,
		registry: registry,
		cache:    cache,
		log:      log,
		inflight: make(map[int64]*flight),
	}
}

// Resolve returns the direct conversation with the counterpart and its
// loaded engine. On any failure nothing is registered and no engine is
// primed, so a retry starts from a clean slate.
func (r *Resolver) Resolve(ctx context.Context, counterpartID int64) (conversations.Conversation, *messages.Engine, error) {
	if conv, ok := r.registry.FindDirect(r.selfID, counterpartID); ok {
		eng, err := r.prime(ctx, conv.ID)
		if err != nil {
			return conversations.Conversation{}, nil, err
		}
		return conv, eng, nil
	}

	conv, err := r.create(ctx, counterpartID)
	if err != nil {
		return conversations.Conversation{}, nil, err
	}
	eng, err := r.prime(ctx, conv.ID)
	if err != nil {
		// Nothing is registered on a partial failure; a retry starts over.
		return conversations.Conversation{}, nil, err
	}
	r.registry.Upsert(conv)
	return conv, eng, nil
}

// create runs the create-conversation call under the per-counterpart
// single-flight guard. Exactly one caller performs the request; the rest
// share its result.
func (r *Resolver) create(ctx context.Context, counterpartID int64) (conversations.Conversation, error) {
	r.mu.Lock()
	if f, ok := r.inflight[counterpartID]; ok {
		r.mu.Unlock()
		select {
		case <-f.done:
			return f.conv, f.err
		case <-ctx.Done():
			return conversations.Conversation{}, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	r.inflight[counterpartID] = f
	r.mu.Unlock()

	f.conv, f.err = r.api.CreateDirectConversation(ctx, counterpartID)

	r.mu.Lock()
	delete(r.inflight, counterpartID)
	r.mu.Unlock()
	close(f.done)

	return f.conv, f.err
}

// prime returns the conversation's engine with its history page loaded,
// consulting the cache first: an engine that already holds a loaded page is
// reused without a re-fetch.
func (r *Resolver) prime(ctx context.Context, conversationID int64) (*messages.Engine, error) {
	eng := r.cache.Engine(conversationID)
	if eng.State() == messages.StateLoaded {
		return eng, nil
	}
	if err := eng.Load(ctx, r.api, DefaultPageLimit); err != nil {
		return nil, err
	}
	return eng, nil
}

// Package presence derives online/offline state from the connection registry
// and pushes transitions to interested connections.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
)

// Tracker listens to registry transitions. Online state is never cached: it
// is always recomputed from the registry connection count, so the derived
// value cannot drift from the count invariant. Only lastSeen, which exists
// solely on the online -> offline edge, is stored here.
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[domain.UserID]time.Time

	registry contract.IRegistry
	router   contract.IRouter
	log      *slog.Logger
}

func NewTracker(log *slog.Logger, registry contract.IRegistry, router contract.IRouter) *Tracker {
	t := &Tracker{
		lastSeen: make(map[domain.UserID]time.Time),
		registry: registry,
		router:   router,
		log:      log,
	}
	registry.OnTransition(t.handleTransition)
	return t
}

func (t *Tracker) IsOnline(user domain.UserID) bool {
	return t.registry.ConnectionCount(user) > 0
}

// LastSeen reports when the user last dropped to zero connections. The
// boolean is false for users never observed going offline.
func (t *Tracker) LastSeen(user domain.UserID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.lastSeen[user]
	return at, ok
}

// Snapshot answers "who among these users is online" in one call, for the
// initial render right after a client connects.
func (t *Tracker) Snapshot(users []domain.UserID) map[domain.UserID]domain.PresenceState {
	// Copy lastSeen first: the registry lock must never be taken while
	// holding t.mu, since handleTransition runs under the registry lock
	// and takes t.mu.
	t.mu.RLock()
	seen := make(map[domain.UserID]time.Time, len(users))
	for _, u := range users {
		seen[u] = t.lastSeen[u]
	}
	t.mu.RUnlock()

	return lo.SliceToMap(users, func(u domain.UserID) (domain.UserID, domain.PresenceState) {
		return u, domain.PresenceState{
			Online:   t.registry.ConnectionCount(u) > 0,
			LastSeen: seen[u],
		}
	})
}

// AnnounceJoin pushes the joining user's current presence to the other
// subscribers of a room. A flip to online happens before any room is joined,
// so the transition broadcast alone would reach nobody; announcing on join
// closes that gap for room mates already watching.
func (t *Tracker) AnnounceJoin(ctx context.Context, conversation domain.ConversationID, user domain.UserID) {
	t.router.RouteToRoomExcept(ctx, conversation, user, event.PresenceChanged{
		User:     user,
		IsOnline: t.IsOnline(user),
		At:       time.Now().UTC(),
	})
}

// handleTransition runs on the registry's mutating goroutine. The broadcast
// is scoped to connections sharing at least one room with the flipped user,
// never the whole server.
func (t *Tracker) handleTransition(user domain.UserID, online bool, at time.Time) {
	if !online {
		t.mu.Lock()
		t.lastSeen[user] = at
		t.mu.Unlock()
	}

	evt := event.PresenceChanged{User: user, IsOnline: online, At: at}
	for _, sink := range t.router.SharingRoomWith(user) {
		if err := sink.Consume(context.Background(), evt); err != nil {
			t.log.Warn("Presence push failed", "user_id", user, "online", online, "error", err)
		}
	}
}

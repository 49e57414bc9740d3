package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
	errs "chat-core/errors"
)

type member struct {
	conn *domain.Connection
	sink contract.EventSink
}

// Router tracks which live connections currently watch which conversation
// and fans events out to them. It caches only the subscription view; the
// participant set itself is owned by the storage collaborator and consulted
// on every join.
type Router struct {
	mu sync.RWMutex
	// forward: conversation -> subscribed connections
	rooms map[domain.ConversationID]map[domain.ConnectionID]member
	// reverse: connection -> joined conversations, for O(rooms) LeaveAll
	conns   map[domain.ConnectionID]map[domain.ConversationID]struct{}
	storage contract.Storage
	log     *slog.Logger
}

func NewRouter(log *slog.Logger, storage contract.Storage) *Router {
	return &Router{
		rooms:   make(map[domain.ConversationID]map[domain.ConnectionID]member),
		conns:   make(map[domain.ConnectionID]map[domain.ConversationID]struct{}),
		storage: storage,
		log:     log,
	}
}

// Join authorizes the connection's user against the conversation participant
// set and subscribes the connection. Re-joining an already joined room is a
// no-op, so the final subscription only depends on join/leave parity.
func (r *Router) Join(ctx context.Context, conn *domain.Connection, sink contract.EventSink, conversation domain.ConversationID) error {
	ok, err := r.storage.IsParticipant(ctx, conversation, conn.User)
	if err != nil {
		return fmt.Errorf("participant lookup for %s: %w", conversation, err)
	}
	if !ok {
		return fmt.Errorf("user %s on conversation %s: %w", conn.User, conversation, errs.ErrForbidden)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[conversation]; !ok {
		r.rooms[conversation] = make(map[domain.ConnectionID]member)
	}
	r.rooms[conversation][conn.ID] = member{conn: conn, sink: sink}

	if _, ok := r.conns[conn.ID]; !ok {
		r.conns[conn.ID] = make(map[domain.ConversationID]struct{})
	}
	r.conns[conn.ID][conversation] = struct{}{}
	return nil
}

func (r *Router) Leave(conn *domain.Connection, conversation domain.ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn.ID, conversation)
}

// LeaveAll drops every room subscription of a connection. Invoked
// automatically when the transport closes.
func (r *Router) LeaveAll(conn *domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversation := range r.conns[conn.ID] {
		r.removeLocked(conn.ID, conversation)
	}
}

// removeLocked cleans both indexes and never leaves empty sets behind.
func (r *Router) removeLocked(id domain.ConnectionID, conversation domain.ConversationID) {
	if members, ok := r.rooms[conversation]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, conversation)
		}
	}
	if rooms, ok := r.conns[id]; ok {
		delete(rooms, conversation)
		if len(rooms) == 0 {
			delete(r.conns, id)
		}
	}
}

// RouteToRoom delivers the event to every subscribed connection, including
// multiple devices of the same user. A failing sink is logged and treated as
// offline for this event; it never fails the route.
func (r *Router) RouteToRoom(ctx context.Context, conversation domain.ConversationID, e event.ServerEvent) {
	r.routeExcept(ctx, conversation, "", e)
}

// RouteToRoomExcept fans out while skipping every connection of one user.
// Typing broadcasts use it so the originator never echoes to themselves.
func (r *Router) RouteToRoomExcept(ctx context.Context, conversation domain.ConversationID, except domain.UserID, e event.ServerEvent) {
	r.routeExcept(ctx, conversation, except, e)
}

func (r *Router) routeExcept(ctx context.Context, conversation domain.ConversationID, except domain.UserID, e event.ServerEvent) {
	r.mu.RLock()
	targets := make([]member, 0, len(r.rooms[conversation]))
	for _, m := range r.rooms[conversation] {
		if except != "" && m.conn.User == except {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	for _, m := range targets {
		if err := m.sink.Consume(ctx, e); err != nil {
			r.log.Warn("Fanout to connection failed",
				"connection_id", m.conn.ID,
				"user_id", m.conn.User,
				"conversation_id", conversation,
				"event", e.Kind(),
				"error", fmt.Errorf("%w: %v", errs.ErrTransport, err))
		}
	}
}

// SubscribedUsers returns the set of users with at least one connection
// subscribed to the conversation.
func (r *Router) SubscribedUsers(conversation domain.ConversationID) map[domain.UserID]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[domain.UserID]struct{}, len(r.rooms[conversation]))
	for _, m := range r.rooms[conversation] {
		users[m.conn.User] = struct{}{}
	}
	return users
}

// IsSubscribed reports whether one specific connection watches the room.
func (r *Router) IsSubscribed(id domain.ConnectionID, conversation domain.ConversationID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id][conversation]
	return ok
}

// SharingRoomWith returns the sinks of every connection that shares at least
// one room with the given user, excluding that user's own connections. This
// bounds presence fan-out to interested parties instead of a global blast.
func (r *Router) SharingRoomWith(user domain.UserID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.ConnectionID]struct{})
	var sinks []contract.EventSink
	for _, members := range r.rooms {
		shared := false
		for _, m := range members {
			if m.conn.User == user {
				shared = true
				break
			}
		}
		if !shared {
			continue
		}
		for id, m := range members {
			if m.conn.User == user {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sinks = append(sinks, m.sink)
		}
	}
	return sinks
}

// RoomCount is a gauge for the telemetry reporter.
func (r *Router) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

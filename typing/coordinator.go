// Package typing coordinates the ephemeral "is typing" marks of a
// conversation. Marks are TTL-bounded so an abrupt disconnect can never
// leave an indicator stuck on.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
)

const DefaultTTL = 3 * time.Second

// Coordinator keeps one expiry per (conversation, user). Start refreshes are
// a map write under a mutex, cheap enough for clients that call start on
// every keystroke. Broadcasts happen only on state transitions.
type Coordinator struct {
	mu    sync.Mutex
	marks map[domain.TypingKey]time.Time

	ttl    time.Duration
	router contract.IRouter
	log    *slog.Logger
	now    func() time.Time
}

func NewCoordinator(log *slog.Logger, router contract.IRouter, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		marks:  make(map[domain.TypingKey]time.Time),
		ttl:    ttl,
		router: router,
		log:    log,
		now:    time.Now,
	}
}

func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Start refreshes the mark's expiry. Only the transition from not typing to
// typing broadcasts; repeated calls inside the TTL window just move the
// expiry forward.
func (c *Coordinator) Start(ctx context.Context, conversation domain.ConversationID, user domain.UserID) {
	key := domain.TypingKey{Conversation: conversation, User: user}
	now := c.now()

	c.mu.Lock()
	expiry, ok := c.marks[key]
	wasTyping := ok && expiry.After(now)
	c.marks[key] = now.Add(c.ttl)
	c.mu.Unlock()

	if wasTyping {
		return
	}
	c.broadcast(ctx, key, true)
}

// Stop removes the mark immediately, taking priority over natural expiry.
// Stopping a user who was not typing broadcasts nothing.
func (c *Coordinator) Stop(ctx context.Context, conversation domain.ConversationID, user domain.UserID) {
	key := domain.TypingKey{Conversation: conversation, User: user}
	now := c.now()

	c.mu.Lock()
	expiry, ok := c.marks[key]
	delete(c.marks, key)
	c.mu.Unlock()

	if !ok || !expiry.After(now) {
		return
	}
	c.broadcast(ctx, key, false)
}

// IsTyping checks the mark lazily: a stale mark counts as stopped even
// before the sweep removes it.
func (c *Coordinator) IsTyping(conversation domain.ConversationID, user domain.UserID) bool {
	key := domain.TypingKey{Conversation: conversation, User: user}
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.marks[key]
	if !ok {
		return false
	}
	return !(domain.TypingMark{Key: key, ExpireAt: expiry}).Expired(c.now())
}

// Sweep removes expired marks and broadcasts their stop transitions. Called
// periodically by the sweep worker.
//
// Removal and the stop broadcast stay inside one critical section: a Start
// racing the sweep either refreshes the mark before the expiry check (the
// sweep skips it) or blocks until the stop went out and then wins with its
// own start, so the last broadcast always matches the mark's state.
func (c *Coordinator) Sweep(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, expiry := range c.marks {
		mark := domain.TypingMark{Key: key, ExpireAt: expiry}
		if !mark.Expired(now) {
			continue
		}
		delete(c.marks, key)
		c.log.Debug("Typing mark expired",
			"conversation_id", key.Conversation, "user_id", key.User)
		c.broadcast(ctx, key, false)
	}
}

func (c *Coordinator) broadcast(ctx context.Context, key domain.TypingKey, isTyping bool) {
	c.router.RouteToRoomExcept(ctx, key.Conversation, key.User, event.TypingState{
		Conversation: key.Conversation,
		User:         key.User,
		IsTyping:     isTyping,
	})
}

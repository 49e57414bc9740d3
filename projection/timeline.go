// Package projection builds local conversation timelines from observed
// events. It handles the connect-time race between socket pushes and the
// REST history fetch: ordering, deduplication, nothing else.
package projection

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"chat-core/domain"
	"chat-core/domain/event"
)

// Timeline is one conversation's local view. Events pushed before the
// history fetch resolves are buffered; SeedHistory merges both sides,
// de-duplicating on message id. The race is expected, not an error.
type Timeline struct {
	mu           sync.Mutex
	conversation domain.ConversationID
	seeded       bool
	pending      []domain.Message
	messages     []domain.Message
	seen         map[uuid.UUID]struct{}
}

func NewTimeline(conversation domain.ConversationID) *Timeline {
	return &Timeline{
		conversation: conversation,
		seen:         make(map[uuid.UUID]struct{}),
	}
}

// Consume accepts pushed events. Only message_received for the owning
// conversation affects the timeline.
func (t *Timeline) Consume(ctx context.Context, e event.ServerEvent) error {
	evt, ok := e.(event.MessageReceived)
	if !ok || evt.Message.ConversationID != t.conversation {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seeded {
		t.pending = append(t.pending, evt.Message)
		return nil
	}
	t.insert(evt.Message)
	return nil
}

// SeedHistory installs the authoritative fetched history (newest first, as
// the REST endpoint returns it) and folds in whatever arrived over the
// socket while the fetch was in flight.
func (t *Timeline) SeedHistory(history []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seeded = true
	for i := len(history) - 1; i >= 0; i-- {
		t.insert(history[i])
	}
	for _, msg := range t.pending {
		t.insert(msg)
	}
	t.pending = nil
}

// insert ignores duplicates and keeps messages sorted by sequence.
func (t *Timeline) insert(msg domain.Message) {
	if _, dup := t.seen[msg.ID]; dup {
		return
	}
	t.seen[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)

	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].Seq < t.messages[j].Seq
	})
}

// Messages returns the chronological view, oldest first.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

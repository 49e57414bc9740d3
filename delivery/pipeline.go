// Package delivery implements the message submission pipeline:
// authorize, validate, censor, persist, fan out, fall back to notification.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/abadojack/whatlanggo"
	"github.com/gabriel-vasile/mimetype"

	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
	errs "chat-core/errors"
	"chat-core/moderation"
)

const previewRunes = 80

// allowedAttachmentTypes is the attachment MIME allowlist. References with
// any other declared type are rejected before persistence.
var allowedAttachmentTypes = []string{
	"image/png", "image/jpeg", "image/gif", "image/webp",
	"application/pdf", "text/plain", "text/csv",
}

// Pipeline turns a raw submit into a persisted, fanned-out message.
// Persistence is the durability boundary: fan-out never happens for an
// unpersisted message, and a persistence failure is fatal to the request.
type Pipeline struct {
	log       *slog.Logger
	storage   contract.Storage
	notifier  contract.Notifier
	router    contract.IRouter
	registry  contract.IRegistry
	moderator *moderation.Moderator

	// one mutex per conversation serializes persist + fan-out, so every
	// subscriber observes messages in persistence order within a room;
	// entries are reference counted and evicted once the last holder
	// releases, so the map stays bounded by in-flight submissions
	convMu   map[domain.ConversationID]*convLock
	convMuMu sync.Mutex
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func NewPipeline(
	log *slog.Logger,
	storage contract.Storage,
	notifier contract.Notifier,
	router contract.IRouter,
	registry contract.IRegistry,
	moderator *moderation.Moderator,
) *Pipeline {
	return &Pipeline{
		log:       log,
		storage:   storage,
		notifier:  notifier,
		router:    router,
		registry:  registry,
		moderator: moderator,
		convMu:    make(map[domain.ConversationID]*convLock),
	}
}

// Submit runs the full pipeline for one message and returns the ack the
// sender is owed, or one of the fatal errors from the taxonomy. Nothing in
// here retries: resubmission is the caller's decision.
func (p *Pipeline) Submit(ctx context.Context, sender *domain.Connection, conversation domain.ConversationID, payload domain.MessagePayload) (domain.Ack, error) {
	// 1. Authorize
	ok, err := p.storage.IsParticipant(ctx, conversation, sender.User)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("%w: participant lookup: %v", errs.ErrDeliveryFailed, err)
	}
	if !ok {
		return domain.Ack{}, fmt.Errorf("user %s on conversation %s: %w", sender.User, conversation, errs.ErrForbidden)
	}

	// 2. Validate
	if err := validatePayload(payload); err != nil {
		return domain.Ack{}, err
	}

	// 3. Censor before the content becomes immutable
	payload.Content = p.censor(sender.User, conversation, payload.Content)

	lock := p.acquireConversation(conversation)

	// 4. Persist. The storage collaborator assigns the canonical id, the
	// server timestamp and the per-conversation sequence number.
	msg, err := p.storage.CreateMessage(ctx, conversation, sender.User, payload)
	if err != nil {
		p.releaseConversation(conversation, lock)
		return domain.Ack{}, fmt.Errorf("%w: %v", errs.ErrDeliveryFailed, err)
	}

	// 5. Fan out to every subscribed connection, the sender's other devices
	// included. Individual push failures are handled inside the router.
	p.router.RouteToRoom(ctx, conversation, event.MessageReceived{Message: msg})
	p.releaseConversation(conversation, lock)

	// 6. Fallback for participants who will not see the socket event.
	p.notifyAbsent(ctx, conversation, msg)

	return domain.Ack{ID: msg.ID, CreatedAt: msg.CreatedAt}, nil
}

// validatePayload requires non-empty content or a valid attachment reference.
func validatePayload(payload domain.MessagePayload) error {
	hasContent := strings.TrimSpace(payload.Content) != ""
	att := payload.Attachment

	if att == nil {
		if !hasContent {
			return fmt.Errorf("empty content without attachment: %w", errs.ErrInvalidPayload)
		}
		return nil
	}
	if att.URL == "" {
		return fmt.Errorf("attachment without reference: %w", errs.ErrInvalidPayload)
	}
	if !mimetype.EqualsAny(att.ContentType, allowedAttachmentTypes...) {
		return fmt.Errorf("attachment type %q not allowed: %w", att.ContentType, errs.ErrInvalidPayload)
	}
	return nil
}

func (p *Pipeline) censor(sender domain.UserID, conversation domain.ConversationID, content string) string {
	if p.moderator == nil || content == "" {
		return content
	}
	censored, found := p.moderator.Censor(content)
	if len(found) > 0 {
		info := whatlanggo.Detect(content)
		p.log.Warn("Blocked terms censored",
			"conversation_id", conversation,
			"sender_id", sender,
			"terms", found,
			"lang", info.Lang.Iso6391())
	}
	return censored
}

// notifyAbsent fires a best-effort notification for every participant who is
// offline, or online but not subscribed to this room. Never awaited.
func (p *Pipeline) notifyAbsent(ctx context.Context, conversation domain.ConversationID, msg domain.Message) {
	participants, err := p.storage.ListParticipants(ctx, conversation)
	if err != nil {
		p.log.Warn("Participant list unavailable, skipping notifications",
			"conversation_id", conversation, "error", err)
		return
	}
	subscribed := p.router.SubscribedUsers(conversation)
	preview := msg.Preview(previewRunes)

	for _, participant := range participants {
		if participant == msg.SenderID {
			continue
		}
		if _, watching := subscribed[participant]; watching && p.registry.ConnectionCount(participant) > 0 {
			continue
		}
		go p.notifier.Notify(participant, preview)
	}
}

// acquireConversation takes the conversation's mutex, creating the entry on
// first use. The reference count covers waiters too, so an entry is never
// evicted from under a blocked acquirer.
func (p *Pipeline) acquireConversation(conversation domain.ConversationID) *convLock {
	p.convMuMu.Lock()
	lock, ok := p.convMu[conversation]
	if !ok {
		lock = &convLock{}
		p.convMu[conversation] = lock
	}
	lock.refs++
	p.convMuMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (p *Pipeline) releaseConversation(conversation domain.ConversationID, lock *convLock) {
	lock.mu.Unlock()

	p.convMuMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(p.convMu, conversation)
	}
	p.convMuMu.Unlock()
}

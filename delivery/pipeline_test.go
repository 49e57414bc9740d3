package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-core/domain"
	"chat-core/domain/event"
	errs "chat-core/errors"
	"chat-core/mocks"
	"chat-core/moderation"
)

type fixture struct {
	pipeline *Pipeline
	storage  *mocks.MockStorage
	notifier *mocks.MockNotifier
	router   *mocks.MockIRouter
	registry *mocks.MockIRegistry
}

func newFixture(t *testing.T, moderator *moderation.Moderator) fixture {
	ctrl := gomock.NewController(t)
	f := fixture{
		storage:  mocks.NewMockStorage(ctrl),
		notifier: mocks.NewMockNotifier(ctrl),
		router:   mocks.NewMockIRouter(ctrl),
		registry: mocks.NewMockIRegistry(ctrl),
	}
	f.pipeline = NewPipeline(slog.Default(), f.storage, f.notifier, f.router, f.registry, moderator)
	return f
}

func TestPipeline_Submit_Happy_Path_Returns_Ack(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	sender := domain.NewConnection("alice")
	conversation := domain.ConversationID("conv-42")
	payload := domain.MessagePayload{Content: "hello", Type: domain.MessageTypeText}

	persisted := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation,
		SenderID:       "alice",
		Content:        "hello",
		Type:           domain.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
		Seq:            7,
	}

	// Given an authorized sender and a subscribed, online room mate
	f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)
	f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), payload).Return(persisted, nil)
	f.router.EXPECT().RouteToRoom(ctx, conversation, event.MessageReceived{Message: persisted})
	f.storage.EXPECT().ListParticipants(ctx, conversation).Return([]domain.UserID{"alice", "bob"}, nil)
	f.router.EXPECT().SubscribedUsers(conversation).Return(map[domain.UserID]struct{}{"alice": {}, "bob": {}})
	f.registry.EXPECT().ConnectionCount(domain.UserID("bob")).Return(1)

	// When the message is submitted
	ack, err := f.pipeline.Submit(ctx, sender, conversation, payload)

	// Then the ack echoes the canonical id and timestamp, nobody is notified
	req.NoError(err)
	req.Equal(persisted.ID, ack.ID)
	req.Equal(persisted.CreatedAt, ack.CreatedAt)
}

func TestPipeline_Submit_Rejects_Non_Participant(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	sender := domain.NewConnection("mallory")
	conversation := domain.ConversationID("conv-42")

	f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("mallory")).Return(false, nil)

	// When a non-participant submits; nothing may be persisted or routed
	_, err := f.pipeline.Submit(ctx, sender, conversation, domain.MessagePayload{Content: "hi"})

	req.ErrorIs(err, errs.ErrForbidden)
}

func TestPipeline_Submit_Rejects_Invalid_Payloads(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.MessagePayload
	}{
		{
			name:    "Empty content without attachment",
			payload: domain.MessagePayload{Content: "   "},
		},
		{
			name: "Attachment without reference",
			payload: domain.MessagePayload{
				Type:       domain.MessageTypeAttachment,
				Attachment: &domain.Attachment{ContentType: "image/png"},
			},
		},
		{
			name: "Attachment type outside the allowlist",
			payload: domain.MessagePayload{
				Type: domain.MessageTypeAttachment,
				Attachment: &domain.Attachment{
					URL:         "https://files.example.com/a.exe",
					ContentType: "application/x-msdownload",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t, nil)
			ctx := context.Background()
			sender := domain.NewConnection("alice")
			conversation := domain.ConversationID("conv-42")

			f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)

			_, err := f.pipeline.Submit(ctx, sender, conversation, tt.payload)

			req.ErrorIs(err, errs.ErrInvalidPayload)
		})
	}
}

func TestPipeline_Submit_Accepts_Attachment_With_Caption(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	sender := domain.NewConnection("alice")
	conversation := domain.ConversationID("conv-42")
	payload := domain.MessagePayload{
		Content: "the invoice",
		Type:    domain.MessageTypeAttachment,
		Attachment: &domain.Attachment{
			URL:         "https://files.example.com/invoice.pdf",
			Name:        "invoice.pdf",
			ContentType: "application/pdf",
			SizeBytes:   120_000,
		},
	}

	f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)
	f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), payload).
		Return(domain.Message{ID: uuid.New(), Attachment: payload.Attachment}, nil)
	f.router.EXPECT().RouteToRoom(ctx, conversation, gomock.Any())
	f.storage.EXPECT().ListParticipants(ctx, conversation).Return([]domain.UserID{"alice"}, nil)
	f.router.EXPECT().SubscribedUsers(conversation).Return(map[domain.UserID]struct{}{"alice": {}})

	_, err := f.pipeline.Submit(ctx, sender, conversation, payload)

	req.NoError(err)
}

func TestPipeline_Persistence_Failure_Prevents_Fanout(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	sender := domain.NewConnection("alice")
	conversation := domain.ConversationID("conv-42")
	payload := domain.MessagePayload{Content: "hello"}

	f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)
	f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), payload).
		Return(domain.Message{}, errors.New("disk full"))

	// When persistence fails, no RouteToRoom expectation is set: fanning out
	// an unpersisted message would fail the controller
	_, err := f.pipeline.Submit(ctx, sender, conversation, payload)

	req.ErrorIs(err, errs.ErrDeliveryFailed)
}

func TestPipeline_Notifies_Offline_And_Unsubscribed_Participants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	sender := domain.NewConnection("alice")
	conversation := domain.ConversationID("conv-42")
	payload := domain.MessagePayload{Content: "anyone around?"}
	persisted := domain.Message{ID: uuid.New(), SenderID: "alice", Content: "anyone around?"}

	f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)
	f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), payload).Return(persisted, nil)
	f.router.EXPECT().RouteToRoom(ctx, conversation, gomock.Any())

	// Given bob offline and clara online but looking at another room
	f.storage.EXPECT().ListParticipants(ctx, conversation).
		Return([]domain.UserID{"alice", "bob", "clara"}, nil)
	f.router.EXPECT().SubscribedUsers(conversation).Return(map[domain.UserID]struct{}{"alice": {}})

	notified := make(chan domain.UserID, 2)
	f.notifier.EXPECT().Notify(gomock.Any(), "anyone around?").
		Do(func(user domain.UserID, preview string) { notified <- user }).
		Times(2)

	// When the message is submitted
	_, err := f.pipeline.Submit(ctx, sender, conversation, payload)
	req.NoError(err)

	// Then both absentees are notified, the sender never
	got := map[domain.UserID]struct{}{}
	for i := 0; i < 2; i++ {
		select {
		case user := <-notified:
			got[user] = struct{}{}
		case <-time.After(time.Second):
			req.Fail("notification never fired")
		}
	}
	req.Contains(got, domain.UserID("bob"))
	req.Contains(got, domain.UserID("clara"))
}

func TestPipeline_Conversation_Locks_Are_Evicted_After_Submit(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	sender := domain.NewConnection("alice")

	// When messages go to many distinct conversations, success and failure
	for i := 0; i < 50; i++ {
		conversation := domain.ConversationID(fmt.Sprintf("conv-%d", i))
		payload := domain.MessagePayload{Content: "hello"}

		f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)
		if i%2 == 0 {
			f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), payload).
				Return(domain.Message{ID: uuid.New(), ConversationID: conversation}, nil)
			f.router.EXPECT().RouteToRoom(ctx, conversation, gomock.Any())
			f.storage.EXPECT().ListParticipants(ctx, conversation).Return([]domain.UserID{"alice"}, nil)
			f.router.EXPECT().SubscribedUsers(conversation).Return(map[domain.UserID]struct{}{"alice": {}})
		} else {
			f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), payload).
				Return(domain.Message{}, errors.New("disk full"))
		}

		_, _ = f.pipeline.Submit(ctx, sender, conversation, payload)
	}

	// Then no per-conversation lock outlives its submission
	f.pipeline.convMuMu.Lock()
	remaining := len(f.pipeline.convMu)
	f.pipeline.convMuMu.Unlock()
	req.Zero(remaining)
}

func TestPipeline_Censors_Before_Persistence(t *testing.T) {
	req := require.New(t)
	moderator, err := moderation.NewModerator([]string{"whatsapp"}, '*')
	req.NoError(err)
	f := newFixture(t, &moderator)
	ctx := context.Background()
	sender := domain.NewConnection("alice")
	conversation := domain.ConversationID("conv-42")

	f.storage.EXPECT().IsParticipant(ctx, conversation, domain.UserID("alice")).Return(true, nil)
	f.storage.EXPECT().CreateMessage(ctx, conversation, domain.UserID("alice"), gomock.Any()).
		DoAndReturn(func(ctx context.Context, c domain.ConversationID, s domain.UserID, payload domain.MessagePayload) (domain.Message, error) {
			// Then the stored content is already censored
			req.Equal("message me on ********", payload.Content)
			return domain.Message{ID: uuid.New(), Content: payload.Content}, nil
		})
	f.router.EXPECT().RouteToRoom(ctx, conversation, gomock.Any())
	f.storage.EXPECT().ListParticipants(ctx, conversation).Return([]domain.UserID{"alice"}, nil)
	f.router.EXPECT().SubscribedUsers(conversation).Return(map[domain.UserID]struct{}{"alice": {}})

	// When the content solicits an off-platform channel
	_, err = f.pipeline.Submit(ctx, sender, conversation,
		domain.MessagePayload{Content: "message me on WhatsApp"})

	req.NoError(err)
}

package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-core/domain"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMessageRepository_CreateMessage_Assigns_Identity_And_Sequence(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")

	// When two messages are stored
	first, err := repo.CreateMessage(ctx, conversation, "alice", domain.MessagePayload{Content: "one"})
	req.NoError(err)
	second, err := repo.CreateMessage(ctx, conversation, "bob", domain.MessagePayload{Content: "two"})
	req.NoError(err)

	// Then ids are unique, sequences monotonic, timestamps server-assigned
	req.NotEqual(uuid.Nil, first.ID)
	req.NotEqual(first.ID, second.ID)
	req.Equal(uint64(1), first.Seq)
	req.Equal(uint64(2), second.Seq)
	req.False(first.CreatedAt.IsZero())
	req.Equal(domain.MessageTypeText, first.Type)
}

func TestMessageRepository_Sequences_Are_Per_Conversation(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()

	one, err := repo.CreateMessage(ctx, "conv-1", "alice", domain.MessagePayload{Content: "a"})
	req.NoError(err)
	other, err := repo.CreateMessage(ctx, "conv-2", "alice", domain.MessagePayload{Content: "b"})
	req.NoError(err)

	req.Equal(uint64(1), one.Seq)
	req.Equal(uint64(1), other.Seq)
}

func TestMessageRepository_FetchHistory_Returns_Newest_First(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")

	for i := 1; i <= 3; i++ {
		_, err := repo.CreateMessage(ctx, conversation, "alice",
			domain.MessagePayload{Content: fmt.Sprintf("message %d", i)})
		req.NoError(err)
	}

	// When fetching without a cursor
	messages, _, err := repo.FetchHistory(ctx, conversation, nil, 10)
	req.NoError(err)

	// Then the newest message comes first
	req.Len(messages, 3)
	req.Equal("message 3", messages[0].Content)
	req.Equal("message 1", messages[2].Content)
	req.Equal(uint64(3), messages[0].Seq)
}

func TestMessageRepository_Pagination(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")

	// 10 messages, oldest to newest
	for i := 1; i <= 10; i++ {
		_, err := repo.CreateMessage(ctx, conversation, domain.UserID(fmt.Sprintf("user_%d", i)),
			domain.MessagePayload{Content: fmt.Sprintf("Message %d", i)})
		req.NoError(err)
	}

	// --- PAGE 1 ---
	page1, cursor1, err := repo.FetchHistory(ctx, conversation, nil, 4)
	req.NoError(err)
	req.Len(page1, 4)
	req.Equal(domain.UserID("user_10"), page1[0].SenderID) // newest
	req.Equal(domain.UserID("user_7"), page1[3].SenderID)
	req.NotNil(cursor1)

	// --- PAGE 2 ---
	page2, cursor2, err := repo.FetchHistory(ctx, conversation, cursor1, 4)
	req.NoError(err)
	req.Len(page2, 4)
	// no overlap with page 1: the page resumes at message 6
	req.Equal(domain.UserID("user_6"), page2[0].SenderID)
	req.Equal(domain.UserID("user_3"), page2[3].SenderID)
	req.NotNil(cursor2)

	// --- PAGE 3 (end) ---
	page3, cursor3, err := repo.FetchHistory(ctx, conversation, cursor2, 4)
	req.NoError(err)
	req.Len(page3, 2)
	req.Equal(domain.UserID("user_2"), page3[0].SenderID)
	req.Equal(domain.UserID("user_1"), page3[1].SenderID)

	// Past the last page there is nothing left
	page4, _, err := repo.FetchHistory(ctx, conversation, cursor3, 4)
	req.NoError(err)
	req.Empty(page4)
}

func TestMessageRepository_FetchHistory_Empty_Conversation(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())

	messages, cursor, err := repo.FetchHistory(context.Background(), "conv-nothing", nil, 10)

	req.NoError(err)
	req.Empty(messages)
	req.Nil(cursor)
}

func TestMessageRepository_Attachment_Roundtrip(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")

	payload := domain.MessagePayload{
		Content: "the signed contract",
		Type:    domain.MessageTypeAttachment,
		Attachment: &domain.Attachment{
			URL:         "https://files.example.com/contract.pdf",
			Name:        "contract.pdf",
			ContentType: "application/pdf",
			SizeBytes:   204_800,
		},
	}

	stored, err := repo.CreateMessage(ctx, conversation, "alice", payload)
	req.NoError(err)

	fetched, _, err := repo.FetchHistory(ctx, conversation, nil, 1)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal(stored.ID, fetched[0].ID)
	req.NotNil(fetched[0].Attachment)
	req.Equal(*payload.Attachment, *fetched[0].Attachment)
}

func TestMessageRepository_MarkRead(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()

	msg, err := repo.CreateMessage(ctx, "conv-42", "alice", domain.MessagePayload{Content: "hi"})
	req.NoError(err)

	// Marking read twice keeps the latest claim, never errors
	req.NoError(repo.MarkRead(ctx, "conv-42", "bob", msg.ID))
	req.NoError(repo.MarkRead(ctx, "conv-42", "bob", msg.ID))
}

func TestMessageRepository_History_Scope_Survives_Separator_In_ID(t *testing.T) {
	req := require.New(t)
	repo := NewMessageRepository(newTestDB(t), slog.Default())
	ctx := context.Background()

	// Given two conversations whose raw ids collide around the key separator
	_, err := repo.CreateMessage(ctx, "a", "alice", domain.MessagePayload{Content: "greetings"})
	req.NoError(err)
	_, err = repo.CreateMessage(ctx, "a:1", "mallory", domain.MessagePayload{Content: "not for a"})
	req.NoError(err)

	// When fetching history for the shorter id
	messages, _, err := repo.FetchHistory(ctx, "a", nil, 10)
	req.NoError(err)

	// Then only its own message comes back
	req.Len(messages, 1)
	req.Equal("greetings", messages[0].Content)
	req.Equal(domain.ConversationID("a"), messages[0].ConversationID)

	// And the longer id keeps its own scope too
	messages, _, err = repo.FetchHistory(ctx, "a:1", nil, 10)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("not for a", messages[0].Content)
}

func TestParseKey(t *testing.T) {
	req := require.New(t)
	id := uuid.New()

	conversation, seq, parsedID, ok := ParseKey(string(messageKey("conv-42", 7, id)))
	req.True(ok)
	req.Equal("conv-42", conversation)
	req.Equal(uint64(7), seq)
	req.Equal(id.String(), parsedID)

	// Separator characters inside the conversation id survive the round trip
	conversation, _, _, ok = ParseKey(string(messageKey("a:1", 1, id)))
	req.True(ok)
	req.Equal("a:1", conversation)

	_, _, _, ok = ParseKey("seq:636f6e762d3432")
	req.False(ok)
}

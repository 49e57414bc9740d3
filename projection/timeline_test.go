package projection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-core/domain"
	"chat-core/domain/event"
)

func message(conversation domain.ConversationID, seq uint64, content string) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation,
		SenderID:       "alice",
		Content:        content,
		Type:           domain.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
		Seq:            seq,
	}
}

func TestTimeline_Buffers_Pushes_Until_Seeded(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("conv-42")
	ctx := context.Background()

	// Given a push arriving before the history fetch resolves
	pushed := message("conv-42", 3, "pushed during fetch")
	req.NoError(tl.Consume(ctx, event.MessageReceived{Message: pushed}))

	// Then nothing is visible yet
	req.Equal(0, tl.Len())

	// When the history lands (newest first, as the endpoint returns it)
	older := message("conv-42", 1, "older")
	newer := message("conv-42", 2, "newer")
	tl.SeedHistory([]domain.Message{newer, older})

	// Then history and buffered push are merged in sequence order
	messages := tl.Messages()
	req.Len(messages, 3)
	req.Equal("older", messages[0].Content)
	req.Equal("newer", messages[1].Content)
	req.Equal("pushed during fetch", messages[2].Content)
}

func TestTimeline_Deduplicates_The_Fetch_Push_Race(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("conv-42")
	ctx := context.Background()

	// Given the same message seen over the socket and in the fetched history
	msg := message("conv-42", 5, "both paths")
	req.NoError(tl.Consume(ctx, event.MessageReceived{Message: msg}))
	tl.SeedHistory([]domain.Message{msg})

	// Then it appears exactly once
	req.Equal(1, tl.Len())
}

func TestTimeline_Ignores_Foreign_Conversations_And_Other_Events(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("conv-42")
	ctx := context.Background()
	tl.SeedHistory(nil)

	// When events for another room or of another kind arrive
	req.NoError(tl.Consume(ctx, event.MessageReceived{Message: message("conv-99", 1, "elsewhere")}))
	req.NoError(tl.Consume(ctx, event.TypingState{Conversation: "conv-42", User: "bob", IsTyping: true}))

	// Then the timeline stays untouched
	req.Equal(0, tl.Len())
}

func TestTimeline_Keeps_Sequence_Order_After_Seed(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("conv-42")
	ctx := context.Background()

	tl.SeedHistory([]domain.Message{message("conv-42", 2, "two"), message("conv-42", 1, "one")})

	// When later pushes arrive out of order
	req.NoError(tl.Consume(ctx, event.MessageReceived{Message: message("conv-42", 4, "four")}))
	req.NoError(tl.Consume(ctx, event.MessageReceived{Message: message("conv-42", 3, "three")}))

	messages := tl.Messages()
	req.Len(messages, 4)
	for i, want := range []string{"one", "two", "three", "four"} {
		req.Equal(want, messages[i].Content)
	}
}

func TestTimeline_Messages_Returns_A_Copy(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline("conv-42")
	tl.SeedHistory([]domain.Message{message("conv-42", 1, "original")})

	view := tl.Messages()
	view[0].Content = "mutated"

	req.Equal("original", tl.Messages()[0].Content)
}

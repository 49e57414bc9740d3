package typing

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/mocks"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, *mocks.MockIRouter, *fakeClock) {
	ctrl := gomock.NewController(t)
	router := mocks.NewMockIRouter(ctrl)
	clock := &fakeClock{now: time.Now().UTC()}
	c := NewCoordinator(slog.Default(), router, ttl)
	c.now = clock.Now
	return c, router, clock
}

func TestCoordinator_Start_Broadcasts_Only_The_First_Transition(t *testing.T) {
	req := require.New(t)
	c, router, _ := newTestCoordinator(t, 3*time.Second)
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")
	user := domain.UserID("alice")

	// Then exactly one broadcast goes out, originator excluded
	router.EXPECT().
		RouteToRoomExcept(ctx, conversation, user, event.TypingState{
			Conversation: conversation, User: user, IsTyping: true,
		}).
		Times(1)

	// When the client fires start on three consecutive keystrokes
	c.Start(ctx, conversation, user)
	c.Start(ctx, conversation, user)
	c.Start(ctx, conversation, user)

	req.True(c.IsTyping(conversation, user))
}

func TestCoordinator_Stop_Takes_Priority_Over_Expiry(t *testing.T) {
	req := require.New(t)
	c, router, _ := newTestCoordinator(t, 3*time.Second)
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")
	user := domain.UserID("alice")

	router.EXPECT().
		RouteToRoomExcept(ctx, conversation, user, event.TypingState{
			Conversation: conversation, User: user, IsTyping: true,
		})
	router.EXPECT().
		RouteToRoomExcept(ctx, conversation, user, event.TypingState{
			Conversation: conversation, User: user, IsTyping: false,
		})

	// When the user starts then explicitly stops within the TTL
	c.Start(ctx, conversation, user)
	c.Stop(ctx, conversation, user)

	req.False(c.IsTyping(conversation, user))
}

func TestCoordinator_Stop_Without_Start_Is_Silent(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestCoordinator(t, 3*time.Second)

	// When stopping a user who never typed, no expectation is set on the
	// router: any broadcast would fail the controller
	c.Stop(context.Background(), "conv-42", "alice")

	req.False(c.IsTyping("conv-42", "alice"))
}

func TestCoordinator_Mark_Expires_After_TTL(t *testing.T) {
	req := require.New(t)
	c, router, clock := newTestCoordinator(t, 3*time.Second)
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")
	user := domain.UserID("alice")

	router.EXPECT().RouteToRoomExcept(ctx, conversation, user, gomock.Any())

	// Given a mark older than the TTL
	c.Start(ctx, conversation, user)
	clock.Advance(3*time.Second + time.Millisecond)

	// Then the lazy check already reports stopped, before any sweep
	req.False(c.IsTyping(conversation, user))

	// And stopping an expired mark broadcasts nothing more
	c.Stop(ctx, conversation, user)
}

func TestCoordinator_Start_Refresh_Extends_The_Window(t *testing.T) {
	req := require.New(t)
	c, router, clock := newTestCoordinator(t, 3*time.Second)
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")
	user := domain.UserID("alice")

	router.EXPECT().RouteToRoomExcept(ctx, conversation, user, gomock.Any()).Times(1)

	// Given a mark refreshed right before expiry
	c.Start(ctx, conversation, user)
	clock.Advance(2 * time.Second)
	c.Start(ctx, conversation, user)
	clock.Advance(2 * time.Second)

	// Then the mark is still live four seconds after the first start
	req.True(c.IsTyping(conversation, user))
}

func TestCoordinator_Sweep_Broadcasts_Expired_Stops(t *testing.T) {
	req := require.New(t)
	c, router, clock := newTestCoordinator(t, 3*time.Second)
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")

	router.EXPECT().
		RouteToRoomExcept(ctx, conversation, domain.UserID("alice"), event.TypingState{
			Conversation: conversation, User: "alice", IsTyping: true,
		})
	router.EXPECT().
		RouteToRoomExcept(ctx, conversation, domain.UserID("bob"), event.TypingState{
			Conversation: conversation, User: "bob", IsTyping: true,
		})

	// Given alice typed long ago and bob just now
	c.Start(ctx, conversation, "alice")
	clock.Advance(4 * time.Second)
	c.Start(ctx, conversation, "bob")

	// Then the sweep stops only alice
	router.EXPECT().
		RouteToRoomExcept(ctx, conversation, domain.UserID("alice"), event.TypingState{
			Conversation: conversation, User: "alice", IsTyping: false,
		})
	c.Sweep(ctx)

	req.False(c.IsTyping(conversation, "alice"))
	req.True(c.IsTyping(conversation, "bob"))
}

func TestCoordinator_Sweep_Racing_Start_Never_Overtakes_The_Fresh_Mark(t *testing.T) {
	req := require.New(t)
	c, router, clock := newTestCoordinator(t, 3*time.Second)
	ctx := context.Background()
	conversation := domain.ConversationID("conv-42")
	user := domain.UserID("alice")

	var mu sync.Mutex
	var states []bool
	router.EXPECT().
		RouteToRoomExcept(gomock.Any(), conversation, user, gomock.Any()).
		Do(func(_ context.Context, _ domain.ConversationID, _ domain.UserID, e event.ServerEvent) {
			mu.Lock()
			states = append(states, e.(event.TypingState).IsTyping)
			mu.Unlock()
		}).
		AnyTimes()

	for i := 0; i < 200; i++ {
		// Given the previous round's mark is already expired
		clock.Advance(4 * time.Second)

		// When a sweep races a fresh start on the same key
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); c.Sweep(ctx) }()
		go func() { defer wg.Done(); c.Start(ctx, conversation, user) }()
		wg.Wait()

		// Then the mark is live and the last broadcast agrees with it
		req.True(c.IsTyping(conversation, user))
		mu.Lock()
		req.True(states[len(states)-1], "round %d: a stale stop overtook the start", i)
		mu.Unlock()
	}
}

func TestCoordinator_Defaults_TTL_When_Unset(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	c := NewCoordinator(slog.Default(), mocks.NewMockIRouter(ctrl), 0)
	req.Equal(DefaultTTL, c.TTL())
}

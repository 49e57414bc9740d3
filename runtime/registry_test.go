package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-core/domain"
	"chat-core/domain/event"
)

type nopSink struct{}

func (s nopSink) Consume(ctx context.Context, e event.ServerEvent) error {
	return nil
}

type transition struct {
	user   domain.UserID
	online bool
}

func TestRegistry_Register_First_Connection_Flips_Online(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	user := domain.UserID("alice")
	conn := domain.NewConnection(user)

	// Given no connection is registered
	req.Equal(0, registry.ConnectionCount(user))

	// When the first connection registers
	becameOnline := registry.Register(conn, nopSink{})

	// Then the user flips online
	req.True(becameOnline)
	req.Equal(1, registry.ConnectionCount(user))
	req.Len(registry.SinksOf(user), 1)
}

func TestRegistry_Register_Second_Device_Does_Not_Flip(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	user := domain.UserID("alice")
	laptop := domain.NewConnection(user)
	phone := domain.NewConnection(user)

	// Given one live connection
	req.True(registry.Register(laptop, nopSink{}))

	// When a second device connects
	becameOnline := registry.Register(phone, nopSink{})

	// Then no new transition happens, both sinks are live
	req.False(becameOnline)
	req.Equal(2, registry.ConnectionCount(user))
	req.Len(registry.SinksOf(user), 2)
}

func TestRegistry_Unregister_Last_Connection_Flips_Offline(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	user := domain.UserID("alice")
	conn := domain.NewConnection(user)
	registry.Register(conn, nopSink{})

	// When the last connection goes away
	becameOffline, lastSeen := registry.Unregister(conn)

	// Then the user flips offline with a last seen timestamp
	req.True(becameOffline)
	req.False(lastSeen.IsZero())
	req.Equal(0, registry.ConnectionCount(user))
	req.Nil(registry.SinksOf(user))
}

func TestRegistry_Unregister_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	user := domain.UserID("alice")
	conn := domain.NewConnection(user)
	registry.Register(conn, nopSink{})

	// Given the connection already unregistered once
	becameOffline, _ := registry.Unregister(conn)
	req.True(becameOffline)

	// When a duplicate close event arrives
	becameOffline, lastSeen := registry.Unregister(conn)

	// Then it is absorbed without a second transition
	req.False(becameOffline)
	req.True(lastSeen.IsZero())
}

func TestRegistry_Unregister_With_Remaining_Device_Stays_Online(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	user := domain.UserID("alice")
	laptop := domain.NewConnection(user)
	phone := domain.NewConnection(user)
	registry.Register(laptop, nopSink{})
	registry.Register(phone, nopSink{})

	// When one of two devices disconnects
	becameOffline, _ := registry.Unregister(laptop)

	// Then the user stays online through the other device
	req.False(becameOffline)
	req.Equal(1, registry.ConnectionCount(user))
}

func TestRegistry_Transitions_Observed_In_Mutation_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	user := domain.UserID("alice")

	var mu sync.Mutex
	var observed []transition
	registry.OnTransition(func(u domain.UserID, online bool, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, transition{user: u, online: online})
	})

	// When the user connects, disconnects and reconnects
	first := domain.NewConnection(user)
	registry.Register(first, nopSink{})
	registry.Unregister(first)
	second := domain.NewConnection(user)
	registry.Register(second, nopSink{})

	// Then the listener saw online, offline, online in that exact order
	mu.Lock()
	defer mu.Unlock()
	req.Equal([]transition{
		{user: user, online: true},
		{user: user, online: false},
		{user: user, online: true},
	}, observed)
}

func TestRegistry_TotalConnections_Counts_Every_Device(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())

	registry.Register(domain.NewConnection("alice"), nopSink{})
	registry.Register(domain.NewConnection("alice"), nopSink{})
	registry.Register(domain.NewConnection("bob"), nopSink{})

	req.Equal(3, registry.TotalConnections())
}

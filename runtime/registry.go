// Package runtime owns the mutable shared state of the messaging core: the
// connection registry and the conversation room router. It contains no
// business rules, only membership bookkeeping and fan-out plumbing.
package runtime

import (
	"log/slog"
	"sync"
	"time"

	"chat-core/contract"
	"chat-core/domain"
)

// Registry tracks live connections per user. It is the single writer of the
// online-count invariant: a user is online exactly while their bucket is
// non-empty, and transition listeners fire inside the same critical section
// so no observer can see the count and the flip disagree.
type Registry struct {
	mu        sync.Mutex
	byUser    map[domain.UserID]map[domain.ConnectionID]contract.EventSink
	listeners []contract.TransitionListener
	log       *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		byUser: make(map[domain.UserID]map[domain.ConnectionID]contract.EventSink),
		log:    log,
	}
}

// OnTransition registers a listener for online/offline flips. Register all
// listeners before serving traffic; the slice is not guarded afterwards.
func (r *Registry) OnTransition(l contract.TransitionListener) {
	r.listeners = append(r.listeners, l)
}

// Register adds a connection to its user's bucket and reports whether this
// was the user's first live connection.
func (r *Registry) Register(conn *domain.Connection, sink contract.EventSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.byUser[conn.User]
	if !ok {
		bucket = make(map[domain.ConnectionID]contract.EventSink)
		r.byUser[conn.User] = bucket
	}
	bucket[conn.ID] = sink

	becameOnline := len(bucket) == 1
	if becameOnline {
		r.notify(conn.User, true, time.Now().UTC())
	}
	r.log.Debug("Connection registered",
		"user_id", conn.User, "connection_id", conn.ID, "count", len(bucket))
	return becameOnline
}

// Unregister removes a connection. It is idempotent: removing an absent
// connection is a no-op, which absorbs duplicate close events from the
// transport. When the user's last connection goes away the offline flip is
// signalled with lastSeen set to now.
func (r *Registry) Unregister(conn *domain.Connection) (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.byUser[conn.User]
	if !ok {
		return false, time.Time{}
	}
	if _, ok := bucket[conn.ID]; !ok {
		return false, time.Time{}
	}
	delete(bucket, conn.ID)

	if len(bucket) > 0 {
		return false, time.Time{}
	}
	delete(r.byUser, conn.User)

	lastSeen := time.Now().UTC()
	r.notify(conn.User, false, lastSeen)
	r.log.Debug("User went offline", "user_id", conn.User, "last_seen", lastSeen)
	return true, lastSeen
}

func (r *Registry) ConnectionCount(user domain.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[user])
}

// SinksOf returns the sinks of every live connection of a user.
func (r *Registry) SinksOf(user domain.UserID) []contract.EventSink {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.byUser[user]
	if len(bucket) == 0 {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(bucket))
	for _, sink := range bucket {
		sinks = append(sinks, sink)
	}
	return sinks
}

// TotalConnections is a gauge for the telemetry reporter.
func (r *Registry) TotalConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, bucket := range r.byUser {
		total += len(bucket)
	}
	return total
}

// notify runs under r.mu so transitions are observed in mutation order.
func (r *Registry) notify(user domain.UserID, online bool, at time.Time) {
	for _, l := range r.listeners {
		l(user, online, at)
	}
}

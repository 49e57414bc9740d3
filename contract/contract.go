//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"

	"chat-core/domain"
	"chat-core/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself.
// Supervision (restart on panic, shutdown on cancel) lives in the supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding manual naming in the interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink pushes one server event towards a single connection.
// Consume must not block on I/O; a full outbound buffer is an error and the
// event is dropped for that connection only.
type EventSink interface {
	Consume(ctx context.Context, e event.ServerEvent) error
}

// Storage is the persistence collaborator. Conversations and messages are
// owned there; the core only keeps the live subscription view in memory.
type Storage interface {
	CreateMessage(ctx context.Context, conversation domain.ConversationID, sender domain.UserID, payload domain.MessagePayload) (domain.Message, error)
	IsParticipant(ctx context.Context, conversation domain.ConversationID, user domain.UserID) (bool, error)
	ListParticipants(ctx context.Context, conversation domain.ConversationID) ([]domain.UserID, error)
	FetchHistory(ctx context.Context, conversation domain.ConversationID, cursor *string, limit int) ([]domain.Message, *string, error)
	MarkRead(ctx context.Context, conversation domain.ConversationID, reader domain.UserID, message uuid.UUID) error
}

// Notifier is the push/email collaborator. Best effort, fire and forget,
// never awaited for correctness.
type Notifier interface {
	Notify(user domain.UserID, preview string)
}

// TransitionListener observes online/offline flips derived from the registry.
// Listeners run on the mutating goroutine and must not call back into the
// registry.
type TransitionListener func(user domain.UserID, online bool, at time.Time)

type IRegistry interface {
	Register(conn *domain.Connection, sink EventSink) (becameOnline bool)
	Unregister(conn *domain.Connection) (becameOffline bool, lastSeen time.Time)
	ConnectionCount(user domain.UserID) int
	OnTransition(l TransitionListener)
}

type IRouter interface {
	Join(ctx context.Context, conn *domain.Connection, sink EventSink, conversation domain.ConversationID) error
	Leave(conn *domain.Connection, conversation domain.ConversationID)
	LeaveAll(conn *domain.Connection)
	RouteToRoom(ctx context.Context, conversation domain.ConversationID, e event.ServerEvent)
	RouteToRoomExcept(ctx context.Context, conversation domain.ConversationID, except domain.UserID, e event.ServerEvent)
	SubscribedUsers(conversation domain.ConversationID) map[domain.UserID]struct{}
	SharingRoomWith(user domain.UserID) []EventSink
}

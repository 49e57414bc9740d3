package repositories

import (
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Store combines the message and conversation repositories into the single
// storage collaborator the core depends on.
type Store struct {
	MessageRepository
	ConversationRepository
}

func NewStore(db *badger.DB, log *slog.Logger) Store {
	return Store{
		MessageRepository:      NewMessageRepository(db, log),
		ConversationRepository: NewConversationRepository(db, log),
	}
}

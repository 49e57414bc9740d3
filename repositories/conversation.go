package repositories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/samber/lo"

	"chat-core/domain"
)

// ConversationRepository stores the participant set of each conversation.
// The messaging core treats this as the authoritative membership view; the
// CRUD side of the platform writes it when conversations are created.
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

func conversationKey(conversation domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("conv:%s", conversation))
}

// SaveConversation writes the full participant set, replacing any previous one.
func (c ConversationRepository) SaveConversation(ctx context.Context, conversation domain.ConversationID, participants []domain.UserID) error {
	ids := lo.Map(participants, func(u domain.UserID, _ int) string { return string(u) })
	bytes, err := cbor.Marshal(lo.Uniq(ids))
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(conversationKey(conversation), bytes)
	})
}

func (c ConversationRepository) ListParticipants(ctx context.Context, conversation domain.ConversationID) ([]domain.UserID, error) {
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conversationKey(conversation))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &ids)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("participants of %s: %w", conversation, err)
	}
	return lo.Map(ids, func(id string, _ int) domain.UserID { return domain.UserID(id) }), nil
}

func (c ConversationRepository) IsParticipant(ctx context.Context, conversation domain.ConversationID, user domain.UserID) (bool, error) {
	participants, err := c.ListParticipants(ctx, conversation)
	if err != nil {
		return false, err
	}
	return lo.Contains(participants, user), nil
}

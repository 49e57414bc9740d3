package repositories

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-core/domain"
)

// MessageRepository persists messages in BadgerDB.
// The key is "msg:{conversation_hex}:{seq_padded}:{uuid}":
//  1. the conversation segment is hex encoded, so the ':' separator can
//     never occur inside it and a prefix scan stays scoped to exactly one
//     conversation, whatever characters the id contains;
//  2. the 19-digit zero-padded sequence keeps keys in per-conversation
//     order under lexicographical iteration;
//  3. the uuid disambiguates nothing at read time but makes keys unique and
//     self-describing when inspecting the store.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

type storedMessage struct {
	ID           string `cbor:"1,keyasint"`
	Conversation string `cbor:"2,keyasint"`
	Sender       string `cbor:"3,keyasint"`
	Content      string `cbor:"4,keyasint"`
	Type         string `cbor:"5,keyasint"`
	AttURL       string `cbor:"6,keyasint,omitempty"`
	AttName      string `cbor:"7,keyasint,omitempty"`
	AttMime      string `cbor:"8,keyasint,omitempty"`
	AttSize      int64  `cbor:"9,keyasint,omitempty"`
	At           int64  `cbor:"10,keyasint"`
	Seq          uint64 `cbor:"11,keyasint"`
}

type storedReadMark struct {
	MessageID string `cbor:"1,keyasint"`
	At        int64  `cbor:"2,keyasint"`
}

func messageKey(conversation domain.ConversationID, seq uint64, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%x:%019d:%s", conversation, seq, id))
}

func messagePrefix(conversation domain.ConversationID) string {
	return fmt.Sprintf("msg:%x:", conversation)
}

func seqKey(conversation domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("seq:%x", conversation))
}

func readKey(conversation domain.ConversationID, reader domain.UserID) []byte {
	return []byte(fmt.Sprintf("read:%x:%x", conversation, reader))
}

// CreateMessage assigns the canonical id, the server timestamp and the next
// per-conversation sequence number, then writes the message in one
// transaction with the sequence bump.
func (m MessageRepository) CreateMessage(ctx context.Context, conversation domain.ConversationID, sender domain.UserID, payload domain.MessagePayload) (domain.Message, error) {
	msg := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation,
		SenderID:       sender,
		Content:        payload.Content,
		Type:           payload.Type,
		Attachment:     payload.Attachment,
		CreatedAt:      time.Now().UTC(),
	}
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}

	err := m.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, conversation)
		if err != nil {
			return err
		}
		msg.Seq = seq

		bytes, err := cbor.Marshal(fromMessage(msg))
		if err != nil {
			return err
		}
		return txn.Set(messageKey(conversation, seq, msg.ID), bytes)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("store message for %s: %w", conversation, err)
	}
	return msg, nil
}

func nextSeq(txn *badger.Txn, conversation domain.ConversationID) (uint64, error) {
	key := seqKey(conversation)
	var seq uint64
	item, err := txn.Get(key)
	switch err {
	case nil:
		if err := item.Value(func(val []byte) error {
			parsed, parseErr := strconv.ParseUint(string(val), 10, 64)
			seq = parsed
			return parseErr
		}); err != nil {
			return 0, err
		}
	case badger.ErrKeyNotFound:
		// first message of the conversation
	default:
		return 0, err
	}
	seq++
	return seq, txn.Set(key, []byte(strconv.FormatUint(seq, 10)))
}

// FetchHistory returns up to limit messages, newest first, using a reverse
// prefix scan. The returned cursor resumes strictly after the last returned
// key; nil means start from the newest message.
func (m MessageRepository) FetchHistory(ctx context.Context, conversation domain.ConversationID, cursor *string, limit int) ([]domain.Message, *string, error) {
	var stored []storedMessage
	var lastKey string

	prefixStr := messagePrefix(conversation)
	prefix := []byte(prefixStr)

	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// seek past the largest possible sequence, then walk backwards
			seekKey = append([]byte(prefixStr), []byte("9999999999999999999")...)
		} else {
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}
		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(stored) == limit {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			if err := item.Value(func(val []byte) error {
				var sm storedMessage
				if err := cbor.Unmarshal(val, &sm); err != nil {
					return err
				}
				stored = append(stored, sm)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("history scan for %s: %w", conversation, err)
	}
	if len(stored) == 0 {
		return nil, nil, nil
	}

	messages, err := toMessages(stored)
	if err != nil {
		return nil, nil, err
	}
	return messages, lo.ToPtr(lastKey), nil
}

// MarkRead records the reader's high-water mark for the conversation.
// Read state only moves forward from the client's point of view, but the
// store keeps whatever the client last claimed.
func (m MessageRepository) MarkRead(ctx context.Context, conversation domain.ConversationID, reader domain.UserID, message uuid.UUID) error {
	bytes, err := cbor.Marshal(storedReadMark{
		MessageID: message.String(),
		At:        time.Now().UTC().UnixNano(),
	})
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(readKey(conversation, reader), bytes)
	})
}

func fromMessage(msg domain.Message) storedMessage {
	sm := storedMessage{
		ID:           msg.ID.String(),
		Conversation: string(msg.ConversationID),
		Sender:       string(msg.SenderID),
		Content:      msg.Content,
		Type:         string(msg.Type),
		At:           msg.CreatedAt.UnixNano(),
		Seq:          msg.Seq,
	}
	if msg.Attachment != nil {
		sm.AttURL = msg.Attachment.URL
		sm.AttName = msg.Attachment.Name
		sm.AttMime = msg.Attachment.ContentType
		sm.AttSize = msg.Attachment.SizeBytes
	}
	return sm
}

func toMessages(stored []storedMessage) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(stored))
	for _, sm := range stored {
		parsedID, err := uuid.Parse(sm.ID)
		if err != nil {
			return nil, err
		}
		msg := domain.Message{
			ID:             parsedID,
			ConversationID: domain.ConversationID(sm.Conversation),
			SenderID:       domain.UserID(sm.Sender),
			Content:        sm.Content,
			Type:           domain.MessageType(sm.Type),
			CreatedAt:      time.Unix(0, sm.At).UTC(),
			Seq:            sm.Seq,
		}
		if sm.AttURL != "" {
			msg.Attachment = &domain.Attachment{
				URL:         sm.AttURL,
				Name:        sm.AttName,
				ContentType: sm.AttMime,
				SizeBytes:   sm.AttSize,
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ParseKey splits a message key back into its parts, for store inspection
// tooling only. The conversation segment is hex decoded back to its raw id.
func ParseKey(key string) (conversation string, seq uint64, id string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "msg" {
		return "", 0, "", false
	}
	decoded, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", 0, "", false
	}
	seq, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	return string(decoded), seq, parts[3], true
}

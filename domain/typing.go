package domain

import "time"

// TypingKey identifies one ephemeral "is typing" mark.
type TypingKey struct {
	Conversation ConversationID
	User         UserID
}

// TypingMark holds the expiry of a typing indicator. A mark past its expiry
// is treated as stopped even when the client never sent an explicit stop.
type TypingMark struct {
	Key      TypingKey
	ExpireAt time.Time
}

func (m TypingMark) Expired(now time.Time) bool {
	return !m.ExpireAt.After(now)
}

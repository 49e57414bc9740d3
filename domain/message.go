// Package domain contains core concepts of the messaging core.
// This file defines Message entities and related rules.
// Messages are immutable once persisted; only read-state evolves later.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeAttachment MessageType = "attachment"
)

// Attachment is a reference to a file stored by the attachment collaborator.
// The core never touches the bytes, only the reference.
type Attachment struct {
	URL         string
	Name        string
	ContentType string
	SizeBytes   int64
}

// MessagePayload is the client-supplied part of a message, before the server
// assigns identity, timestamp and sequence.
type MessagePayload struct {
	Content    string
	Type       MessageType
	Attachment *Attachment
}

// Message represents an immutable chat event, created once by the delivery
// pipeline after a successful persistence write.
type Message struct {
	ID             uuid.UUID
	ConversationID ConversationID
	SenderID       UserID
	Content        string
	Type           MessageType
	Attachment     *Attachment
	CreatedAt      time.Time
	// Seq is the per-conversation sequence number assigned at persistence
	// time. Subscribers observe messages in Seq order within a conversation.
	Seq uint64
}

// Preview returns a short excerpt used by offline notifications.
func (m Message) Preview(maxRunes int) string {
	if m.Type == MessageTypeAttachment && m.Content == "" && m.Attachment != nil {
		return m.Attachment.Name
	}
	runes := []rune(m.Content)
	if len(runes) <= maxRunes {
		return m.Content
	}
	return string(runes[:maxRunes]) + "…"
}

// Ack is returned to the sender once a message has been persisted and routed.
type Ack struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

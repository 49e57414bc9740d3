// Package event defines the server-side events pushed to connected clients.
package event

import (
	"time"

	"github.com/google/uuid"

	"chat-core/domain"
)

type Kind string

const (
	KindMessageReceived Kind = "message_received"
	KindTypingState     Kind = "typing_state"
	KindPresenceChanged Kind = "presence_changed"
	KindDeliveryError   Kind = "delivery_error"
	KindMessageRead     Kind = "message_read"
	KindMessageAck      Kind = "message_ack"
)

type ServerEvent interface {
	Kind() Kind
}

type MessageReceived struct {
	Message domain.Message
}

func (e MessageReceived) Kind() Kind { return KindMessageReceived }

type TypingState struct {
	Conversation domain.ConversationID
	User         domain.UserID
	IsTyping     bool
}

func (e TypingState) Kind() Kind { return KindTypingState }

type PresenceChanged struct {
	User     domain.UserID
	IsOnline bool
	At       time.Time
}

func (e PresenceChanged) Kind() Kind { return KindPresenceChanged }

type DeliveryError struct {
	Conversation domain.ConversationID
	Reason       string
}

func (e DeliveryError) Kind() Kind { return KindDeliveryError }

type MessageRead struct {
	Conversation domain.ConversationID
	Reader       domain.UserID
	MessageID    uuid.UUID
	At           time.Time
}

func (e MessageRead) Kind() Kind { return KindMessageRead }

// MessageAck is pushed only to the sending connection after a successful
// submit, echoing the canonical id and server timestamp.
type MessageAck struct {
	Conversation domain.ConversationID
	MessageID    uuid.UUID
	CreatedAt    time.Time
}

func (e MessageAck) Kind() Kind { return KindMessageAck }

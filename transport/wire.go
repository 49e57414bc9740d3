// Package transport exposes the messaging core over websocket. Every inbound
// frame is decoded into one typed request and routed through the pipeline,
// registry, router or typing coordinator; there are no ad hoc callbacks.
package transport

import (
	"time"

	"github.com/google/uuid"

	"chat-core/domain"
	"chat-core/domain/event"
)

// Client -> server frame types.
const (
	FrameJoinRoom    = "join_room"
	FrameLeaveRoom   = "leave_room"
	FrameSendMessage = "send_message"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
	FrameMarkRead    = "mark_read"
)

// Server -> client frame types.
const (
	FrameMessageReceived  = "message_received"
	FrameTypingState      = "typing_state"
	FramePresenceChanged  = "presence_changed"
	FrameDeliveryError    = "delivery_error"
	FrameMessageRead      = "message_read"
	FrameMessageAck       = "message_ack"
	FramePresenceSnapshot = "presence_snapshot"
)

type AttachmentRef struct {
	URL         string `json:"url" validate:"required,url"`
	Name        string `json:"name"`
	ContentType string `json:"contentType" validate:"required"`
	SizeBytes   int64  `json:"sizeBytes" validate:"gte=0"`
}

// ClientFrame is the single envelope for every client -> server event.
type ClientFrame struct {
	Type           string         `json:"type" validate:"required,oneof=join_room leave_room send_message typing_start typing_stop mark_read"`
	ConversationID string         `json:"conversationId" validate:"required"`
	Content        string         `json:"content,omitempty"`
	MessageType    string         `json:"messageType,omitempty" validate:"omitempty,oneof=text attachment"`
	Attachment     *AttachmentRef `json:"attachment,omitempty"`
	MessageID      string         `json:"messageId,omitempty"`
}

func (f ClientFrame) payload() domain.MessagePayload {
	payload := domain.MessagePayload{
		Content: f.Content,
		Type:    domain.MessageType(f.MessageType),
	}
	if f.Attachment != nil {
		payload.Attachment = &domain.Attachment{
			URL:         f.Attachment.URL,
			Name:        f.Attachment.Name,
			ContentType: f.Attachment.ContentType,
			SizeBytes:   f.Attachment.SizeBytes,
		}
	}
	return payload
}

type WireMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	Attachment     *AttachmentRef `json:"attachment,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	Seq            uint64         `json:"seq"`
}

type WirePresence struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ServerFrame is the single envelope for every server -> client event.
type ServerFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId,omitempty"`
	Message        *WireMessage   `json:"message,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	IsTyping       *bool          `json:"isTyping,omitempty"`
	IsOnline       *bool          `json:"isOnline,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	MessageID      string         `json:"messageId,omitempty"`
	CreatedAt      *time.Time     `json:"createdAt,omitempty"`
	Presence       []WirePresence `json:"presence,omitempty"`
}

func toWireMessage(msg domain.Message) *WireMessage {
	wire := &WireMessage{
		ID:             msg.ID.String(),
		ConversationID: string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		Content:        msg.Content,
		Type:           string(msg.Type),
		CreatedAt:      msg.CreatedAt,
		Seq:            msg.Seq,
	}
	if msg.Attachment != nil {
		wire.Attachment = &AttachmentRef{
			URL:         msg.Attachment.URL,
			Name:        msg.Attachment.Name,
			ContentType: msg.Attachment.ContentType,
			SizeBytes:   msg.Attachment.SizeBytes,
		}
	}
	return wire
}

// FromWireMessage decodes a pushed message back into the domain type.
// Used by the reconciling client.
func FromWireMessage(wire WireMessage) (domain.Message, error) {
	msg := domain.Message{
		ConversationID: domain.ConversationID(wire.ConversationID),
		SenderID:       domain.UserID(wire.SenderID),
		Content:        wire.Content,
		Type:           domain.MessageType(wire.Type),
		CreatedAt:      wire.CreatedAt,
		Seq:            wire.Seq,
	}
	parsed, err := uuid.Parse(wire.ID)
	if err != nil {
		return domain.Message{}, err
	}
	msg.ID = parsed
	if wire.Attachment != nil {
		msg.Attachment = &domain.Attachment{
			URL:         wire.Attachment.URL,
			Name:        wire.Attachment.Name,
			ContentType: wire.Attachment.ContentType,
			SizeBytes:   wire.Attachment.SizeBytes,
		}
	}
	return msg, nil
}

// ToFrame converts a server event to its wire envelope.
func ToFrame(e event.ServerEvent) ServerFrame {
	switch evt := e.(type) {
	case rawFrame:
		return evt.frame
	case event.MessageReceived:
		return ServerFrame{
			Type:           FrameMessageReceived,
			ConversationID: string(evt.Message.ConversationID),
			Message:        toWireMessage(evt.Message),
		}
	case event.TypingState:
		isTyping := evt.IsTyping
		return ServerFrame{
			Type:           FrameTypingState,
			ConversationID: string(evt.Conversation),
			UserID:         string(evt.User),
			IsTyping:       &isTyping,
		}
	case event.PresenceChanged:
		isOnline := evt.IsOnline
		at := evt.At
		return ServerFrame{
			Type:      FramePresenceChanged,
			UserID:    string(evt.User),
			IsOnline:  &isOnline,
			CreatedAt: &at,
		}
	case event.DeliveryError:
		return ServerFrame{
			Type:           FrameDeliveryError,
			ConversationID: string(evt.Conversation),
			Reason:         evt.Reason,
		}
	case event.MessageRead:
		at := evt.At
		return ServerFrame{
			Type:           FrameMessageRead,
			ConversationID: string(evt.Conversation),
			UserID:         string(evt.Reader),
			MessageID:      evt.MessageID.String(),
			CreatedAt:      &at,
		}
	case event.MessageAck:
		at := evt.CreatedAt
		return ServerFrame{
			Type:           FrameMessageAck,
			ConversationID: string(evt.Conversation),
			MessageID:      evt.MessageID.String(),
			CreatedAt:      &at,
		}
	default:
		return ServerFrame{Type: string(e.Kind())}
	}
}

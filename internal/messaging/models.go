// internal/messaging/models.go

package messaging

import (
	"strings"
	"time"
)

// MessageType classifies the payload carried by a message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeQuote       MessageType = "quote"
	TypeOrder       MessageType = "order"
	TypeAudio       MessageType = "audio"
	TypeVideo       MessageType = "video"
	TypeDocument    MessageType = "document"
	TypeReservation MessageType = "reservation"
	TypeSystem      MessageType = "system"
	TypeAction      MessageType = "action"
	TypeLocation    MessageType = "location"
	TypeImage       MessageType = "image"
	TypeFile        MessageType = "file"
)

// ParseMessageType maps a raw backend value to a known type.
// Unrecognized values fall back to text instead of passing through.
func ParseMessageType(raw string) MessageType {
	switch MessageType(raw) {
	case TypeText, TypeQuote, TypeOrder, TypeAudio, TypeVideo, TypeDocument,
		TypeReservation, TypeSystem, TypeAction, TypeLocation, TypeImage, TypeFile:
		return MessageType(raw)
	default:
		return TypeText
	}
}

// MessageStatus is the delivery state of a message. Transitions are
// monotonic: sent -> delivered -> read, never backwards.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// ParseMessageStatus maps a raw backend value to a known status.
// Unrecognized values fall back to sent.
func ParseMessageStatus(raw string) MessageStatus {
	switch MessageStatus(raw) {
	case StatusSent, StatusDelivered, StatusRead:
		return MessageStatus(raw)
	default:
		return StatusSent
	}
}

// tempIDPrefix marks locally generated optimistic message ids.
const tempIDPrefix = "temp-"

// SenderProfile is the denormalized profile summary attached to messages.
type SenderProfile struct {
	UserID      string `json:"user_id" db:"user_id"`
	DisplayName string `json:"display_name" db:"display_name"`
	AvatarURL   string `json:"avatar_url" db:"avatar_url"`
}

// Message represents a chat message
type Message struct {
	ID             string        `json:"id" db:"id"`
	ConversationID string        `json:"conversation_id" db:"conversation_id"`
	SenderID       string        `json:"sender_id" db:"sender_id"`
	Content        string        `json:"content" db:"content"`
	MessageType    MessageType   `json:"message_type" db:"message_type"`
	AttachmentURL  *string       `json:"attachment_url,omitempty" db:"attachment_url"`
	ReplyToID      *string       `json:"reply_to_id,omitempty" db:"reply_to_id"`
	Status         MessageStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`

	// Computed fields
	Sender *SenderProfile `json:"sender,omitempty" db:"-"`
}

// IsTemp reports whether the message is an optimistic placeholder
// awaiting server confirmation.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, tempIDPrefix)
}

// Conversation represents a chat conversation
type Conversation struct {
	ID                 string     `json:"id" db:"id"`
	Title              string     `json:"title" db:"title"`
	BusinessID         *string    `json:"business_id,omitempty" db:"business_id"`
	LastMessagePreview *string    `json:"last_message_preview,omitempty" db:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	UnreadCount        int        `json:"unread_count" db:"unread_count"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`

	// Computed fields
	LastMessage *Message `json:"last_message,omitempty" db:"-"`
}

// Request DTOs
type SendMessageRequest struct {
	ConversationID string  `json:"conversation_id" validate:"required"`
	SenderID       string  `json:"sender_id" validate:"required"`
	Content        string  `json:"content" validate:"required_without=AttachmentURL,max=4000"`
	MessageType    string  `json:"message_type" validate:"required,oneof=text quote order audio video document reservation system action location image file"`
	AttachmentURL  string  `json:"attachment_url" validate:"omitempty,url"`
	ReplyToID      *string `json:"reply_to_id,omitempty"`

	// TempID links the send to an outstanding optimistic message so the
	// canonical row can replace it deterministically.
	TempID string `json:"temp_id,omitempty"`
}

type CreateConversationRequest struct {
	Title      string   `json:"title" validate:"required,max=200"`
	BusinessID string   `json:"business_id" validate:"omitempty"`
	MemberIDs  []string `json:"member_ids" validate:"required,min=1"`
}

// internal/messaging/repository.go

package messaging

import (
	"context"
	"time"
)

// Repository is the persistence/query collaborator. The backing store is a
// remote managed table store; only the row contract below is assumed.
type Repository interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationForUser(ctx context.Context, id, userID string) (*Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]Conversation, error)
	TouchConversation(ctx context.Context, id, preview string, at time.Time) error

	// Members
	ListMemberIDs(ctx context.Context, conversationID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error

	// Messages
	InsertMessage(ctx context.Context, m *Message) error
	ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	UpdateMessageStatus(ctx context.Context, conversationID, messageID string, status MessageStatus) (bool, error)

	// Profiles
	GetProfiles(ctx context.Context, userIDs []string) (map[string]SenderProfile, error)
	GetUserEmails(ctx context.Context, userIDs []string) (map[string]string, error)
}

// internal/messaging/postgres.go

package messaging

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// CreateConversation creates a conversation and its member rows in one
// transaction.
func (r *postgresRepository) CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO conversations (id, title, business_id, created_at)
        VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, query, conv.ID, conv.Title, conv.BusinessID, conv.CreatedAt); err != nil {
		return err
	}

	memberQuery := `
        INSERT INTO conversation_members (conversation_id, user_id, unread_count)
        VALUES ($1, $2, 0)
        ON CONFLICT (conversation_id, user_id) DO NOTHING`
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, memberQuery, conv.ID, userID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *postgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
        SELECT id, title, business_id, last_message_preview, last_message_at, created_at
        FROM conversations
        WHERE id = $1`

	var conv Conversation
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// GetConversationForUser loads a conversation joined with the caller's
// unread count.
func (r *postgresRepository) GetConversationForUser(ctx context.Context, id, userID string) (*Conversation, error) {
	query := `
        SELECT c.id, c.title, c.business_id, c.last_message_preview,
               c.last_message_at, c.created_at, m.unread_count
        FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id
        WHERE c.id = $1 AND m.user_id = $2`

	var conv Conversation
	if err := r.db.GetContext(ctx, &conv, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (r *postgresRepository) ListUserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	query := `
        SELECT c.id, c.title, c.business_id, c.last_message_preview,
               c.last_message_at, c.created_at, m.unread_count
        FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id
        WHERE m.user_id = $1
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	conversations := []Conversation{}
	if err := r.db.SelectContext(ctx, &conversations, query, userID); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *postgresRepository) TouchConversation(ctx context.Context, id, preview string, at time.Time) error {
	query := `
        UPDATE conversations
        SET last_message_preview = $2, last_message_at = $3
        WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, preview, at)
	return err
}

func (r *postgresRepository) ListMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	query := `
        SELECT user_id FROM conversation_members
        WHERE conversation_id = $1`

	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, conversationID); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *postgresRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
        SELECT EXISTS(
            SELECT 1 FROM conversation_members
            WHERE conversation_id = $1 AND user_id = $2
        )`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists)
	return exists, err
}

func (r *postgresRepository) IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error {
	query := `
        UPDATE conversation_members
        SET unread_count = unread_count + 1
        WHERE conversation_id = $1 AND user_id <> $2`

	_, err := r.db.ExecContext(ctx, query, conversationID, exceptUserID)
	return err
}

func (r *postgresRepository) ResetUnread(ctx context.Context, conversationID, userID string) error {
	query := `
        UPDATE conversation_members
        SET unread_count = 0
        WHERE conversation_id = $1 AND user_id = $2`

	_, err := r.db.ExecContext(ctx, query, conversationID, userID)
	return err
}

func (r *postgresRepository) InsertMessage(ctx context.Context, m *Message) error {
	query := `
        INSERT INTO messages (
            id, conversation_id, sender_id, content, message_type,
            attachment_url, reply_to_id, status, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(
		ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.MessageType,
		m.AttachmentURL, m.ReplyToID, m.Status, m.CreatedAt,
	)
	return err
}

// ListConversationMessages returns one page in chronological ascending
// order, matching the store's append ordering.
func (r *postgresRepository) ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	query := `
        SELECT id, conversation_id, sender_id, content, message_type,
               attachment_url, reply_to_id, status, created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryxContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var raw struct {
			ID             string    `db:"id"`
			ConversationID string    `db:"conversation_id"`
			SenderID       string    `db:"sender_id"`
			Content        string    `db:"content"`
			MessageType    string    `db:"message_type"`
			AttachmentURL  *string   `db:"attachment_url"`
			ReplyToID      *string   `db:"reply_to_id"`
			Status         string    `db:"status"`
			CreatedAt      time.Time `db:"created_at"`
		}
		if err := rows.StructScan(&raw); err != nil {
			return nil, err
		}
		messages = append(messages, Message{
			ID:             raw.ID,
			ConversationID: raw.ConversationID,
			SenderID:       raw.SenderID,
			Content:        raw.Content,
			MessageType:    ParseMessageType(raw.MessageType),
			AttachmentURL:  raw.AttachmentURL,
			ReplyToID:      raw.ReplyToID,
			Status:         ParseMessageStatus(raw.Status),
			CreatedAt:      raw.CreatedAt,
		})
	}
	return messages, rows.Err()
}

func (r *postgresRepository) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	query := `
        DELETE FROM messages
        WHERE conversation_id = $1 AND id = $2`

	_, err := r.db.ExecContext(ctx, query, conversationID, messageID)
	return err
}

// UpdateMessageStatus advances a message's status. The rank guard runs in
// SQL so a regression never reaches the row; the bool reports whether the
// transition was applied.
func (r *postgresRepository) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, status MessageStatus) (bool, error) {
	query := `
        UPDATE messages
        SET status = $3
        WHERE conversation_id = $1 AND id = $2
          AND CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END
            < CASE $3 WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END`

	res, err := r.db.ExecContext(ctx, query, conversationID, messageID, string(status))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetProfiles resolves profile summaries for a batch of user ids in a
// single query.
func (r *postgresRepository) GetProfiles(ctx context.Context, userIDs []string) (map[string]SenderProfile, error) {
	if len(userIDs) == 0 {
		return map[string]SenderProfile{}, nil
	}

	query, args, err := sqlx.In(`
        SELECT user_id, display_name, avatar_url
        FROM profiles
        WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	profiles := []SenderProfile{}
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, err
	}

	out := make(map[string]SenderProfile, len(profiles))
	for _, p := range profiles {
		out[p.UserID] = p
	}
	return out, nil
}

func (r *postgresRepository) GetUserEmails(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	query, args, err := sqlx.In(`
        SELECT user_id, email
        FROM profiles
        WHERE user_id IN (?) AND email IS NOT NULL`, userIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var userID, email string
		if err := rows.Scan(&userID, &email); err != nil {
			return nil, err
		}
		out[userID] = email
	}
	return out, rows.Err()
}

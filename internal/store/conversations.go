package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ai-talk/chat-backend/internal/model"
)

// CreateConversation creates a conversation for the user. An empty title
// falls back to the default sentinel.
func (s *Store) CreateConversation(ctx context.Context, userID int64, title string) (*model.Conversation, error) {
	if title == "" {
		title = model.DefaultConversationTitle
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}

	return &model.Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ListConversations returns the user's conversations with message counts,
// most recently updated first.
func (s *Store) ListConversations(ctx context.Context, userID int64, offset, limit int) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.user_id = ?
		GROUP BY c.id
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// GetOwnedConversation returns the conversation only when it exists AND is
// owned by the user, as a single compound predicate. A missing row and a
// row owned by someone else both return ErrNotFound.
func (s *Store) GetOwnedConversation(ctx context.Context, conversationID, userID int64) (*model.Conversation, error) {
	var c model.Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at,
			(SELECT COUNT(*) FROM messages WHERE conversation_id = conversations.id)
		FROM conversations
		WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &c, nil
}

// UpdateConversationTitle renames a conversation owned by the user.
func (s *Store) UpdateConversationTitle(ctx context.Context, userID, conversationID int64, title string) (*model.Conversation, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		title, time.Now().UTC(), conversationID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetOwnedConversation(ctx, conversationID, userID)
}

// DeleteConversation removes a conversation owned by the user. Its
// messages are removed by the cascade rule.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAndMaybeRetitle bumps updated_at and, when isFirstMessage is set,
// replaces the title with the candidate, but only if the title still
// equals the default sentinel. The condition lives inside the UPDATE so
// two concurrent "first messages" cannot both retitle.
func (s *Store) TouchAndMaybeRetitle(ctx context.Context, conversationID int64, candidateTitle string, isFirstMessage bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET updated_at = ?,
		    title = CASE WHEN ? AND title = ? THEN ? ELSE title END
		WHERE id = ?`,
		time.Now().UTC(), isFirstMessage, model.DefaultConversationTitle, candidateTitle, conversationID,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

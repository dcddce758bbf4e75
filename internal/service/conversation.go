package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ai-talk/chat-backend/internal/model"
	"github.com/ai-talk/chat-backend/internal/store"
	"github.com/ai-talk/chat-backend/pkg/logger"
	"github.com/ai-talk/chat-backend/pkg/metrics"
)

// ConversationService handles conversation operations. Every operation
// takes the caller's user id; ownership is enforced at the store level as
// a single compound predicate.
type ConversationService struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st *store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{store: st, logger: log}
}

// Create creates a new conversation owned by the user.
func (s *ConversationService) Create(ctx context.Context, userID int64, title string) (*model.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created", zap.Int64("conversation_id", conv.ID), zap.Int64("user_id", userID))
	return conv, nil
}

// List returns the user's conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID int64, offset, limit int) ([]*model.Conversation, error) {
	return s.store.ListConversations(ctx, userID, offset, limit)
}

// Get returns a conversation if the user owns it.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID int64) (*model.Conversation, error) {
	return s.store.GetOwnedConversation(ctx, conversationID, userID)
}

// UpdateTitle renames a conversation if the user owns it.
func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID int64, title string) (*model.Conversation, error) {
	return s.store.UpdateConversationTitle(ctx, userID, conversationID, title)
}

// Delete removes a conversation and all its messages if the user owns it.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID int64) error {
	if err := s.store.DeleteConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID))
	return nil
}

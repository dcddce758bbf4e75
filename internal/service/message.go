package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ai-talk/chat-backend/internal/llm"
	"github.com/ai-talk/chat-backend/internal/model"
	"github.com/ai-talk/chat-backend/internal/store"
	"github.com/ai-talk/chat-backend/pkg/logger"
	"github.com/ai-talk/chat-backend/pkg/metrics"
)

const (
	// historyFetchLimit bounds how much conversation history is loaded per
	// exchange. The responder applies its own, tighter prompt window.
	historyFetchLimit = 50

	// assistantFallback is persisted when a reply ends up empty.
	assistantFallback = "Sorry, the AI service is temporarily unavailable."
)

// EmitFunc delivers one stream event to the transport. It must flush the
// event before returning; a non-nil error means the consumer is gone and
// no further events should be emitted.
type EmitFunc func(event model.StreamEvent) error

// MessageService coordinates the store and the responder for message
// exchanges, both the blocking and the streaming variant.
type MessageService struct {
	store     *store.Store
	responder *llm.Responder
	logger    *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(st *store.Store, responder *llm.Responder, log *logger.Logger) *MessageService {
	return &MessageService{
		store:     st,
		responder: responder,
		logger:    log,
	}
}

// List returns a page of a conversation's messages after verifying
// ownership.
func (s *MessageService) List(ctx context.Context, userID, conversationID int64, offset, limit int) ([]*model.Message, error) {
	if _, err := s.store.GetOwnedConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, offset, limit)
}

// Send persists the user message, obtains the full assistant reply, and
// persists it. The responder never fails: when the provider is down the
// assistant message carries degraded error text instead, so the user's
// input is never lost. Returns the (user, assistant) message pair.
func (s *MessageService) Send(ctx context.Context, userID, conversationID int64, content string) (*model.Message, *model.Message, error) {
	conv, err := s.store.GetOwnedConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, err
	}

	userMsg, err := s.store.AppendMessage(ctx, conversationID, model.RoleUser, content)
	if err != nil {
		return nil, nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	history := s.fetchHistory(ctx, conversationID)

	reply := s.responder.Respond(ctx, promptContext(history, userMsg.ID), content)
	if reply == "" {
		reply = assistantFallback
	}

	assistantMsg, err := s.store.AppendMessage(ctx, conversationID, model.RoleAssistant, reply)
	if err != nil {
		return nil, nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	s.finishExchange(ctx, conversationID, content, conv.MessageCount == 0)

	return userMsg, assistantMsg, nil
}

// Stream runs the full streaming pipeline for one user message, emitting
// framed events through emit. It never returns an error to the caller:
// every internal failure is contained and reported in-band, and the
// terminal done event is emitted exactly once on every path. The only
// exception is the transport itself failing (client disconnect), in which
// case emission is abandoned; state already persisted stays persisted.
func (s *MessageService) Stream(ctx context.Context, userID, conversationID int64, content string, emit EmitFunc) {
	start := time.Now()

	conv, err := s.store.GetOwnedConversation(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.emitErrorAndDone(emit, "conversation not found")
		} else {
			s.logger.Error("ownership check failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
			s.emitErrorAndDone(emit, "failed to load conversation")
		}
		return
	}

	userMsg, err := s.store.AppendMessage(ctx, conversationID, model.RoleUser, content)
	if err != nil {
		s.logger.Error("persisting user message failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		s.emitErrorAndDone(emit, "failed to save message")
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	// Fetched after the insert, so it includes the user message. The
	// first-message decision does not depend on this fetch succeeding; it
	// comes from the ownership snapshot's pre-insert count.
	history := s.fetchHistory(ctx, conversationID)

	if emit(model.UserEchoEvent(userMsg)) != nil {
		return
	}
	if emit(model.AssistantStartEvent()) != nil {
		return
	}

	var accumulator strings.Builder
	err = s.responder.RespondStream(ctx, promptContext(history, userMsg.ID), content, func(fragment string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		accumulator.WriteString(fragment)
		return emit(model.AssistantChunkEvent(fragment))
	})
	if err != nil {
		// Client gone mid-stream. The user message stays persisted.
		s.logger.Info("stream abandoned", zap.Int64("conversation_id", conversationID), zap.Error(err))
		metrics.RecordLLMStream(s.providerName(), "abandoned", time.Since(start).Seconds())
		return
	}

	reply := accumulator.String()
	if reply == "" {
		reply = assistantFallback
	}

	assistantMsg, err := s.store.AppendMessage(ctx, conversationID, model.RoleAssistant, reply)
	if err != nil {
		// Chunks already sent are not retracted; report and terminate
		// cleanly so the client still gets its end-of-stream signal.
		s.logger.Error("persisting assistant message failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		s.emitErrorAndDone(emit, "failed to save assistant reply")
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	s.finishExchange(ctx, conversationID, content, conv.MessageCount == 0)
	metrics.RecordLLMStream(s.providerName(), "success", time.Since(start).Seconds())

	if emit(model.AssistantCompleteEvent(assistantMsg)) != nil {
		return
	}
	_ = emit(model.DoneEvent())
}

// fetchHistory loads recent history; on failure the exchange proceeds with
// no context rather than losing the user's message.
func (s *MessageService) fetchHistory(ctx context.Context, conversationID int64) []model.Message {
	history, err := s.store.History(ctx, conversationID, historyFetchLimit)
	if err != nil {
		s.logger.Warn("loading history failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return history
}

// finishExchange bumps the conversation timestamp and applies the
// first-message auto-title rule. Best effort: both messages are already
// durable, so a failure here is only logged.
func (s *MessageService) finishExchange(ctx context.Context, conversationID int64, content string, isFirstMessage bool) {
	err := s.store.TouchAndMaybeRetitle(ctx, conversationID, model.DeriveTitle(content), isFirstMessage)
	if err != nil {
		s.logger.Warn("touching conversation failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
}

func (s *MessageService) emitErrorAndDone(emit EmitFunc, msg string) {
	if emit(model.ErrorEvent(msg)) != nil {
		return
	}
	_ = emit(model.DoneEvent())
}

// promptContext strips the just-persisted user message from the fetched
// history; the responder appends the prompt itself, and sending it twice
// would skew the provider context.
func promptContext(history []model.Message, userMsgID int64) []model.Message {
	if n := len(history); n > 0 && history[n-1].ID == userMsgID {
		return history[:n-1]
	}
	return history
}

func (s *MessageService) providerName() string {
	return s.responder.Provider()
}

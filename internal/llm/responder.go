package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ai-talk/chat-backend/internal/model"
	"github.com/ai-talk/chat-backend/pkg/logger"
)

const (
	// historyWindow bounds the prompt: only the most recent messages are
	// sent as context, oldest first.
	historyWindow = 10

	defaultMaxTokens = 4096

	systemPreamble = "You are a helpful AI assistant."
)

// Responder turns conversation history plus a new user message into an
// assistant reply. It never fails: a missing provider credential is a
// valid degraded mode producing a labeled placeholder, and provider errors
// are converted into human-readable reply text.
type Responder struct {
	client Client
	model  string
	logger *logger.Logger
}

// NewResponder creates a responder. A nil client enables degraded mode.
func NewResponder(client Client, modelName string, log *logger.Logger) *Responder {
	return &Responder{
		client: client,
		model:  modelName,
		logger: log,
	}
}

// Configured reports whether a provider client is available.
func (r *Responder) Configured() bool {
	return r.client != nil
}

// Provider returns the underlying provider name, or "none" in degraded
// mode.
func (r *Responder) Provider() string {
	if r.client == nil {
		return "none"
	}
	return r.client.Name()
}

func placeholderReply(content string) string {
	return fmt.Sprintf("This is a simulated reply to %q. Configure a provider API key to enable real AI responses.", content)
}

func providerErrorReply(err error) string {
	return fmt.Sprintf("Sorry, the AI service returned an error: %v", err)
}

// buildMessages assembles the provider request: a fixed system preamble,
// then at most historyWindow recent turns, then the new user message.
func (r *Responder) buildMessages(history []model.Message, content string) []ChatMessage {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	msgs := make([]ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ChatMessage{Role: string(model.RoleSystem), Content: systemPreamble})
	for _, m := range history {
		msgs = append(msgs, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, ChatMessage{Role: string(model.RoleUser), Content: content})
	return msgs
}

// Respond returns the full assistant reply for the given prompt and
// history. The returned text is always usable as message content.
func (r *Responder) Respond(ctx context.Context, history []model.Message, content string) string {
	if r.client == nil {
		return placeholderReply(content)
	}

	resp, err := r.client.Complete(ctx, &CompletionRequest{
		Model:     r.model,
		Messages:  r.buildMessages(history, content),
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		r.logger.Warn("provider completion failed", zap.String("provider", r.client.Name()), zap.Error(err))
		return providerErrorReply(err)
	}
	return resp.Content
}

// RespondStream streams the assistant reply, invoking onFragment for each
// non-empty text fragment in order. Provider failures are contained: the
// sequence then ends with one final fragment describing the error. The
// returned error is non-nil only when onFragment itself failed (the
// consumer is gone), in which case no further fragments are produced.
func (r *Responder) RespondStream(ctx context.Context, history []model.Message, content string, onFragment func(fragment string) error) error {
	if r.client == nil {
		return onFragment(placeholderReply(content))
	}

	var consumerErr error
	_, err := r.client.CompleteStream(ctx, &CompletionRequest{
		Model:     r.model,
		Messages:  r.buildMessages(history, content),
		MaxTokens: defaultMaxTokens,
	}, func(token string, _ int) error {
		if token == "" {
			return nil
		}
		if err := onFragment(token); err != nil {
			consumerErr = err
			return err
		}
		return nil
	})

	if consumerErr != nil {
		return consumerErr
	}
	if err != nil {
		r.logger.Warn("provider stream failed", zap.String("provider", r.client.Name()), zap.Error(err))
		return onFragment(providerErrorReply(err))
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-talk/chat-backend/internal/llm"
	"github.com/ai-talk/chat-backend/internal/model"
	"github.com/ai-talk/chat-backend/internal/store"
	"github.com/ai-talk/chat-backend/pkg/logger"
)

// scriptedClient returns a fixed token sequence, optionally failing after.
type scriptedClient struct {
	tokens []string
	err    error
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: strings.Join(c.tokens, "")}, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	for i, tok := range c.tokens {
		if err := callback(tok, i); err != nil {
			return nil, err
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: strings.Join(c.tokens, "")}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

type fixture struct {
	store   *store.Store
	service *MessageService
	userID  int64
	convID  int64
}

func newFixture(t *testing.T, client llm.Client) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	user, err := st.CreateUser(ctx, "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, user.ID, "")
	require.NoError(t, err)

	responder := llm.NewResponder(client, "test-model", logger.NewNop())
	svc := NewMessageService(st, responder, logger.NewNop())

	return &fixture{store: st, service: svc, userID: user.ID, convID: conv.ID}
}

func collectEvents(events *[]model.StreamEvent) EmitFunc {
	return func(event model.StreamEvent) error {
		*events = append(*events, event)
		return nil
	}
}

func eventTypes(events []model.StreamEvent) []model.EventType {
	types := make([]model.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestSend_PersistsExchange(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"Hello", " there"}})
	ctx := context.Background()

	userMsg, assistantMsg, err := f.service.Send(ctx, f.userID, f.convID, "Hi!")
	require.NoError(t, err)

	assert.Equal(t, model.RoleUser, userMsg.Role)
	assert.Equal(t, "Hi!", userMsg.Content)
	assert.Equal(t, model.RoleAssistant, assistantMsg.Role)
	assert.Equal(t, "Hello there", assistantMsg.Content)
	assert.Greater(t, assistantMsg.ID, userMsg.ID)

	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi!", msgs[0].Content)
	assert.Equal(t, "Hello there", msgs[1].Content)
}

func TestSend_DegradedModeStillPersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, assistantMsg, err := f.service.Send(ctx, f.userID, f.convID, "Hi!")
	require.NoError(t, err)
	assert.Contains(t, assistantMsg.Content, "simulated reply")

	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 20)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSend_NotOwned(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	intruder, err := f.store.CreateUser(ctx, "mallory", "mallory@example.com", "hash")
	require.NoError(t, err)

	_, _, err = f.service.Send(ctx, intruder.ID, f.convID, "Hi!")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Nothing was written.
	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_AutoTitleOnFirstMessage(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"ok"}})
	ctx := context.Background()

	_, _, err := f.service.Send(ctx, f.userID, f.convID, "What is the capital of France?")
	require.NoError(t, err)

	conv, err := f.store.GetOwnedConversation(ctx, f.convID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "What is the capital of France?", conv.Title)

	// A second exchange leaves the title alone.
	_, _, err = f.service.Send(ctx, f.userID, f.convID, "And of Germany?")
	require.NoError(t, err)

	conv, err = f.store.GetOwnedConversation(ctx, f.convID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "What is the capital of France?", conv.Title)
}

func TestSend_AutoTitleSkippedWhenMessagesPreexist(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"ok"}})
	ctx := context.Background()

	// A message that predates the exchange means this is not the first
	// message, even though the conversation still carries the default
	// title.
	_, err := f.store.AppendMessage(ctx, f.convID, model.RoleSystem, "imported note")
	require.NoError(t, err)

	_, _, err = f.service.Send(ctx, f.userID, f.convID, "What is Go?")
	require.NoError(t, err)

	conv, err := f.store.GetOwnedConversation(ctx, f.convID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
}

func TestStream_AutoTitleSkippedWhenMessagesPreexist(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"ok"}})
	ctx := context.Background()

	_, err := f.store.AppendMessage(ctx, f.convID, model.RoleSystem, "imported note")
	require.NoError(t, err)

	var events []model.StreamEvent
	f.service.Stream(ctx, f.userID, f.convID, "What is Go?", collectEvents(&events))

	conv, err := f.store.GetOwnedConversation(ctx, f.convID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
}

func TestSend_AutoTitleTruncatesLongContent(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"ok"}})
	ctx := context.Background()

	long := strings.Repeat("a", 60)
	_, _, err := f.service.Send(ctx, f.userID, f.convID, long)
	require.NoError(t, err)

	conv, err := f.store.GetOwnedConversation(ctx, f.convID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 50)+"...", conv.Title)
}

func TestStream_HappyPath(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"Hel", "lo"}})
	ctx := context.Background()

	var events []model.StreamEvent
	f.service.Stream(ctx, f.userID, f.convID, "Hi!", collectEvents(&events))

	require.Equal(t, []model.EventType{
		model.EventUserMessageEcho,
		model.EventAssistantStart,
		model.EventAssistantChunk,
		model.EventAssistantChunk,
		model.EventAssistantComplete,
		model.EventDone,
	}, eventTypes(events))

	echo := events[0]
	require.NotNil(t, echo.Message)
	assert.Equal(t, model.RoleUser, echo.Message.Role)
	assert.Equal(t, "Hi!", echo.Message.Content)
	assert.NotZero(t, echo.Message.ID)

	assert.Equal(t, "Hel", events[2].Content)
	assert.Equal(t, "lo", events[3].Content)

	complete := events[4]
	require.NotNil(t, complete.Message)
	assert.Equal(t, model.RoleAssistant, complete.Message.Role)
	assert.Equal(t, "Hello", complete.Message.Content)

	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestStream_DegradedMode(t *testing.T) {
	f := newFixture(t, nil)

	var events []model.StreamEvent
	f.service.Stream(context.Background(), f.userID, f.convID, "Hi!", collectEvents(&events))

	require.Equal(t, []model.EventType{
		model.EventUserMessageEcho,
		model.EventAssistantStart,
		model.EventAssistantChunk,
		model.EventAssistantComplete,
		model.EventDone,
	}, eventTypes(events))
	assert.Contains(t, events[2].Content, "simulated reply")
}

func TestStream_ConversationNotFound(t *testing.T) {
	f := newFixture(t, nil)

	var events []model.StreamEvent
	f.service.Stream(context.Background(), f.userID, 99999, "Hi!", collectEvents(&events))

	require.Equal(t, []model.EventType{
		model.EventError,
		model.EventDone,
	}, eventTypes(events))
	assert.Equal(t, "conversation not found", events[0].Error)
}

func TestStream_NotOwnedLooksLikeNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	intruder, err := f.store.CreateUser(ctx, "mallory", "mallory@example.com", "hash")
	require.NoError(t, err)

	var events []model.StreamEvent
	f.service.Stream(ctx, intruder.ID, f.convID, "Hi!", collectEvents(&events))

	require.Equal(t, []model.EventType{
		model.EventError,
		model.EventDone,
	}, eventTypes(events))
	assert.Equal(t, "conversation not found", events[0].Error)
}

func TestStream_ProviderFailureContained(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"partial"}, err: errors.New("upstream reset")})
	ctx := context.Background()

	var events []model.StreamEvent
	f.service.Stream(ctx, f.userID, f.convID, "Hi!", collectEvents(&events))

	// The provider failure arrives as a final chunk, not an error event;
	// the exchange still completes and terminates normally.
	require.Equal(t, []model.EventType{
		model.EventUserMessageEcho,
		model.EventAssistantStart,
		model.EventAssistantChunk,
		model.EventAssistantChunk,
		model.EventAssistantComplete,
		model.EventDone,
	}, eventTypes(events))
	assert.Contains(t, events[3].Content, "upstream reset")

	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "upstream reset")
}

func TestStream_ClientDisconnectAbandonsStream(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"a", "b", "c"}})
	ctx := context.Background()

	gone := errors.New("broken pipe")
	var events []model.StreamEvent
	f.service.Stream(ctx, f.userID, f.convID, "Hi!", func(event model.StreamEvent) error {
		if event.Type == model.EventAssistantChunk {
			return gone
		}
		events = append(events, event)
		return nil
	})

	// No terminal event: the transport is gone.
	require.Equal(t, []model.EventType{
		model.EventUserMessageEcho,
		model.EventAssistantStart,
	}, eventTypes(events))

	// The user message was already durable before streaming began.
	msgs, err := f.store.ListMessages(ctx, f.convID, 0, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestStream_AssistantPersistFailure(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"doomed"}})
	ctx := context.Background()

	// Delete the conversation mid-stream so the assistant insert hits the
	// foreign key and fails.
	var events []model.StreamEvent
	f.service.Stream(ctx, f.userID, f.convID, "Hi!", func(event model.StreamEvent) error {
		events = append(events, event)
		if event.Type == model.EventAssistantStart {
			require.NoError(t, f.store.DeleteConversation(ctx, f.userID, f.convID))
		}
		return nil
	})

	types := eventTypes(events)
	require.NotEmpty(t, types)
	// Chunks already emitted are not retracted; the stream still ends
	// with error followed by exactly one done.
	assert.Equal(t, model.EventDone, types[len(types)-1])
	assert.Equal(t, model.EventError, types[len(types)-2])
	assert.Equal(t, 1, countType(types, model.EventDone))
	assert.Equal(t, "failed to save assistant reply", events[len(events)-2].Error)
}

func TestStream_TitleSetOnFirstExchange(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"ok"}})
	ctx := context.Background()

	var events []model.StreamEvent
	f.service.Stream(ctx, f.userID, f.convID, "Tell me a joke", collectEvents(&events))

	conv, err := f.store.GetOwnedConversation(ctx, f.convID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "Tell me a joke", conv.Title)
}

func TestStream_DoneEmittedExactlyOnce(t *testing.T) {
	cases := map[string]struct {
		client llm.Client
		convID func(f *fixture) int64
	}{
		"success":          {client: &scriptedClient{tokens: []string{"ok"}}, convID: func(f *fixture) int64 { return f.convID }},
		"degraded":         {client: nil, convID: func(f *fixture) int64 { return f.convID }},
		"provider failure": {client: &scriptedClient{err: errors.New("boom")}, convID: func(f *fixture) int64 { return f.convID }},
		"not found":        {client: nil, convID: func(f *fixture) int64 { return 99999 }},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, tc.client)

			var events []model.StreamEvent
			f.service.Stream(context.Background(), f.userID, tc.convID(f), "Hi!", collectEvents(&events))

			types := eventTypes(events)
			assert.Equal(t, 1, countType(types, model.EventDone))
			assert.Equal(t, model.EventDone, types[len(types)-1])
			assert.LessOrEqual(t, countType(types, model.EventAssistantComplete), 1)
		})
	}
}

func TestList_RequiresOwnership(t *testing.T) {
	f := newFixture(t, &scriptedClient{tokens: []string{"ok"}})
	ctx := context.Background()

	_, _, err := f.service.Send(ctx, f.userID, f.convID, "Hi!")
	require.NoError(t, err)

	msgs, err := f.service.List(ctx, f.userID, f.convID, 0, 20)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	intruder, err := f.store.CreateUser(ctx, "mallory", "mallory@example.com", "hash")
	require.NoError(t, err)

	_, err = f.service.List(ctx, intruder.ID, f.convID, 0, 20)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func countType(types []model.EventType, target model.EventType) int {
	n := 0
	for _, t := range types {
		if t == target {
			n++
		}
	}
	return n
}

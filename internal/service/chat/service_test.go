package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	chat "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
)

func TestServiceGetSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chat.Options{Model: "llama3-8b-8192", APIKey: " gsk_abc "})
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "llama3-8b-8192", got.Model)
	assert.Equal(t, "gsk_abc", got.APIKey)
	assert.Equal(t, model.GreetingNew, got.Greeting)
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService()

	_, err := svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestAppendTurnKeepsOrder(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chat.Options{})

	for _, content := range []string{"one", "two", "three"} {
		_, err := svc.AppendTurn(ctx, model.Turn{SessionID: session.ID, Sender: model.SenderUser, Content: content})
		require.NoError(t, err)
	}

	turns, err := svc.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, "three", turns[2].Content)
	assert.NotEmpty(t, turns[0].ID)

	// The returned slice is a copy.
	turns[0].Content = "mutated"
	again, _ := svc.LoadTranscript(ctx, session.ID)
	assert.Equal(t, "one", again[0].Content)
}

func TestAppendTurnValidation(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chat.Options{})

	_, err := svc.AppendTurn(ctx, model.Turn{SessionID: session.ID, Sender: "system", Content: "x"})
	assert.ErrorIs(t, err, chat.ErrInvalidSender)

	_, err = svc.AppendTurn(ctx, model.Turn{SessionID: session.ID, Sender: model.SenderUser, Content: "  "})
	assert.ErrorIs(t, err, chat.ErrEmptyContent)

	_, err = svc.AppendTurn(ctx, model.Turn{SessionID: "missing", Sender: model.SenderUser, Content: "x"})
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestResetClearsTranscript(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chat.Options{Model: "gemma2-9b-it"})
	_, _ = svc.AppendTurn(ctx, model.Turn{SessionID: session.ID, Sender: model.SenderUser, Content: "hi"})

	reset, err := svc.Reset(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GreetingCleared, reset.Greeting)
	assert.Equal(t, "gemma2-9b-it", reset.Model)

	turns, err := svc.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSessionsAreIsolated(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	a, _ := svc.CreateSession(ctx, chat.Options{})
	b, _ := svc.CreateSession(ctx, chat.Options{})

	_, _ = svc.AppendTurn(ctx, model.Turn{SessionID: a.ID, Sender: model.SenderUser, Content: "only a"})

	turnsB, err := svc.LoadTranscript(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, turnsB)

	require.NoError(t, svc.DeleteSession(ctx, a.ID))
	_, err = svc.LoadTranscript(ctx, a.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestBeginTurnRejectsSecondTurn(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chat.Options{})

	ticket, err := svc.BeginTurn(ctx, session.ID)
	require.NoError(t, err)

	_, err = svc.BeginTurn(ctx, session.ID)
	assert.ErrorIs(t, err, chat.ErrTurnInFlight)

	svc.EndTurn(ticket)
	next, err := svc.BeginTurn(ctx, session.ID)
	require.NoError(t, err)
	svc.EndTurn(next)

	_, err = svc.BeginTurn(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestAppendForDiscardsAfterReset(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chat.Options{})

	ticket, err := svc.BeginTurn(ctx, session.ID)
	require.NoError(t, err)
	_, err = svc.AppendFor(ctx, ticket, model.Turn{Sender: model.SenderUser, Content: "hi"})
	require.NoError(t, err)

	_, err = svc.Reset(ctx, session.ID)
	require.NoError(t, err)

	_, err = svc.AppendFor(ctx, ticket, model.Turn{Sender: model.SenderAssistant, Content: "stale"})
	assert.ErrorIs(t, err, chat.ErrTurnDiscarded)

	turns, err := svc.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStaleEndTurnKeepsNewTicket(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chat.Options{})

	old, err := svc.BeginTurn(ctx, session.ID)
	require.NoError(t, err)
	_, err = svc.Reset(ctx, session.ID)
	require.NoError(t, err)

	current, err := svc.BeginTurn(ctx, session.ID)
	require.NoError(t, err)
	assert.Greater(t, current.Generation, old.Generation)

	svc.EndTurn(old)
	_, err = svc.BeginTurn(ctx, session.ID)
	assert.ErrorIs(t, err, chat.ErrTurnInFlight)

	svc.EndTurn(current)
}

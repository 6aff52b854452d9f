package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/internal/service/agent"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai/aitest"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
)

func newSupervisor(t *testing.T, fake *aitest.FakeModel, mode config.RouterMode) (*agent.Supervisor, *chatservice.Service, string) {
	t.Helper()
	ctx := context.Background()
	cfg := config.AIConfig{
		Provider: config.ProviderGroq,
		APIKey:   "gsk_key",
		Model:    "llama3-8b-8192",
		Models:   config.ProviderGroq.DefaultModels(),
	}
	aiSvc, err := ai.NewServiceWithFactory(ctx, cfg, fake.Factory(nil))
	require.NoError(t, err)

	chats := chatservice.NewService()
	sup, err := agent.NewSupervisor(ctx, aiSvc, chats, role.NewMemoryStore(role.Seed()), mode)
	require.NoError(t, err)

	session, err := chats.CreateSession(ctx, chatservice.Options{Model: cfg.Model})
	require.NoError(t, err)
	return sup, chats, session.ID
}

func systemPrompt(messages []*schema.Message) string {
	for _, m := range messages {
		if m.Role == schema.System {
			return m.Content
		}
	}
	return ""
}

func TestHandleDispatchesOnceWithRoleInstruction(t *testing.T) {
	fake := &aitest.FakeModel{Reply: "Here are the findings."}
	sup, chats, id := newSupervisor(t, fake, config.RouterKeyword)
	ctx := context.Background()

	out, err := sup.Handle(ctx, id, "Research context drift in AI agents")
	require.NoError(t, err)
	assert.Equal(t, role.Researcher, out.Decision.Role)
	assert.Equal(t, "Here are the findings.", out.Reply.Text())
	assert.Equal(t, "researcher", out.Turn.Agent)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(systemPrompt(calls[0]), "You are the Researcher agent."))
	assert.Equal(t, "Research context drift in AI agents", calls[0][len(calls[0])-1].Content)

	turns, err := chats.LoadTranscript(ctx, id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, chat.SenderUser, turns[0].Sender)
	assert.Equal(t, chat.SenderAssistant, turns[1].Sender)
}

func TestHandleHistoryIsTwoPerTurn(t *testing.T) {
	fake := &aitest.FakeModel{Reply: "ok"}
	sup, chats, id := newSupervisor(t, fake, config.RouterKeyword)
	ctx := context.Background()

	prompts := []string{"Research X", "Analyze Y", "Write Z", "hello"}
	for _, p := range prompts {
		_, err := sup.Handle(ctx, id, p)
		require.NoError(t, err)
	}

	turns, _ := chats.LoadTranscript(ctx, id)
	assert.Len(t, turns, 2*len(prompts))
	assert.Len(t, fake.Calls(), len(prompts))
}

func TestHandleFailureBecomesTurn(t *testing.T) {
	fake := &aitest.FakeModel{Err: errors.New("status code: 401 invalid api key")}
	sup, chats, id := newSupervisor(t, fake, config.RouterKeyword)
	ctx := context.Background()

	out, err := sup.Handle(ctx, id, "Write a report")
	require.NoError(t, err)
	require.True(t, out.Reply.Failed())
	assert.Equal(t, ai.FailureCredential, out.Reply.Failure.Kind)

	turns, _ := chats.LoadTranscript(ctx, id)
	require.Len(t, turns, 2)
	assert.True(t, turns[1].Failed)
	assert.True(t, strings.HasPrefix(turns[1].Content, "❌ Error:"))

	// The session stays usable.
	fake.Err = nil
	fake.Reply = "recovered"
	out, err = sup.Handle(ctx, id, "Write again")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Reply.Text())
	turns, _ = chats.LoadTranscript(ctx, id)
	assert.Len(t, turns, 4)
}

func TestHandleModelRouting(t *testing.T) {
	fake := &aitest.FakeModel{Respond: func(messages []*schema.Message) (string, error) {
		if strings.HasPrefix(systemPrompt(messages), "You are a supervisor") {
			return "Analyst", nil
		}
		return "comparison table", nil
	}}
	sup, _, id := newSupervisor(t, fake, config.RouterModel)

	out, err := sup.Handle(context.Background(), id, "LangGraph or CrewAI?")
	require.NoError(t, err)
	assert.Equal(t, agent.Decision{Role: role.Analyst, Source: agent.SourceModel}, out.Decision)
	assert.Equal(t, "comparison table", out.Reply.Text())
	assert.Len(t, fake.Calls(), 2)
}

func TestHandleModelRoutingFallsBackToWriter(t *testing.T) {
	fake := &aitest.FakeModel{Respond: func(messages []*schema.Message) (string, error) {
		if strings.HasPrefix(systemPrompt(messages), "You are a supervisor") {
			return "", errors.New("upstream timeout")
		}
		return "draft", nil
	}}
	sup, _, id := newSupervisor(t, fake, config.RouterModel)

	out, err := sup.Handle(context.Background(), id, "Research something")
	require.NoError(t, err)
	assert.Equal(t, agent.Decision{Role: role.Writer, Source: agent.SourceFallback}, out.Decision)
	assert.Equal(t, "draft", out.Reply.Text())
}

func TestHandleRejectsBadCredential(t *testing.T) {
	fake := &aitest.FakeModel{Reply: "x"}
	sup, chats, id := newSupervisor(t, fake, config.RouterKeyword)
	ctx := context.Background()

	_, err := chats.UpdateSession(ctx, id, chatservice.Options{APIKey: "not-a-key"})
	require.NoError(t, err)

	_, err = sup.Handle(ctx, id, "Write")
	assert.ErrorIs(t, err, ai.ErrCredentialMalformed)
	turns, _ := chats.LoadTranscript(ctx, id)
	assert.Empty(t, turns)
}

func TestHandleUnknownSession(t *testing.T) {
	sup, _, _ := newSupervisor(t, &aitest.FakeModel{}, config.RouterKeyword)
	_, err := sup.Handle(context.Background(), "missing", "Write")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestHandleRejectsWhileTurnInFlight(t *testing.T) {
	fake := &aitest.FakeModel{Reply: "done"}
	sup, chats, id := newSupervisor(t, fake, config.RouterKeyword)
	ctx := context.Background()

	ticket, err := chats.BeginTurn(ctx, id)
	require.NoError(t, err)

	_, err = sup.Handle(ctx, id, "Summarize the findings")
	assert.ErrorIs(t, err, chatservice.ErrTurnInFlight)
	assert.Empty(t, fake.Calls())
	turns, _ := chats.LoadTranscript(ctx, id)
	assert.Empty(t, turns)

	chats.EndTurn(ticket)
	_, err = sup.Handle(ctx, id, "Summarize the findings")
	require.NoError(t, err)
	turns, _ = chats.LoadTranscript(ctx, id)
	assert.Len(t, turns, 2)
}

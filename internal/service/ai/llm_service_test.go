package ai_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai/aitest"
)

func groqConfig() config.AIConfig {
	temp := 0.7
	return config.AIConfig{
		Provider:       config.ProviderGroq,
		APIKey:         "gsk_default",
		Model:          "llama3-8b-8192",
		Models:         config.ProviderGroq.DefaultModels(),
		Temperature:    &temp,
		StreamResponse: true,
	}
}

func TestValidateCredential(t *testing.T) {
	assert.ErrorIs(t, ai.ValidateCredential(config.ProviderGroq, ""), ai.ErrCredentialMissing)
	assert.ErrorIs(t, ai.ValidateCredential(config.ProviderGroq, "sk-123"), ai.ErrCredentialMalformed)
	assert.NoError(t, ai.ValidateCredential(config.ProviderGroq, "gsk_123"))
	assert.NoError(t, ai.ValidateCredential(config.ProviderOllama, ""))
}

func TestClassify(t *testing.T) {
	cases := map[string]ai.FailureKind{
		"error, status code: 401, message: Invalid API Key": ai.FailureCredential,
		"status code: 429 rate limit reached":               ai.FailureQuota,
		"model_not_found: llama9":                           ai.FailureModel,
		"dial tcp: i/o timeout":                             ai.FailureTimeout,
		"connection refused":                                ai.FailureNetwork,
	}
	for msg, want := range cases {
		assert.Equal(t, want, ai.Classify(errors.New(msg)).Kind, msg)
	}
	assert.Equal(t, ai.FailureTimeout, ai.Classify(context.DeadlineExceeded).Kind)
	assert.Nil(t, ai.Classify(nil))
}

func TestReplyText(t *testing.T) {
	ok := ai.Succeeded("hello")
	assert.False(t, ok.Failed())
	assert.Equal(t, "hello", ok.Text())

	failed := ai.FailedWith(errors.New("boom"))
	assert.True(t, failed.Failed())
	assert.Equal(t, "❌ Error: boom", failed.Text())
}

func TestChatModelReusesDefault(t *testing.T) {
	fake := &aitest.FakeModel{Reply: "ok"}
	var keys []string
	svc, err := ai.NewServiceWithFactory(context.Background(), groqConfig(), fake.Factory(&keys))
	require.NoError(t, err)
	require.Equal(t, []string{"gsk_default"}, keys)

	_, err = svc.ChatModel(context.Background(), "gsk_default")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	_, err = svc.ChatModel(context.Background(), "gsk_session")
	require.NoError(t, err)
	assert.Equal(t, []string{"gsk_default", "gsk_session"}, keys)

	_, err = svc.ChatModel(context.Background(), "bad")
	assert.ErrorIs(t, err, ai.ErrCredentialMalformed)
}

func TestGeneratePassesModelAndTemperature(t *testing.T) {
	fake := &aitest.FakeModel{Reply: "pong"}
	svc, err := ai.NewServiceWithFactory(context.Background(), groqConfig(), fake.Factory(nil))
	require.NoError(t, err)

	reply := svc.Generate(context.Background(), "gsk_default", "gemma2-9b-it", []*schema.Message{schema.UserMessage("hi")})
	require.False(t, reply.Failed())
	assert.Equal(t, "pong", reply.Text())

	opts := fake.LastOptions()
	require.NotNil(t, opts)
	require.NotNil(t, opts.Model)
	assert.Equal(t, "gemma2-9b-it", *opts.Model)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.7, *opts.Temperature, 1e-6)
}

func TestPingLimitsTokens(t *testing.T) {
	fake := &aitest.FakeModel{Reply: " Yes, working. "}
	svc, err := ai.NewServiceWithFactory(context.Background(), groqConfig(), fake.Factory(nil))
	require.NoError(t, err)

	reply := svc.Ping(context.Background(), "gsk_default", "")
	assert.Equal(t, "Yes, working.", reply.Text())
	require.NotNil(t, fake.LastOptions().MaxTokens)
	assert.Equal(t, 20, *fake.LastOptions().MaxTokens)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Confirm: Groq API working?", calls[0][0].Content)
}

func TestPingFailure(t *testing.T) {
	fake := &aitest.FakeModel{Err: errors.New("status code: 401")}
	svc, err := ai.NewServiceWithFactory(context.Background(), groqConfig(), fake.Factory(nil))
	require.NoError(t, err)

	reply := svc.Ping(context.Background(), "gsk_default", "")
	require.True(t, reply.Failed())
	assert.Equal(t, ai.FailureCredential, reply.Failure.Kind)
}

func TestPingNilResponse(t *testing.T) {
	fake := &aitest.FakeModel{NilReply: true}
	svc, err := ai.NewServiceWithFactory(context.Background(), groqConfig(), fake.Factory(nil))
	require.NoError(t, err)

	reply := svc.Ping(context.Background(), "gsk_default", "")
	require.True(t, reply.Failed())
	assert.Equal(t, "❌ Error: empty response from model", reply.Text())

	reply = svc.Generate(context.Background(), "gsk_default", "", nil)
	assert.True(t, reply.Failed())
}

func TestHistoryMessages(t *testing.T) {
	history := ai.HistoryMessages([]chat.Turn{
		{Sender: chat.SenderUser, Content: "q"},
		{Sender: chat.SenderAssistant, Content: "a"},
	})
	require.Len(t, history, 2)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, schema.Assistant, history[1].Role)
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
)

const pingPrompt = "Confirm: Groq API working?"

var errEmptyResponse = errors.New("empty response from model")

// ModelFactory builds a chat model bound to a credential.
type ModelFactory func(ctx context.Context, apiKey string) (model.BaseChatModel, error)

// Service owns the hosted chat model. The model for the configured
// credential is built once at startup; sessions that bring their own key
// get a model built for that key on demand.
type Service struct {
	cfg        config.AIConfig
	factory    ModelFactory
	defaultKey string
	chatModel  model.BaseChatModel
}

// NewService creates the AI service from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	return NewServiceWithFactory(ctx, cfg, cfg.NewChatModel)
}

// NewServiceWithFactory is NewService with an explicit model constructor.
func NewServiceWithFactory(ctx context.Context, cfg config.AIConfig, factory ModelFactory) (*Service, error) {
	svc := &Service{cfg: cfg, factory: factory, defaultKey: cfg.APIKey}
	if !cfg.Enabled() {
		return svc, nil
	}

	chatModel, err := factory(ctx, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	svc.chatModel = chatModel
	return svc, nil
}

// Config returns the AI configuration.
func (s *Service) Config() config.AIConfig {
	return s.cfg
}

// Provider returns the configured provider.
func (s *Service) Provider() config.Provider {
	return s.cfg.Provider
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Credential returns the key a session should use: its own or the configured one.
func (s *Service) Credential(session chat.Session) string {
	if session.APIKey != "" {
		return session.APIKey
	}
	return s.defaultKey
}

// ChatModel returns a model for the credential.
func (s *Service) ChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	if err := ValidateCredential(s.cfg.Provider, apiKey); err != nil {
		return nil, err
	}
	if s.chatModel != nil && apiKey == s.defaultKey {
		return s.chatModel, nil
	}
	return s.factory(ctx, apiKey)
}

// CallOptions returns the per-request options for the selected model.
func (s *Service) CallOptions(modelName string, extra ...model.Option) []model.Option {
	opts := make([]model.Option, 0, 2+len(extra))
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}
	if s.cfg.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*s.cfg.Temperature)))
	}
	return append(opts, extra...)
}

// Generate sends the messages once and waits for the full reply.
func (s *Service) Generate(ctx context.Context, apiKey, modelName string, messages []*schema.Message) Reply {
	chatModel, err := s.ChatModel(ctx, apiKey)
	if err != nil {
		return FailedWith(err)
	}

	resp, err := chatModel.Generate(ctx, messages, s.CallOptions(modelName)...)
	if err != nil {
		observability.LoggerFromContext(ctx).WithError(err).WithField("model", modelName).Warn("[ai] generate failed")
		return FailedWith(err)
	}
	if resp == nil {
		return FailedWith(errEmptyResponse)
	}
	return Succeeded(resp.Content)
}

// Stream opens an incremental response for the messages.
func (s *Service) Stream(ctx context.Context, apiKey, modelName string, messages []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	chatModel, err := s.ChatModel(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	stream, err := chatModel.Stream(ctx, messages, s.CallOptions(modelName)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return stream, nil
}

// Ping issues the short connection test call.
func (s *Service) Ping(ctx context.Context, apiKey, modelName string) Reply {
	chatModel, err := s.ChatModel(ctx, apiKey)
	if err != nil {
		return FailedWith(err)
	}

	resp, err := chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(pingPrompt)},
		s.CallOptions(modelName, model.WithMaxTokens(20))...)
	if err != nil {
		return FailedWith(err)
	}
	if resp == nil {
		return FailedWith(errEmptyResponse)
	}
	return Succeeded(strings.TrimSpace(resp.Content))
}

// HistoryMessages converts turns into model messages, oldest first.
func HistoryMessages(turns []chat.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

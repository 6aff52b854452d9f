package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
)

// Outcome reports one supervised turn.
type Outcome struct {
	Decision  Decision  `json:"decision"`
	Reply     ai.Reply  `json:"reply"`
	Turn      chat.Turn `json:"turn"`
	ElapsedMS int64     `json:"elapsedMs"`
}

type pipeline struct {
	router     Router
	dispatcher *Dispatcher
}

// Supervisor routes each user turn to one role and records one response turn.
type Supervisor struct {
	ai    *ai.Service
	chats *chatservice.Service
	roles role.Store
	mode  config.RouterMode

	// built once for the configured credential
	shared *pipeline
}

// NewSupervisor builds the supervisor. When the AI service has a default
// model the pipeline for it is compiled here.
func NewSupervisor(ctx context.Context, aiSvc *ai.Service, chats *chatservice.Service, roles role.Store, mode config.RouterMode) (*Supervisor, error) {
	s := &Supervisor{ai: aiSvc, chats: chats, roles: roles, mode: mode}

	key := aiSvc.Config().APIKey
	if aiSvc.Config().Enabled() {
		p, err := s.build(ctx, key)
		if err != nil {
			return nil, err
		}
		s.shared = p
	}
	return s, nil
}

func (s *Supervisor) build(ctx context.Context, apiKey string) (*pipeline, error) {
	chatModel, err := s.ai.ChatModel(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	dispatcher, err := NewDispatcher(ctx, s.roles, chatModel)
	if err != nil {
		return nil, err
	}

	var router Router = KeywordRouter{}
	if s.mode == config.RouterModel {
		router, err = NewModelRouter(ctx, chatModel)
		if err != nil {
			return nil, err
		}
	}
	return &pipeline{router: router, dispatcher: dispatcher}, nil
}

func (s *Supervisor) pipelineFor(ctx context.Context, apiKey string) (*pipeline, error) {
	if s.shared != nil && apiKey == s.ai.Config().APIKey {
		return s.shared, nil
	}
	return s.build(ctx, apiKey)
}

// Handle runs one supervised turn: append the user turn, route, dispatch once,
// append the response. A failed model call still yields one assistant turn.
func (s *Supervisor) Handle(ctx context.Context, sessionID, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, relay.ErrEmptyPrompt
	}

	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	key := s.ai.Credential(session)
	if err := ai.ValidateCredential(s.ai.Provider(), key); err != nil {
		return Outcome{}, err
	}

	p, err := s.pipelineFor(ctx, key)
	if err != nil {
		return Outcome{}, fmt.Errorf("prepare agents: %w", err)
	}

	ticket, err := s.chats.BeginTurn(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	defer s.chats.EndTurn(ticket)

	if _, err := s.chats.AppendFor(ctx, ticket, chat.Turn{Sender: chat.SenderUser, Content: text}); err != nil {
		return Outcome{}, fmt.Errorf("save user turn: %w", err)
	}

	log := observability.LoggerFromContext(ctx).WithField("session_id", sessionID)
	start := time.Now()

	opts := s.ai.CallOptions(session.Model)
	decision := p.router.Route(ctx, text, opts...)
	log.WithField("role", decision.Role).WithField("source", decision.Source).Info("[agent] routed")

	reply := p.dispatcher.Dispatch(ctx, decision.Role, text, opts...)
	if reply.Failed() {
		log.WithField("kind", reply.Failure.Kind).Warn("[agent] dispatch failed")
	}

	turn, err := s.chats.AppendFor(ctx, ticket, chat.Turn{
		Sender:  chat.SenderAssistant,
		Content: reply.Text(),
		Agent:   string(decision.Role),
		Failed:  reply.Failed(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save response turn: %w", err)
	}

	elapsed := time.Since(start)
	log.WithField("elapsed_ms", elapsed.Milliseconds()).Info("[agent] turn complete")

	return Outcome{Decision: decision, Reply: reply, Turn: turn, ElapsedMS: elapsed.Milliseconds()}, nil
}

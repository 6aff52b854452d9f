package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	"github.com/zhouzirui/llm-relay/backend/internal/service/agent"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	"github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
)

// app holds the in-process services a command works against.
type app struct {
	cfg        *config.Config
	ai         *ai.Service
	chats      *chat.Service
	relay      *relay.Relay
	supervisor *agent.Supervisor
}

// loadConfig reads .env and the environment the same way the server does.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	observability.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// newApp builds the services with an optional model factory override.
func newApp(ctx context.Context, cfg *config.Config, factory ai.ModelFactory) (*app, error) {
	if factory == nil {
		factory = cfg.AI.NewChatModel
	}
	aiSvc, err := ai.NewServiceWithFactory(ctx, cfg.AI, factory)
	if err != nil {
		return nil, err
	}

	chats := chat.NewService()
	roles := role.NewMemoryStore(role.WithInstructions(role.Seed(), cfg.Roles))
	supervisor, err := agent.NewSupervisor(ctx, aiSvc, chats, roles, cfg.Router.Mode)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		ai:         aiSvc,
		chats:      chats,
		relay:      relay.New(aiSvc, chats),
		supervisor: supervisor,
	}, nil
}

// session opens a session bound to the model and key flags.
func (a *app) session(ctx context.Context, modelName, apiKey string) (chat.Options, string, error) {
	name, err := a.cfg.AI.ResolveModel(modelName)
	if err != nil {
		return chat.Options{}, "", err
	}
	opts := chat.Options{Model: name, Provider: string(a.ai.Provider()), APIKey: apiKey}
	session, err := a.chats.CreateSession(ctx, opts)
	if err != nil {
		return chat.Options{}, "", err
	}
	return opts, session.ID, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Root().PersistentFlags().GetBool("json")
	return on
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

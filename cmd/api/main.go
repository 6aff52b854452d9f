package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/handler"
	"github.com/zhouzirui/llm-relay/backend/internal/middleware"
	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	"github.com/zhouzirui/llm-relay/backend/internal/service/agent"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	"github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := observability.Logger()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("no .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	observability.Configure(cfg.Log.Level, cfg.Log.Format)

	roleStore := role.NewMemoryStore(role.WithInstructions(role.Seed(), cfg.Roles))
	chatService := chat.NewService()

	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize AI service")
	}
	if cfg.AI.Enabled() {
		log.WithField("provider", cfg.AI.Provider).WithField("model", cfg.AI.Model).Info("AI service initialized")
	} else {
		log.WithField("provider", cfg.AI.Provider).Warn("未配置默认凭证，会话需要自带 API key")
	}

	supervisor, err := agent.NewSupervisor(ctx, aiService, chatService, roleStore, cfg.Router.Mode)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize supervisor")
	}

	router := handler.NewRouter(handler.Services{
		Roles:      roleStore,
		Chats:      chatService,
		AI:         aiService,
		Relay:      relay.New(aiService, chatService),
		Supervisor: supervisor,
		Limiter:    middleware.NewRateLimiter(cfg.Limit.RPS, cfg.Limit.Burst),
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log := observability.Logger()
	log.WithField("addr", addr).Info("LLM relay backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

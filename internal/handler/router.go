package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/llm-relay/backend/internal/handler/agent"
	"github.com/zhouzirui/llm-relay/backend/internal/handler/analysis"
	"github.com/zhouzirui/llm-relay/backend/internal/handler/chat"
	roleHandler "github.com/zhouzirui/llm-relay/backend/internal/handler/role"
	"github.com/zhouzirui/llm-relay/backend/internal/handler/stream"
	"github.com/zhouzirui/llm-relay/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/llm-relay/backend/internal/middleware"
	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	agentService "github.com/zhouzirui/llm-relay/backend/internal/service/agent"
	aiService "github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatService "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

// Services bundles what the router needs.
type Services struct {
	Roles      role.Store
	Chats      *chatService.Service
	AI         *aiService.Service
	Relay      *relay.Relay
	Supervisor *agentService.Supervisor
	Limiter    *middlewarePkg.RateLimiter
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"provider": string(svc.AI.Provider()),
		})
	})

	r.Route("/api", func(api chi.Router) {
		roleHandler.New(svc.Roles).RegisterRoutes(api)
		chat.New(svc.Chats, svc.AI).RegisterRoutes(api)
		analysis.New().RegisterRoutes(api)

		// Routes that spend the outbound model budget.
		api.Group(func(limited chi.Router) {
			if svc.Limiter != nil {
				limited.Use(svc.Limiter.Middleware)
			}
			stream.New(svc.Relay, svc.AI).RegisterRoutes(limited)
			ws.New(svc.Relay, svc.AI, svc.Chats).RegisterRoutes(limited)
			agent.New(svc.Supervisor).RegisterRoutes(limited)
		})
	})

	return r
}

package agent

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llm-relay/backend/internal/handler/httperr"
	agentService "github.com/zhouzirui/llm-relay/backend/internal/service/agent"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

// Handler 多角色调度的HTTP处理器
type Handler struct {
	supervisor *agentService.Supervisor
}

// New 创建调度处理器
func New(supervisor *agentService.Supervisor) *Handler {
	return &Handler{supervisor: supervisor}
}

// RegisterRoutes 注册调度相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/agent/{sessionID}", h.handleDispatch)
	r.Get("/route", h.handleRoute)
}

// handleDispatch 路由一条用户消息并返回角色回复
func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	outcome, err := h.supervisor.Handle(r.Context(), chi.URLParam(r, "sessionID"), payload.Message)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, outcome)
}

// handleRoute 只返回关键字策略的路由结果，不调用模型
func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text query parameter is required")
		return
	}
	utils.RespondJSON(w, http.StatusOK, agentService.KeywordRouter{}.Route(r.Context(), text))
}

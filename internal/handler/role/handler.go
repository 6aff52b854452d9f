package role

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

// Handler 角色配置的HTTP处理器
type Handler struct {
	roles role.Store
}

// New 创建角色处理器
func New(roles role.Store) *Handler {
	return &Handler{
		roles: roles,
	}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/roles", h.handleListRoles)
	r.Get("/roles/{name}", h.handleGetRole)
}

// handleListRoles 按路由优先级列出所有角色
func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.roles.List())
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	name, ok := role.Parse(chi.URLParam(r, "name"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "role not found")
		return
	}
	profile, ok := h.roles.Find(name)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "role not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

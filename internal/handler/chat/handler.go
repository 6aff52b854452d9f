package chat

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llm-relay/backend/internal/handler/httperr"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	aiService "github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatService "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	aiSvc   *aiService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, aiSvc *aiService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		aiSvc:   aiSvc,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/messages", h.handleTranscript)
	r.Post("/session/{sessionID}/reset", h.handleReset)
	r.Delete("/session/{sessionID}", h.handleDelete)
	r.Post("/test", h.handleTestConnection)
}

type sessionPayload struct {
	Model  string `json:"model"`
	APIKey string `json:"apiKey"`
}

// SessionView 是会话的对外表示，不含凭证。
type SessionView struct {
	chat.Session
	Messages []chat.Turn `json:"messages"`
}

// handleListModels 返回允许选择的模型
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	cfg := h.aiSvc.Config()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"provider": cfg.Provider,
		"default":  cfg.Model,
		"models":   cfg.Models,
	})
}

// handleCreateSession 创建会话并绑定模型与凭证
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload sessionPayload
	if r.ContentLength != 0 && !utils.DecodeJSON(w, r, &payload) {
		return
	}

	modelName, err := h.aiSvc.Config().ResolveModel(payload.Model)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	key := strings.TrimSpace(payload.APIKey)
	if key != "" {
		if err := aiService.ValidateCredential(h.aiSvc.Provider(), key); err != nil {
			httperr.Respond(w, err)
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), chatService.Options{
		Model:    modelName,
		Provider: string(h.aiSvc.Provider()),
		APIKey:   key,
	})
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	observability.LoggerFromContext(r.Context()).
		WithField("session_id", session.ID).
		WithField("model", session.Model).
		Info("[chat] session created")
	utils.RespondJSON(w, http.StatusCreated, SessionView{Session: session, Messages: []chat.Turn{}})
}

// handleTranscript 返回会话的全部消息
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	turns, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, SessionView{Session: session, Messages: turns})
}

// handleReset 清空会话消息
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Reset(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, SessionView{Session: session, Messages: []chat.Turn{}})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		httperr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestConnection 发起一次短请求验证凭证与模型
func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var payload sessionPayload
	if r.ContentLength != 0 && !utils.DecodeJSON(w, r, &payload) {
		return
	}

	modelName, err := h.aiSvc.Config().ResolveModel(payload.Model)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	key := strings.TrimSpace(payload.APIKey)
	if key == "" {
		key = h.aiSvc.Config().APIKey
	}

	reply := h.aiSvc.Ping(r.Context(), key, modelName)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":      !reply.Failed(),
		"message": reply.Text(),
		"model":   modelName,
	})
}

// Package httperr maps service errors onto HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/llm-relay/backend/internal/analysis/chainage"
	"github.com/zhouzirui/llm-relay/backend/internal/config"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

// Status 返回错误对应的 HTTP 状态码。
func Status(err error) int {
	switch {
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrCredentialMissing), errors.Is(err, ai.ErrCredentialMalformed):
		return http.StatusUnauthorized
	case errors.Is(err, relay.ErrEmptyPrompt),
		errors.Is(err, chatservice.ErrEmptyContent),
		errors.Is(err, config.ErrModelNotAllowed),
		errors.Is(err, chainage.ErrMissingColumns),
		errors.Is(err, chainage.ErrInvalidRow),
		errors.Is(err, chainage.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, chatservice.ErrTurnInFlight), errors.Is(err, chatservice.ErrTurnDiscarded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Respond 写入错误响应，5xx 时隐藏内部细节。
func Respond(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		utils.RespondError(w, status, "internal error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

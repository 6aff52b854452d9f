package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/llm-relay/backend/internal/observability"
)

// Logger 使用 logrus 输出 chi 的访问日志。
func Logger(next http.Handler) http.Handler {
	formatter := &chimw.DefaultLogFormatter{Logger: observability.Logger(), NoColor: true}
	return chimw.RequestLogger(formatter)(next)
}

package utils

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/llm-relay/backend/internal/observability"
)

// sseAPI keeps map keys sorted so frames are stable.
var sseAPI = sonic.ConfigStd

// SendSSEChunk 发送Server-Sent Events数据块
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := sseAPI.Marshal(payload)
	if err != nil {
		observability.Logger().WithError(err).Warn("failed to marshal sse payload")
		return
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		observability.Logger().WithError(err).Debug("failed to write sse payload")
		return
	}
	flusher.Flush()
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llm-relay/backend/internal/handler/httperr"
	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	aiService "github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

// Handler relays model replies to the browser via Server-Sent Events
type Handler struct {
	relay     *relay.Relay
	streaming bool
}

// New creates a new stream handler
func New(r *relay.Relay, aiSvc *aiService.Service) *Handler {
	return &Handler{
		relay:     r,
		streaming: aiSvc.StreamingEnabled(),
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, chi.URLParam(r, "sessionID"), message); err != nil {
		httperr.Respond(w, err)
	}
}

// HandleStreamRequest relays one user message. Errors returned here happen
// before any SSE frame is written; later failures are sent as error events.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}

	if !h.streaming {
		turn, err := h.relay.Complete(ctx, sessionID, userMessage)
		if err != nil {
			return err
		}
		utils.SetupSSEHeaders(w)
		h.sendSSE(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})
		h.finish(w, flusher, turn, "")
		return nil
	}

	exchange, err := h.relay.Stream(ctx, sessionID, userMessage)
	if err != nil {
		return err
	}

	utils.SetupSSEHeaders(w)
	h.sendSSE(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})

	for fragment, ferr := range exchange.Fragments() {
		if ferr != nil {
			break
		}
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   fragment,
		})
	}
	log := observability.LoggerFromContext(ctx).WithField("session_id", sessionID)
	if err := exchange.Close(); err != nil {
		msg := "failed to save reply"
		if errors.Is(err, chatservice.ErrTurnDiscarded) {
			msg = err.Error()
		}
		log.WithError(err).Warn("[stream] reply not stored")
		h.finish(w, flusher, chat.Turn{SessionID: sessionID, Content: msg, Failed: true}, "")
		return nil
	}

	if failure := exchange.Failure(); failure != nil {
		log.WithField("kind", failure.Kind).Warn("[stream] relay ended with failure")
		h.finish(w, flusher, exchange.Turn(), string(failure.Kind))
		return nil
	}

	h.finish(w, flusher, exchange.Turn(), "")
	log.Info("[stream] completed response")
	return nil
}

// finish sends the stored turn followed by the completion signal.
func (h *Handler) finish(w http.ResponseWriter, flusher http.Flusher, turn chat.Turn, kind string) {
	if turn.Failed {
		h.sendSSEError(w, flusher, turn.SessionID, kind, turn.Content)
	} else {
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "message",
			SessionID: turn.SessionID,
			Content:   turn.Content,
		})
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: turn.SessionID,
		Finished:  true,
	})
}

// sendSSE sends a Server-Sent Event
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

// sendSSEError sends an error via Server-Sent Events
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, sessionID, kind, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{
		Event:     "error",
		SessionID: sessionID,
		Kind:      kind,
		Error:     errorMsg,
	})
}

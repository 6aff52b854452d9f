package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	aiService "github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler WebSocket 聊天中继处理器
type Handler struct {
	relay    *relay.Relay
	aiSvc    *aiService.Service
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(r *relay.Relay, aiSvc *aiService.Service, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		relay:   r,
		aiSvc:   aiSvc,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息，空字段保持原值
type ConfigMessage struct {
	Model  string `json:"model"`
	APIKey string `json:"apiKey"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn wraps one socket with the session it is bound to.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	log       *logrus.Entry
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	log := observability.LoggerFromContext(r.Context()).WithField("session_id", sessionID)
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("[websocket] upgrade failed")
		return
	}
	defer wsConn.Close()

	c := &conn{ws: wsConn, sessionID: sessionID, log: log}
	log.Info("[websocket] new connection")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go pingLoop(ctx, wsConn)

	c.send("connected", map[string]any{
		"model":    session.Model,
		"greeting": session.Greeting,
	})

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("[websocket] read error")
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, c, msg.Data)
	case "config":
		h.handleConfigMessage(ctx, c, msg.Data)
	case "reset":
		session, err := h.chatSvc.Reset(ctx, c.sessionID)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.send("reset", map[string]any{"greeting": session.Greeting})
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, c *conn, raw []byte) {
	var text TextMessage
	if err := sonic.Unmarshal(raw, &text); err != nil {
		c.sendError("invalid text payload")
		return
	}

	exchange, err := h.relay.Stream(ctx, c.sessionID, text.Text)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	for fragment, ferr := range exchange.Fragments() {
		if ferr != nil {
			break
		}
		c.send("delta", map[string]any{"text": fragment})
	}
	if err := exchange.Close(); err != nil {
		if errors.Is(err, chatservice.ErrTurnDiscarded) {
			c.sendError(err.Error())
			return
		}
		c.sendError("failed to save reply")
		return
	}

	turn := exchange.Turn()
	if failure := exchange.Failure(); failure != nil {
		c.send("error", map[string]any{"message": turn.Content, "kind": failure.Kind})
		return
	}
	c.send("message", turn)
}

func (h *Handler) handleConfigMessage(ctx context.Context, c *conn, raw []byte) {
	var cfg ConfigMessage
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		c.sendError("invalid config payload")
		return
	}

	opts, err := h.applyConfig(cfg)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	session, err := h.chatSvc.UpdateSession(ctx, c.sessionID, opts)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.log.WithField("model", session.Model).Info("[websocket] config applied")
	c.send("config", map[string]any{
		"model":  session.Model,
		"hasKey": session.APIKey != "",
	})
}

// applyConfig validates a config message before it is bound to the session.
func (h *Handler) applyConfig(cfg ConfigMessage) (chatservice.Options, error) {
	var opts chatservice.Options
	if strings.TrimSpace(cfg.Model) != "" {
		name, err := h.aiSvc.Config().ResolveModel(cfg.Model)
		if err != nil {
			return opts, err
		}
		opts.Model = name
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		if err := aiService.ValidateCredential(h.aiSvc.Provider(), key); err != nil {
			return opts, err
		}
		opts.APIKey = key
	}
	if opts.Model == "" && opts.APIKey == "" {
		return opts, errors.New("config requires model or apiKey")
	}
	return opts, nil
}

func (c *conn) send(kind string, data interface{}) {
	payload, err := sonic.Marshal(outgoingMessage{
		Type:      kind,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		c.log.WithError(err).Warn("[websocket] marshal failed")
		return
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.WithError(err).Debug("[websocket] write failed")
	}
}

func (c *conn) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, wsConn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

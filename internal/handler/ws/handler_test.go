package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
	aiService "github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai/aitest"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/service/relay"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func setup(t *testing.T, fake *aitest.FakeModel) (*Handler, *chatservice.Service, string, string) {
	t.Helper()
	ctx := context.Background()
	cfg := config.AIConfig{
		Provider:       config.ProviderGroq,
		APIKey:         "gsk_default",
		Model:          "llama3-8b-8192",
		Models:         config.ProviderGroq.DefaultModels(),
		StreamResponse: true,
	}
	aiSvc, err := aiService.NewServiceWithFactory(ctx, cfg, fake.Factory(nil))
	require.NoError(t, err)

	chats := chatservice.NewService()
	session, err := chats.CreateSession(ctx, chatservice.Options{Model: cfg.Model})
	require.NoError(t, err)

	h := New(relay.New(aiSvc, chats), aiSvc, chats)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID
	return h, chats, session.ID, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	c.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello frame
	require.NoError(t, c.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Type)
	return c
}

func TestTextMessageStreamsReply(t *testing.T) {
	_, chats, id, url := setup(t, &aitest.FakeModel{Chunks: []string{"a", "b"}})
	c := dial(t, url)

	require.NoError(t, c.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "hi"}}))

	var got []string
	for {
		var f frame
		require.NoError(t, c.ReadJSON(&f))
		got = append(got, f.Type)
		if f.Type == "message" || f.Type == "error" {
			break
		}
	}
	assert.Equal(t, []string{"delta", "delta", "message"}, got)

	turns, err := chats.LoadTranscript(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "ab", turns[1].Content)
}

func TestTextMessageFailureIsReported(t *testing.T) {
	_, _, _, url := setup(t, &aitest.FakeModel{Err: errors.New("status code: 429")})
	c := dial(t, url)

	require.NoError(t, c.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "hi"}}))

	var f frame
	require.NoError(t, c.ReadJSON(&f))
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), `"kind":"quota"`)
}

func TestUnknownTypeAndSessionMismatch(t *testing.T) {
	_, _, _, url := setup(t, &aitest.FakeModel{})
	c := dial(t, url)

	require.NoError(t, c.WriteJSON(map[string]any{"type": "audio"}))
	var f frame
	require.NoError(t, c.ReadJSON(&f))
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, string(f.Data), "unsupported message type")

	require.NoError(t, c.WriteJSON(map[string]any{"type": "text", "sessionId": "other"}))
	require.NoError(t, c.ReadJSON(&f))
	assert.Contains(t, string(f.Data), "session mismatch")
}

func TestApplyConfigValidates(t *testing.T) {
	h, _, _, _ := setup(t, &aitest.FakeModel{})

	opts, err := h.applyConfig(ConfigMessage{Model: "gemma2-9b-it", APIKey: " gsk_new "})
	require.NoError(t, err)
	assert.Equal(t, "gemma2-9b-it", opts.Model)
	assert.Equal(t, "gsk_new", opts.APIKey)

	_, err = h.applyConfig(ConfigMessage{Model: "unknown"})
	assert.ErrorIs(t, err, config.ErrModelNotAllowed)

	_, err = h.applyConfig(ConfigMessage{APIKey: "sk-bad"})
	assert.ErrorIs(t, err, aiService.ErrCredentialMalformed)

	_, err = h.applyConfig(ConfigMessage{})
	assert.Error(t, err)
}

func TestUnknownSessionIsRejected(t *testing.T) {
	_, _, _, url := setup(t, &aitest.FakeModel{})
	url = url[:strings.LastIndex(url, "/")] + "/missing"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

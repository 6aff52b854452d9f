package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
)

const classifierSystemPrompt = "You are a supervisor that routes a user request to exactly one agent.\n" +
	"researcher: gathering facts, sources, data or background information.\n" +
	"analyst: analysing, comparing, extracting insights or summarising.\n" +
	"writer: drafting text such as reports, posts or answers.\n" +
	"Reply with exactly one word: researcher, analyst or writer."

// ModelRouter asks the hosted model to classify the request. It issues one
// call per turn; when the call fails or no label is found it falls back to
// the writer.
type ModelRouter struct {
	classifier compose.Runnable[map[string]any, *schema.Message]
}

// NewModelRouter compiles the classification chain over chatModel.
func NewModelRouter(ctx context.Context, chatModel model.BaseChatModel) (*ModelRouter, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classifier chain: %w", err)
	}
	return &ModelRouter{classifier: runnable}, nil
}

// Route implements Router.
func (r *ModelRouter) Route(ctx context.Context, text string, opts ...model.Option) Decision {
	log := observability.LoggerFromContext(ctx)

	msg, err := r.classifier.Invoke(ctx, map[string]any{"query": text}, compose.WithChatModelOption(opts...))
	if err != nil {
		log.WithError(err).Warn("[agent] classifier invoke failed, routing to writer")
		return Decision{Role: role.Writer, Source: SourceFallback}
	}
	if msg == nil {
		return Decision{Role: role.Writer, Source: SourceFallback}
	}

	name, ok := ParseLabel(msg.Content)
	if !ok {
		log.WithField("output", msg.Content).Info("[agent] classifier returned no label, routing to writer")
		return Decision{Role: role.Writer, Source: SourceFallback}
	}
	return Decision{Role: name, Source: SourceModel}
}

// ParseLabel finds a role label in free text, case-insensitively. Labels are
// checked in routing priority order.
func ParseLabel(output string) (role.Name, bool) {
	lowered := strings.ToLower(output)
	for _, name := range role.All {
		if strings.Contains(lowered, string(name)) {
			return name, true
		}
	}
	return "", false
}

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
)

// Dispatcher sends a user request to the model under one role's instruction.
type Dispatcher struct {
	roles role.Store
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewDispatcher compiles the role chain over chatModel.
func NewDispatcher(ctx context.Context, roles role.Store, chatModel model.BaseChatModel) (*Dispatcher, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instruction}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile dispatch chain: %w", err)
	}
	return &Dispatcher{roles: roles, chain: runnable}, nil
}

// Profile resolves a role, defaulting unknown names to the writer.
func (d *Dispatcher) Profile(name role.Name) role.Profile {
	if p, ok := d.roles.Find(name); ok {
		return p
	}
	if p, ok := d.roles.Find(role.Writer); ok {
		return p
	}
	return role.Profile{Name: role.Writer, Instruction: "You are a helpful writer."}
}

// Dispatch makes exactly one model call. Failures come back as a failed Reply.
func (d *Dispatcher) Dispatch(ctx context.Context, name role.Name, userText string, opts ...model.Option) ai.Reply {
	profile := d.Profile(name)

	msg, err := d.chain.Invoke(ctx, map[string]any{
		"instruction": profile.Instruction,
		"query":       userText,
	}, compose.WithChatModelOption(opts...))
	if err != nil {
		return ai.FailedWith(err)
	}
	if msg == nil {
		return ai.FailedWith(errors.New("empty response from model"))
	}
	return ai.Succeeded(msg.Content)
}

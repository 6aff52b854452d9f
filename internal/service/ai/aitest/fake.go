// Package aitest provides an in-memory chat model for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// FakeModel is a scripted model.BaseChatModel.
type FakeModel struct {
	// Reply is returned by Generate when Respond is nil.
	Reply string
	// Respond computes the reply from the request when set.
	Respond func(messages []*schema.Message) (string, error)
	// Chunks are emitted by Stream, followed by StreamErr if set.
	Chunks    []string
	StreamErr error
	// Err fails Generate and Stream before any output.
	Err error
	// NilReply makes Generate return neither a message nor an error.
	NilReply bool
	// OnStream runs when Stream is opened, before any chunk is sent.
	OnStream func()

	mu      sync.Mutex
	calls   [][]*schema.Message
	options []*model.Options
}

// Generate implements model.BaseChatModel.
func (f *FakeModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.record(input, opts)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.NilReply {
		return nil, nil
	}
	if f.Respond != nil {
		text, err := f.Respond(input)
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(text, nil), nil
	}
	return schema.AssistantMessage(f.Reply, nil), nil
}

// Stream implements model.BaseChatModel.
func (f *FakeModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(input, opts)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.OnStream != nil {
		f.OnStream()
	}

	chunks := append([]string(nil), f.Chunks...)
	streamErr := f.StreamErr
	sr, sw := schema.Pipe[*schema.Message](len(chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			if closed := sw.Send(schema.AssistantMessage(c, nil), nil); closed {
				return
			}
		}
		if streamErr != nil {
			sw.Send(nil, streamErr)
		}
	}()
	return sr, nil
}

// Calls returns the recorded request messages.
func (f *FakeModel) Calls() [][]*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*schema.Message(nil), f.calls...)
}

// LastOptions returns the common options of the latest call.
func (f *FakeModel) LastOptions() *model.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.options) == 0 {
		return nil
	}
	return f.options[len(f.options)-1]
}

func (f *FakeModel) record(input []*schema.Message, opts []model.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]*schema.Message(nil), input...))
	f.options = append(f.options, model.GetCommonOptions(&model.Options{}, opts...))
}

// Factory returns an ai.ModelFactory compatible constructor that always yields f
// and records the keys it was asked for.
func (f *FakeModel) Factory(keys *[]string) func(context.Context, string) (model.BaseChatModel, error) {
	return func(_ context.Context, key string) (model.BaseChatModel, error) {
		if keys != nil {
			*keys = append(*keys, key)
		}
		return f, nil
	}
}

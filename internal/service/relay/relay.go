// Package relay forwards a session's full history to the hosted chat model
// and records the reply as one assistant turn.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/llm-relay/backend/internal/model/chat"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	"github.com/zhouzirui/llm-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/llm-relay/backend/internal/service/chat"
)

// ErrEmptyPrompt is returned for blank user input.
var ErrEmptyPrompt = errors.New("prompt is required")

// Relay is the direct chat relay: no routing, no state beyond the transcript.
type Relay struct {
	ai    *ai.Service
	chats *chatservice.Service
}

// New creates a relay over the AI and chat services.
func New(aiSvc *ai.Service, chats *chatservice.Service) *Relay {
	return &Relay{ai: aiSvc, chats: chats}
}

// prepare validates the request, claims the session and appends the user
// turn. Nothing is appended and no request is sent when it fails. On success
// the caller owns the ticket and must release it.
func (r *Relay) prepare(ctx context.Context, sessionID, prompt string) (chat.Session, chatservice.Ticket, []*schema.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return chat.Session{}, chatservice.Ticket{}, nil, ErrEmptyPrompt
	}

	session, err := r.chats.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, chatservice.Ticket{}, nil, err
	}

	if err := ai.ValidateCredential(r.ai.Provider(), r.ai.Credential(session)); err != nil {
		return chat.Session{}, chatservice.Ticket{}, nil, err
	}

	ticket, err := r.chats.BeginTurn(ctx, sessionID)
	if err != nil {
		return chat.Session{}, chatservice.Ticket{}, nil, err
	}

	if _, err := r.chats.AppendFor(ctx, ticket, chat.Turn{Sender: chat.SenderUser, Content: prompt}); err != nil {
		r.chats.EndTurn(ticket)
		return chat.Session{}, chatservice.Ticket{}, nil, fmt.Errorf("save user turn: %w", err)
	}

	turns, err := r.chats.LoadTranscript(ctx, sessionID)
	if err != nil {
		r.chats.EndTurn(ticket)
		return chat.Session{}, chatservice.Ticket{}, nil, err
	}
	return session, ticket, ai.HistoryMessages(turns), nil
}

// Complete sends the history once and stores the full reply.
func (r *Relay) Complete(ctx context.Context, sessionID, prompt string) (chat.Turn, error) {
	session, ticket, history, err := r.prepare(ctx, sessionID, prompt)
	if err != nil {
		return chat.Turn{}, err
	}
	defer r.chats.EndTurn(ticket)

	reply := r.ai.Generate(ctx, r.ai.Credential(session), session.Model, history)
	return r.chats.AppendFor(ctx, ticket, chat.Turn{
		Sender:    chat.SenderAssistant,
		Content:   reply.Text(),
		Failed:    reply.Failed(),
	})
}

// Stream opens an incremental reply. The returned Exchange must be consumed
// through Fragments or closed; either way exactly one assistant turn is stored.
func (r *Relay) Stream(ctx context.Context, sessionID, prompt string) (*Exchange, error) {
	session, ticket, history, err := r.prepare(ctx, sessionID, prompt)
	if err != nil {
		return nil, err
	}

	stream, openErr := r.ai.Stream(ctx, r.ai.Credential(session), session.Model, history)
	return &Exchange{
		ctx:     ctx,
		chats:   r.chats,
		ticket:  ticket,
		stream:  stream,
		openErr: openErr,
	}, nil
}

// Exchange is one in-flight streamed reply.
type Exchange struct {
	ctx     context.Context
	chats   *chatservice.Service
	ticket  chatservice.Ticket
	stream  *schema.StreamReader[*schema.Message]
	openErr error

	started bool
	once    sync.Once
	builder strings.Builder
	failure *ai.Failure
	turn    chat.Turn
	saveErr error
}

// Fragments yields text chunks in order. A failure is yielded once as the
// last element. The sequence can only be ranged over once.
func (e *Exchange) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if e.started {
			return
		}
		e.started = true
		defer e.finish()

		if e.openErr != nil {
			e.failure = ai.Classify(e.openErr)
			yield("", e.failure)
			return
		}

		for {
			chunk, err := e.stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				e.failure = ai.Classify(err)
				yield("", e.failure)
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			e.builder.WriteString(chunk.Content)
			if !yield(chunk.Content, nil) {
				return
			}
		}
	}
}

// Close stores whatever was accumulated. Safe to call after Fragments. It
// returns chatservice.ErrTurnDiscarded when the session was reset while
// the exchange was open.
func (e *Exchange) Close() error {
	e.finish()
	return e.saveErr
}

// Turn returns the stored assistant turn once the exchange has finished.
func (e *Exchange) Turn() chat.Turn {
	return e.turn
}

// Failure returns the failure that ended the stream, if any.
func (e *Exchange) Failure() *ai.Failure {
	return e.failure
}

func (e *Exchange) finish() {
	e.once.Do(func() {
		if e.stream != nil {
			e.stream.Close()
		}

		content := e.builder.String()
		if e.failure != nil {
			if content != "" {
				content += "\n\n"
			}
			content += e.failure.Text()
		}

		e.turn, e.saveErr = e.chats.AppendFor(e.ctx, e.ticket, chat.Turn{
			Sender:  chat.SenderAssistant,
			Content: content,
			Failed:  e.failure != nil,
		})
		e.chats.EndTurn(e.ticket)

		logger := observability.LoggerFromContext(e.ctx).WithField("session_id", e.ticket.SessionID)
		switch {
		case errors.Is(e.saveErr, chatservice.ErrTurnDiscarded):
			logger.Info("[relay] session reset during exchange, reply dropped")
		case e.saveErr != nil:
			logger.WithError(e.saveErr).Error("[relay] failed to save assistant turn")
		}
	})
}

// Package agent implements supervisor routing and single-step role dispatch.
//
// A supervisor picks exactly one role per user turn and calls the model once
// with that role's instruction. There is no loop back to the supervisor and no
// collaboration between roles.
package agent

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
)

// Source records how a routing decision was reached.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceModel   Source = "model"
	// SourceFallback marks a decision that defaulted to the writer because
	// nothing matched or classification failed.
	SourceFallback Source = "fallback"
)

// Decision is the routing result for one user turn.
type Decision struct {
	Role   role.Name `json:"role"`
	Source Source    `json:"source"`
}

// Router picks a role for the latest user turn.
type Router interface {
	Route(ctx context.Context, text string, opts ...model.Option) Decision
}

var (
	researcherKeywords = role.KeywordsFor(role.Researcher)
	analystKeywords    = role.KeywordsFor(role.Analyst)
)

// Route applies the keyword policy. Researcher keywords are checked before
// analyst keywords; first match wins. Anything else routes to the writer.
func Route(text string) role.Name {
	return classifyKeywords(text).Role
}

func classifyKeywords(text string) Decision {
	lowered := strings.ToLower(text)
	switch {
	case containsAny(lowered, researcherKeywords):
		return Decision{Role: role.Researcher, Source: SourceKeyword}
	case containsAny(lowered, analystKeywords):
		return Decision{Role: role.Analyst, Source: SourceKeyword}
	default:
		return Decision{Role: role.Writer, Source: SourceFallback}
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// KeywordRouter is the Router form of Route.
type KeywordRouter struct{}

// Route implements Router.
func (KeywordRouter) Route(_ context.Context, text string, _ ...model.Option) Decision {
	return classifyKeywords(text)
}

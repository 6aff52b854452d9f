package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/llm-relay/backend/internal/model/role"
)

func TestRouteScenarios(t *testing.T) {
	cases := []struct {
		text string
		want role.Name
	}{
		{"Research context drift in AI agents", role.Researcher},
		{"Analyze LangGraph vs CrewAI", role.Analyst},
		{"Write a report", role.Writer},
		{"FIND me the latest papers", role.Researcher},
		{"give me a summary", role.Analyst},
		{"any INSIGHT here?", role.Analyst},
		{"hello there", role.Writer},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, Route(tc.text))
		})
	}
}

func TestRouteResearcherWinsTies(t *testing.T) {
	assert.Equal(t, role.Researcher, Route("Analyze this research"))
	assert.Equal(t, role.Researcher, Route("summary of the data"))
}

func TestRouteSubstringMatch(t *testing.T) {
	// "information" contains "info"; matching is by substring, as in the keyword lists.
	assert.Equal(t, role.Researcher, Route("Write information leaflets"))
}

func TestRouteFollowsSeedKeywords(t *testing.T) {
	for _, p := range role.Seed() {
		for _, kw := range p.Keywords {
			assert.Equal(t, p.Name, Route("please "+kw+" this"), kw)
		}
	}
	assert.Equal(t, role.KeywordsFor(role.Researcher), researcherKeywords)
	assert.Equal(t, role.KeywordsFor(role.Analyst), analystKeywords)
	assert.Empty(t, role.KeywordsFor(role.Writer))
}

func TestKeywordRouterMarksFallback(t *testing.T) {
	d := KeywordRouter{}.Route(context.Background(), "Write a poem")
	assert.Equal(t, Decision{Role: role.Writer, Source: SourceFallback}, d)

	d = KeywordRouter{}.Route(context.Background(), "Analyze churn")
	assert.Equal(t, Decision{Role: role.Analyst, Source: SourceKeyword}, d)
}

func TestParseLabel(t *testing.T) {
	got, ok := ParseLabel("  Analyst.")
	assert.True(t, ok)
	assert.Equal(t, role.Analyst, got)

	got, ok = ParseLabel("The best agent is the WRITER")
	assert.True(t, ok)
	assert.Equal(t, role.Writer, got)

	_, ok = ParseLabel("no idea")
	assert.False(t, ok)
}

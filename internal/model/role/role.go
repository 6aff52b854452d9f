package role

import "strings"

// Name identifies one of the three response personas a supervisor can pick.
type Name string

const (
	Researcher Name = "researcher"
	Analyst    Name = "analyst"
	// Writer is the default branch: every input without a stronger signal routes here.
	Writer Name = "writer"
)

// All lists roles in routing priority order.
var All = []Name{Researcher, Analyst, Writer}

// Parse maps a label to a role, case-insensitively.
func Parse(raw string) (Name, bool) {
	switch Name(strings.ToLower(strings.TrimSpace(raw))) {
	case Researcher:
		return Researcher, true
	case Analyst:
		return Analyst, true
	case Writer:
		return Writer, true
	default:
		return "", false
	}
}

func (n Name) String() string { return string(n) }

// Profile captures the fixed instruction a role sends with every request.
type Profile struct {
	Name        Name     `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Instruction string   `json:"instruction"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Seed provides the built-in role profiles.
func Seed() []Profile {
	return []Profile{
		{
			Name:        Researcher,
			Title:       "Researcher",
			Description: "Collects facts, sources and background for the question.",
			Instruction: "You are the Researcher agent. Gather relevant facts, data points, prior work and open questions about the user's request. Cite where each fact would come from and flag anything uncertain.",
			Keywords:    []string{"research", "find", "data", "info"},
		},
		{
			Name:        Analyst,
			Title:       "Analyst",
			Description: "Breaks the topic down and draws insights.",
			Instruction: "You are the Analyst agent. Break the user's request into its key factors, compare the options, and produce concise insights with a short summary of trade-offs.",
			Keywords:    []string{"analyze", "insight", "summary"},
		},
		{
			Name:        Writer,
			Title:       "Writer",
			Description: "Drafts clear prose: reports, posts, answers.",
			Instruction: "You are the Writer agent. Produce a clear, well-structured piece of writing that answers the user's request directly. Use headings and short paragraphs where they help.",
		},
	}
}

// KeywordsFor returns the built-in routing keywords of a role.
func KeywordsFor(name Name) []string {
	for _, p := range Seed() {
		if p.Name == name {
			return p.Keywords
		}
	}
	return nil
}

package chat

import "time"

const (
	// GreetingNew is shown when a session is opened.
	GreetingNew = "Hi! Ready for ML research, pipelines, or agent sims chats."
	// GreetingCleared is shown after a reset.
	GreetingCleared = "Chat cleared! Start fresh."
)

// Session captures a transient conversation and its configuration snapshot.
// The greeting is displayed by clients but is not part of the transcript.
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Greeting  string    `json:"greeting"`
	CreatedAt time.Time `json:"createdAt"`
	APIKey    string    `json:"-"`
}

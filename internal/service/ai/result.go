package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/llm-relay/backend/internal/config"
)

var (
	ErrCredentialMissing   = errors.New("api key is required")
	ErrCredentialMalformed = errors.New("api key has an unexpected format")
)

// ValidateCredential rejects a key before any request is built.
func ValidateCredential(provider config.Provider, key string) error {
	if !provider.RequiresKey() {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrCredentialMissing
	}
	if prefix := provider.KeyPrefix(); prefix != "" && !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("%w: %s keys start with %s", ErrCredentialMalformed, provider, prefix)
	}
	return nil
}

// FailureKind classifies a failed hosted call.
type FailureKind string

const (
	FailureCredential FailureKind = "credential"
	FailureQuota      FailureKind = "quota"
	FailureModel      FailureKind = "model"
	FailureTimeout    FailureKind = "timeout"
	FailureNetwork    FailureKind = "network"
)

// Failure is the error branch of a Reply.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Text renders the failure the way it is shown to users and stored as a turn.
func (f *Failure) Text() string {
	return "❌ Error: " + f.Detail
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Detail)
}

// Reply is the result of one hosted call: either OK text or a Failure.
type Reply struct {
	OK      string   `json:"text,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Failed reports whether the call failed.
func (r Reply) Failed() bool {
	return r.Failure != nil
}

// Text returns the content to display and persist.
func (r Reply) Text() string {
	if r.Failure != nil {
		return r.Failure.Text()
	}
	return r.OK
}

// Succeeded wraps a successful response text.
func Succeeded(text string) Reply {
	return Reply{OK: text}
}

// FailedWith converts any error into a failed Reply.
func FailedWith(err error) Reply {
	return Reply{Failure: Classify(err)}
}

// Classify maps provider and transport errors onto a FailureKind.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	detail := err.Error()
	lower := strings.ToLower(detail)

	kind := FailureNetwork
	switch {
	case errors.Is(err, ErrCredentialMissing), errors.Is(err, ErrCredentialMalformed),
		containsAny(lower, "401", "403", "unauthorized", "invalid api key", "invalid_api_key", "authentication"):
		kind = FailureCredential
	case containsAny(lower, "429", "quota", "rate limit", "rate_limit"):
		kind = FailureQuota
	case containsAny(lower, "404", "model_not_found", "model not found", "does not exist", "decommissioned"):
		kind = FailureModel
	case errors.Is(err, context.DeadlineExceeded), containsAny(lower, "timeout", "deadline exceeded"):
		kind = FailureTimeout
	}
	return &Failure{Kind: kind, Detail: detail}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

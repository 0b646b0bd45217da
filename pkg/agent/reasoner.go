package agent

import (
	"context"
	"fmt"
)

// Reasoner is the reasoning-step contract: an ordered sequence of
// role-tagged messages plus a system instruction in, generated text and
// optionally a structured tool-invocation request out.
type Reasoner interface {
	// Complete makes one reasoning call.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the backing provider name.
	Name() string
}

// NewReasoner builds a reasoner for the named provider.
func NewReasoner(providerName, apiKey string) (Reasoner, error) {
	switch providerName {
	case "anthropic":
		return NewAnthropicReasoner(apiKey), nil
	case "openai":
		return NewOpenAIReasoner(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", providerName)
	}
}

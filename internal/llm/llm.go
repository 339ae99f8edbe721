package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is a provider-neutral chat message.
type Message struct {
	Role    string
	Content string
}

// Client is a minimal chat-completion capability. The summarizer is the
// only consumer; it never streams and never needs tool calls.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Keys carries the per-provider API keys loaded from the environment.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

// WithBaseURL points the provider client at a different endpoint, used by
// tests and proxy deployments.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// ParseModel splits a "provider/model" string.
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// New builds a client for the given provider, picking the matching key.
func New(provider, model string, keys Keys, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		if keys.OpenAI == "" {
			return nil, fmt.Errorf("openai: no API key configured")
		}
		return newOpenAIClient(keys.OpenAI, model, o), nil
	case "anthropic":
		if keys.Anthropic == "" {
			return nil, fmt.Errorf("anthropic: no API key configured")
		}
		return newAnthropicClient(keys.Anthropic, model, o), nil
	case "gemini":
		if keys.Gemini == "" {
			return nil, fmt.Errorf("gemini: no API key configured")
		}
		return newGeminiClient(keys.Gemini, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

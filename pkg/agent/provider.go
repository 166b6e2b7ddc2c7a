package agent

import (
	"context"
	"fmt"
)

// LLMProvider is one chat-completion backend.
type LLMProvider interface {
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)
	Provider() string
}

// ToolSpec is a callable tool advertised to the model. Schema is a JSON
// Schema object document.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// LLMRequest is a provider-neutral completion request.
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse is the text and tool calls of one completion.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory builds the SDK-backed providers.
type ProviderFactory struct{}

func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	}
	return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
}

// schemaRequired returns the "required" list of a schema whether it was
// built as []any or []string.
func schemaRequired(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

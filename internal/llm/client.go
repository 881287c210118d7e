package llm

import (
	"fmt"
	"os"
)

// NewClient builds the backend client for spec. The API key is read from
// spec.APIKeyEnv, falling back to the provider's usual variable.
func NewClient(spec ModelSpec) (Client, error) {
	spec = spec.WithDefaults()
	if spec.Model == "" {
		return nil, fmt.Errorf("model %q: model id is required", spec.Name)
	}

	switch spec.Provider {
	case ProviderAnthropic, "":
		return NewAnthropicClient(spec, os.Getenv(keyEnv(spec, "ANTHROPIC_API_KEY"))), nil
	case ProviderOpenAI:
		return NewOpenAIClient(spec, os.Getenv(keyEnv(spec, "OPENAI_API_KEY"))), nil
	default:
		return nil, fmt.Errorf("model %q: unknown provider %q", spec.Name, spec.Provider)
	}
}

func keyEnv(spec ModelSpec, fallback string) string {
	if spec.APIKeyEnv != "" {
		return spec.APIKeyEnv
	}
	return fallback
}

// DefaultModels is the fallback chain used when none is configured: the
// strongest structured-output model first, a larger model second and a
// cheaper OpenAI-compatible model last.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{
			Name:            "claude-sonnet",
			Provider:        ProviderAnthropic,
			Model:           "claude-sonnet-4-5",
			BaseConfidence:  0.95,
			MaxOutputTokens: 4096,
		},
		{
			Name:            "claude-opus",
			Provider:        ProviderAnthropic,
			Model:           "claude-opus-4-1",
			BaseConfidence:  0.98,
			MaxOutputTokens: 4096,
		},
		{
			Name:            "llama3-70b",
			Provider:        ProviderOpenAI,
			Model:           "llama3:70b",
			BaseConfidence:  0.85,
			MaxOutputTokens: 2048,
			BaseURL:         "http://localhost:11434/v1",
		},
	}
}

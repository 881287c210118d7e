package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient invokes a model through the Anthropic Messages API.
type AnthropicClient struct {
	api  *anthropic.Client
	spec ModelSpec
}

// NewAnthropicClient creates a client for spec. apiKey may be empty, in which
// case the SDK falls back to ANTHROPIC_API_KEY.
func NewAnthropicClient(spec ModelSpec, apiKey string) *AnthropicClient {
	// Retries belong to the fallback controller.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		api:  &client,
		spec: spec.WithDefaults(),
	}
}

// Invoke sends req and returns the model's text.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Snapshot) == "" {
		return "", c.fail(Other, ErrEmptySnapshot)
	}
	systemPrompt, userPrompt, err := buildPrompt(req)
	if err != nil {
		return "", c.fail(Other, err)
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.spec.Model),
		MaxTokens:   int64(c.spec.MaxOutputTokens),
		Temperature: anthropic.Float(c.spec.Temp()),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", c.fail(classifyAnthropic(err), fmt.Errorf("anthropic API call: %w", err))
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", c.fail(Other, fmt.Errorf("no text content in API response"))
	}
	return text, nil
}

func (c *AnthropicClient) fail(kind ErrorKind, err error) error {
	return &ModelError{Kind: kind, Model: c.spec.Name, Err: err}
}

func classifyAnthropic(err error) ErrorKind {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode)
	}
	return classifyTransport(err)
}

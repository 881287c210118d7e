package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient invokes a model through an OpenAI-compatible chat completions
// endpoint. Self-hosted servers are reached through ModelSpec.BaseURL.
type OpenAIClient struct {
	client *openai.Client
	spec   ModelSpec
}

// NewOpenAIClient creates a client for spec.
func NewOpenAIClient(spec ModelSpec, apiKey string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if spec.BaseURL != "" {
		cfg.BaseURL = spec.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		spec:   spec.WithDefaults(),
	}
}

// Invoke sends req and returns the model's text.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Snapshot) == "" {
		return "", c.fail(Other, ErrEmptySnapshot)
	}
	systemPrompt, userPrompt, err := buildPrompt(req)
	if err != nil {
		return "", c.fail(Other, err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.spec.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   c.spec.MaxOutputTokens,
		Temperature: openAITemperature(c.spec.Temp()),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", c.fail(classifyOpenAI(err), fmt.Errorf("openai API call: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", c.fail(Other, fmt.Errorf("no choices in API response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) fail(kind ErrorKind, err error) error {
	return &ModelError{Kind: kind, Model: c.spec.Name, Err: err}
}

func classifyOpenAI(err error) ErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return classifyTransport(err)
}

// openAITemperature converts t for the request. The client omits a zero
// temperature from the JSON body, so 0 is sent as the smallest positive value.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

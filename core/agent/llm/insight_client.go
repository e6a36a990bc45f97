// Package llm provides the OpenAI client and the semantic analysis agent.
package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// Client wraps the OpenAI chat API for JSON-mode completions.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
}

// ClientConfig holds LLM client configuration.
type ClientConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3 // 낮은 temperature로 일관성 확보
	}
	return &Client{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		temperature: float32(temperature),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// CompleteJSON runs a JSON-mode completion and returns the raw content plus
// the provider's token accounting.
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, openai.Usage, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", openai.Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Usage, fmt.Errorf("no response from LLM")
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}

// =============================================================================
// Cost Tracking
// =============================================================================

// Pricing per 1M tokens (as of 2024)
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":      {InputPer1M: 5.00, OutputPer1M: 15.00},
}

// CalculateCost calculates estimated cost for token usage.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}

	inputCost := float64(promptTokens) / 1_000_000 * pricing.InputPer1M
	outputCost := float64(completionTokens) / 1_000_000 * pricing.OutputPer1M

	return inputCost + outputCost
}

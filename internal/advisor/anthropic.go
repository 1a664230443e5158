package advisor

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicModel grades diffs with Anthropic's Claude API. It is a single-
// shot adapter (one system prompt, one user turn, text out) rather than a
// full conversational ChatModel: the panel never needs multi-turn history
// or tool calling, only a grading verdict.
type AnthropicModel struct {
	apiKey    string
	modelName string
}

// NewAnthropicModel constructs an AnthropicModel. An empty modelName
// defaults to Claude Sonnet.
func NewAnthropicModel(apiKey, modelName string) *AnthropicModel {
	if modelName == "" {
		modelName = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicModel{apiKey: apiKey, modelName: modelName}
}

// Complete implements ChatModel.
func (m *AnthropicModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if m.apiKey == "" {
		return "", errors.New("advisor: anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(m.apiKey))
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.modelName),
		MaxTokens: 256,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("advisor: anthropic grade request: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text += b.Text
		}
	}
	return text, nil
}

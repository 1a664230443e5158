package advisor

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIModel grades diffs with OpenAI's chat completions API, a
// single-shot system+user request without tool calling.
type OpenAIModel struct {
	apiKey    string
	modelName string
}

// NewOpenAIModel constructs an OpenAIModel. An empty modelName defaults to
// a cost-efficient grading model.
func NewOpenAIModel(apiKey, modelName string) *OpenAIModel {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &OpenAIModel{apiKey: apiKey, modelName: modelName}
}

// Complete implements ChatModel.
func (m *OpenAIModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if m.apiKey == "" {
		return "", errors.New("advisor: openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey))
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(m.modelName),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(userPrompt),
		},
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("advisor: openai grade request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

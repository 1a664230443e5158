package advisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel grades diffs with Google's Gemini API, a single-shot
// system+user request without tool calling or safety-filter handling
// beyond what GenerateContent surfaces as an error.
type GoogleModel struct {
	apiKey    string
	modelName string
}

// NewGoogleModel constructs a GoogleModel. An empty modelName defaults to
// a fast grading model.
func NewGoogleModel(apiKey, modelName string) *GoogleModel {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GoogleModel{apiKey: apiKey, modelName: modelName}
}

// Complete implements ChatModel.
func (m *GoogleModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if m.apiKey == "" {
		return "", errors.New("advisor: google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return "", fmt.Errorf("advisor: create google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(m.modelName)
	if systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("advisor: google grade request: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text, nil
}

package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"golang-classification-service/pkg/errors"
)

// GeminiModel is a TextModel backed by the Google generative AI service.
type GeminiModel struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiModel creates a Gemini-backed text model. The caller owns the
// returned model and must Close it when done.
func NewGeminiModel(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "classifier API key", nil).
			WithSuggestion("Set the --api-key flag or the CLASSIFIER_API_KEY environment variable")
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "classifier model name", nil)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.ClassificationError(errors.CodeClassifierTransport, "create client", err)
	}

	model := client.GenerativeModel(modelName)
	// Classification wants repeatable answers, not creative ones.
	model.SetTemperature(0)

	return &GeminiModel{client: client, model: model}, nil
}

// Generate sends the prompt and returns the first candidate's text.
func (g *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty model response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return b.String(), nil
}

// Close releases the underlying client connection.
func (g *GeminiModel) Close() error {
	return g.client.Close()
}

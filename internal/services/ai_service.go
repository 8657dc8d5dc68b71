package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/feedlogapp/feedlog-backend/internal/errors"
	"github.com/feedlogapp/feedlog-backend/internal/logger"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

const geminiModel = "gemini-1.5-flash"

// AIService generates text with Gemini, falling back to OpenAI when Gemini
// is unavailable or fails.
type AIService struct {
	geminiClient *genai.Client
	openaiClient *openai.Client
}

func NewAIService(ctx context.Context, geminiAPIKey, openaiAPIKey string) (*AIService, error) {
	s := &AIService{}

	if geminiAPIKey != "" {
		client, err := genai.NewClient(ctx, option.WithAPIKey(geminiAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		s.geminiClient = client
	}
	if openaiAPIKey != "" {
		s.openaiClient = openai.NewClient(openaiAPIKey)
	}

	return s, nil
}

// GenerateText runs the prompt through the first available provider
func (s *AIService) GenerateText(ctx context.Context, prompt string) (string, error) {
	if s.geminiClient != nil {
		text, err := s.generateWithGemini(ctx, prompt)
		if err == nil {
			return text, nil
		}
		logger.Warn("Gemini generation failed, trying OpenAI", "error", err)
	}

	if s.openaiClient != nil {
		return s.generateWithOpenAI(ctx, prompt)
	}

	return "", apperrors.New(apperrors.ErrorTypeExternal, "NO_PROVIDER", "No AI provider configured")
}

func (s *AIService) generateWithGemini(ctx context.Context, prompt string) (string, error) {
	model := s.geminiClient.GenerativeModel(geminiModel)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}

	return strings.TrimSpace(string(text)), nil
}

func (s *AIService) generateWithOpenAI(ctx context.Context, prompt string) (string, error) {
	resp, err := s.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4o,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", apperrors.NewExternalAPIError(err, "OpenAI")
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

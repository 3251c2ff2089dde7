package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/exec-email-agent/internal/core"
	"github.com/mikey/exec-email-agent/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiClient is an implementation of the LLMClient interface using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0]), nil
}

// AnalyzeEmail classifies an email's intent and proposes a next action
func (c *GeminiClient) AnalyzeEmail(ctx context.Context, email *core.Email) (*core.Analysis, error) {
	body := c.textProcessor.ProcessText(email.Body, c.maxBodySize)
	prompt := core.AnalysisPrompt(email, body)

	responseText, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	analysis, ok := core.CoerceAnalysis(responseText)
	if !ok {
		c.logger.Warn("Analysis response could not be parsed, using fallback",
			zap.String("email_id", email.ID),
			zap.String("model", c.modelName))
	}
	return analysis, nil
}

// GenerateReply drafts a reply matching the analysis
func (c *GeminiClient) GenerateReply(ctx context.Context, email *core.Email, analysis *core.Analysis) (*core.ReplyDraft, error) {
	body := c.textProcessor.ProcessText(email.Body, c.maxBodySize)
	prompt := core.ReplyPrompt(email, analysis, body)

	responseText, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return core.CoerceReply(responseText), nil
}

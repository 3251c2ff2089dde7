package openai

import (
	"context"
	"fmt"

	"github.com/mikey/exec-email-agent/internal/core"
	"github.com/mikey/exec-email-agent/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient is an implementation of the LLMClient interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

func (c *OpenAIClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeEmail classifies an email's intent and proposes a next action
func (c *OpenAIClient) AnalyzeEmail(ctx context.Context, email *core.Email) (*core.Analysis, error) {
	body := c.textProcessor.ProcessText(email.Body, c.maxBodySize)
	prompt := core.AnalysisPrompt(email, body)

	responseText, err := c.complete(ctx, core.AnalysisSystemPrompt, prompt)
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
func (c *OpenAIClient) GenerateReply(ctx context.Context, email *core.Email, analysis *core.Analysis) (*core.ReplyDraft, error) {
	body := c.textProcessor.ProcessText(email.Body, c.maxBodySize)
	prompt := core.ReplyPrompt(email, analysis, body)

	responseText, err := c.complete(ctx, core.ReplySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return core.CoerceReply(responseText), nil
}

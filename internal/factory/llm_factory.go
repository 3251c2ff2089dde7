package factory

import (
	"fmt"

	"github.com/mikey/exec-email-agent/internal/adapters/bedrock"
	"github.com/mikey/exec-email-agent/internal/adapters/gemini"
	"github.com/mikey/exec-email-agent/internal/adapters/openai"
	"github.com/mikey/exec-email-agent/internal/adapters/resilience"
	"github.com/mikey/exec-email-agent/internal/config"
	"github.com/mikey/exec-email-agent/internal/core"
	"github.com/mikey/exec-email-agent/internal/utils"
	"go.uber.org/zap"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration.
// Every provider client is wrapped with bounded in-call retry and minimum
// inter-call spacing before failures surface to the pipeline.
func (f *LLMFactory) CreateLLMClient() (core.LLMClient, error) {
	llmConfig := f.cfg.GetLLM()

	var client core.LLMClient
	var err error
	switch llmConfig.Provider {
	case "bedrock":
		factory := bedrock.NewFactory(f.cfg, f.logger, f.textProcessor)
		client, err = factory.CreateLLMClient()
	case "gemini":
		factory := gemini.NewFactory(f.cfg, f.logger, f.textProcessor)
		client, err = factory.CreateLLMClient()
	case "openai":
		factory := openai.NewFactory(f.cfg, f.logger, f.textProcessor)
		client, err = factory.CreateLLMClient()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
	if err != nil {
		return nil, err
	}

	callCfg, err := f.cfg.GetLLMCall()
	if err != nil {
		return nil, err
	}
	return resilience.Wrap(client, resilience.CallConfig{
		MaxAttempts:   callCfg.MaxAttempts,
		BackoffBase:   callCfg.BackoffBase,
		BackoffMax:    callCfg.BackoffMax,
		BackoffJitter: callCfg.BackoffJitter,
		MinInterval:   callCfg.MinInterval,
	}, f.logger), nil
}

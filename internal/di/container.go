package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/exec-email-agent/internal/adapters/intake"
	"github.com/mikey/exec-email-agent/internal/config"
	"github.com/mikey/exec-email-agent/internal/core"
	"github.com/mikey/exec-email-agent/internal/factory"
	"github.com/mikey/exec-email-agent/internal/logging"
	"github.com/mikey/exec-email-agent/internal/muted"
	"github.com/mikey/exec-email-agent/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCollaboratorFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register LLM client
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMClient, error) {
		return f.CreateLLMClient()
	}); err != nil {
		return nil, err
	}

	// Register the persistence backend and its repository views
	if err := container.Provide(func(f *factory.StoreFactory) (factory.Backend, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(b factory.Backend) core.StateRepository { return b }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(b factory.Backend) core.BehaviorRepository { return b }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(b factory.Backend) core.TaskRepository { return b }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(b factory.Backend) core.RetryRepository { return b }); err != nil {
		return nil, err
	}

	// Register collaborators (both may be nil when unconfigured)
	if err := container.Provide(func(f *factory.CollaboratorFactory) (core.DraftWriter, error) {
		return f.CreateDraftWriter(context.Background())
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.CollaboratorFactory) (core.CalendarWriter, error) {
		return f.CreateCalendarWriter(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register muted-domain checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.MutedChecker {
		return muted.NewChecker(cfg.GetDecision().MutedDomains, logger)
	}); err != nil {
		return nil, err
	}

	// Register engine configuration
	if err := container.Provide(func(cfg *config.Config) core.DecisionConfig {
		dc := cfg.GetDecision()
		return core.DecisionConfig{
			DraftAutoThreshold:      dc.DraftAutoThreshold,
			ReviewTaskThreshold:     dc.ReviewTaskThreshold,
			ReviewThreshold:         dc.ReviewThreshold,
			DraftMinFinalScore:      dc.DraftMinFinalScore,
			MaxBehaviorInfluence:    dc.MaxBehaviorInfluence,
			FullBehaviorAtSamples:   dc.FullBehaviorAtSamples,
			LowSampleInvariantLimit: dc.LowSampleInvariantLimit,
			ClearIgnoreConfidence:   dc.ClearIgnoreConfidence,
		}
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(cfg *config.Config) (core.RetryConfig, error) {
		rc, err := cfg.GetRetry()
		if err != nil {
			return core.RetryConfig{}, err
		}
		return core.RetryConfig{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
			BatchSize:   rc.BatchSize,
			Interval:    rc.Interval,
		}, nil
	}); err != nil {
		return nil, err
	}

	// Register engines and the triage service
	if err := container.Provide(core.NewBehaviorEngine); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewDecisionEngine); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewActionExecutor); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewRetryQueue); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewTriageService); err != nil {
		return nil, err
	}

	// Register the retry processor driven by the triage service
	if err := container.Provide(func(queue *core.RetryQueue, svc *core.TriageService, logger *zap.Logger) *core.RetryProcessor {
		return core.NewRetryProcessor(queue, svc, logger)
	}); err != nil {
		return nil, err
	}

	// Register the SMTP intake
	if err := container.Provide(func(svc *core.TriageService, cfg *config.Config, logger *zap.Logger) (*intake.SMTPIntake, error) {
		timeout, err := cfg.GetDuration("intake.process_timeout")
		if err != nil {
			return nil, err
		}
		return intake.NewSMTPIntake(svc, logger, cfg.GetString("intake.listen_address"), timeout), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}

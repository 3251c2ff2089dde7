package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/exec-email-agent/internal/adapters/intake"
	"github.com/mikey/exec-email-agent/internal/config"
	"github.com/mikey/exec-email-agent/internal/core"
	"github.com/mikey/exec-email-agent/internal/di"
	"github.com/mikey/exec-email-agent/internal/factory"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	smtpIntake *intake.SMTPIntake,
	retryProcessor *core.RetryProcessor,
	llmClient core.LLMClient,
	backend factory.Backend,
) error {
	defer logger.Sync()

	// Start the intake listener unless disabled (retry-drain mode)
	intakeEnabled := cfg.GetBool("intake.enabled")
	if intakeEnabled {
		if err := smtpIntake.Start(); err != nil {
			logger.Fatal("Failed to start SMTP intake", zap.Error(err))
			return err
		}
	} else {
		logger.Info("SMTP intake disabled, running retry processing only")
	}

	// Start the retry processor
	if err := retryProcessor.Start(); err != nil {
		logger.Fatal("Failed to start retry processor", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	if intakeEnabled {
		if err := smtpIntake.Stop(); err != nil {
			logger.Error("Failed to stop SMTP intake", zap.Error(err))
		}
	}

	if err := retryProcessor.Stop(); err != nil {
		logger.Error("Failed to stop retry processor", zap.Error(err))
	}

	// Close any resources that need closing
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}

	backend.Stop()

	logger.Info("Shutdown complete")
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mikey/exec-email-agent/internal/adapters/intake"
	"github.com/mikey/exec-email-agent/internal/core"
	"github.com/mikey/exec-email-agent/internal/di"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run triages one email from a file or stdin and prints the decision audit
func run(flags *di.CLIFlags, logger *zap.Logger, service *core.TriageService, llmClient core.LLMClient) error {
	defer logger.Sync()

	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", flags.InputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	rawData, err := io.ReadAll(emailReader)
	if err != nil {
		logger.Fatal("Failed to read email", zap.Error(err))
	}

	email, err := intake.ParseEmail(rawData, "", nil)
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", email.From)
	fmt.Printf("To: %s\n", core.FormatRecipients(email.To))
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("Body length: %d bytes\n", len(email.Body))
	fmt.Printf("\n=== Triage ===\n")
	fmt.Printf("Provider: %s\n", flags.Provider)

	startTime := time.Now()
	decision, err := service.ProcessEmail(context.Background(), email)
	if err != nil {
		logger.Fatal("Failed to triage email", zap.Error(err))
	}
	duration := time.Since(startTime)

	fmt.Printf("\n=== Decision ===\n")
	fmt.Printf("Proposed action: %s\n", decision.ProposedAction)
	fmt.Printf("Final action: %s\n", decision.Action)
	fmt.Printf("Reason: %s\n", decision.ActionReason)
	fmt.Printf("LLM confidence: %.4f\n", decision.LLMConfidence)
	fmt.Printf("Importance score: %.4f\n", decision.ImportanceScore)
	fmt.Printf("Behavior weight: %.4f (samples: %d)\n", decision.BehaviorWeight, decision.SampleSize)
	fmt.Printf("Final score: %.4f\n", decision.FinalScore)
	if decision.Draft != nil && decision.Draft.DraftReply != "" {
		fmt.Printf("\n=== Draft Reply ===\n%s\n", decision.Draft.DraftReply)
	}
	if decision.CalendarEvent != "" {
		fmt.Printf("Calendar: %s\n", decision.CalendarEvent)
	}
	fmt.Printf("\nProcessing time: %v\n", duration)

	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
	return nil
}

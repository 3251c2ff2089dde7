package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MutedChecker reports whether a sender is muted. Muted senders bypass the
// reasoning service entirely and are ignored outright.
type MutedChecker interface {
	IsMuted(from string) bool
}

// TriageService runs the full decision path for one email: analyze, blend
// with the behavior prior, decide, execute, and log the outcome. Execution
// failures are handed to the durable retry queue.
type TriageService struct {
	llm      LLMClient
	behavior *BehaviorEngine
	decider  *DecisionEngine
	executor *ActionExecutor
	states   StateRepository
	queue    *RetryQueue
	muted    MutedChecker
	logger   *zap.Logger
}

// NewTriageService creates a new triage service. muted may be nil.
func NewTriageService(
	llm LLMClient,
	behavior *BehaviorEngine,
	decider *DecisionEngine,
	executor *ActionExecutor,
	states StateRepository,
	queue *RetryQueue,
	muted MutedChecker,
	logger *zap.Logger,
) *TriageService {
	return &TriageService{
		llm:      llm,
		behavior: behavior,
		decider:  decider,
		executor: executor,
		states:   states,
		queue:    queue,
		muted:    muted,
		logger:   logger,
	}
}

// ProcessEmail runs the full pipeline for an inbound email. Transient
// failures are enqueued for durable retry before the error is returned.
func (s *TriageService) ProcessEmail(ctx context.Context, email *Email) (*Decision, error) {
	if email == nil || email.ID == "" {
		return nil, fmt.Errorf("email with a stable identifier is required")
	}

	if err := s.states.SaveObservation(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to persist observation: %w", err)
	}

	decision, err := s.runDecision(ctx, email)
	if err != nil {
		s.logger.Warn("Decision attempt failed, enqueueing retry",
			zap.String("email_id", email.ID),
			zap.Error(err))
		if qErr := s.queue.Enqueue(ctx, email, OpAnalyzeAndExecute, err.Error()); qErr != nil {
			s.logger.Error("Failed to enqueue retry",
				zap.String("email_id", email.ID),
				zap.Error(qErr))
		}
		return decision, err
	}
	return decision, nil
}

// runDecision is the retryable analyze-decide-execute-log path. It does not
// touch the retry queue; callers own scheduling.
func (s *TriageService) runDecision(ctx context.Context, email *Email) (*Decision, error) {
	analysis, err := s.analyze(ctx, email)
	if err != nil {
		return nil, err
	}

	profile, err := s.behavior.ComputeProfile(ctx, analysis.Intent, email.SenderDomain())
	if err != nil {
		return nil, fmt.Errorf("failed to compute behavior profile: %w", err)
	}

	decision := s.decider.Decide(email, analysis, profile)

	if err := s.executor.Execute(ctx, email, analysis, decision); err != nil {
		return decision, err
	}

	if err := s.behavior.LogEvent(ctx, &BehaviorLogEntry{
		EmailID:        email.ID,
		Intent:         analysis.Intent,
		SenderDomain:   email.SenderDomain(),
		RequiresReply:  analysis.RequiresReply != nil && *analysis.RequiresReply,
		ProposedAction: string(decision.ProposedAction),
		AgentAction:    string(decision.Action),
		LLMConfidence:  decision.LLMConfidence,
		BehaviorScore:  decision.ImportanceScore,
		FinalScore:     decision.FinalScore,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to record behavior log entry",
			zap.String("email_id", email.ID),
			zap.Error(err))
	}

	s.logger.Info("Email triaged",
		zap.String("email_id", email.ID),
		zap.String("intent", analysis.Intent),
		zap.String("proposed_action", string(decision.ProposedAction)),
		zap.String("final_action", string(decision.Action)),
		zap.Float64("final_score", decision.FinalScore))

	return decision, nil
}

// analyze invokes the reasoning service. Muted senders skip the call; a
// failed call is a retryable error rather than a fallback decision.
func (s *TriageService) analyze(ctx context.Context, email *Email) (*Analysis, error) {
	if s.muted != nil && s.muted.IsMuted(email.From) {
		s.logger.Info("Skipping analysis for muted sender",
			zap.String("email_id", email.ID),
			zap.String("sender", email.From))
		no := false
		return &Analysis{
			Intent:        "Muted Sender",
			RequiresReply: &no,
			NextAction:    ActionIgnore,
			ActionReason:  "Sender domain is muted.",
			Urgency:       "low",
			Reasoning:     "Sender domain is muted.",
			Confidence:    1.0,
		}, nil
	}

	analysis, err := s.llm.AnalyzeEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("analysis unavailable: %w", err)
	}
	return analysis, nil
}

// RunStored re-runs the decision path for a replayed email without
// touching the retry queue; the retry processor owns scheduling.
func (s *TriageService) RunStored(ctx context.Context, email *Email) error {
	_, err := s.runDecision(ctx, email)
	return err
}

// RecordFinalAction records the user's real terminal action post hoc.
func (s *TriageService) RecordFinalAction(ctx context.Context, emailID, outcome string) (bool, error) {
	return s.behavior.RecordFinalAction(ctx, emailID, outcome)
}

// RecordOpened records that the user opened an email.
func (s *TriageService) RecordOpened(ctx context.Context, emailID string) (bool, error) {
	return s.behavior.RecordOpened(ctx, emailID)
}

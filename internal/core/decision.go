package core

import (
	"fmt"

	"go.uber.org/zap"
)

// DecisionConfig holds the operator-tunable thresholds of the decision
// engine. Defaults mirror the production calibration.
type DecisionConfig struct {
	// DraftAutoThreshold is the final score at or above which a proposed
	// draft_reply executes automatically.
	DraftAutoThreshold float64
	// ReviewTaskThreshold is the final score at or above which a
	// requires-action email is converted into a task.
	ReviewTaskThreshold float64
	// ReviewThreshold is the final score at or above which an uncertain
	// email is escalated to human review.
	ReviewThreshold float64
	// DraftMinFinalScore is the floor under which a proposed draft_reply
	// is escalated instead of drafted.
	DraftMinFinalScore float64
	// MaxBehaviorInfluence caps the behavioral share of the final score.
	MaxBehaviorInfluence float64
	// FullBehaviorAtSamples is the sample size at which the behavioral
	// influence reaches its cap.
	FullBehaviorAtSamples int
	// LowSampleInvariantLimit is the sample size below which a clear
	// high-confidence ignore is never overridden.
	LowSampleInvariantLimit int
	// ClearIgnoreConfidence is the confidence at or above which an ignore
	// proposal counts as clear.
	ClearIgnoreConfidence float64
}

// DefaultDecisionConfig returns the default threshold calibration.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		DraftAutoThreshold:      0.65,
		ReviewTaskThreshold:     0.60,
		ReviewThreshold:         0.45,
		DraftMinFinalScore:      0.55,
		MaxBehaviorInfluence:    0.40,
		FullBehaviorAtSamples:   25,
		LowSampleInvariantLimit: 8,
		ClearIgnoreConfidence:   0.90,
	}
}

// DecisionEngine blends a proposed action, a confidence score and a
// behavior prior into a final action via threshold rules and stability
// overrides.
type DecisionEngine struct {
	cfg    DecisionConfig
	logger *zap.Logger
}

func (c DecisionConfig) sanitized() DecisionConfig {
	if c.MaxBehaviorInfluence < 0 || c.MaxBehaviorInfluence > 1 {
		c.MaxBehaviorInfluence = 0.40
	}
	if c.FullBehaviorAtSamples < 1 {
		c.FullBehaviorAtSamples = 25
	}
	if c.LowSampleInvariantLimit < 0 {
		c.LowSampleInvariantLimit = 0
	}
	return c
}

// NewDecisionEngine creates a new decision engine.
func NewDecisionEngine(cfg DecisionConfig, logger *zap.Logger) *DecisionEngine {
	return &DecisionEngine{
		cfg:    cfg.sanitized(),
		logger: logger,
	}
}

// BehaviorWeight computes how much influence the behavior prior receives.
// It ramps linearly from 0 to the cap as sample size grows, then flattens.
func (d *DecisionEngine) BehaviorWeight(sampleSize int) float64 {
	ramp := d.cfg.MaxBehaviorInfluence * float64(sampleSize) / float64(d.cfg.FullBehaviorAtSamples)
	if ramp > d.cfg.MaxBehaviorInfluence {
		return d.cfg.MaxBehaviorInfluence
	}
	if ramp < 0 {
		return 0
	}
	return ramp
}

// Decide produces the final action for an analyzed email, plus the audit
// trail of the blend. The analysis NextAction may be rewritten in place by
// the meeting override so downstream execution sees the corrected proposal.
func (d *DecisionEngine) Decide(email *Email, analysis *Analysis, profile *BehaviorProfile) *Decision {
	// Well-formed meeting requests correct classifier under-triage before
	// any scoring happens.
	if analysis.MeetingDetails.HasSchedulableTime() {
		analysis.NextAction = ActionScheduleMeet
	}

	proposed := ParseAction(string(analysis.NextAction), analysis.RequiresReply)
	confidence := clamp01(analysis.Confidence)
	importance := clamp01(profile.ImportanceScore)
	sampleSize := profile.SampleSize

	weight := d.BehaviorWeight(sampleSize)
	finalScore := (1.0-weight)*confidence + weight*importance

	requiresAction := analysis.RequiresAction != nil && *analysis.RequiresAction

	next := proposed
	switch {
	// A clear ignore must survive a cold-start behavior signal.
	case proposed == ActionIgnore &&
		confidence >= d.cfg.ClearIgnoreConfidence &&
		sampleSize < d.cfg.LowSampleInvariantLimit:
		next = ActionIgnore

	case proposed == ActionDraftReply:
		if finalScore >= d.cfg.DraftAutoThreshold {
			next = ActionDraftReply
		} else if finalScore >= d.cfg.ReviewTaskThreshold && requiresAction {
			next = ActionCreateTask
		} else if finalScore >= d.cfg.ReviewThreshold {
			next = ActionEscalateReview
		} else if finalScore < d.cfg.DraftMinFinalScore {
			// Floor check: scores under the review threshold land here.
			next = ActionEscalateReview
		}

	case proposed == ActionIgnore:
		if finalScore >= d.cfg.ReviewTaskThreshold && requiresAction {
			next = ActionCreateTask
		} else if finalScore >= d.cfg.ReviewThreshold {
			next = ActionEscalateReview
		}
	}

	reason := analysis.ActionReason
	if reason == "" {
		reason = analysis.Reasoning
	}

	decision := &Decision{
		ProposedAction:     proposed,
		Action:             next,
		ActionReason:       reason,
		LLMConfidence:      confidence,
		ReplyRateBySender:  profile.ReplyRateBySender,
		ReplyRateByIntent:  profile.ReplyRateByIntent,
		OpenRate:           profile.OpenRate,
		ManualOverrideRate: profile.ManualOverrideRate,
		ImportanceScore:    importance,
		BehaviorWeight:     weight,
		SampleSize:         sampleSize,
		FinalScore:         finalScore,
		Draft: &ReplyDraft{
			Reasoning:  "No draft generated for this action.",
			Confidence: 1.0,
		},
	}

	if proposed != next {
		decision.ActionReason = fmt.Sprintf(
			"%s Adaptive routing changed action from %s to %s because unified final score was %.2f (behavior weight %.2f, samples %d).",
			reason, proposed, next, finalScore, weight, sampleSize)
		d.logger.Info("Adaptive routing diverged from proposed action",
			zap.String("email_id", email.ID),
			zap.String("proposed_action", string(proposed)),
			zap.String("final_action", string(next)),
			zap.Float64("final_score", finalScore),
			zap.Float64("behavior_weight", weight),
			zap.Int("sample_size", sampleSize))
	}

	return decision
}

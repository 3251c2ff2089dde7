package core

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Outcomes conventionally implied by each agent action. A recorded outcome
// outside the set for its action counts as a manual override; an agent
// action missing from this map is never counted as an override.
var expectedOutcomes = map[string]map[string]struct{}{
	"draft_reply":           {OutcomeSentReply: {}, OutcomeEditedDraft: {}},
	"ignore":                {OutcomeIgnored: {}, OutcomeDeleted: {}},
	"create_task":           {OutcomeEditedDraft: {}, OutcomeSentReply: {}},
	"flag_high_urgency":     {OutcomeSentReply: {}, OutcomeEditedDraft: {}, OutcomeIgnored: {}},
	"escalate_human_review": {OutcomeEditedDraft: {}, OutcomeSentReply: {}, OutcomeIgnored: {}},
}

// BehaviorEngine aggregates historical outcome records into the rates used
// as a prior by the decision engine. Profiles are recomputed from the full
// log on every query; a slightly stale read is acceptable.
type BehaviorEngine struct {
	repo   BehaviorRepository
	logger *zap.Logger
}

// NewBehaviorEngine creates a new behavior engine.
func NewBehaviorEngine(repo BehaviorRepository, logger *zap.Logger) *BehaviorEngine {
	return &BehaviorEngine{
		repo:   repo,
		logger: logger,
	}
}

func isReplyOutcome(outcome string) bool {
	return outcome == OutcomeSentReply || outcome == OutcomeEditedDraft
}

func isManualOverride(agentAction, outcome string) bool {
	allowed, ok := expectedOutcomes[agentAction]
	if !ok {
		return false
	}
	_, expected := allowed[outcome]
	return !expected
}

func safeRate(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return clamp01(float64(numerator) / float64(denominator))
}

// ComputeProfile derives a BehaviorProfile for the given intent and sender
// domain from the full behavior log. Empty inputs never match any row.
func (e *BehaviorEngine) ComputeProfile(ctx context.Context, intent, senderDomain string) (*BehaviorProfile, error) {
	rows, err := e.repo.AllEntries(ctx)
	if err != nil {
		return nil, err
	}

	cleanIntent := strings.ToLower(strings.TrimSpace(intent))
	cleanDomain := strings.ToLower(strings.TrimSpace(senderDomain))

	var senderTotal, senderReplies int
	var intentTotal, intentReplies int
	var openTotal, openOpened int
	var terminalTotal, overrides int

	for _, row := range rows {
		rowIntent := strings.ToLower(strings.TrimSpace(row.Intent))
		rowDomain := strings.ToLower(strings.TrimSpace(row.SenderDomain))
		rowFinal := strings.ToLower(strings.TrimSpace(row.UserFinalAction))
		terminal := IsTerminalOutcome(rowFinal)

		if cleanDomain != "" && rowDomain == cleanDomain {
			senderTotal++
			if terminal && isReplyOutcome(rowFinal) {
				senderReplies++
			}
			openTotal++
			if row.UserOpened {
				openOpened++
			}
		}

		if cleanIntent != "" && rowIntent == cleanIntent {
			intentTotal++
			if terminal && isReplyOutcome(rowFinal) {
				intentReplies++
			}
		}

		if !terminal {
			continue
		}
		terminalTotal++
		if isManualOverride(strings.ToLower(strings.TrimSpace(row.AgentAction)), rowFinal) {
			overrides++
		}
	}

	sampleSize := senderTotal
	if intentTotal > sampleSize {
		sampleSize = intentTotal
	}
	if terminalTotal > sampleSize {
		sampleSize = terminalTotal
	}
	if sampleSize <= 0 {
		return &BehaviorProfile{}, nil
	}

	replyRateBySender := safeRate(senderReplies, senderTotal)
	replyRateByIntent := safeRate(intentReplies, intentTotal)
	openRate := safeRate(openOpened, openTotal)
	overrideRate := safeRate(overrides, terminalTotal)

	// Reply history dominates; open rate and override history are minor.
	importance := 0.60*replyRateBySender +
		0.30*replyRateByIntent +
		0.05*openRate +
		0.05*(1.0-overrideRate)

	profile := &BehaviorProfile{
		ReplyRateBySender:  clamp01(replyRateBySender),
		ReplyRateByIntent:  clamp01(replyRateByIntent),
		OpenRate:           clamp01(openRate),
		ManualOverrideRate: clamp01(overrideRate),
		ImportanceScore:    clamp01(importance),
		SampleSize:         sampleSize,
	}

	e.logger.Debug("Computed behavior profile",
		zap.String("intent", cleanIntent),
		zap.String("sender_domain", cleanDomain),
		zap.Float64("importance_score", profile.ImportanceScore),
		zap.Int("sample_size", profile.SampleSize))

	return profile, nil
}

// LogEvent upserts the behavior log entry for one decided email.
func (e *BehaviorEngine) LogEvent(ctx context.Context, entry *BehaviorLogEntry) error {
	if entry.EmailID == "" {
		return nil
	}
	entry.Intent = strings.TrimSpace(entry.Intent)
	entry.SenderDomain = strings.ToLower(strings.TrimSpace(entry.SenderDomain))
	entry.ProposedAction = strings.ToLower(strings.TrimSpace(entry.ProposedAction))
	entry.AgentAction = strings.ToLower(strings.TrimSpace(entry.AgentAction))
	if !IsTerminalOutcome(entry.UserFinalAction) {
		entry.UserFinalAction = ""
	} else {
		entry.UserFinalAction = strings.ToLower(strings.TrimSpace(entry.UserFinalAction))
	}
	entry.LLMConfidence = clamp01(entry.LLMConfidence)
	entry.BehaviorScore = clamp01(entry.BehaviorScore)
	entry.FinalScore = clamp01(entry.FinalScore)
	entry.UpdatedAt = time.Now().UTC()
	return e.repo.UpsertEntry(ctx, entry)
}

// RecordFinalAction records the user's real terminal action for an email.
// Returns false when the outcome is not recognized or no entry exists.
func (e *BehaviorEngine) RecordFinalAction(ctx context.Context, emailID, outcome string) (bool, error) {
	clean := strings.ToLower(strings.TrimSpace(outcome))
	if !IsTerminalOutcome(clean) {
		return false, nil
	}
	entry, err := e.repo.GetEntry(ctx, emailID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	entry.UserFinalAction = clean
	entry.UserOpened = true
	entry.UpdatedAt = time.Now().UTC()
	if err := e.repo.UpsertEntry(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

// RecordOpened marks an email's log entry as opened by the user.
func (e *BehaviorEngine) RecordOpened(ctx context.Context, emailID string) (bool, error) {
	if emailID == "" {
		return false, nil
	}
	entry, err := e.repo.GetEntry(ctx, emailID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	entry.UserOpened = true
	entry.UpdatedAt = time.Now().UTC()
	if err := e.repo.UpsertEntry(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEmail() *Email {
	return &Email{
		ID:      "msg-1",
		From:    "Jordan Vaughn <jordan@acme.com>",
		To:      []string{"me@example.com"},
		Subject: "Project proposal",
		Body:    "Can you review the attached proposal?",
	}
}

func boolRef(b bool) *bool { return &b }

func TestBehaviorWeight(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	tests := []struct {
		name       string
		sampleSize int
		want       float64
	}{
		{"no history", 0, 0.0},
		{"partial ramp", 10, 0.16},
		{"half ramp", 12, 0.192},
		{"at full samples", 25, 0.40},
		{"beyond full samples", 100, 0.40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, engine.BehaviorWeight(tt.sampleSize), 1e-9)
		})
	}
}

func TestDecisionConfigSanitized(t *testing.T) {
	cfg := DecisionConfig{FullBehaviorAtSamples: 0, MaxBehaviorInfluence: 1.5}.sanitized()
	assert.Equal(t, 25, cfg.FullBehaviorAtSamples)
	assert.Equal(t, 0.40, cfg.MaxBehaviorInfluence)

	cfg = DecisionConfig{FullBehaviorAtSamples: 10, MaxBehaviorInfluence: 0.25}.sanitized()
	assert.Equal(t, 10, cfg.FullBehaviorAtSamples)
	assert.Equal(t, 0.25, cfg.MaxBehaviorInfluence)
}

func TestBehaviorWeightZeroedRamp(t *testing.T) {
	// A zeroed sample target must not poison the weight with a division
	// by zero; the engine falls back to its default ramp.
	cfg := DefaultDecisionConfig()
	cfg.FullBehaviorAtSamples = 0
	engine := NewDecisionEngine(cfg, zap.NewNop())

	assert.Equal(t, 0.0, engine.BehaviorWeight(0))
	assert.InDelta(t, 0.16, engine.BehaviorWeight(10), 1e-9)
	assert.False(t, math.IsNaN(engine.BehaviorWeight(0)))

	analysis := &Analysis{
		NextAction: ActionDraftReply,
		Confidence: 0.30,
	}
	decision := engine.Decide(testEmail(), analysis, &BehaviorProfile{})
	assert.False(t, math.IsNaN(decision.FinalScore))
	assert.Equal(t, ActionEscalateReview, decision.Action)
}

func TestDecideMeetingOverride(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	analysis := &Analysis{
		Intent:     "Meeting Request",
		NextAction: ActionDraftReply,
		Confidence: 0.9,
		MeetingDetails: &MeetingDetails{
			Summary:   "Quarterly sync",
			StartTime: "2026-09-01T15:00:00Z",
		},
	}

	decision := engine.Decide(testEmail(), analysis, &BehaviorProfile{})

	assert.Equal(t, ActionScheduleMeet, decision.ProposedAction)
	assert.Equal(t, ActionScheduleMeet, decision.Action)
	// The proposal is corrected in place so execution sees the override.
	assert.Equal(t, ActionScheduleMeet, analysis.NextAction)
}

func TestDecideMeetingOverrideBeatsIgnore(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	analysis := &Analysis{
		NextAction: ActionIgnore,
		Confidence: 0.95,
		MeetingDetails: &MeetingDetails{
			Summary:   "Standup",
			StartTime: "2026-09-01T09:00:00Z",
		},
	}

	decision := engine.Decide(testEmail(), analysis, &BehaviorProfile{})
	assert.Equal(t, ActionScheduleMeet, decision.Action)
}

func TestDecideMeetingOverrideNeedsSummaryAndStart(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	analysis := &Analysis{
		NextAction:     ActionDraftReply,
		Confidence:     0.9,
		MeetingDetails: &MeetingDetails{Summary: "Sync without a time"},
	}

	decision := engine.Decide(testEmail(), analysis, &BehaviorProfile{})
	assert.Equal(t, ActionDraftReply, decision.Action)
}

func TestDecideLowSampleIgnoreInvariant(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	analysis := &Analysis{
		Intent:     "Newsletter",
		NextAction: ActionIgnore,
		Confidence: 0.95,
	}
	// A hot behavior signal from very few samples must not flip a clear
	// ignore.
	profile := &BehaviorProfile{
		ImportanceScore: 0.95,
		SampleSize:      3,
	}

	decision := engine.Decide(testEmail(), analysis, profile)
	assert.Equal(t, ActionIgnore, decision.Action)
	assert.Equal(t, decision.ProposedAction, decision.Action)
}

func TestDecideDraftReplyCascade(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	tests := []struct {
		name           string
		confidence     float64
		requiresAction *bool
		profile        *BehaviorProfile
		want           Action
	}{
		{
			name:       "high confidence drafts automatically",
			confidence: 0.90,
			profile:    &BehaviorProfile{},
			want:       ActionDraftReply,
		},
		{
			name:           "mid score with required action becomes a task",
			confidence:     0.62,
			requiresAction: boolRef(true),
			profile:        &BehaviorProfile{},
			want:           ActionCreateTask,
		},
		{
			name:       "mid score without required action escalates",
			confidence: 0.62,
			profile:    &BehaviorProfile{},
			want:       ActionEscalateReview,
		},
		{
			name:       "low confidence escalates",
			confidence: 0.30,
			profile:    &BehaviorProfile{},
			want:       ActionEscalateReview,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := &Analysis{
				NextAction:     ActionDraftReply,
				Confidence:     tt.confidence,
				RequiresAction: tt.requiresAction,
				ActionReason:   "sender asked a direct question",
			}
			decision := engine.Decide(testEmail(), analysis, tt.profile)
			assert.Equal(t, tt.want, decision.Action)
		})
	}
}

func TestDecideIgnoreUpgradedByBehavior(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	analysis := &Analysis{
		Intent:         "Status Update",
		NextAction:     ActionIgnore,
		Confidence:     0.50,
		RequiresAction: boolRef(true),
		ActionReason:   "routine update",
	}
	profile := &BehaviorProfile{
		ImportanceScore: 0.70,
		SampleSize:      30,
	}

	decision := engine.Decide(testEmail(), analysis, profile)

	// final score = 0.6*0.50 + 0.4*0.70 = 0.58: above review, below task.
	require.InDelta(t, 0.58, decision.FinalScore, 1e-9)
	assert.Equal(t, ActionIgnore, decision.ProposedAction)
	assert.Equal(t, ActionEscalateReview, decision.Action)
	assert.Contains(t, decision.ActionReason, "Adaptive routing changed action from ignore to escalate_human_review")
	assert.Contains(t, decision.ActionReason, "routine update")
}

func TestDecidePassThroughActions(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	for _, action := range []Action{ActionCreateTask, ActionFlagUrgent, ActionEscalateReview, ActionScheduleMeet} {
		analysis := &Analysis{NextAction: action, Confidence: 0.10}
		profile := &BehaviorProfile{ImportanceScore: 0.9, SampleSize: 50}
		decision := engine.Decide(testEmail(), analysis, profile)
		assert.Equal(t, action, decision.Action, "action %s should pass through", action)
	}
}

func TestDecideAuditFields(t *testing.T) {
	engine := NewDecisionEngine(DefaultDecisionConfig(), zap.NewNop())

	analysis := &Analysis{
		NextAction: ActionDraftReply,
		Confidence: 0.80,
	}
	profile := &BehaviorProfile{
		ReplyRateBySender:  0.5,
		ReplyRateByIntent:  0.4,
		OpenRate:           0.9,
		ManualOverrideRate: 0.1,
		ImportanceScore:    0.60,
		SampleSize:         25,
	}

	decision := engine.Decide(testEmail(), analysis, profile)

	assert.InDelta(t, 0.40, decision.BehaviorWeight, 1e-9)
	assert.InDelta(t, 0.6*0.80+0.4*0.60, decision.FinalScore, 1e-9)
	assert.Equal(t, 25, decision.SampleSize)
	assert.Equal(t, 0.5, decision.ReplyRateBySender)
	assert.Equal(t, 0.9, decision.OpenRate)
}

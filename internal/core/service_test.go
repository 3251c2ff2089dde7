package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/exec-email-agent/internal/adapters/store"
	"github.com/mikey/exec-email-agent/internal/core"
)

type scriptedLLM struct {
	analysis     *core.Analysis
	analyzeErr   error
	reply        *core.ReplyDraft
	replyErr     error
	analyzeCalls int
	replyCalls   int
}

func (l *scriptedLLM) AnalyzeEmail(_ context.Context, _ *core.Email) (*core.Analysis, error) {
	l.analyzeCalls++
	if l.analyzeErr != nil {
		return nil, l.analyzeErr
	}
	copied := *l.analysis
	return &copied, nil
}

func (l *scriptedLLM) GenerateReply(_ context.Context, _ *core.Email, _ *core.Analysis) (*core.ReplyDraft, error) {
	l.replyCalls++
	if l.replyErr != nil {
		return nil, l.replyErr
	}
	copied := *l.reply
	return &copied, nil
}

type recordingDraftWriter struct {
	drafts []string
	err    error
}

func (w *recordingDraftWriter) CreateDraft(_ context.Context, _ *core.Email, text string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.drafts = append(w.drafts, text)
	return "draft-1", nil
}

type recordingCalendar struct {
	events []core.EventDetails
	err    error
}

func (c *recordingCalendar) CreateEvent(_ context.Context, details core.EventDetails) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, details)
	return "evt-42", nil
}

type mutedList []string

func (m mutedList) IsMuted(from string) bool {
	for _, domain := range m {
		if strings.Contains(strings.ToLower(from), domain) {
			return true
		}
	}
	return false
}

type pipeline struct {
	store    *store.MemoryStore
	llm      *scriptedLLM
	drafts   *recordingDraftWriter
	calendar *recordingCalendar
	queue    *core.RetryQueue
	service  *core.TriageService
}

func newPipeline(t *testing.T, llm *scriptedLLM, muted core.MutedChecker) *pipeline {
	t.Helper()
	logger := zap.NewNop()
	backend := store.NewMemoryStore(logger)
	drafts := &recordingDraftWriter{}
	calendar := &recordingCalendar{}
	queue := core.NewRetryQueue(backend, core.DefaultRetryConfig(), logger)
	behavior := core.NewBehaviorEngine(backend, logger)
	decider := core.NewDecisionEngine(core.DefaultDecisionConfig(), logger)
	executor := core.NewActionExecutor(llm, backend, backend, drafts, calendar, logger)
	service := core.NewTriageService(llm, behavior, decider, executor, backend, queue, muted, logger)
	return &pipeline{
		store:    backend,
		llm:      llm,
		drafts:   drafts,
		calendar: calendar,
		queue:    queue,
		service:  service,
	}
}

func inboundEmail(id string) *core.Email {
	return &core.Email{
		ID:      id,
		From:    "Jordan Vaughn <jordan@acme.com>",
		To:      []string{"me@example.com"},
		Subject: "Budget review",
		Body:    "Could you confirm the Q4 numbers by Friday?",
	}
}

func yes() *bool { b := true; return &b }

func TestProcessEmailDraftsReply(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:        "Direct Question",
			RequiresReply: yes(),
			NextAction:    core.ActionDraftReply,
			ActionReason:  "Sender asked for confirmation.",
			Confidence:    0.70,
		},
		reply: &core.ReplyDraft{
			DraftReply: "Confirmed, the Q4 numbers are final.",
			Reasoning:  "Answering the direct question.",
			Confidence: 0.95,
		},
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	decision, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.NoError(t, err)
	assert.Equal(t, core.ActionDraftReply, decision.Action)
	require.NotNil(t, decision.Draft)
	assert.Equal(t, "Confirmed, the Q4 numbers are final.", decision.Draft.DraftReply)

	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "draft_reply", state.NextAction)
	assert.Contains(t, state.ReplyDraft, "Confirmed, the Q4 numbers are final.")
	assert.False(t, state.ReplyTimestamp.IsZero())
	assert.Equal(t, []string{"Confirmed, the Q4 numbers are final."}, p.drafts.drafts)

	entry, err := p.store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "acme.com", entry.SenderDomain)
	assert.Equal(t, "draft_reply", entry.AgentAction)
	assert.True(t, entry.RequiresReply)
}

func TestProcessEmailAnalysisFailureEnqueuesRetry(t *testing.T) {
	llm := &scriptedLLM{analyzeErr: errors.New("model overloaded")}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	_, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.Error(t, err)

	// The observation survives even though the decision failed.
	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Empty(t, state.NextAction)

	pending, err := p.store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].EmailID)
	assert.Equal(t, core.OpAnalyzeAndExecute, pending[0].Operation)
	assert.Contains(t, pending[0].LastError, "model overloaded")

	// Model recovers: the replay completes the decision and retires the row.
	llm.analyzeErr = nil
	llm.analysis = &core.Analysis{
		Intent:       "Status Update",
		NextAction:   core.ActionIgnore,
		ActionReason: "No response needed.",
		Confidence:   0.95,
	}
	processed, err := p.queue.ProcessBatch(ctx, p.service)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	pending, err = p.store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	state, err = p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "ignore", state.NextAction)
}

func TestProcessEmailMutedSenderSkipsModel(t *testing.T) {
	llm := &scriptedLLM{}
	p := newPipeline(t, llm, mutedList{"acme.com"})
	ctx := context.Background()

	decision, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.NoError(t, err)
	assert.Equal(t, core.ActionIgnore, decision.Action)
	assert.Equal(t, 1.0, decision.LLMConfidence)
	assert.Zero(t, llm.analyzeCalls)

	entry, err := p.store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Muted Sender", entry.Intent)
}

func TestProcessEmailCreatesTask(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:         "Request",
			RequiresAction: yes(),
			NextAction:     core.ActionCreateTask,
			ActionReason:   "Numbers need to be gathered first.",
			Confidence:     0.8,
		},
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	email := inboundEmail("e1")
	email.Body = strings.Repeat("x", 2000)
	decision, err := p.service.ProcessEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, core.ActionCreateTask, decision.Action)

	task, err := p.store.GetTask(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "Budget review", task.Title)
	assert.Equal(t, "open", task.Status)
	assert.Contains(t, task.Description, "Numbers need to be gathered first.")
	assert.Contains(t, task.Description, "Email excerpt:")
	// Long bodies are excerpted, not embedded whole.
	assert.Less(t, len(task.Description), 1700)

	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "open", state.TaskStatus)
}

func TestProcessEmailSchedulesMeeting(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:        "Meeting Request",
			RequiresReply: yes(),
			NextAction:    core.ActionDraftReply,
			ActionReason:  "Sender proposed a concrete slot.",
			Confidence:    0.85,
			MeetingDetails: &core.MeetingDetails{
				Summary:   "Q4 budget sync",
				StartTime: "2026-09-03T14:00:00Z",
				Agenda:    "Walk through the final numbers",
				Platform:  "Zoom",
			},
		},
		reply: &core.ReplyDraft{DraftReply: "Works for me, see you Thursday.", Confidence: 0.9},
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	decision, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.NoError(t, err)
	assert.Equal(t, core.ActionScheduleMeet, decision.Action)
	assert.Equal(t, "Created ID: evt-42", decision.CalendarEvent)

	require.Len(t, p.calendar.events, 1)
	event := p.calendar.events[0]
	assert.Equal(t, "Q4 budget sync", event.Summary)
	assert.Contains(t, event.Description, "Agenda: Walk through the final numbers")
	assert.Equal(t, []string{"jordan@acme.com"}, event.Attendees)

	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "schedule_meeting", state.NextAction)
	assert.Equal(t, "scheduled", state.TaskStatus)
	assert.Contains(t, state.ReplyDraft, "Works for me, see you Thursday.")
	assert.Equal(t, []string{"Works for me, see you Thursday."}, p.drafts.drafts)
}

func TestScheduleMeetingCalendarFailureIsNotFatal(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:       "Meeting Request",
			NextAction:   core.ActionScheduleMeet,
			ActionReason: "Meeting requested.",
			Confidence:   0.9,
			MeetingDetails: &core.MeetingDetails{
				Summary:   "Sync",
				StartTime: "2026-09-03T14:00:00Z",
			},
		},
		reply: &core.ReplyDraft{DraftReply: "Happy to meet.", Confidence: 0.9},
	}
	p := newPipeline(t, llm, nil)
	p.calendar.err = errors.New("calendar API quota exceeded")
	ctx := context.Background()

	decision, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.NoError(t, err)
	assert.Equal(t, "Failed to create event. Check logs.", decision.CalendarEvent)

	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "scheduled", state.TaskStatus)

	pending, err := p.store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestScheduleMeetingReplyFailureBlocksCompletion(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:       "Meeting Request",
			NextAction:   core.ActionScheduleMeet,
			ActionReason: "Meeting requested.",
			Confidence:   0.9,
			MeetingDetails: &core.MeetingDetails{
				Summary:   "Sync",
				StartTime: "2026-09-03T14:00:00Z",
			},
		},
		replyErr: errors.New("model overloaded"),
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	_, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.Error(t, err)

	// No terminal state was written, and a retry is queued.
	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, state.TaskStatus)

	pending, err := p.store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, "reply generation failed")
}

func TestDraftReplyFailureEnqueuesRetry(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:        "Direct Question",
			RequiresReply: yes(),
			NextAction:    core.ActionDraftReply,
			Confidence:    0.9,
		},
		replyErr: errors.New("model overloaded"),
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	_, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.Error(t, err)

	pending, err := p.store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Repeated failures coalesce into the same row.
	_, err = p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.Error(t, err)
	pending, err = p.store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestProcessEmailEscalatesAndFlags(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:       "Complaint",
			NextAction:   core.ActionFlagUrgent,
			ActionReason: "Production outage reported.",
			Urgency:      "high",
			Confidence:   0.9,
		},
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	_, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.NoError(t, err)
	state, err := p.store.GetState(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, state.UrgentFlag)

	llm.analysis = &core.Analysis{
		Intent:       "Unclear",
		NextAction:   core.ActionEscalateReview,
		ActionReason: "Ambiguous request.",
		Confidence:   0.3,
	}
	_, err = p.service.ProcessEmail(ctx, inboundEmail("e2"))
	require.NoError(t, err)
	state, err = p.store.GetState(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, state.NeedsHumanReview)
}

func TestProcessEmailRejectsMissingID(t *testing.T) {
	p := newPipeline(t, &scriptedLLM{}, nil)

	_, err := p.service.ProcessEmail(context.Background(), nil)
	assert.Error(t, err)
	_, err = p.service.ProcessEmail(context.Background(), &core.Email{From: "x@y.com"})
	assert.Error(t, err)
}

func TestRecordFinalActionFeedsNextProfile(t *testing.T) {
	llm := &scriptedLLM{
		analysis: &core.Analysis{
			Intent:        "Direct Question",
			RequiresReply: yes(),
			NextAction:    core.ActionDraftReply,
			Confidence:    0.9,
		},
		reply: &core.ReplyDraft{DraftReply: "On it.", Confidence: 0.9},
	}
	p := newPipeline(t, llm, nil)
	ctx := context.Background()

	_, err := p.service.ProcessEmail(ctx, inboundEmail("e1"))
	require.NoError(t, err)

	recorded, err := p.service.RecordFinalAction(ctx, "e1", core.OutcomeSentReply)
	require.NoError(t, err)
	assert.True(t, recorded)

	entry, err := p.store.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSentReply, entry.UserFinalAction)
	assert.True(t, entry.UserOpened)

	// The recorded outcome shows up in the profile for the next decision.
	behavior := core.NewBehaviorEngine(p.store, zap.NewNop())
	profile, err := behavior.ComputeProfile(ctx, "Direct Question", "acme.com")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.SampleSize)
	assert.Equal(t, 1.0, profile.ReplyRateBySender)
}

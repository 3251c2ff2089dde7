package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

const taskExcerptLimit = 1500

// ActionExecutor carries out the side effects of a final action: state
// recording, task upserts, reply drafting and calendar scheduling.
// Draft and calendar writers are optional; a nil writer skips that side
// effect without failing the decision.
type ActionExecutor struct {
	llm      LLMClient
	states   StateRepository
	tasks    TaskRepository
	drafts   DraftWriter
	calendar CalendarWriter
	logger   *zap.Logger
}

// NewActionExecutor creates a new action executor.
func NewActionExecutor(
	llm LLMClient,
	states StateRepository,
	tasks TaskRepository,
	drafts DraftWriter,
	calendar CalendarWriter,
	logger *zap.Logger,
) *ActionExecutor {
	return &ActionExecutor{
		llm:      llm,
		states:   states,
		tasks:    tasks,
		drafts:   drafts,
		calendar: calendar,
		logger:   logger,
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// Execute performs the side effects of the decision's final action.
// A returned error means the attempt must not be treated as complete: no
// terminal state was written and the caller is expected to enqueue a retry.
func (x *ActionExecutor) Execute(ctx context.Context, email *Email, analysis *Analysis, decision *Decision) error {
	switch decision.Action {
	case ActionIgnore:
		return x.states.UpdateActionState(ctx, email.ID, ActionStateUpdate{
			NextAction:       string(decision.Action),
			ActionReason:     decision.ActionReason,
			TaskStatus:       strPtr(""),
			UrgentFlag:       boolPtr(false),
			NeedsHumanReview: boolPtr(false),
		})

	case ActionDraftReply:
		draft, err := x.generateReply(ctx, email, analysis)
		if err != nil {
			return err
		}
		decision.Draft = draft
		draftJSON, _ := json.Marshal(draft)
		if err := x.states.UpdateActionState(ctx, email.ID, ActionStateUpdate{
			NextAction:       string(decision.Action),
			ActionReason:     decision.ActionReason,
			TaskStatus:       strPtr(""),
			UrgentFlag:       boolPtr(false),
			NeedsHumanReview: boolPtr(false),
			ReplyDraft:       strPtr(string(draftJSON)),
		}); err != nil {
			return err
		}
		x.createMailDraft(ctx, email, draft.DraftReply)
		return nil

	case ActionCreateTask:
		if err := x.upsertTask(ctx, email, decision.ActionReason); err != nil {
			return err
		}
		return x.states.UpdateActionState(ctx, email.ID, ActionStateUpdate{
			NextAction:   string(decision.Action),
			ActionReason: decision.ActionReason,
			TaskStatus:   strPtr("open"),
		})

	case ActionFlagUrgent:
		return x.states.UpdateActionState(ctx, email.ID, ActionStateUpdate{
			NextAction:   string(decision.Action),
			ActionReason: decision.ActionReason,
			UrgentFlag:   boolPtr(true),
		})

	case ActionEscalateReview:
		return x.states.UpdateActionState(ctx, email.ID, ActionStateUpdate{
			NextAction:       string(decision.Action),
			ActionReason:     decision.ActionReason,
			NeedsHumanReview: boolPtr(true),
		})

	case ActionScheduleMeet:
		return x.scheduleMeeting(ctx, email, analysis, decision)
	}

	return fmt.Errorf("unsupported action: %s", decision.Action)
}

// generateReply calls the reply generator; failure here blocks completion
// and is surfaced for retry.
func (x *ActionExecutor) generateReply(ctx context.Context, email *Email, analysis *Analysis) (*ReplyDraft, error) {
	draft, err := x.llm.GenerateReply(ctx, email, analysis)
	if err != nil {
		return nil, fmt.Errorf("reply generation failed: %w", err)
	}
	return draft, nil
}

// createMailDraft stores the reply draft in the mailbox; failures are
// logged, never fatal.
func (x *ActionExecutor) createMailDraft(ctx context.Context, email *Email, text string) {
	if x.drafts == nil {
		return
	}
	if _, err := x.drafts.CreateDraft(ctx, email, text); err != nil {
		x.logger.Warn("Failed to create mail draft",
			zap.String("email_id", email.ID),
			zap.Error(err))
	}
}

func (x *ActionExecutor) upsertTask(ctx context.Context, email *Email, reason string) error {
	title := strings.TrimSpace(email.Subject)
	if title == "" {
		title = "Email follow-up task"
	}
	description := strings.TrimSpace(reason)
	if description == "" {
		description = "Follow up required based on email analysis."
	}
	if body := strings.TrimSpace(email.Body); body != "" {
		excerpt := body
		if len(excerpt) > taskExcerptLimit {
			excerpt = excerpt[:taskExcerptLimit]
		}
		description = fmt.Sprintf("%s\n\nEmail excerpt:\n%s", description, excerpt)
	}
	return x.tasks.UpsertTask(ctx, &Task{
		EmailID:     email.ID,
		Title:       title,
		Description: description,
		Status:      "open",
	})
}

// scheduleMeeting always drafts an acceptance reply and records the email
// as scheduled; the calendar call is best-effort.
func (x *ActionExecutor) scheduleMeeting(ctx context.Context, email *Email, analysis *Analysis, decision *Decision) error {
	details := analysis.MeetingDetails
	if details == nil {
		details = &MeetingDetails{}
	}

	if x.calendar != nil && strings.TrimSpace(details.StartTime) != "" {
		eventID, err := x.calendar.CreateEvent(ctx, x.buildEventDetails(email, details, decision.ActionReason))
		if err != nil {
			decision.CalendarEvent = "Failed to create event. Check logs."
			x.logger.Warn("Failed to create calendar event",
				zap.String("email_id", email.ID),
				zap.Error(err))
		} else {
			decision.CalendarEvent = fmt.Sprintf("Created ID: %s", eventID)
		}
	}

	draft, err := x.generateReply(ctx, email, analysis)
	if err != nil {
		return err
	}
	decision.Draft = draft
	draftJSON, _ := json.Marshal(draft)
	x.createMailDraft(ctx, email, draft.DraftReply)

	return x.states.UpdateActionState(ctx, email.ID, ActionStateUpdate{
		NextAction:   string(decision.Action),
		ActionReason: decision.ActionReason,
		TaskStatus:   strPtr("scheduled"),
		ReplyDraft:   strPtr(string(draftJSON)),
	})
}

func (x *ActionExecutor) buildEventDetails(email *Email, details *MeetingDetails, reason string) EventDetails {
	summary := strings.TrimSpace(details.Summary)
	if summary == "" {
		summary = strings.TrimSpace(email.Subject)
	}
	if summary == "" {
		summary = "Meeting"
	}

	agenda := strings.TrimSpace(details.Agenda)
	if agenda == "" {
		agenda = "No agenda provided."
	}
	link := details.Link
	if link == "" {
		link = "N/A"
	}
	platform := details.Platform
	if platform == "" {
		platform = "N/A"
	}
	description := strings.Join([]string{
		reason,
		"",
		fmt.Sprintf("Sender: %s", email.From),
		fmt.Sprintf("Agenda: %s", agenda),
		"",
		fmt.Sprintf("Link: %s", link),
		fmt.Sprintf("Platform: %s", platform),
	}, "\n")

	var attendees []string
	if addr, err := mail.ParseAddress(email.From); err == nil && addr.Address != "" {
		attendees = append(attendees, addr.Address)
	}

	return EventDetails{
		Summary:     summary,
		Description: description,
		StartTime:   details.StartTime,
		Location:    details.Platform,
		Attendees:   attendees,
	}
}

package core

import (
	"context"
	"time"
)

// LLMClient defines the interface for the external reasoning service.
type LLMClient interface {
	// AnalyzeEmail classifies an email's intent and proposes a next action.
	AnalyzeEmail(ctx context.Context, email *Email) (*Analysis, error)

	// GenerateReply drafts a reply matching the analysis.
	GenerateReply(ctx context.Context, email *Email, analysis *Analysis) (*ReplyDraft, error)
}

// StateRepository persists the per-email lifecycle state.
type StateRepository interface {
	// SaveObservation upserts the observed email into durable state.
	SaveObservation(ctx context.Context, email *Email) error

	// GetState fetches the state row for an email, or nil when absent.
	GetState(ctx context.Context, emailID string) (*EmailState, error)

	// UpdateActionState records the decided action on an existing state row.
	// A missing row is a silent no-op.
	UpdateActionState(ctx context.Context, emailID string, update ActionStateUpdate) error
}

// ActionStateUpdate is a partial update of an email's action state.
// Nil pointer fields are left untouched.
type ActionStateUpdate struct {
	NextAction       string
	ActionReason     string
	TaskStatus       *string
	UrgentFlag       *bool
	NeedsHumanReview *bool
	ReplyDraft       *string
}

// BehaviorRepository persists and queries the behavior log.
type BehaviorRepository interface {
	// UpsertEntry creates or updates the log entry keyed by email ID.
	UpsertEntry(ctx context.Context, entry *BehaviorLogEntry) error

	// GetEntry fetches the entry for an email, or nil when absent.
	GetEntry(ctx context.Context, emailID string) (*BehaviorLogEntry, error)

	// AllEntries returns the full behavior log.
	AllEntries(ctx context.Context) ([]*BehaviorLogEntry, error)
}

// TaskRepository persists follow-up tasks keyed by email ID.
type TaskRepository interface {
	// UpsertTask creates the task or updates title/description in place.
	// An already-set status is never reset by a replayed upsert.
	UpsertTask(ctx context.Context, task *Task) error

	// GetTask fetches the task for an email, or nil when absent.
	GetTask(ctx context.Context, emailID string) (*Task, error)
}

// RetryRepository persists the durable retry queue.
type RetryRepository interface {
	// FindPending returns the pending row for (emailID, operation), or nil.
	FindPending(ctx context.Context, emailID, operation string) (*RetryItem, error)

	// Insert creates a new retry row.
	Insert(ctx context.Context, item *RetryItem) error

	// Update overwrites a retry row by ID.
	Update(ctx context.Context, item *RetryItem) error

	// Pending returns pending rows in creation order, up to limit.
	Pending(ctx context.Context, limit int) ([]*RetryItem, error)
}

// DraftWriter stores a reply draft in the user's mailbox.
// Failures are logged by callers and are never fatal to a decision.
type DraftWriter interface {
	CreateDraft(ctx context.Context, email *Email, text string) (string, error)
}

// EventDetails describes a calendar event to create.
type EventDetails struct {
	Summary     string
	Description string
	StartTime   string
	EndTime     string
	Location    string
	Attendees   []string
	Duration    time.Duration
}

// CalendarWriter creates calendar events.
// Failures are logged by callers and are never fatal to a decision.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, details EventDetails) (string, error)
}

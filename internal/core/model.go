package core

import (
	"net/mail"
	"strings"
	"time"
)

// Email represents an inbound email observed by the agent. It is owned by
// the ingestion side and is read-only to the decision engine.
type Email struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	ThreadID  string    `json:"thread_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SenderDomain extracts the lower-cased domain of the sender address.
// Returns "" when no domain can be found.
func (e *Email) SenderDomain() string {
	target := e.From
	if addr, err := mail.ParseAddress(e.From); err == nil {
		target = addr.Address
	}
	at := strings.LastIndex(target, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(target[at+1:]))
}

// Action is the handling action for an email.
type Action string

const (
	ActionIgnore         Action = "ignore"
	ActionDraftReply     Action = "draft_reply"
	ActionCreateTask     Action = "create_task"
	ActionFlagUrgent     Action = "flag_high_urgency"
	ActionEscalateReview Action = "escalate_human_review"
	ActionScheduleMeet   Action = "schedule_meeting"
)

var allowedActions = map[Action]struct{}{
	ActionIgnore:         {},
	ActionDraftReply:     {},
	ActionCreateTask:     {},
	ActionFlagUrgent:     {},
	ActionEscalateReview: {},
	ActionScheduleMeet:   {},
}

var actionAliases = map[string]Action{
	"draft":             ActionDraftReply,
	"reply":             ActionDraftReply,
	"create task":       ActionCreateTask,
	"task":              ActionCreateTask,
	"flag high urgency": ActionFlagUrgent,
	"high_urgency":      ActionFlagUrgent,
	"escalate":          ActionEscalateReview,
	"human_review":      ActionEscalateReview,
	"schedule meeting":  ActionScheduleMeet,
	"schedule":          ActionScheduleMeet,
	"meeting":           ActionScheduleMeet,
}

// ParseAction normalizes a model-provided action string to the allowed set.
// Unrecognized values fall back based on the requires-reply tri-state.
func ParseAction(value string, requiresReply *bool) Action {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if alias, ok := actionAliases[normalized]; ok {
		normalized = string(alias)
	}
	if _, ok := allowedActions[Action(normalized)]; ok {
		return Action(normalized)
	}
	if requiresReply != nil {
		if *requiresReply {
			return ActionDraftReply
		}
		return ActionIgnore
	}
	return ActionEscalateReview
}

// IsValid reports whether the action is one of the allowed actions.
func (a Action) IsValid() bool {
	_, ok := allowedActions[a]
	return ok
}

// MeetingDetails carries structured meeting information extracted by the LLM.
type MeetingDetails struct {
	Summary         string `json:"Summary"`
	Platform        string `json:"Platform"`
	Link            string `json:"Link"`
	StartTime       string `json:"StartTime"`
	DurationMinutes int    `json:"DurationMinutes"`
	Agenda          string `json:"Agenda"`
}

// HasSchedulableTime reports whether the details are complete enough to
// force a schedule_meeting decision.
func (m *MeetingDetails) HasSchedulableTime() bool {
	return m != nil &&
		strings.TrimSpace(m.StartTime) != "" &&
		strings.TrimSpace(m.Summary) != ""
}

// Analysis is the reasoning-service output for one email.
type Analysis struct {
	Intent         string          `json:"Intent"`
	RequiresReply  *bool           `json:"RequiresReply"`
	RequiresAction *bool           `json:"RequiresAction"`
	NextAction     Action          `json:"NextAction"`
	ActionReason   string          `json:"ActionReason"`
	Urgency        string          `json:"Urgency"`
	Reasoning      string          `json:"Reasoning"`
	Confidence     float64         `json:"Confidence"`
	MeetingDetails *MeetingDetails `json:"MeetingDetails,omitempty"`
}

// ReplyDraft is the reply generated for an email.
type ReplyDraft struct {
	DraftReply string  `json:"DraftReply"`
	Reasoning  string  `json:"Reasoning"`
	Confidence float64 `json:"Confidence"`
}

// Terminal outcomes a user can take on an email.
const (
	OutcomeSentReply   = "sent_reply"
	OutcomeIgnored     = "ignored"
	OutcomeEditedDraft = "edited_draft"
	OutcomeDeleted     = "deleted"
)

var terminalOutcomes = map[string]struct{}{
	OutcomeSentReply:   {},
	OutcomeIgnored:     {},
	OutcomeEditedDraft: {},
	OutcomeDeleted:     {},
}

// IsTerminalOutcome reports whether the outcome is a recognized user action.
func IsTerminalOutcome(outcome string) bool {
	_, ok := terminalOutcomes[strings.ToLower(strings.TrimSpace(outcome))]
	return ok
}

// BehaviorLogEntry is the historical outcome record for one email.
// There is at most one entry per email ID; it is updated in place as the
// real user action becomes known, and never deleted.
type BehaviorLogEntry struct {
	EmailID         string
	Intent          string
	SenderDomain    string
	RequiresReply   bool
	UserFinalAction string
	UserOpened      bool
	ProposedAction  string
	AgentAction     string
	LLMConfidence   float64
	BehaviorScore   float64
	FinalScore      float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BehaviorProfile aggregates historical behavior for one (intent, domain)
// query. It is derived on every decision and never stored.
type BehaviorProfile struct {
	ReplyRateBySender  float64
	ReplyRateByIntent  float64
	OpenRate           float64
	ManualOverrideRate float64
	ImportanceScore    float64
	SampleSize         int
}

// Retry queue statuses.
const (
	RetryStatusPending = "pending"
	RetryStatusDone    = "done"
	RetryStatusFailed  = "failed"
)

// OpAnalyzeAndExecute is the retry operation that re-runs the full
// analyze-decide-execute path for a stored email.
const OpAnalyzeAndExecute = "analyze_and_execute"

// RetryItem is one unit of re-work in the durable retry queue.
type RetryItem struct {
	ID          int64
	EmailID     string
	Operation   string
	Payload     string
	Status      string
	Attempts    int
	NextRetryAt time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmailState is the durable record of an email's handling lifecycle.
type EmailState struct {
	EmailID          string
	Sender           string
	Subject          string
	Body             string
	Timestamp        time.Time
	NextAction       string
	ActionReason     string
	TaskStatus       string
	UrgentFlag       bool
	NeedsHumanReview bool
	ReplyDraft       string
	ReplyTimestamp   time.Time
	ActionTimestamp  time.Time
}

// Task is a follow-up task derived from an email, keyed by email ID.
type Task struct {
	EmailID     string
	Title       string
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decision is the audit trail of one blend of proposed action, confidence
// and behavior prior into a final action.
type Decision struct {
	ProposedAction     Action
	Action             Action
	ActionReason       string
	LLMConfidence      float64
	ReplyRateBySender  float64
	ReplyRateByIntent  float64
	OpenRate           float64
	ManualOverrideRate float64
	ImportanceScore    float64
	BehaviorWeight     float64
	SampleSize         int
	FinalScore         float64
	Draft              *ReplyDraft
	CalendarEvent      string
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

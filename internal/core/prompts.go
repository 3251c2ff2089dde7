package core

import (
	"encoding/json"
	"fmt"
)

// AnalysisSystemPrompt pins the reasoning service to JSON-only output for
// email analysis.
const AnalysisSystemPrompt = "You are an intelligent executive email assistant. Respond only with JSON."

// ReplySystemPrompt pins the reasoning service to JSON-only output for
// reply drafting.
const ReplySystemPrompt = "You are an executive email assistant that writes concise, professional drafts. Respond only with JSON."

const analysisPromptFormat = `You are an intelligent executive email assistant.

Analyze the email carefully and answer the following:

1. Intent: What is the main purpose of the email?
2. RequiresReply: Does the sender expect a response from the recipient? (true/false)
3. RequiresAction: Does the email require the recipient to take any action? (true/false)
4. NextAction: choose exactly one of:
   - ignore
   - draft_reply
   - create_task
   - flag_high_urgency
   - escalate_human_review
   - schedule_meeting
5. ActionReason: Brief reason for NextAction.
6. Urgency: low / medium / high
7. Reasoning: Brief explanation.
8. Confidence: 0.0 to 1.0
9. MeetingDetails: If NextAction is schedule_meeting or a meeting is otherwise mentioned, provide:
   - Summary (string)
   - Platform (e.g., "Google Meet", "Zoom")
   - Link (string)
   - StartTime (ISO 8601 string)
   - DurationMinutes (integer)
   - Agenda (string): A short summary of what the meeting is about.

Important:
- **Keyword Trigger**: If the body or subject contains "meeting", "schedule", or "call", and a date/time is proposed or implied, prioritize schedule_meeting.
- Do not use keyword rules blindly; ensure context implies a meeting.
- Infer expectations socially and professionally.
- Newsletters, automated notifications, and marketing emails usually do not require replies.
- Direct questions, requests, proposals, confirmations usually require replies.

Return output strictly in JSON.
Use exactly these keys: Intent, RequiresReply, RequiresAction, NextAction, ActionReason, Urgency, Reasoning, Confidence, MeetingDetails.
Do not include markdown or any extra keys.

Email:
From: %s
To: %s
Subject: %s
Body:
%s`

const replyPromptFormat = `You are an executive email assistant that writes concise, professional drafts.

You will receive:
- The original email content.
- A structured analysis of that email.

Write a suitable reply draft that matches the analysis.
- If analysis indicates schedule_meeting as the NextAction, draft a polite acceptance of the invitation, acknowledging the date and time from MeetingDetails.
- If analysis indicates no reply is required, set DraftReply to an empty string and explain briefly.
Do not invent facts or commitments not present in the email.

Return output strictly in JSON.
Use exactly these keys: DraftReply, Reasoning, Confidence.
Confidence must be a number from 0.0 to 1.0.
Do not include markdown or any extra keys.

Email:
From: %s
Subject: %s
Body:
%s

Analysis:
%s`

// FormatRecipients renders a recipient list as "first and N others".
func FormatRecipients(to []string) string {
	if len(to) == 0 {
		return ""
	}
	first := to[0]
	if len(to) > 1 {
		return fmt.Sprintf("%s and %d others", first, len(to)-1)
	}
	return first
}

// AnalysisPrompt builds the full analysis prompt for an email. The body is
// passed separately so callers can truncate and sanitize it first.
func AnalysisPrompt(email *Email, body string) string {
	return fmt.Sprintf(analysisPromptFormat, email.From, FormatRecipients(email.To), email.Subject, body)
}

// ReplyPrompt builds the full reply-drafting prompt for an email and its
// prior analysis.
func ReplyPrompt(email *Email, analysis *Analysis, body string) string {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		analysisJSON = []byte("{}")
	}
	return fmt.Sprintf(replyPromptFormat, email.From, email.Subject, body, string(analysisJSON))
}

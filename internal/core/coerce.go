package core

import (
	"encoding/json"
	"strings"
)

// rawAnalysis mirrors the JSON the reasoning service is asked to emit.
// Fields are interface-typed because models routinely return booleans as
// strings and confidence as either a number or a quoted number.
type rawAnalysis struct {
	Intent         string          `json:"Intent"`
	RequiresReply  interface{}     `json:"RequiresReply"`
	RequiresAction interface{}     `json:"RequiresAction"`
	NextAction     string          `json:"NextAction"`
	ActionReason   string          `json:"ActionReason"`
	Urgency        string          `json:"Urgency"`
	Reasoning      string          `json:"Reasoning"`
	Confidence     interface{}     `json:"Confidence"`
	MeetingDetails *MeetingDetails `json:"MeetingDetails"`
}

type rawReply struct {
	DraftReply string      `json:"DraftReply"`
	Reasoning  string      `json:"Reasoning"`
	Confidence interface{} `json:"Confidence"`
}

// FallbackAnalysis is the safe default used when the reasoning service
// output cannot be parsed or the call itself failed.
func FallbackAnalysis(reasoning string) *Analysis {
	if reasoning == "" {
		reasoning = "Model response could not be parsed reliably."
	}
	return &Analysis{
		Intent:       "Unknown",
		NextAction:   ActionEscalateReview,
		ActionReason: "Analysis is uncertain; routing to human review.",
		Urgency:      "low",
		Reasoning:    reasoning,
		Confidence:   0.2,
	}
}

// FallbackReply is the safe default when reply generation fails.
func FallbackReply(reasoning string) *ReplyDraft {
	if reasoning == "" {
		reasoning = "Reply draft could not be generated reliably."
	}
	return &ReplyDraft{Reasoning: reasoning, Confidence: 0.2}
}

// extractJSON strips markdown fences and preamble by slicing between the
// first '{' and the last '}'.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end != -1 && start < end {
		return raw[start : end+1]
	}
	return raw
}

func coerceTriState(v interface{}) *bool {
	switch val := v.(type) {
	case bool:
		b := val
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true":
			b := true
			return &b
		case "false":
			b := false
			return &b
		}
	}
	return nil
}

func coerceConfidence(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return clamp01(val)
	case int:
		return clamp01(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0.2
		}
		return clamp01(f)
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(val)), &f); err != nil {
			return 0.2
		}
		return clamp01(f)
	default:
		return 0.2
	}
}

// CoerceAnalysis validates raw reasoning-service output into a typed
// Analysis. It never fails: malformed payloads degrade to FallbackAnalysis
// and the returned bool reports whether the payload parsed cleanly.
func CoerceAnalysis(raw string) (*Analysis, bool) {
	var parsed rawAnalysis
	parseOK := true
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		fb := FallbackAnalysis("")
		parsed = rawAnalysis{
			Intent:       fb.Intent,
			NextAction:   string(fb.NextAction),
			ActionReason: fb.ActionReason,
			Urgency:      fb.Urgency,
			Reasoning:    fb.Reasoning,
			Confidence:   fb.Confidence,
		}
		parseOK = false
	}

	a := &Analysis{
		Intent:         strings.TrimSpace(parsed.Intent),
		RequiresReply:  coerceTriState(parsed.RequiresReply),
		RequiresAction: coerceTriState(parsed.RequiresAction),
		ActionReason:   strings.TrimSpace(parsed.ActionReason),
		Urgency:        strings.ToLower(strings.TrimSpace(parsed.Urgency)),
		Reasoning:      strings.TrimSpace(parsed.Reasoning),
		Confidence:     coerceConfidence(parsed.Confidence),
		MeetingDetails: parsed.MeetingDetails,
	}
	if a.Intent == "" {
		a.Intent = "Unknown"
	}
	if a.Reasoning == "" {
		a.Reasoning = "No reasoning provided."
	}
	if a.ActionReason == "" {
		a.ActionReason = a.Reasoning
	}
	switch a.Urgency {
	case "low", "medium", "high":
	default:
		a.Urgency = "low"
	}
	a.NextAction = ParseAction(parsed.NextAction, a.RequiresReply)
	return a, parseOK
}

// CoerceReply validates raw reply-generation output into a typed ReplyDraft,
// degrading to FallbackReply on malformed payloads.
func CoerceReply(raw string) *ReplyDraft {
	var parsed rawReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return FallbackReply("")
	}
	r := &ReplyDraft{
		DraftReply: strings.TrimSpace(parsed.DraftReply),
		Reasoning:  strings.TrimSpace(parsed.Reasoning),
		Confidence: coerceConfidence(parsed.Confidence),
	}
	if r.Reasoning == "" {
		r.Reasoning = "No reasoning provided."
	}
	return r
}

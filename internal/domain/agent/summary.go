package agent

import (
	"encoding/json"
	"strings"
)

// Summary is the structured result of summarizing an interview.
type Summary struct {
	Summary         string   `json:"summary"`
	KeyFindings     []string `json:"key_findings"`
	RisksIdentified []string `json:"risks_identified"`
	FollowUpItems   []string `json:"follow_up_items"`
	Sentiment       string   `json:"sentiment"`
}

// ParseSummary decodes the model's summary reply. Fenced code blocks are
// stripped first. Malformed JSON degrades to a fallback carrying the raw
// text as the summary; this never fails, availability wins over structure.
func ParseSummary(raw string) *Summary {
	text := stripCodeFence(strings.TrimSpace(raw))

	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return &Summary{
			Summary:         strings.TrimSpace(raw),
			KeyFindings:     []string{},
			RisksIdentified: []string{},
			FollowUpItems:   []string{},
			Sentiment:       "unknown",
		}
	}
	if s.KeyFindings == nil {
		s.KeyFindings = []string{}
	}
	if s.RisksIdentified == nil {
		s.RisksIdentified = []string{}
	}
	if s.FollowUpItems == nil {
		s.FollowUpItems = []string{}
	}
	if s.Sentiment == "" {
		s.Sentiment = "unknown"
	}
	return &s
}

// stripCodeFence unwraps ```json ... ``` (or bare ```) around a payload.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.Index(text, "\n"); i >= 0 {
		// Drop the language tag line (e.g. "json").
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// Package agent implements the AI interviewer: stateless prompt building and
// the stateful dialogue controller that drives one interview session.
package agent

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Phase is an advisory hint for where the interview currently is. The model
// paces itself; nothing here enforces phase transitions.
type Phase string

const (
	PhaseIcebreaker Phase = "icebreaker"
	PhaseMain       Phase = "main"
	PhaseProbing    Phase = "probing"
	PhaseClosing    Phase = "closing"
)

// Hint renders the phase as text for the system prompt.
func (p Phase) Hint() string {
	switch p {
	case PhaseIcebreaker:
		return "Icebreaker: open warmly, put the interviewee at ease, do not ask substantive questions yet."
	case PhaseMain:
		return "Main questions: work through the listed questions one at a time, in order."
	case PhaseProbing:
		return "Probing follow-ups: dig into earlier answers that were vague, surprising, or incomplete."
	case PhaseClosing:
		return "Closing: thank the interviewee, confirm nothing was missed, and wrap up."
	default:
		return string(p)
	}
}

// MissingVariablesError reports template variables required but absent.
type MissingVariablesError struct {
	Template string
	Keys     []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("prompt %q: missing variables: %s", e.Template, strings.Join(e.Keys, ", "))
}

// promptTemplate couples a parsed template with the variables it requires.
type promptTemplate struct {
	name     string
	tmpl     *template.Template
	required []string
}

func mustPrompt(name, text string, required ...string) *promptTemplate {
	return &promptTemplate{
		name:     name,
		tmpl:     template.Must(template.New(name).Parse(text)),
		required: required,
	}
}

// render fails before touching the template when any required variable is
// absent or empty, naming every missing key.
func (p *promptTemplate) render(vars map[string]any) (string, error) {
	var missing []string
	for _, key := range p.required {
		v, ok := vars[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		switch tv := v.(type) {
		case string:
			if strings.TrimSpace(tv) == "" {
				missing = append(missing, key)
			}
		case []string:
			if len(tv) == 0 {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingVariablesError{Template: p.name, Keys: missing}
	}

	var b strings.Builder
	if err := p.tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("prompt %q: execute: %w", p.name, err)
	}
	return b.String(), nil
}

// ─── templates ───────────────────────────────────────────────────────────────

var standardSystemPrompt = mustPrompt("system_standard", `You are a professional interviewer conducting an interview on behalf of {{.organization_name}}.
Interview purpose: {{.purpose}}
Use case: {{.use_case_type}}
Conduct the entire conversation in {{.language}}.

Questions to cover, in order:
{{range .questions}}- {{.}}
{{end}}
The interview moves through four phases: icebreaker, main questions, probing follow-ups, closing.
Current phase guidance: {{.phase_hint}}

Ask exactly one question per turn. Listen actively, acknowledge answers briefly, and keep a respectful, neutral tone. Do not fabricate facts about {{.organization_name}}.`,
	"organization_name", "purpose", "use_case_type", "language", "questions", "phase_hint")

var anonymousSystemPrompt = mustPrompt("system_anonymous", `You are a professional interviewer conducting an anonymous survey on behalf of {{.organization_name}}.
Survey purpose: {{.purpose}}
Use case: {{.use_case_type}}
Conduct the entire conversation in {{.language}}.

Questions to cover, in order:
{{range .questions}}- {{.}}
{{end}}
The interview moves through four phases: icebreaker, main questions, probing follow-ups, closing.
Current phase guidance: {{.phase_hint}}

This survey is strictly anonymous. Never ask for the respondent's name, contact details, employee ID, department, job title, or anything else that could identify them, and steer away if they start volunteering such detail.

Ask exactly one question per turn. Listen actively and keep a respectful, neutral tone.`,
	"organization_name", "purpose", "use_case_type", "language", "questions", "phase_hint")

var openingPrompt = mustPrompt("opening", `Begin the interview now. Greet the interviewee, introduce yourself as the AI interviewer for {{.organization_name}}, state the purpose in one sentence, and ask a light icebreaker question. Keep it to a few sentences.`,
	"organization_name")

var closingPrompt = mustPrompt("closing", `The interview is ending. Thank the interviewee for their time and close the conversation warmly.
Briefly reflect these key points back to them:
{{range .key_findings}}- {{.}}
{{end}}
Do not ask any further questions.`)

var summaryPrompt = mustPrompt("summary", `Summarize the interview transcript below. Respond with a single JSON object and nothing else, using exactly these keys:
{"summary": string, "key_findings": [string], "risks_identified": [string], "follow_up_items": [string], "sentiment": "positive"|"neutral"|"negative"}

Transcript:
{{.transcript}}`,
	"transcript")

// ─── builders ────────────────────────────────────────────────────────────────

// BuildSystemPrompt renders the system prompt for ctx at the given phase,
// selecting the anonymous family when the template demands it.
func BuildSystemPrompt(ctx InterviewContext, phase Phase) (string, error) {
	vars := map[string]any{
		"organization_name": ctx.OrganizationName,
		"purpose":           ctx.Purpose,
		"use_case_type":     ctx.UseCaseType,
		"language":          ctx.Language,
		"questions":         ctx.Questions,
		"phase_hint":        phase.Hint(),
	}
	if ctx.IsAnonymous {
		return anonymousSystemPrompt.render(vars)
	}
	return standardSystemPrompt.render(vars)
}

// BuildOpeningPrompt renders the instruction that elicits the opening turn.
func BuildOpeningPrompt(ctx InterviewContext) (string, error) {
	return openingPrompt.render(map[string]any{"organization_name": ctx.OrganizationName})
}

// BuildClosingPrompt renders the instruction that elicits the closing turn.
// keyFindings may be empty.
func BuildClosingPrompt(keyFindings []string) (string, error) {
	return closingPrompt.render(map[string]any{"key_findings": keyFindings})
}

// BuildSummaryPrompt renders the strict-JSON summarization request.
func BuildSummaryPrompt(transcript string) (string, error) {
	return summaryPrompt.render(map[string]any{"transcript": transcript})
}

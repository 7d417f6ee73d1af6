package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kaiwa-ai/kaiwa/internal/infra/llm"
)

// One-shot guard errors.
var (
	ErrAlreadyStarted   = errors.New("agent: interview already started")
	ErrNotStarted       = errors.New("agent: interview not started")
	ErrAlreadyCompleted = errors.New("agent: interview already completed")
)

// Turn roles in the dialogue history.
const (
	TurnAI   = "ai"
	TurnUser = "user"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// InterviewContext is the immutable per-session context assembled from the
// task, template, and interview records.
type InterviewContext struct {
	InterviewID      string
	OrganizationName string
	UseCaseType      string
	Purpose          string
	Questions        []string
	IsAnonymous      bool
	Language         string
	Metadata         map[string]string
}

// Turn is one entry in the dialogue history.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Agent drives one interview as a three-state machine: not started, started,
// completed. History is append-only; turns are never mutated or reordered.
type Agent struct {
	ictx     InterviewContext
	provider llm.Provider

	mu        sync.Mutex
	history   []Turn
	started   bool
	completed bool

	now func() time.Time
}

// New returns an Agent for ictx backed by provider.
func New(ictx InterviewContext, provider llm.Provider) *Agent {
	return &Agent{ictx: ictx, provider: provider, now: time.Now}
}

// Context returns the session's interview context.
func (a *Agent) Context() InterviewContext { return a.ictx }

// Started reports whether Start has succeeded.
func (a *Agent) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Completed reports whether End has succeeded.
func (a *Agent) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Start opens the interview: builds the system and opening prompts, asks the
// model for the opening turn, and records it. Fails with ErrAlreadyStarted on
// re-entry.
func (a *Agent) Start(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	a.mu.Unlock()

	system, err := BuildSystemPrompt(a.ictx, PhaseIcebreaker)
	if err != nil {
		return "", err
	}
	opening, err := BuildOpeningPrompt(a.ictx)
	if err != nil {
		return "", err
	}

	resp, err := a.provider.ChatCompletion(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: opening},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("agent: start: %w", err)
	}

	a.mu.Lock()
	a.appendTurn(TurnAI, resp.Content)
	a.started = true
	a.mu.Unlock()
	return resp.Content, nil
}

// Respond records the user's message, asks the model for a reply over the
// full history, records the reply, and returns it. The user turn is appended
// before the model call so it survives a provider failure.
func (a *Agent) Respond(ctx context.Context, userMessage string) (string, error) {
	req, err := a.acceptUserTurn(userMessage)
	if err != nil {
		return "", err
	}

	resp, err := a.provider.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent: respond: %w", err)
	}

	a.mu.Lock()
	a.appendTurn(TurnAI, resp.Content)
	a.mu.Unlock()
	return resp.Content, nil
}

// RespondStream is Respond with a streamed reply. Chunks are forwarded on
// the returned channel; once the stream finishes cleanly the concatenated
// reply is appended to history. A stream error is forwarded as the terminal
// chunk and nothing is appended.
func (a *Agent) RespondStream(ctx context.Context, userMessage string) (<-chan llm.ChatChunk, error) {
	req, err := a.acceptUserTurn(userMessage)
	if err != nil {
		return nil, err
	}

	upstream, err := a.provider.ChatStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent: respond stream: %w", err)
	}

	out := make(chan llm.ChatChunk)
	go func() {
		defer close(out)
		var full strings.Builder
		clean := false
		for chunk := range upstream {
			if chunk.Err == nil {
				full.WriteString(chunk.Content)
				clean = clean || chunk.Final
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if clean {
			a.mu.Lock()
			a.appendTurn(TurnAI, full.String())
			a.mu.Unlock()
		}
	}()
	return out, nil
}

// End computes the structured summary, asks the model for a closing message
// referencing its key findings, records the closing turn, and marks the
// interview completed. Fails with ErrAlreadyCompleted on re-entry.
func (a *Agent) End(ctx context.Context) (closing string, summary *Summary, err error) {
	a.mu.Lock()
	switch {
	case !a.started:
		a.mu.Unlock()
		return "", nil, ErrNotStarted
	case a.completed:
		a.mu.Unlock()
		return "", nil, ErrAlreadyCompleted
	}
	a.mu.Unlock()

	summary, err = a.Summarize(ctx)
	if err != nil {
		return "", nil, err
	}

	prompt, err := BuildClosingPrompt(summary.KeyFindings)
	if err != nil {
		return "", nil, err
	}
	system, err := BuildSystemPrompt(a.ictx, PhaseClosing)
	if err != nil {
		return "", nil, err
	}

	messages := a.conversation(system)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	resp, err := a.provider.ChatCompletion(ctx, llm.ChatRequest{
		Messages:    messages,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("agent: end: %w", err)
	}

	a.mu.Lock()
	a.appendTurn(TurnAI, resp.Content)
	a.completed = true
	a.mu.Unlock()
	return resp.Content, summary, nil
}

// Summarize asks the model for a structured JSON summary of the dialogue so
// far. A provider failure is returned as an error; a malformed reply is not,
// it degrades to ParseSummary's fallback.
func (a *Agent) Summarize(ctx context.Context) (*Summary, error) {
	prompt, err := BuildSummaryPrompt(a.transcriptText())
	if err != nil {
		return nil, err
	}

	resp, err := a.provider.ChatCompletion(ctx, llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: summarize: %w", err)
	}
	return ParseSummary(resp.Content), nil
}

// Transcript returns a copy of the dialogue history in order.
func (a *Agent) Transcript() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.history))
	copy(out, a.history)
	return out
}

// ─── internals ───────────────────────────────────────────────────────────────

// acceptUserTurn checks the respond guards, appends the user turn, and builds
// the chat request over the updated history.
func (a *Agent) acceptUserTurn(userMessage string) (llm.ChatRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.started:
		return llm.ChatRequest{}, ErrNotStarted
	case a.completed:
		return llm.ChatRequest{}, ErrAlreadyCompleted
	}

	a.appendTurn(TurnUser, userMessage)

	system, err := BuildSystemPrompt(a.ictx, a.phaseLocked())
	if err != nil {
		return llm.ChatRequest{}, err
	}
	return llm.ChatRequest{
		Messages:    a.conversationLocked(system),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}, nil
}

// appendTurn adds a turn with a timestamp clamped to be non-decreasing.
// Callers hold a.mu.
func (a *Agent) appendTurn(role, content string) {
	ts := a.now()
	if n := len(a.history); n > 0 && ts.Before(a.history[n-1].Timestamp) {
		ts = a.history[n-1].Timestamp
	}
	a.history = append(a.history, Turn{Role: role, Content: content, Timestamp: ts})
}

// phaseLocked derives the advisory phase from the user-turn count relative to
// the question list. Callers hold a.mu.
func (a *Agent) phaseLocked() Phase {
	if a.completed {
		return PhaseClosing
	}
	userTurns := 0
	for _, t := range a.history {
		if t.Role == TurnUser {
			userTurns++
		}
	}
	switch {
	case userTurns == 0:
		return PhaseIcebreaker
	case userTurns <= len(a.ictx.Questions):
		return PhaseMain
	default:
		return PhaseProbing
	}
}

func (a *Agent) conversation(system string) []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationLocked(system)
}

// conversationLocked rebuilds the provider message array from the system
// prompt plus the full history. Callers hold a.mu.
func (a *Agent) conversationLocked(system string) []llm.Message {
	messages := make([]llm.Message, 0, len(a.history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range a.history {
		role := llm.RoleUser
		if t.Role == TurnAI {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return messages
}

func (a *Agent) transcriptText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.history) == 0 {
		return "(no dialogue recorded)"
	}
	var b strings.Builder
	for _, t := range a.history {
		label := "Interviewee"
		if t.Role == TurnAI {
			label = "Interviewer"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, t.Content)
	}
	return b.String()
}

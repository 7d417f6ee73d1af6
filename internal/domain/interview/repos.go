package interview

import (
	"context"
	"encoding/json"
	"time"
)

// Repositories the session orchestrator depends on. The sqlite services in
// this package are the production implementations; tests substitute stubs.

// InterviewRepo drives one interview's lifecycle and transcript.
type InterviewRepo interface {
	Get(ctx context.Context, id string) (*Interview, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, summary json.RawMessage) error
	AddTranscriptEntry(ctx context.Context, interviewID, role, content string, spokenAt time.Time) (*TranscriptEntry, error)
	GetTranscript(ctx context.Context, interviewID string) ([]TranscriptEntry, error)
}

// TaskRepo reads tasks and maintains their aggregate status.
type TaskRepo interface {
	Get(ctx context.Context, id string) (*Task, error)
	UpdateStatus(ctx context.Context, id string, status TaskStatus) error
	RecomputeStatus(ctx context.Context, id string) (TaskStatus, error)
}

// TemplateRepo reads interview templates.
type TemplateRepo interface {
	Get(ctx context.Context, id string) (*Template, error)
}

// UserRepo resolves authenticated subjects.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// Package interview holds the interview domain model: lifecycle status
// machine, transcript records, and the sqlite-backed repositories the
// session orchestrator drives.
package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("interview: not found")

// Status is the persisted interview lifecycle state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Transcript roles.
const (
	RoleAI   = "ai"
	RoleUser = "user"
)

// TaskStatus is the aggregate status of an interview task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// InvalidTransitionError reports a lifecycle operation attempted from a
// status that does not permit it. The stored row is left unchanged.
type InvalidTransitionError struct {
	Op   string
	From Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("interview: cannot %s from status %q", e.Op, e.From)
}

// allowedFrom maps each lifecycle operation to the statuses it may leave.
var allowedFrom = map[string][]Status{
	"start":    {StatusScheduled, StatusPaused},
	"pause":    {StatusInProgress},
	"resume":   {StatusPaused},
	"complete": {StatusInProgress, StatusPaused},
}

// CheckTransition returns nil when op is legal from the given status, or a
// *InvalidTransitionError otherwise.
func CheckTransition(op string, from Status) error {
	for _, s := range allowedFrom[op] {
		if s == from {
			return nil
		}
	}
	return &InvalidTransitionError{Op: op, From: from}
}

// Interview is one scheduled conversation with one interviewee.
type Interview struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"taskId"`
	IntervieweeID *string         `json:"intervieweeId,omitempty"`
	Status        Status          `json:"status"`
	Summary       json.RawMessage `json:"summary,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TranscriptEntry is one persisted dialogue turn.
type TranscriptEntry struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interviewId"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	SpokenAtMS  int64     `json:"spokenAtMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Task groups the interviews run for one organization and purpose.
type Task struct {
	ID               string     `json:"id"`
	TemplateID       string     `json:"templateId"`
	OrganizationName string     `json:"organizationName"`
	Purpose          string     `json:"purpose"`
	Status           TaskStatus `json:"status"`
	DurationMinutes  int        `json:"durationMinutes"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Template defines the question set and constraints an interview follows.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	UseCaseType string    `json:"useCaseType"`
	Questions   []string  `json:"questions"`
	IsAnonymous bool      `json:"isAnonymous"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"createdAt"`
}

// User is an authenticated interviewee or operator.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CompletedEvent is the payload published on the interview.completed topic.
type CompletedEvent struct {
	InterviewID string
	TaskID      string
}

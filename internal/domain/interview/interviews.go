package interview

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/uuid"
)

// InterviewService is the sqlite-backed InterviewRepo.
type InterviewService struct {
	db *sql.DB
}

// NewInterviewService returns an InterviewService over db.
func NewInterviewService(db *sql.DB) *InterviewService {
	return &InterviewService{db: db}
}

// CreateInterviewInput describes a new interview row.
type CreateInterviewInput struct {
	TaskID        string
	IntervieweeID string
}

// Create inserts a scheduled interview and returns it.
func (s *InterviewService) Create(ctx context.Context, input CreateInterviewInput) (*Interview, error) {
	id := uuid.NewV7().String()
	now := time.Now().UTC()

	var interviewee any
	if input.IntervieweeID != "" {
		interviewee = input.IntervieweeID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interviews (id, task_id, interviewee_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, input.TaskID, interviewee, StatusScheduled, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("interview: create: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches one interview by id.
func (s *InterviewService) Get(ctx context.Context, id string) (*Interview, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, interviewee_id, status, summary, started_at, completed_at, created_at
		FROM interviews WHERE id = ?`, id)
	return scanInterview(row)
}

// Start moves the interview to in_progress and stamps started_at.
func (s *InterviewService) Start(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.transition(ctx, id, "start",
		"UPDATE interviews SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?",
		StatusInProgress, now, id)
}

// Pause moves an in-progress interview to paused.
func (s *InterviewService) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, "pause",
		"UPDATE interviews SET status = ? WHERE id = ?",
		StatusPaused, id)
}

// Resume moves a paused interview back to in_progress.
func (s *InterviewService) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id, "resume",
		"UPDATE interviews SET status = ? WHERE id = ?",
		StatusInProgress, id)
}

// Complete marks the interview completed and stores its summary.
func (s *InterviewService) Complete(ctx context.Context, id string, summary json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.transition(ctx, id, "complete",
		"UPDATE interviews SET status = ?, summary = ?, completed_at = ? WHERE id = ?",
		StatusCompleted, string(summary), now, id)
}

// transition applies update inside a transaction after validating the current
// status against the operation's transition table. An illegal transition
// leaves the row untouched.
func (s *InterviewService) transition(ctx context.Context, id, op, update string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("interview: %s: begin: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM interviews WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("interview: %s: read status: %w", op, err)
	}
	if err := CheckTransition(op, current); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return fmt.Errorf("interview: %s: update: %w", op, err)
	}
	return tx.Commit()
}

// AddTranscriptEntry appends one dialogue turn to the interview's transcript.
func (s *InterviewService) AddTranscriptEntry(ctx context.Context, interviewID, role, content string, spokenAt time.Time) (*TranscriptEntry, error) {
	entry := &TranscriptEntry{
		ID:          uuid.NewV7().String(),
		InterviewID: interviewID,
		Role:        role,
		Content:     content,
		SpokenAtMS:  spokenAt.UnixMilli(),
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_entries (id, interview_id, role, content, spoken_at_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.InterviewID, entry.Role, entry.Content, entry.SpokenAtMS,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("interview: add transcript entry: %w", err)
	}
	return entry, nil
}

// GetTranscript returns the interview's turns in spoken order.
func (s *InterviewService) GetTranscript(ctx context.Context, interviewID string) ([]TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, interview_id, role, content, spoken_at_ms, created_at
		FROM transcript_entries
		WHERE interview_id = ?
		ORDER BY spoken_at_ms, id`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("interview: get transcript: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.InterviewID, &e.Role, &e.Content, &e.SpokenAtMS, &createdAt); err != nil {
			return nil, fmt.Errorf("interview: scan transcript entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interview: iterate transcript: %w", err)
	}
	return entries, nil
}

// ─── scanning helpers ────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (*Interview, error) {
	var (
		iv          Interview
		interviewee sql.NullString
		summary     sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
		createdAt   string
	)
	err := row.Scan(&iv.ID, &iv.TaskID, &interviewee, &iv.Status, &summary,
		&startedAt, &completedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("interview: scan: %w", err)
	}
	if interviewee.Valid {
		iv.IntervieweeID = &interviewee.String
	}
	if summary.Valid {
		iv.Summary = json.RawMessage(summary.String)
	}
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		iv.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		iv.CompletedAt = &t
	}
	iv.CreatedAt = parseTime(createdAt)
	return &iv, nil
}

// parseTime reads RFC3339 first, then SQLite's default datetime format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s) //nolint:errcheck
	return t
}

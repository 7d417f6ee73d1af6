package interview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaiwa-ai/kaiwa/internal/infra/eventbus"
	"github.com/kaiwa-ai/kaiwa/pkg/uuid"
)

// TaskService is the sqlite-backed TaskRepo.
type TaskService struct {
	db *sql.DB
}

// NewTaskService returns a TaskService over db.
func NewTaskService(db *sql.DB) *TaskService {
	return &TaskService{db: db}
}

// CreateTaskInput describes a new task row.
type CreateTaskInput struct {
	TemplateID       string
	OrganizationName string
	Purpose          string
	DurationMinutes  int
}

// Create inserts a pending task and returns it.
func (s *TaskService) Create(ctx context.Context, input CreateTaskInput) (*Task, error) {
	id := uuid.NewV7().String()
	now := time.Now().UTC()
	duration := input.DurationMinutes
	if duration <= 0 {
		duration = 30
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, template_id, organization_name, purpose, status, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, input.TemplateID, input.OrganizationName, input.Purpose,
		TaskPending, duration, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("task: create: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches one task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*Task, error) {
	var (
		t         Task
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, organization_name, purpose, status, duration_minutes, created_at
		FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.TemplateID, &t.OrganizationName, &t.Purpose, &t.Status, &t.DurationMinutes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task: get: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// UpdateStatus sets the task's status directly.
func (s *TaskService) UpdateStatus(ctx context.Context, id string, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE tasks SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("task: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task: update status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecomputeStatus derives the task's status from its interviews and stores
// it: every interview completed means completed, any interview underway or
// paused means in_progress, otherwise pending.
func (s *TaskService) RecomputeStatus(ctx context.Context, id string) (TaskStatus, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status FROM interviews WHERE task_id = ?", id)
	if err != nil {
		return "", fmt.Errorf("task: recompute: query interviews: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var total, completed, active int
	for rows.Next() {
		var st Status
		if err := rows.Scan(&st); err != nil {
			return "", fmt.Errorf("task: recompute: scan: %w", err)
		}
		total++
		switch st {
		case StatusCompleted:
			completed++
		case StatusInProgress, StatusPaused:
			active++
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("task: recompute: iterate: %w", err)
	}

	status := TaskPending
	switch {
	case total > 0 && completed == total:
		status = TaskCompleted
	case active > 0:
		status = TaskInProgress
	}

	if err := s.UpdateStatus(ctx, id, status); err != nil {
		return "", err
	}
	return status, nil
}

// RunRecomputeSubscriber consumes interview.completed events and recomputes
// the owning task's status until ctx is cancelled. Run it on its own
// goroutine.
func (s *TaskService) RunRecomputeSubscriber(ctx context.Context, bus eventbus.EventBus, log *slog.Logger) {
	events := bus.Subscribe(eventbus.TopicInterviewCompleted)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			done, ok := evt.Payload.(CompletedEvent)
			if !ok {
				log.Warn("recompute subscriber: unexpected payload", "payload", fmt.Sprintf("%T", evt.Payload))
				continue
			}
			status, err := s.RecomputeStatus(ctx, done.TaskID)
			if err != nil {
				log.Error("recompute task status", "task_id", done.TaskID, "error", err)
				continue
			}
			log.Info("task status recomputed", "task_id", done.TaskID, "status", string(status))
		}
	}
}

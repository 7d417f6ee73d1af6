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

// TemplateService is the sqlite-backed TemplateRepo.
type TemplateService struct {
	db *sql.DB
}

// NewTemplateService returns a TemplateService over db.
func NewTemplateService(db *sql.DB) *TemplateService {
	return &TemplateService{db: db}
}

// CreateTemplateInput describes a new template row.
type CreateTemplateInput struct {
	Name        string
	UseCaseType string
	Questions   []string
	IsAnonymous bool
	Language    string
}

// Create inserts a template and returns it.
func (s *TemplateService) Create(ctx context.Context, input CreateTemplateInput) (*Template, error) {
	id := uuid.NewV7().String()
	now := time.Now().UTC()

	questions, err := json.Marshal(input.Questions)
	if err != nil {
		return nil, fmt.Errorf("template: marshal questions: %w", err)
	}
	language := input.Language
	if language == "" {
		language = "ja"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, use_case_type, questions, is_anonymous, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, input.Name, input.UseCaseType, string(questions),
		boolToInt(input.IsAnonymous), language, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("template: create: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches one template by id, decoding its question list.
func (s *TemplateService) Get(ctx context.Context, id string) (*Template, error) {
	var (
		t         Template
		questions string
		anonymous int
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, use_case_type, questions, is_anonymous, language, created_at
		FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.UseCaseType, &questions, &anonymous, &t.Language, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("template: get: %w", err)
	}
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return nil, fmt.Errorf("template: decode questions: %w", err)
	}
	t.IsAnonymous = anonymous != 0
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

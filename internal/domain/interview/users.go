package interview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/uuid"
)

// UserService is the sqlite-backed UserRepo.
type UserService struct {
	db *sql.DB
}

// NewUserService returns a UserService over db.
func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db}
}

// Create inserts a user and returns it.
func (s *UserService) Create(ctx context.Context, email, displayName string) (*User, error) {
	id := uuid.NewV7().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES (?, ?, ?, ?)`,
		id, email, displayName, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("user: create: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches one user.
func (s *UserService) GetByID(ctx context.Context, id string) (*User, error) {
	var (
		u         User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: get: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

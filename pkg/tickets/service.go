// Package tickets provides basic support ticket storage
package tickets

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
)

// Ticket statuses
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Ticket is a support request filed by a user
type Ticket struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateTicketRequest carries the fields for a new ticket
type CreateTicketRequest struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Service provides ticket operations backed by Postgres
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a ticket service
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Create files a new ticket in the open state
func (s *Service) Create(ctx context.Context, req *CreateTicketRequest) (*Ticket, error) {
	if req.UserID == "" {
		return nil, billing.NewValidationError("user_id", "required", "user id is required")
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, billing.NewValidationError("subject", "required", "subject is required")
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, billing.NewValidationError("body", "required", "body is required")
	}

	now := s.now()
	t := &Ticket{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Subject:   subject,
		Body:      body,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, user_id, subject, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Subject, t.Body, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return t, nil
}

// GetByID retrieves a ticket
func (s *Service) GetByID(ctx context.Context, id string) (*Ticket, error) {
	t := &Ticket{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, subject, body, status, created_at, updated_at
		FROM tickets WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, billing.NewNotFoundError("ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// ListByUser returns a user's tickets, newest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, subject, body, status, created_at, updated_at
		FROM tickets WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t := &Ticket{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Subject, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// Close resolves an open ticket. Closing an already closed ticket conflicts.
func (s *Service) Close(ctx context.Context, id string) (*Ticket, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusClosed {
		return nil, billing.NewStateConflictError("ticket is already closed")
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, StatusClosed, now, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to close ticket: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, billing.NewStateConflictError("ticket is already closed")
	}

	t.Status = StatusClosed
	t.UpdatedAt = now
	return t, nil
}

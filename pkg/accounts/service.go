// Package accounts manages user accounts. Only the surface the billing
// engine needs lives here: ownership lookups for notifications and the
// unverified-account retention policy.
package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
)

// Account represents a user account
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service provides account persistence
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a new account Service
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Create registers a new unverified account
func (s *Service) Create(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, billing.NewValidationError("email", "invalid", "a valid email address is required")
	}

	now := s.now()
	account := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, verified, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4)
	`, account.ID, account.Email, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetByID retrieves an account
func (s *Service) GetByID(ctx context.Context, id string) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, verified, created_at, updated_at FROM accounts WHERE id = $1
	`, id).Scan(&account.ID, &account.Email, &account.Verified, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, billing.NewNotFoundError("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Email returns the email address of an account, for notifications
func (s *Service) Email(ctx context.Context, id string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM accounts WHERE id = $1`, id).Scan(&email)
	if err == sql.ErrNoRows {
		return "", billing.NewNotFoundError("account", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get account email: %w", err)
	}
	return email, nil
}

// MarkVerified flips an account to verified
func (s *Service) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET verified = TRUE, updated_at = $1 WHERE id = $2
	`, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to verify account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify account: %w", err)
	}
	if affected == 0 {
		return billing.NewNotFoundError("account", id)
	}
	return nil
}

// DeleteUnverifiedBefore hard-deletes unverified accounts created before
// the cutoff. The UnverifiedCleanup worker's action; naturally idempotent.
func (s *Service) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM accounts WHERE verified = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unverified accounts: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete unverified accounts: %w", err)
	}
	return deleted, nil
}

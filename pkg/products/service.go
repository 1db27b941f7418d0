// Package products manages the catalog of purchasable plans
package products

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
)

// Product is a purchasable plan in the catalog
type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	MonthlyPriceCents int64     `json:"monthly_price_cents"`
	Location          string    `json:"location"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateProductRequest carries the fields for a new catalog entry
type CreateProductRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	MonthlyPrice float64 `json:"monthly_price"`
	Location     string  `json:"location"`
}

// Service provides catalog operations backed by Postgres
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a product catalog service
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Create adds a product to the catalog
func (s *Service) Create(ctx context.Context, req *CreateProductRequest) (*Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, billing.NewValidationError("name", "required", "name is required")
	}
	if req.MonthlyPrice < 0 {
		return nil, billing.NewValidationError("monthly_price", "invalid", "monthly price must not be negative")
	}

	now := s.now()
	p := &Product{
		ID:                uuid.New().String(),
		Name:              name,
		Description:       strings.TrimSpace(req.Description),
		MonthlyPriceCents: billing.MajorToMinor(req.MonthlyPrice),
		Location:          strings.TrimSpace(req.Location),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, monthly_price_cents, location, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, p.MonthlyPriceCents, p.Location, p.Archived, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return p, nil
}

// GetByID retrieves a product
func (s *Service) GetByID(ctx context.Context, id string) (*Product, error) {
	p := &Product{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, monthly_price_cents, location, archived, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.MonthlyPriceCents, &p.Location, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, billing.NewNotFoundError("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// List returns catalog entries, optionally including archived ones
func (s *Service) List(ctx context.Context, includeArchived bool) ([]*Product, error) {
	query := `
		SELECT id, name, description, monthly_price_cents, location, archived, created_at, updated_at
		FROM products`
	if !includeArchived {
		query += ` WHERE archived = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.MonthlyPriceCents, &p.Location, &p.Archived, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Archive hides a product from the catalog without deleting it. Existing
// services keep their plan.
func (s *Service) Archive(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products SET archived = TRUE, updated_at = $2 WHERE id = $1`, id, s.now())
	if err != nil {
		return fmt.Errorf("failed to archive product: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return billing.NewNotFoundError("product", id)
	}
	return nil
}

package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maybeizen/fluxo-sub000/pkg/observability"
)

const serviceColumns = `id, product_id, service_owner_id, external_id, name, status,
	monthly_price_cents, due_date, location, dedicated_ip, proxy_addon,
	is_cancelled, cancellation_reason, cancellation_date,
	is_suspended, suspension_reason, suspension_date,
	creation_error, last_notified_at, created_at, updated_at`

const (
	cancellationReasonMin = 10
	cancellationReasonMax = 500
)

// ServiceLifecycle owns every status mutation a service can undergo.
// Neither a suspended nor a cancelled service returns to active.
type ServiceLifecycle struct {
	db     *sql.DB
	cache  Cache
	logger *observability.Logger
	now    func() time.Time
}

// NewServiceLifecycle creates a new ServiceLifecycle
func NewServiceLifecycle(db *sql.DB, cache Cache, logger *observability.Logger) *ServiceLifecycle {
	return &ServiceLifecycle{
		db:     db,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Create provisions a new active service
func (l *ServiceLifecycle) Create(ctx context.Context, req *CreateServiceRequest) (*Service, error) {
	if req.ServiceOwnerID == "" {
		return nil, NewValidationError("service_owner_id", "required", "service owner is required")
	}
	if req.Name == "" {
		return nil, NewValidationError("name", "required", "service name is required")
	}
	if req.MonthlyPriceCents < 0 {
		return nil, NewValidationError("monthly_price_cents", "negative", "monthly price cannot be negative")
	}

	now := l.now()
	svc := &Service{
		ID:                uuid.NewString(),
		ProductID:         req.ProductID,
		ServiceOwnerID:    req.ServiceOwnerID,
		Name:              req.Name,
		Status:            ServiceStatusActive,
		MonthlyPriceCents: req.MonthlyPriceCents,
		DueDate:           req.DueDate,
		Location:          req.Location,
		DedicatedIP:       req.DedicatedIP,
		ProxyAddon:        req.ProxyAddon,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := insertService(ctx, l.db, svc); err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	invalidateService(ctx, l.cache, svc)
	return svc, nil
}

// Cancel moves an active service to cancelled. Requires a healthy service
// (no creation error) and a reason of 10-500 characters.
func (l *ServiceLifecycle) Cancel(ctx context.Context, svc *Service, reason string) (*Service, error) {
	if len(reason) < cancellationReasonMin || len(reason) > cancellationReasonMax {
		return nil, NewValidationError("reason", "length",
			fmt.Sprintf("cancellation reason must be between %d and %d characters", cancellationReasonMin, cancellationReasonMax))
	}
	if svc.Status != ServiceStatusActive {
		return nil, NewStateConflictError("only active services can be cancelled")
	}
	if svc.CreationError {
		return nil, NewStateConflictError("services with a creation error cannot be cancelled")
	}

	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE services SET status = $1, is_cancelled = TRUE, cancellation_reason = $2,
			cancellation_date = $3, updated_at = $3
		WHERE id = $4 AND status = $5 AND creation_error = FALSE
	`, ServiceStatusCancelled, reason, now, svc.ID, ServiceStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel service: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to cancel service: %w", err)
	}
	if affected == 0 {
		return nil, NewStateConflictError("only active services can be cancelled")
	}

	updated := *svc
	updated.Status = ServiceStatusCancelled
	updated.IsCancelled = true
	updated.CancellationReason = reason
	updated.CancellationDate = &now
	updated.UpdatedAt = now

	invalidateService(ctx, l.cache, &updated)
	l.logger.WithField("service_id", svc.ID).Info("service cancelled")
	return &updated, nil
}

// Suspend moves an active service to suspended. System-only: never exposed
// through a user-facing route; the suspension worker is the sole caller
// besides admin tooling.
func (l *ServiceLifecycle) Suspend(ctx context.Context, svc *Service, reason string) (*Service, error) {
	if svc.Status != ServiceStatusActive {
		return nil, NewStateConflictError("only active services can be suspended")
	}

	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE services SET status = $1, is_suspended = TRUE, suspension_reason = $2,
			suspension_date = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`, ServiceStatusSuspended, reason, now, svc.ID, ServiceStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to suspend service: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to suspend service: %w", err)
	}
	if affected == 0 {
		// Already flipped by a concurrent tick; the guard makes this a no-op.
		return svc, nil
	}

	updated := *svc
	updated.Status = ServiceStatusSuspended
	updated.IsSuspended = true
	updated.SuspensionReason = reason
	updated.SuspensionDate = &now
	updated.UpdatedAt = now

	invalidateService(ctx, l.cache, &updated)
	l.logger.WithField("service_id", svc.ID).WithField("reason", reason).Info("service suspended")
	return &updated, nil
}

// Update applies a field patch with no status change
func (l *ServiceLifecycle) Update(ctx context.Context, svc *Service, patch *ServicePatch) (*Service, error) {
	updated := *svc
	now := l.now()

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, NewValidationError("name", "required", "service name cannot be empty")
		}
		_, err := l.db.ExecContext(ctx, `
			UPDATE services SET name = $1, updated_at = $2 WHERE id = $3
		`, *patch.Name, now, svc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update service: %w", err)
		}
		updated.Name = *patch.Name
		updated.UpdatedAt = now
	}

	invalidateService(ctx, l.cache, &updated)
	return &updated, nil
}

// GetByID gets a service with caching
func (l *ServiceLifecycle) GetByID(ctx context.Context, id string) (*Service, error) {
	cacheKey := serviceKey(id)
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var svc Service
		if err := json.Unmarshal(cached, &svc); err == nil {
			return &svc, nil
		}
	}

	svc, err := scanService(l.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+` FROM services WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("service", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	if data, err := json.Marshal(svc); err == nil {
		l.cache.Set(ctx, cacheKey, data, serviceTTL)
	}
	return svc, nil
}

// ListByOwner lists a user's services with caching
func (l *ServiceLifecycle) ListByOwner(ctx context.Context, ownerID string) ([]*Service, error) {
	cacheKey := userServicesKey(ownerID)
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var services []*Service
		if err := json.Unmarshal(cached, &services); err == nil {
			return services, nil
		}
	}

	services, err := l.queryServices(ctx, `
		SELECT `+serviceColumns+` FROM services WHERE service_owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(services); err == nil {
		l.cache.Set(ctx, cacheKey, data, serviceListTTL)
	}
	return services, nil
}

// List lists all services, newest first, with caching
func (l *ServiceLifecycle) List(ctx context.Context) ([]*Service, error) {
	cacheKey := "service:list:all"
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var services []*Service
		if err := json.Unmarshal(cached, &services); err == nil {
			return services, nil
		}
	}

	services, err := l.queryServices(ctx, `
		SELECT `+serviceColumns+` FROM services ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(services); err == nil {
		l.cache.Set(ctx, cacheKey, data, serviceListTTL)
	}
	return services, nil
}

// FindActiveDueBetween returns active services whose due date falls in
// [from, to). Used by the InvoiceCreation worker's 7-day-ahead day bucket.
func (l *ServiceLifecycle) FindActiveDueBetween(ctx context.Context, from, to time.Time) ([]*Service, error) {
	return l.queryServices(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE status = $1 AND due_date >= $2 AND due_date < $3
		ORDER BY due_date
	`, ServiceStatusActive, from, to)
}

// FindOverdueForSuspension returns active services more than the grace
// window past due. The cutoff is day-truncated by the caller.
func (l *ServiceLifecycle) FindOverdueForSuspension(ctx context.Context, cutoff time.Time) ([]*Service, error) {
	return l.queryServices(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE status = $1 AND due_date < $2
		ORDER BY due_date
	`, ServiceStatusActive, cutoff)
}

// FindActiveDueInBucket returns active services whose due date falls in the
// day bucket containing the given timestamp, skipping services already
// notified today
func (l *ServiceLifecycle) FindActiveDueInBucket(ctx context.Context, day time.Time) ([]*Service, error) {
	bucketStart := startOfDay(day)
	bucketEnd := bucketStart.Add(24 * time.Hour)
	return l.queryServices(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE status = $1 AND due_date >= $2 AND due_date < $3
		  AND (last_notified_at IS NULL OR last_notified_at < $4)
		ORDER BY due_date
	`, ServiceStatusActive, bucketStart, bucketEnd, startOfDay(l.now()))
}

// MarkNotified stamps a service as notified so the same day bucket does not
// resend after a restart
func (l *ServiceLifecycle) MarkNotified(ctx context.Context, serviceID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE services SET last_notified_at = $1 WHERE id = $2
	`, l.now(), serviceID)
	if err != nil {
		return fmt.Errorf("failed to mark service notified: %w", err)
	}
	l.cache.Del(ctx, serviceKey(serviceID))
	return nil
}

func insertService(ctx context.Context, q querier, svc *Service) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO services (id, product_id, service_owner_id, external_id, name, status,
			monthly_price_cents, due_date, location, dedicated_ip, proxy_addon,
			creation_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, svc.ID, svc.ProductID, svc.ServiceOwnerID, svc.ExternalID, svc.Name, svc.Status,
		svc.MonthlyPriceCents, svc.DueDate, svc.Location, svc.DedicatedIP, svc.ProxyAddon,
		svc.CreationError, svc.CreatedAt, svc.UpdatedAt)
	return err
}

func scanService(row rowScanner) (*Service, error) {
	svc := &Service{}
	err := row.Scan(
		&svc.ID, &svc.ProductID, &svc.ServiceOwnerID, &svc.ExternalID, &svc.Name,
		&svc.Status, &svc.MonthlyPriceCents, &svc.DueDate, &svc.Location,
		&svc.DedicatedIP, &svc.ProxyAddon,
		&svc.IsCancelled, &svc.CancellationReason, &svc.CancellationDate,
		&svc.IsSuspended, &svc.SuspensionReason, &svc.SuspensionDate,
		&svc.CreationError, &svc.LastNotifiedAt, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (l *ServiceLifecycle) queryServices(ctx context.Context, query string, args ...any) ([]*Service, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

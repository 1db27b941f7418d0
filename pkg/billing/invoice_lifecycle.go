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

const invoiceColumns = `id, user_id, service_id, transaction_id, status, amount_cents, currency,
	metadata, coupon_code, coupon_type, coupon_value, payment_provider,
	created_at, updated_at, paid_at, expires_at, expired_at, last_reminded_at`

// Invoice expiry fallbacks, in tie-break order: explicit date, linked
// service due date + 7 days, now + 3 days. All normalized to end of day.
const (
	serviceExpiryGrace = 7 * 24 * time.Hour
	defaultExpiryGrace = 3 * 24 * time.Hour
	provisionedDueIn   = 30 * 24 * time.Hour
)

// InvoiceLifecycle owns every status mutation an invoice can undergo. No
// other code path writes invoice status fields.
type InvoiceLifecycle struct {
	db      *sql.DB
	cache   Cache
	coupons *CouponRedemptionLedger
	logger  *observability.Logger
	now     func() time.Time
}

// NewInvoiceLifecycle creates a new InvoiceLifecycle
func NewInvoiceLifecycle(db *sql.DB, cache Cache, coupons *CouponRedemptionLedger, logger *observability.Logger) *InvoiceLifecycle {
	return &InvoiceLifecycle{
		db:      db,
		cache:   cache,
		coupons: coupons,
		logger:  logger,
		now:     time.Now,
	}
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ComputeExpiry resolves the expiry timestamp for a new invoice. The
// ordering is a fixed tie-break: an explicit date wins, then a linked
// service's due date plus seven days, then three days from now.
func (l *InvoiceLifecycle) ComputeExpiry(explicit *time.Time, linked *Service) time.Time {
	if explicit != nil {
		return endOfDay(*explicit)
	}
	if linked != nil {
		return endOfDay(linked.DueDate.Add(serviceExpiryGrace))
	}
	return endOfDay(l.now().Add(defaultExpiryGrace))
}

// Create persists a new pending invoice and its items atomically. The
// amount is caller-supplied in minor units; the API boundary converts major
// units with round(value*100).
func (l *InvoiceLifecycle) Create(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	if len(req.Items) == 0 {
		return nil, NewValidationError("items", "required", "an invoice needs at least one item")
	}
	for i, item := range req.Items {
		if item.TotalCents <= 0 {
			return nil, NewValidationError(fmt.Sprintf("items[%d].total", i), "non-positive", "item total must be positive")
		}
	}
	if req.UserID == "" {
		return nil, NewValidationError("user_id", "required", "user id is required")
	}

	var linked *Service
	if req.ServiceID != nil && req.ExpiresAt == nil {
		svc, err := l.getService(ctx, *req.ServiceID)
		if err != nil {
			return nil, err
		}
		linked = svc
	}

	now := l.now()
	inv := &Invoice{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		ServiceID:       req.ServiceID,
		Status:          InvoiceStatusPending,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		Metadata:        req.Metadata,
		PaymentProvider: req.PaymentProvider,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       l.ComputeExpiry(req.ExpiresAt, linked),
	}

	metadataJSON, err := json.Marshal(inv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, user_id, service_id, status, amount_cents, currency,
			metadata, payment_provider, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inv.ID, inv.UserID, inv.ServiceID, inv.Status, inv.AmountCents, inv.Currency,
		metadataJSON, inv.PaymentProvider, inv.CreatedAt, inv.UpdatedAt, inv.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	for _, item := range req.Items {
		item.ID = uuid.NewString()
		item.InvoiceID = inv.ID
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, name, quantity, unit_price_cents, total_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.InvoiceID, item.Name, item.Quantity, item.UnitPriceCents, item.TotalCents)
		if err != nil {
			return nil, fmt.Errorf("failed to create invoice item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}

	inv.Items = req.Items
	invalidateInvoice(ctx, l.cache, inv)
	return inv, nil
}

// TransitionToPaid marks a pending invoice as paid. Idempotent: an invoice
// that is already paid, or already carries a paidAt timestamp, is returned
// untouched. The service provisioning and coupon redemption side effects run
// inside the same transaction as the status flip; on any failure the whole
// transition rolls back.
func (l *InvoiceLifecycle) TransitionToPaid(ctx context.Context, inv *Invoice, explicitPaidAt *time.Time) (*Invoice, error) {
	if inv.Status == InvoiceStatusPaid || inv.PaidAt != nil {
		return inv, nil
	}

	paidAt := l.now()
	if explicitPaidAt != nil {
		paidAt = *explicitPaidAt
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE invoices SET status = $1, paid_at = $2, updated_at = $3
		WHERE id = $4 AND status <> $1 AND paid_at IS NULL
	`, InvoiceStatusPaid, paidAt, paidAt, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if affected == 0 {
		// Lost the race to a concurrent payment; the guard makes this a no-op.
		return inv, nil
	}

	updated := *inv
	updated.Status = InvoiceStatusPaid
	updated.PaidAt = &paidAt
	updated.UpdatedAt = paidAt

	if inv.ServiceID == nil {
		if prov, ok := provisioningFromMetadata(inv.Metadata); ok {
			svc, err := l.provisionService(ctx, tx, inv, prov, paidAt)
			if err != nil {
				return nil, err
			}
			updated.ServiceID = &svc.ID
		}
	}

	if inv.CouponCode != nil {
		if err := l.redeemInvoiceCoupon(ctx, tx, &updated); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit paid transition: %w", err)
	}

	invalidateInvoice(ctx, l.cache, &updated)
	if updated.ServiceID != nil {
		l.cache.Del(ctx, serviceKey(*updated.ServiceID), userServicesKey(updated.UserID))
		l.cache.DelPattern(ctx, "service:list:*")
	}

	l.logger.WithField("invoice_id", inv.ID).WithField("user_id", inv.UserID).Info("invoice paid")
	return &updated, nil
}

// provisionService creates the subscription an invoice's metadata describes,
// inside the paid transaction
func (l *InvoiceLifecycle) provisionService(ctx context.Context, tx *sql.Tx, inv *Invoice, prov *provisioningRequest, paidAt time.Time) (*Service, error) {
	monthly := inv.AmountCents
	if prov.ProxySetup {
		monthly -= proxySetupFeeCents
	}
	if monthly < 0 {
		monthly = 0
	}

	svc := &Service{
		ID:                uuid.NewString(),
		ProductID:         prov.ProductID,
		ServiceOwnerID:    inv.UserID,
		Name:              prov.ServiceName,
		Status:            ServiceStatusActive,
		MonthlyPriceCents: monthly,
		DueDate:           paidAt.Add(provisionedDueIn),
		Location:          prov.Location,
		DedicatedIP:       prov.DedicatedIP,
		ProxyAddon:        prov.ProxySetup,
		CreatedAt:         paidAt,
		UpdatedAt:         paidAt,
	}

	if err := insertService(ctx, tx, svc); err != nil {
		return nil, fmt.Errorf("failed to provision service: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE invoices SET service_id = $1, updated_at = $2 WHERE id = $3
	`, svc.ID, paidAt, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to link provisioned service: %w", err)
	}

	l.logger.WithField("invoice_id", inv.ID).WithField("service_id", svc.ID).Info("service provisioned from paid invoice")
	return svc, nil
}

// redeemInvoiceCoupon resolves the invoice's coupon snapshot back to a live
// coupon and records the redemption. A coupon deleted since it was applied
// is skipped rather than failing the payment.
func (l *InvoiceLifecycle) redeemInvoiceCoupon(ctx context.Context, tx *sql.Tx, inv *Invoice) error {
	var couponID string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM coupons WHERE code = $1 AND deleted_at IS NULL
	`, NormalizeCode(*inv.CouponCode)).Scan(&couponID)
	if err == sql.ErrNoRows {
		l.logger.WithField("invoice_id", inv.ID).WithField("coupon_code", *inv.CouponCode).
			Warn("coupon vanished before redemption, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve coupon: %w", err)
	}

	return l.coupons.RedeemTx(ctx, tx, couponID, inv.UserID, inv.ServiceID)
}

// TransitionToExpired moves a pending invoice past its expiry to expired.
// The guard only admits pending invoices whose expiresAt has passed and
// whose expiredAt is unset; anything else is a no-op.
func (l *InvoiceLifecycle) TransitionToExpired(ctx context.Context, inv *Invoice) (*Invoice, error) {
	now := l.now()
	if inv.Status != InvoiceStatusPending || !inv.ExpiresAt.Before(now) || inv.ExpiredAt != nil {
		return inv, nil
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE invoices SET status = $1, expired_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4 AND expired_at IS NULL
	`, InvoiceStatusExpired, now, inv.ID, InvoiceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to expire invoice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to expire invoice: %w", err)
	}
	if affected == 0 {
		return inv, nil
	}

	updated := *inv
	updated.Status = InvoiceStatusExpired
	updated.ExpiredAt = &now
	updated.UpdatedAt = now

	invalidateInvoice(ctx, l.cache, &updated)
	return &updated, nil
}

// ApplyCoupon validates a coupon code and stores its snapshot on a pending
// invoice. Redemption itself only happens at payment time.
func (l *InvoiceLifecycle) ApplyCoupon(ctx context.Context, inv *Invoice, code string) (*Invoice, error) {
	if inv.Status != InvoiceStatusPending {
		return nil, NewStateConflictError("coupons can only be applied to pending invoices")
	}

	coupon, err := l.coupons.Validate(ctx, code, inv.UserID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE invoices SET coupon_code = $1, coupon_type = $2, coupon_value = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, coupon.Code, coupon.Type, coupon.Value, now, inv.ID, InvoiceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to apply coupon: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to apply coupon: %w", err)
	}
	if affected == 0 {
		return nil, NewStateConflictError("coupons can only be applied to pending invoices")
	}

	updated := *inv
	updated.CouponCode = &coupon.Code
	updated.CouponType = &coupon.Type
	updated.CouponValue = &coupon.Value
	updated.UpdatedAt = now

	invalidateInvoice(ctx, l.cache, &updated)
	return &updated, nil
}

// RemoveCoupon clears the coupon snapshot from a pending invoice
func (l *InvoiceLifecycle) RemoveCoupon(ctx context.Context, inv *Invoice) (*Invoice, error) {
	if inv.Status != InvoiceStatusPending {
		return nil, NewStateConflictError("coupons can only be removed from pending invoices")
	}

	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE invoices SET coupon_code = NULL, coupon_type = NULL, coupon_value = NULL, updated_at = $1
		WHERE id = $2 AND status = $3
	`, now, inv.ID, InvoiceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to remove coupon: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to remove coupon: %w", err)
	}
	if affected == 0 {
		return nil, NewStateConflictError("coupons can only be removed from pending invoices")
	}

	updated := *inv
	updated.CouponCode = nil
	updated.CouponType = nil
	updated.CouponValue = nil
	updated.UpdatedAt = now

	invalidateInvoice(ctx, l.cache, &updated)
	return &updated, nil
}

// GetByID gets an invoice with caching
func (l *InvoiceLifecycle) GetByID(ctx context.Context, id string) (*Invoice, error) {
	cacheKey := invoiceKey(id)
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var inv Invoice
		if err := json.Unmarshal(cached, &inv); err == nil {
			return &inv, nil
		}
	}

	inv, err := l.scanInvoice(l.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	items, err := l.listItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items

	if data, err := json.Marshal(inv); err == nil {
		l.cache.Set(ctx, cacheKey, data, invoiceTTL)
	}
	return inv, nil
}

// GetByTransactionID gets an invoice by its payment-provider transaction
// reference, with caching
func (l *InvoiceLifecycle) GetByTransactionID(ctx context.Context, transactionID string) (*Invoice, error) {
	cacheKey := invoiceTxnKey(transactionID)
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var inv Invoice
		if err := json.Unmarshal(cached, &inv); err == nil {
			return &inv, nil
		}
	}

	inv, err := l.scanInvoice(l.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE transaction_id = $1
	`, transactionID))
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("invoice", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	if data, err := json.Marshal(inv); err == nil {
		l.cache.Set(ctx, cacheKey, data, invoiceTTL)
	}
	return inv, nil
}

// ListByUser lists a user's invoices, newest first, with caching
func (l *InvoiceLifecycle) ListByUser(ctx context.Context, userID string) ([]*Invoice, error) {
	cacheKey := userInvoicesKey(userID)
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var invoices []*Invoice
		if err := json.Unmarshal(cached, &invoices); err == nil {
			return invoices, nil
		}
	}

	invoices, err := l.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(invoices); err == nil {
		l.cache.Set(ctx, cacheKey, data, invoiceListTTL)
	}
	return invoices, nil
}

// List lists all invoices, newest first, with caching
func (l *InvoiceLifecycle) List(ctx context.Context) ([]*Invoice, error) {
	cacheKey := "invoice:list:all"
	if cached, ok := l.cache.Get(ctx, cacheKey); ok {
		var invoices []*Invoice
		if err := json.Unmarshal(cached, &invoices); err == nil {
			return invoices, nil
		}
	}

	invoices, err := l.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(invoices); err == nil {
		l.cache.Set(ctx, cacheKey, data, invoiceListTTL)
	}
	return invoices, nil
}

// FindExpiredPending returns pending invoices whose expiry has passed
func (l *InvoiceLifecycle) FindExpiredPending(ctx context.Context) ([]*Invoice, error) {
	return l.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
	`, InvoiceStatusPending, l.now())
}

// FindPendingDueInBucket returns pending invoices expiring inside the day
// bucket containing the given timestamp, skipping invoices already reminded
// today
func (l *InvoiceLifecycle) FindPendingDueInBucket(ctx context.Context, day time.Time) ([]*Invoice, error) {
	bucketStart := startOfDay(day)
	bucketEnd := bucketStart.Add(24 * time.Hour)
	return l.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status = $1 AND expires_at >= $2 AND expires_at < $3
		  AND (last_reminded_at IS NULL OR last_reminded_at < $4)
		ORDER BY expires_at
	`, InvoiceStatusPending, bucketStart, bucketEnd, startOfDay(l.now()))
}

// MarkReminded stamps an invoice as reminded so the same day bucket does
// not resend after a restart
func (l *InvoiceLifecycle) MarkReminded(ctx context.Context, invoiceID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE invoices SET last_reminded_at = $1 WHERE id = $2
	`, l.now(), invoiceID)
	if err != nil {
		return fmt.Errorf("failed to mark invoice reminded: %w", err)
	}
	l.cache.Del(ctx, invoiceKey(invoiceID))
	return nil
}

// HasPendingForService reports whether an unexpired pending invoice already
// exists for a service. The InvoiceCreation worker's idempotency guard.
func (l *InvoiceLifecycle) HasPendingForService(ctx context.Context, serviceID string) (bool, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE service_id = $1 AND status = $2 AND expires_at >= $3
	`, serviceID, InvoiceStatusPending, l.now()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending invoices: %w", err)
	}
	return count > 0, nil
}

func (l *InvoiceLifecycle) getService(ctx context.Context, id string) (*Service, error) {
	svc, err := scanService(l.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+` FROM services WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("service", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return svc, nil
}

func (l *InvoiceLifecycle) listItems(ctx context.Context, invoiceID string) ([]*InvoiceItem, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, invoice_id, name, quantity, unit_price_cents, total_cents
		FROM invoice_items WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer rows.Close()

	var items []*InvoiceItem
	for rows.Next() {
		item := &InvoiceItem{}
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Name, &item.Quantity,
			&item.UnitPriceCents, &item.TotalCents); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *InvoiceLifecycle) scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var metadataJSON []byte
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.ServiceID, &inv.TransactionID, &inv.Status,
		&inv.AmountCents, &inv.Currency, &metadataJSON, &inv.CouponCode,
		&inv.CouponType, &inv.CouponValue, &inv.PaymentProvider,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.PaidAt, &inv.ExpiresAt,
		&inv.ExpiredAt, &inv.LastRemindedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return inv, nil
}

func (l *InvoiceLifecycle) queryInvoices(ctx context.Context, query string, args ...any) ([]*Invoice, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := l.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

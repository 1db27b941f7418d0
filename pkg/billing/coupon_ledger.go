package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const couponColumns = `id, code, type, value, expires_at, max_redemptions, user_id, deleted_at, created_at, updated_at`

// CouponRedemptionLedger validates coupons and idempotently records their
// usage. Redemption happens at payment time, never at apply time.
type CouponRedemptionLedger struct {
	db    *sql.DB
	cache Cache
	now   func() time.Time
}

// NewCouponRedemptionLedger creates a new CouponRedemptionLedger
func NewCouponRedemptionLedger(db *sql.DB, cache Cache) *CouponRedemptionLedger {
	return &CouponRedemptionLedger{
		db:    db,
		cache: cache,
		now:   time.Now,
	}
}

// NormalizeCode trims and upper-cases a coupon code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate resolves a coupon code for a user. It fails with a
// ValidationError when the code does not resolve to a live coupon, and with
// a StateConflictError when the coupon is expired, scoped to another
// account, or fully redeemed.
func (l *CouponRedemptionLedger) Validate(ctx context.Context, code, userID string) (*Coupon, error) {
	coupon, err := l.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(l.now()) {
		return nil, NewStateConflictError("coupon %s has expired", coupon.Code)
	}

	if coupon.UserID != nil && *coupon.UserID != userID {
		return nil, NewStateConflictError("coupon %s is not available for this account", coupon.Code)
	}

	if coupon.MaxRedemptions != nil {
		count, err := l.RedemptionCount(ctx, coupon.ID)
		if err != nil {
			return nil, err
		}
		if count >= *coupon.MaxRedemptions {
			return nil, NewStateConflictError("coupon %s has reached its redemption limit", coupon.Code)
		}
	}

	return coupon, nil
}

// Redeem records coupon usage for a (coupon, user, service) tuple.
// Idempotent: a duplicate redemption attempt is silently absorbed.
func (l *CouponRedemptionLedger) Redeem(ctx context.Context, couponID, userID string, serviceID *string) error {
	return l.redeem(ctx, l.db, couponID, userID, serviceID)
}

// RedeemTx is Redeem running inside a caller-owned transaction, used by the
// invoice paid transition.
func (l *CouponRedemptionLedger) RedeemTx(ctx context.Context, tx *sql.Tx, couponID, userID string, serviceID *string) error {
	return l.redeem(ctx, tx, couponID, userID, serviceID)
}

func (l *CouponRedemptionLedger) redeem(ctx context.Context, q querier, couponID, userID string, serviceID *string) error {
	var existing string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2 AND service_id IS NOT DISTINCT FROM $3
	`, couponID, userID, serviceID).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to look up redemption: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (id, coupon_id, user_id, service_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), couponID, userID, serviceID, l.now())
	if err != nil {
		return fmt.Errorf("failed to record redemption: %w", err)
	}
	return nil
}

// RedemptionCount returns how many times a coupon has been redeemed
func (l *CouponRedemptionLedger) RedemptionCount(ctx context.Context, couponID string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1
	`, couponID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}
	return count, nil
}

// GetByCode looks up a live (non-deleted) coupon by normalized code
func (l *CouponRedemptionLedger) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	normalized := NormalizeCode(code)

	if cached, ok := l.cache.Get(ctx, couponKey(normalized)); ok {
		var coupon Coupon
		if err := json.Unmarshal(cached, &coupon); err == nil {
			return &coupon, nil
		}
	}

	coupon := &Coupon{}
	err := l.db.QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE code = $1 AND deleted_at IS NULL
	`, normalized).Scan(
		&coupon.ID, &coupon.Code, &coupon.Type, &coupon.Value, &coupon.ExpiresAt,
		&coupon.MaxRedemptions, &coupon.UserID, &coupon.DeletedAt,
		&coupon.CreatedAt, &coupon.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, NewValidationError("coupon_code", "invalid-code", fmt.Sprintf("coupon code %q is not valid", normalized))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	if data, err := json.Marshal(coupon); err == nil {
		l.cache.Set(ctx, couponKey(normalized), data, couponTTL)
	}

	return coupon, nil
}

// Create persists a new coupon. The code is normalized before storage.
func (l *CouponRedemptionLedger) Create(ctx context.Context, req *CreateCouponRequest) (*Coupon, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, NewValidationError("code", "required", "coupon code is required")
	}
	if req.Type != CouponTypePercentage && req.Type != CouponTypeFixed {
		return nil, NewValidationError("type", "invalid", fmt.Sprintf("unknown coupon type %q", req.Type))
	}
	if req.Value <= 0 {
		return nil, NewValidationError("value", "non-positive", "coupon value must be positive")
	}
	if req.Type == CouponTypePercentage && req.Value > 100 {
		return nil, NewValidationError("value", "out-of-range", "percentage coupons cannot exceed 100")
	}

	now := l.now()
	coupon := &Coupon{
		ID:             uuid.NewString(),
		Code:           code,
		Type:           req.Type,
		Value:          req.Value,
		ExpiresAt:      req.ExpiresAt,
		MaxRedemptions: req.MaxRedemptions,
		UserID:         req.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, type, value, expires_at, max_redemptions, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, coupon.ID, coupon.Code, coupon.Type, coupon.Value, coupon.ExpiresAt,
		coupon.MaxRedemptions, coupon.UserID, coupon.CreatedAt, coupon.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	l.cache.Del(ctx, couponKey(code))
	return coupon, nil
}

// List returns all live coupons
func (l *CouponRedemptionLedger) List(ctx context.Context) ([]*Coupon, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*Coupon
	for rows.Next() {
		coupon := &Coupon{}
		if err := rows.Scan(
			&coupon.ID, &coupon.Code, &coupon.Type, &coupon.Value, &coupon.ExpiresAt,
			&coupon.MaxRedemptions, &coupon.UserID, &coupon.DeletedAt,
			&coupon.CreatedAt, &coupon.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, coupon)
	}
	return coupons, rows.Err()
}

// Delete soft-deletes a coupon by code
func (l *CouponRedemptionLedger) Delete(ctx context.Context, code string) error {
	normalized := NormalizeCode(code)
	res, err := l.db.ExecContext(ctx, `
		UPDATE coupons SET deleted_at = $1, updated_at = $1
		WHERE code = $2 AND deleted_at IS NULL
	`, l.now(), normalized)
	if err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}
	if affected == 0 {
		return NewNotFoundError("coupon", normalized)
	}

	l.cache.Del(ctx, couponKey(normalized))
	return nil
}

// DeleteExpired hard-deletes every coupon whose expiry has passed. Used by
// the CouponExpiry worker; naturally idempotent since the rows are gone
// after the first run.
func (l *CouponRedemptionLedger) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM coupons WHERE expires_at IS NOT NULL AND expires_at < $1
	`, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired coupons: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired coupons: %w", err)
	}
	if deleted > 0 {
		l.cache.DelPattern(ctx, "coupon:*")
	}
	return deleted, nil
}

package billing

import (
	"encoding/json"
	"time"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusExpired InvoiceStatus = "expired"
)

// Invoice represents a billable request for payment tied to a user and
// optionally a service. All monetary fields are integer minor units (cents).
type Invoice struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	ServiceID       *string        `json:"service_id,omitempty"`
	TransactionID   *string        `json:"transaction_id,omitempty"`
	Status          InvoiceStatus  `json:"status"`
	AmountCents     int64          `json:"amount_cents"`
	Currency        string         `json:"currency"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CouponCode      *string        `json:"coupon_code,omitempty"`
	CouponType      *CouponType    `json:"coupon_type,omitempty"`
	CouponValue     *int64         `json:"coupon_value,omitempty"`
	PaymentProvider string         `json:"payment_provider,omitempty"`
	Items           []*InvoiceItem `json:"items,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
	ExpiredAt       *time.Time     `json:"expired_at,omitempty"`
	LastRemindedAt  *time.Time     `json:"last_reminded_at,omitempty"`
}

// MarshalJSON adds the derived payable_cents field so every serialized
// invoice reports the post-discount amount due
func (i *Invoice) MarshalJSON() ([]byte, error) {
	type invoiceAlias Invoice
	return json.Marshal(struct {
		*invoiceAlias
		PayableCents int64 `json:"payable_cents"`
	}{(*invoiceAlias)(i), i.PayableCents()})
}

// InvoiceItem is a single line item on an invoice
type InvoiceItem struct {
	ID             string `json:"id"`
	InvoiceID      string `json:"invoice_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

// ServiceStatus represents the status of a provisioned service
type ServiceStatus string

const (
	ServiceStatusActive    ServiceStatus = "active"
	ServiceStatusSuspended ServiceStatus = "suspended"
	ServiceStatusCancelled ServiceStatus = "cancelled"
)

// Service represents a provisioned subscription owned by a user and billed
// monthly via invoices
type Service struct {
	ID                string        `json:"id"`
	ProductID         string        `json:"product_id"`
	ServiceOwnerID    string        `json:"service_owner_id"`
	ExternalID        string        `json:"external_id,omitempty"`
	Name              string        `json:"name"`
	Status            ServiceStatus `json:"status"`
	MonthlyPriceCents int64         `json:"monthly_price_cents"`
	DueDate           time.Time     `json:"due_date"`
	Location          string        `json:"location,omitempty"`
	DedicatedIP       bool          `json:"dedicated_ip"`
	ProxyAddon        bool          `json:"proxy_addon"`

	IsCancelled        bool       `json:"is_cancelled"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancellationDate   *time.Time `json:"cancellation_date,omitempty"`

	IsSuspended      bool       `json:"is_suspended"`
	SuspensionReason string     `json:"suspension_reason,omitempty"`
	SuspensionDate   *time.Time `json:"suspension_date,omitempty"`

	CreationError  bool       `json:"creation_error"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CouponType represents the kind of discount a coupon grants
type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

// Coupon is a discount code redeemable against an invoice. Codes are stored
// upper-cased and matched case-insensitively.
type Coupon struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Type           CouponType `json:"type"`
	Value          int64      `json:"value"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxRedemptions *int       `json:"max_redemptions,omitempty"`
	UserID         *string    `json:"user_id,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CouponRedemption records that a coupon was consumed by a user, optionally
// for a specific service. At most one row exists per
// (coupon_id, user_id, service_id) tuple.
type CouponRedemption struct {
	ID        string    `json:"id"`
	CouponID  string    `json:"coupon_id"`
	UserID    string    `json:"user_id"`
	ServiceID *string   `json:"service_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInvoiceRequest carries the fields InvoiceLifecycle.Create accepts
type CreateInvoiceRequest struct {
	UserID          string         `json:"user_id"`
	ServiceID       *string        `json:"service_id,omitempty"`
	Items           []*InvoiceItem `json:"items"`
	AmountCents     int64          `json:"amount_cents"`
	Currency        string         `json:"currency"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	PaymentProvider string         `json:"payment_provider,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
}

// CreateServiceRequest carries the fields ServiceLifecycle.Create accepts
type CreateServiceRequest struct {
	ProductID         string    `json:"product_id"`
	ServiceOwnerID    string    `json:"service_owner_id"`
	Name              string    `json:"name"`
	MonthlyPriceCents int64     `json:"monthly_price_cents"`
	DueDate           time.Time `json:"due_date"`
	Location          string    `json:"location,omitempty"`
	DedicatedIP       bool      `json:"dedicated_ip"`
	ProxyAddon        bool      `json:"proxy_addon"`
}

// ServicePatch carries the only fields a plain service update may touch.
// Status changes go through the named transition methods.
type ServicePatch struct {
	Name *string `json:"name,omitempty"`
}

// CreateCouponRequest carries the fields for creating a coupon
type CreateCouponRequest struct {
	Code           string     `json:"code"`
	Type           CouponType `json:"type"`
	Value          int64      `json:"value"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxRedemptions *int       `json:"max_redemptions,omitempty"`
	UserID         *string    `json:"user_id,omitempty"`
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/httputil"
)

// createInvoiceItem is an invoice line with prices in major currency units
type createInvoiceItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// createInvoiceRequest is the wire shape for invoice creation. Prices arrive
// in major units and are converted to cents before they reach the lifecycle.
type createInvoiceRequest struct {
	UserID          string              `json:"user_id"`
	ServiceID       *string             `json:"service_id,omitempty"`
	Items           []createInvoiceItem `json:"items"`
	Currency        string              `json:"currency"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	PaymentProvider string              `json:"payment_provider,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
}

// createInvoice creates a new pending invoice
func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	items := make([]*billing.InvoiceItem, 0, len(req.Items))
	var total int64
	for _, item := range req.Items {
		unitCents := billing.MajorToMinor(item.UnitPrice)
		lineTotal := unitCents * int64(item.Quantity)
		items = append(items, &billing.InvoiceItem{
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: unitCents,
			TotalCents:     lineTotal,
		})
		total += lineTotal
	}

	invoice, err := s.invoices.Create(r.Context(), &billing.CreateInvoiceRequest{
		UserID:          req.UserID,
		ServiceID:       req.ServiceID,
		Items:           items,
		AmountCents:     total,
		Currency:        strings.ToLower(req.Currency),
		Metadata:        req.Metadata,
		PaymentProvider: req.PaymentProvider,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, invoice)
}

// listInvoices returns every invoice
func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.invoices.List(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoices)
}

// getInvoice retrieves an invoice by ID
func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.invoices.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// getInvoiceByTransaction retrieves an invoice by payment transaction ID
func (s *Server) getInvoiceByTransaction(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.invoices.GetByTransactionID(r.Context(), mux.Vars(r)["transaction_id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// listUserInvoices returns a user's invoices
func (s *Server) listUserInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.invoices.ListByUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoices)
}

// updateInvoiceRequest carries a status transition request. Only lifecycle
// transitions are accepted through PATCH; amounts and items are immutable.
type updateInvoiceRequest struct {
	Status string     `json:"status"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

// updateInvoice applies a status transition to an invoice
func (s *Server) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var req updateInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	invoice, err := s.invoices.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	switch billing.InvoiceStatus(req.Status) {
	case billing.InvoiceStatusPaid:
		invoice, err = s.invoices.TransitionToPaid(r.Context(), invoice, req.PaidAt)
	case billing.InvoiceStatusExpired:
		invoice, err = s.invoices.TransitionToExpired(r.Context(), invoice)
	default:
		httputil.WriteValidationError(w, "status must be paid or expired")
		return
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, invoice)
}

// applyCouponRequest carries the coupon code to apply
type applyCouponRequest struct {
	Code string `json:"code"`
}

// applyInvoiceCoupon applies a coupon to a pending invoice
func (s *Server) applyInvoiceCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	invoice, err := s.invoices.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	invoice, err = s.invoices.ApplyCoupon(r.Context(), invoice, req.Code)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, invoice)
}

// removeInvoiceCoupon removes the coupon from a pending invoice
func (s *Server) removeInvoiceCoupon(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.invoices.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	invoice, err = s.invoices.RemoveCoupon(r.Context(), invoice)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, invoice)
}

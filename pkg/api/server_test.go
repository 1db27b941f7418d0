package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maybeizen/fluxo-sub000/pkg/accounts"
	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/products"
	"github.com/maybeizen/fluxo-sub000/pkg/tickets"
)

type stubInvoices struct {
	byID    map[string]*billing.Invoice
	created *billing.CreateInvoiceRequest

	paidID    string
	expiredID string
	applied   string
	removed   bool

	createErr error
	transErr  error
}

func (s *stubInvoices) Create(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = req
	return &billing.Invoice{ID: "inv-new", UserID: req.UserID, AmountCents: req.AmountCents,
		Currency: req.Currency, Status: billing.InvoiceStatusPending}, nil
}

func (s *stubInvoices) TransitionToPaid(ctx context.Context, inv *billing.Invoice, explicitPaidAt *time.Time) (*billing.Invoice, error) {
	if s.transErr != nil {
		return nil, s.transErr
	}
	s.paidID = inv.ID
	inv.Status = billing.InvoiceStatusPaid
	return inv, nil
}

func (s *stubInvoices) TransitionToExpired(ctx context.Context, inv *billing.Invoice) (*billing.Invoice, error) {
	if s.transErr != nil {
		return nil, s.transErr
	}
	s.expiredID = inv.ID
	inv.Status = billing.InvoiceStatusExpired
	return inv, nil
}

func (s *stubInvoices) ApplyCoupon(ctx context.Context, inv *billing.Invoice, code string) (*billing.Invoice, error) {
	s.applied = code
	return inv, nil
}

func (s *stubInvoices) RemoveCoupon(ctx context.Context, inv *billing.Invoice) (*billing.Invoice, error) {
	s.removed = true
	return inv, nil
}

func (s *stubInvoices) GetByID(ctx context.Context, id string) (*billing.Invoice, error) {
	if inv, ok := s.byID[id]; ok {
		return inv, nil
	}
	return nil, billing.NewNotFoundError("invoice", id)
}

func (s *stubInvoices) GetByTransactionID(ctx context.Context, transactionID string) (*billing.Invoice, error) {
	for _, inv := range s.byID {
		if inv.TransactionID != nil && *inv.TransactionID == transactionID {
			return inv, nil
		}
	}
	return nil, billing.NewNotFoundError("invoice", transactionID)
}

func (s *stubInvoices) ListByUser(ctx context.Context, userID string) ([]*billing.Invoice, error) {
	var out []*billing.Invoice
	for _, inv := range s.byID {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *stubInvoices) List(ctx context.Context) ([]*billing.Invoice, error) {
	out := make([]*billing.Invoice, 0, len(s.byID))
	for _, inv := range s.byID {
		out = append(out, inv)
	}
	return out, nil
}

type stubServices struct {
	byID map[string]*billing.Service

	created      *billing.CreateServiceRequest
	cancelReason string
	patched      *billing.ServicePatch

	cancelErr error
}

func (s *stubServices) Create(ctx context.Context, req *billing.CreateServiceRequest) (*billing.Service, error) {
	s.created = req
	return &billing.Service{ID: "svc-new", Name: req.Name, Status: billing.ServiceStatusActive,
		MonthlyPriceCents: req.MonthlyPriceCents}, nil
}

func (s *stubServices) Cancel(ctx context.Context, svc *billing.Service, reason string) (*billing.Service, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	s.cancelReason = reason
	return svc, nil
}

func (s *stubServices) Update(ctx context.Context, svc *billing.Service, patch *billing.ServicePatch) (*billing.Service, error) {
	s.patched = patch
	return svc, nil
}

func (s *stubServices) GetByID(ctx context.Context, id string) (*billing.Service, error) {
	if svc, ok := s.byID[id]; ok {
		return svc, nil
	}
	return nil, billing.NewNotFoundError("service", id)
}

func (s *stubServices) ListByOwner(ctx context.Context, ownerID string) ([]*billing.Service, error) {
	var out []*billing.Service
	for _, svc := range s.byID {
		if svc.ServiceOwnerID == ownerID {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *stubServices) List(ctx context.Context) ([]*billing.Service, error) {
	out := make([]*billing.Service, 0, len(s.byID))
	for _, svc := range s.byID {
		out = append(out, svc)
	}
	return out, nil
}

type stubCoupons struct {
	byCode      map[string]*billing.Coupon
	validateErr error
	deleted     string
}

func (s *stubCoupons) Create(ctx context.Context, req *billing.CreateCouponRequest) (*billing.Coupon, error) {
	return &billing.Coupon{ID: "coupon-new", Code: req.Code, Type: req.Type, Value: req.Value}, nil
}

func (s *stubCoupons) GetByCode(ctx context.Context, code string) (*billing.Coupon, error) {
	if c, ok := s.byCode[code]; ok {
		return c, nil
	}
	return nil, billing.NewNotFoundError("coupon", code)
}

func (s *stubCoupons) Validate(ctx context.Context, code, userID string) (*billing.Coupon, error) {
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return s.GetByCode(ctx, code)
}

func (s *stubCoupons) List(ctx context.Context) ([]*billing.Coupon, error) {
	out := make([]*billing.Coupon, 0, len(s.byCode))
	for _, c := range s.byCode {
		out = append(out, c)
	}
	return out, nil
}

func (s *stubCoupons) Delete(ctx context.Context, code string) error {
	if _, ok := s.byCode[code]; !ok {
		return billing.NewNotFoundError("coupon", code)
	}
	s.deleted = code
	return nil
}

type stubAccounts struct {
	byID     map[string]*accounts.Account
	verified string
}

func (s *stubAccounts) Create(ctx context.Context, email string) (*accounts.Account, error) {
	if email == "" {
		return nil, billing.NewValidationError("email", "required", "email is required")
	}
	return &accounts.Account{ID: "acct-new", Email: email}, nil
}

func (s *stubAccounts) GetByID(ctx context.Context, id string) (*accounts.Account, error) {
	if a, ok := s.byID[id]; ok {
		return a, nil
	}
	return nil, billing.NewNotFoundError("account", id)
}

func (s *stubAccounts) MarkVerified(ctx context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return billing.NewNotFoundError("account", id)
	}
	s.verified = id
	return nil
}

type stubProducts struct {
	byID            map[string]*products.Product
	includeArchived bool
	archived        string
}

func (s *stubProducts) Create(ctx context.Context, req *products.CreateProductRequest) (*products.Product, error) {
	return &products.Product{ID: "prod-new", Name: req.Name}, nil
}

func (s *stubProducts) GetByID(ctx context.Context, id string) (*products.Product, error) {
	if p, ok := s.byID[id]; ok {
		return p, nil
	}
	return nil, billing.NewNotFoundError("product", id)
}

func (s *stubProducts) List(ctx context.Context, includeArchived bool) ([]*products.Product, error) {
	s.includeArchived = includeArchived
	out := make([]*products.Product, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubProducts) Archive(ctx context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return billing.NewNotFoundError("product", id)
	}
	s.archived = id
	return nil
}

type stubTickets struct {
	byID   map[string]*tickets.Ticket
	closed string
}

func (s *stubTickets) Create(ctx context.Context, req *tickets.CreateTicketRequest) (*tickets.Ticket, error) {
	return &tickets.Ticket{ID: "ticket-new", UserID: req.UserID, Subject: req.Subject, Status: tickets.StatusOpen}, nil
}

func (s *stubTickets) GetByID(ctx context.Context, id string) (*tickets.Ticket, error) {
	if tk, ok := s.byID[id]; ok {
		return tk, nil
	}
	return nil, billing.NewNotFoundError("ticket", id)
}

func (s *stubTickets) ListByUser(ctx context.Context, userID string) ([]*tickets.Ticket, error) {
	var out []*tickets.Ticket
	for _, tk := range s.byID {
		if tk.UserID == userID {
			out = append(out, tk)
		}
	}
	return out, nil
}

func (s *stubTickets) Close(ctx context.Context, id string) (*tickets.Ticket, error) {
	tk, ok := s.byID[id]
	if !ok {
		return nil, billing.NewNotFoundError("ticket", id)
	}
	s.closed = id
	tk.Status = tickets.StatusClosed
	return tk, nil
}

type serverFixture struct {
	server   *Server
	invoices *stubInvoices
	services *stubServices
	coupons  *stubCoupons
	accounts *stubAccounts
	products *stubProducts
	tickets  *stubTickets
}

func newServerFixture(opts ServerOptions) *serverFixture {
	f := &serverFixture{
		invoices: &stubInvoices{byID: make(map[string]*billing.Invoice)},
		services: &stubServices{byID: make(map[string]*billing.Service)},
		coupons:  &stubCoupons{byCode: make(map[string]*billing.Coupon)},
		accounts: &stubAccounts{byID: make(map[string]*accounts.Account)},
		products: &stubProducts{byID: make(map[string]*products.Product)},
		tickets:  &stubTickets{byID: make(map[string]*tickets.Ticket)},
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	f.server = NewServer(f.invoices, f.services, f.coupons, f.accounts,
		f.products, f.tickets, logger, observability.NewMetrics(nil), opts)
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	f := newServerFixture(ServerOptions{})

	rec := f.do(t, "POST", "/invoices", map[string]any{
		"user_id":  "user-1",
		"currency": "USD",
		"items": []map[string]any{
			{"name": "Hosting", "quantity": 2, "unit_price": 12.50},
			{"name": "Setup", "quantity": 1, "unit_price": 5.00},
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.invoices.created)
	assert.Equal(t, int64(3000), f.invoices.created.AmountCents)
	assert.Equal(t, "usd", f.invoices.created.Currency)
	require.Len(t, f.invoices.created.Items, 2)
	assert.Equal(t, int64(1250), f.invoices.created.Items[0].UnitPriceCents)
	assert.Equal(t, int64(2500), f.invoices.created.Items[0].TotalCents)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/invoices", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		f.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		rec := f.do(t, "POST", "/invoices", map[string]any{
			"user_id": "user-1",
			"amount":  25.00,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation error maps to 400", func(t *testing.T) {
		f.invoices.createErr = billing.NewValidationError("items", "required", "at least one item is required")
		defer func() { f.invoices.createErr = nil }()

		rec := f.do(t, "POST", "/invoices", map[string]any{"user_id": "user-1", "currency": "usd"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateInvoiceEndpoint(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.invoices.byID["inv-1"] = &billing.Invoice{ID: "inv-1", Status: billing.InvoiceStatusPending}

	t.Run("mark paid", func(t *testing.T) {
		rec := f.do(t, "PATCH", "/invoices/inv-1", map[string]any{"status": "paid"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "inv-1", f.invoices.paidID)
	})

	t.Run("mark expired", func(t *testing.T) {
		rec := f.do(t, "PATCH", "/invoices/inv-1", map[string]any{"status": "expired"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "inv-1", f.invoices.expiredID)
	})

	t.Run("unsupported status", func(t *testing.T) {
		rec := f.do(t, "PATCH", "/invoices/inv-1", map[string]any{"status": "refunded"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "status must be paid or expired", body["error"])
	})

	t.Run("unknown invoice", func(t *testing.T) {
		rec := f.do(t, "PATCH", "/invoices/inv-missing", map[string]any{"status": "paid"})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "invoice not found", body["error"])
	})

	t.Run("state conflict maps to 409", func(t *testing.T) {
		f.invoices.transErr = billing.NewStateConflictError("invoice inv-1 is already expired")
		defer func() { f.invoices.transErr = nil }()

		rec := f.do(t, "PATCH", "/invoices/inv-1", map[string]any{"status": "expired"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestInvoiceCouponEndpoints(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.invoices.byID["inv-1"] = &billing.Invoice{ID: "inv-1", Status: billing.InvoiceStatusPending}

	rec := f.do(t, "POST", "/invoices/inv-1/coupon", map[string]any{"code": "SAVE10"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SAVE10", f.invoices.applied)

	rec = f.do(t, "DELETE", "/invoices/inv-1/coupon", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.invoices.removed)
}

func TestServiceEndpoints(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.services.byID["svc-1"] = &billing.Service{
		ID: "svc-1", ServiceOwnerID: "user-1", Name: "web-1",
		Status: billing.ServiceStatusActive,
	}

	t.Run("create converts price to cents", func(t *testing.T) {
		rec := f.do(t, "POST", "/services", map[string]any{
			"product_id":       "prod-1",
			"service_owner_id": "user-1",
			"name":             "web-2",
			"monthly_price":    19.99,
			"due_date":         "2026-04-01T00:00:00Z",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, int64(1999), f.services.created.MonthlyPriceCents)
	})

	t.Run("cancel passes the reason through", func(t *testing.T) {
		rec := f.do(t, "POST", "/services/svc-1/cancel", map[string]any{
			"reason": "switching to a different provider",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "switching to a different provider", f.services.cancelReason)
	})

	t.Run("cancel conflict maps to 409", func(t *testing.T) {
		f.services.cancelErr = billing.NewStateConflictError("only active services can be cancelled")
		defer func() { f.services.cancelErr = nil }()

		rec := f.do(t, "POST", "/services/svc-1/cancel", map[string]any{
			"reason": "switching to a different provider",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("no suspend route", func(t *testing.T) {
		rec := f.do(t, "POST", "/services/svc-1/suspend", map[string]any{"reason": "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("patch mutable fields", func(t *testing.T) {
		rec := f.do(t, "PATCH", "/services/svc-1", map[string]any{"name": "web-renamed"})
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.services.patched)
		assert.Equal(t, "web-renamed", *f.services.patched.Name)
	})

	t.Run("list by owner", func(t *testing.T) {
		rec := f.do(t, "GET", "/users/user-1/services", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCouponEndpoints(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.coupons.byCode["SAVE10"] = &billing.Coupon{ID: "coupon-1", Code: "SAVE10",
		Type: billing.CouponTypePercentage, Value: 10}

	t.Run("validate", func(t *testing.T) {
		rec := f.do(t, "POST", "/coupons/SAVE10/validate", map[string]any{"user_id": "user-1"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("validate conflict", func(t *testing.T) {
		f.coupons.validateErr = billing.NewStateConflictError("coupon SAVE10 has expired")
		defer func() { f.coupons.validateErr = nil }()

		rec := f.do(t, "POST", "/coupons/SAVE10/validate", map[string]any{"user_id": "user-1"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := f.do(t, "DELETE", "/coupons/SAVE10", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "SAVE10", f.coupons.deleted)
	})

	t.Run("delete unknown", func(t *testing.T) {
		rec := f.do(t, "DELETE", "/coupons/NOPE", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAccountEndpoints(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.accounts.byID["acct-1"] = &accounts.Account{ID: "acct-1", Email: "user@example.com"}

	rec := f.do(t, "POST", "/accounts", map[string]any{"email": "new@example.com"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "POST", "/accounts/acct-1/verify", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "acct-1", f.accounts.verified)
}

func TestProductEndpoints(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.products.byID["prod-1"] = &products.Product{ID: "prod-1", Name: "Basic"}

	t.Run("list excludes archived by default", func(t *testing.T) {
		rec := f.do(t, "GET", "/products", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.products.includeArchived)
	})

	t.Run("list with archived", func(t *testing.T) {
		rec := f.do(t, "GET", "/products?archived=true", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, f.products.includeArchived)
	})

	t.Run("archive", func(t *testing.T) {
		rec := f.do(t, "POST", "/products/prod-1/archive", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "prod-1", f.products.archived)
	})
}

func TestTicketEndpoints(t *testing.T) {
	f := newServerFixture(ServerOptions{})
	f.tickets.byID["ticket-1"] = &tickets.Ticket{ID: "ticket-1", UserID: "user-1",
		Subject: "billing question", Status: tickets.StatusOpen}

	rec := f.do(t, "POST", "/tickets/ticket-1/close", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ticket-1", f.tickets.closed)

	rec = f.do(t, "GET", "/users/user-1/tickets", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	f := newServerFixture(ServerOptions{RateLimitPerMinute: 2})
	f.products.byID["prod-1"] = &products.Product{ID: "prod-1", Name: "Basic"}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := f.do(t, "GET", "/products", nil)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

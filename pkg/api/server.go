// Package api exposes the billing back office over HTTP. Handlers translate
// requests into lifecycle calls and map domain errors onto status codes;
// business rules live in the lifecycle packages, not here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/accounts"
	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/products"
	"github.com/maybeizen/fluxo-sub000/pkg/tickets"
)

// InvoiceService is the invoice surface the API drives
type InvoiceService interface {
	Create(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error)
	TransitionToPaid(ctx context.Context, inv *billing.Invoice, explicitPaidAt *time.Time) (*billing.Invoice, error)
	TransitionToExpired(ctx context.Context, inv *billing.Invoice) (*billing.Invoice, error)
	ApplyCoupon(ctx context.Context, inv *billing.Invoice, code string) (*billing.Invoice, error)
	RemoveCoupon(ctx context.Context, inv *billing.Invoice) (*billing.Invoice, error)
	GetByID(ctx context.Context, id string) (*billing.Invoice, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*billing.Invoice, error)
	ListByUser(ctx context.Context, userID string) ([]*billing.Invoice, error)
	List(ctx context.Context) ([]*billing.Invoice, error)
}

// ServiceManager is the service surface the API drives. Suspension is
// deliberately absent: only the overdue worker suspends.
type ServiceManager interface {
	Create(ctx context.Context, req *billing.CreateServiceRequest) (*billing.Service, error)
	Cancel(ctx context.Context, svc *billing.Service, reason string) (*billing.Service, error)
	Update(ctx context.Context, svc *billing.Service, patch *billing.ServicePatch) (*billing.Service, error)
	GetByID(ctx context.Context, id string) (*billing.Service, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*billing.Service, error)
	List(ctx context.Context) ([]*billing.Service, error)
}

// CouponService is the coupon surface the API drives
type CouponService interface {
	Create(ctx context.Context, req *billing.CreateCouponRequest) (*billing.Coupon, error)
	GetByCode(ctx context.Context, code string) (*billing.Coupon, error)
	Validate(ctx context.Context, code, userID string) (*billing.Coupon, error)
	List(ctx context.Context) ([]*billing.Coupon, error)
	Delete(ctx context.Context, code string) error
}

// AccountService is the account surface the API drives
type AccountService interface {
	Create(ctx context.Context, email string) (*accounts.Account, error)
	GetByID(ctx context.Context, id string) (*accounts.Account, error)
	MarkVerified(ctx context.Context, id string) error
}

// ProductCatalog is the catalog surface the API drives
type ProductCatalog interface {
	Create(ctx context.Context, req *products.CreateProductRequest) (*products.Product, error)
	GetByID(ctx context.Context, id string) (*products.Product, error)
	List(ctx context.Context, includeArchived bool) ([]*products.Product, error)
	Archive(ctx context.Context, id string) error
}

// TicketDesk is the ticket surface the API drives
type TicketDesk interface {
	Create(ctx context.Context, req *tickets.CreateTicketRequest) (*tickets.Ticket, error)
	GetByID(ctx context.Context, id string) (*tickets.Ticket, error)
	ListByUser(ctx context.Context, userID string) ([]*tickets.Ticket, error)
	Close(ctx context.Context, id string) (*tickets.Ticket, error)
}

// Server is the HTTP API server
type Server struct {
	router   *mux.Router
	invoices InvoiceService
	services ServiceManager
	coupons  CouponService
	accounts AccountService
	products ProductCatalog
	tickets  TicketDesk
	limiter  *RateLimiter
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// ServerOptions configures optional server behavior
type ServerOptions struct {
	// RateLimitPerMinute caps requests per client per minute. Zero disables
	// the limiter.
	RateLimitPerMinute int
}

// NewServer creates a new API server
func NewServer(invoices InvoiceService, services ServiceManager, coupons CouponService,
	accts AccountService, catalog ProductCatalog, desk TicketDesk,
	logger *observability.Logger, metrics *observability.Metrics, opts ServerOptions) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		invoices: invoices,
		services: services,
		coupons:  coupons,
		accounts: accts,
		products: catalog,
		tickets:  desk,
		logger:   logger,
		metrics:  metrics,
	}

	if opts.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitPerMinute, time.Minute)
	}

	s.router.Use(s.requestMiddleware)
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Invoice routes
	s.router.HandleFunc("/invoices", s.createInvoice).Methods("POST")
	s.router.HandleFunc("/invoices", s.listInvoices).Methods("GET")
	s.router.HandleFunc("/invoices/{id}", s.getInvoice).Methods("GET")
	s.router.HandleFunc("/invoices/{id}", s.updateInvoice).Methods("PATCH")
	s.router.HandleFunc("/invoices/by-transaction/{transaction_id}", s.getInvoiceByTransaction).Methods("GET")
	s.router.HandleFunc("/invoices/{id}/coupon", s.applyInvoiceCoupon).Methods("POST")
	s.router.HandleFunc("/invoices/{id}/coupon", s.removeInvoiceCoupon).Methods("DELETE")
	s.router.HandleFunc("/users/{id}/invoices", s.listUserInvoices).Methods("GET")

	// Service routes
	s.router.HandleFunc("/services", s.createService).Methods("POST")
	s.router.HandleFunc("/services", s.listServices).Methods("GET")
	s.router.HandleFunc("/services/{id}", s.getService).Methods("GET")
	s.router.HandleFunc("/services/{id}", s.updateService).Methods("PATCH")
	s.router.HandleFunc("/services/{id}/cancel", s.cancelService).Methods("POST")
	s.router.HandleFunc("/users/{id}/services", s.listUserServices).Methods("GET")

	// Coupon routes
	s.router.HandleFunc("/coupons", s.createCoupon).Methods("POST")
	s.router.HandleFunc("/coupons", s.listCoupons).Methods("GET")
	s.router.HandleFunc("/coupons/{code}", s.getCoupon).Methods("GET")
	s.router.HandleFunc("/coupons/{code}", s.deleteCoupon).Methods("DELETE")
	s.router.HandleFunc("/coupons/{code}/validate", s.validateCoupon).Methods("POST")

	// Account routes
	s.router.HandleFunc("/accounts", s.createAccount).Methods("POST")
	s.router.HandleFunc("/accounts/{id}", s.getAccount).Methods("GET")
	s.router.HandleFunc("/accounts/{id}/verify", s.verifyAccount).Methods("POST")

	// Product routes
	s.router.HandleFunc("/products", s.createProduct).Methods("POST")
	s.router.HandleFunc("/products", s.listProducts).Methods("GET")
	s.router.HandleFunc("/products/{id}", s.getProduct).Methods("GET")
	s.router.HandleFunc("/products/{id}/archive", s.archiveProduct).Methods("POST")

	// Ticket routes
	s.router.HandleFunc("/tickets", s.createTicket).Methods("POST")
	s.router.HandleFunc("/tickets/{id}", s.getTicket).Methods("GET")
	s.router.HandleFunc("/tickets/{id}/close", s.closeTicket).Methods("POST")
	s.router.HandleFunc("/users/{id}/tickets", s.listUserTickets).Methods("GET")
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

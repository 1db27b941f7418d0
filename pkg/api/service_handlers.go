package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/httputil"
)

// createServiceRequest is the wire shape for service creation with the
// monthly price in major units
type createServiceRequest struct {
	ProductID      string    `json:"product_id"`
	ServiceOwnerID string    `json:"service_owner_id"`
	Name           string    `json:"name"`
	MonthlyPrice   float64   `json:"monthly_price"`
	DueDate        time.Time `json:"due_date"`
	Location       string    `json:"location,omitempty"`
	DedicatedIP    bool      `json:"dedicated_ip"`
	ProxyAddon     bool      `json:"proxy_addon"`
}

// createService provisions a service directly, outside the paid-invoice flow
func (s *Server) createService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	svc, err := s.services.Create(r.Context(), &billing.CreateServiceRequest{
		ProductID:         req.ProductID,
		ServiceOwnerID:    req.ServiceOwnerID,
		Name:              req.Name,
		MonthlyPriceCents: billing.MajorToMinor(req.MonthlyPrice),
		DueDate:           req.DueDate,
		Location:          req.Location,
		DedicatedIP:       req.DedicatedIP,
		ProxyAddon:        req.ProxyAddon,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, svc)
}

// listServices returns every service
func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.services.List(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, services)
}

// getService retrieves a service by ID
func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.services.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, svc)
}

// listUserServices returns a user's services
func (s *Server) listUserServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.services.ListByOwner(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, services)
}

// updateService applies a patch to a service's mutable fields
func (s *Server) updateService(w http.ResponseWriter, r *http.Request) {
	var patch billing.ServicePatch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	svc, err := s.services.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	svc, err = s.services.Update(r.Context(), svc, &patch)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, svc)
}

// cancelServiceRequest carries the user-supplied cancellation reason
type cancelServiceRequest struct {
	Reason string `json:"reason"`
}

// cancelService cancels an active service
func (s *Server) cancelService(w http.ResponseWriter, r *http.Request) {
	var req cancelServiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	svc, err := s.services.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	svc, err = s.services.Cancel(r.Context(), svc, req.Reason)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, svc)
}

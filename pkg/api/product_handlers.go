package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/httputil"
	"github.com/maybeizen/fluxo-sub000/pkg/products"
)

// createProduct adds a plan to the catalog
func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req products.CreateProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	product, err := s.products.Create(r.Context(), &req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, product)
}

// listProducts returns catalog entries. Archived plans are included only
// when ?archived=true.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"

	list, err := s.products.List(r.Context(), includeArchived)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// getProduct retrieves a catalog entry by ID
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.products.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, product)
}

// archiveProduct hides a catalog entry from new purchases
func (s *Server) archiveProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.products.Archive(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/httputil"
)

// createAccountRequest carries the email for a new account
type createAccountRequest struct {
	Email string `json:"email"`
}

// createAccount registers a new unverified account
func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	account, err := s.accounts.Create(r.Context(), req.Email)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, account)
}

// getAccount retrieves an account by ID
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// verifyAccount marks an account as verified, exempting it from the
// unverified retention sweep
func (s *Server) verifyAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.MarkVerified(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

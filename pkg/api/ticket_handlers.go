package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/httputil"
	"github.com/maybeizen/fluxo-sub000/pkg/tickets"
)

// createTicket files a new support ticket
func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	var req tickets.CreateTicketRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	ticket, err := s.tickets.Create(r.Context(), &req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, ticket)
}

// getTicket retrieves a ticket by ID
func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.tickets.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, ticket)
}

// listUserTickets returns a user's tickets
func (s *Server) listUserTickets(w http.ResponseWriter, r *http.Request) {
	list, err := s.tickets.ListByUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// closeTicket resolves an open ticket
func (s *Server) closeTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.tickets.Close(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, ticket)
}

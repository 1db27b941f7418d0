package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/httputil"
)

// createCoupon creates a new coupon
func (s *Server) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateCouponRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	coupon, err := s.coupons.Create(r.Context(), &req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, coupon)
}

// listCoupons returns every live coupon
func (s *Server) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := s.coupons.List(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, coupons)
}

// getCoupon retrieves a coupon by code
func (s *Server) getCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := s.coupons.GetByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, coupon)
}

// deleteCoupon soft-deletes a coupon
func (s *Server) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := s.coupons.Delete(r.Context(), mux.Vars(r)["code"]); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// validateCouponRequest identifies the user attempting redemption
type validateCouponRequest struct {
	UserID string `json:"user_id"`
}

// validateCoupon checks whether a coupon is redeemable by a user without
// consuming it
func (s *Server) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	coupon, err := s.coupons.Validate(r.Context(), mux.Vars(r)["code"], req.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, coupon)
}

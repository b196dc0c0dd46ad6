package promos

import (
	"net/http"
	"strconv"
	"time"

	"simcex/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.svc.List(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID, promoID string) {
	id, err := strconv.ParseInt(promoID, 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid promo id"})
		return
	}
	p, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request, userID, promoID string) {
	id, err := strconv.ParseInt(promoID, 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid promo id"})
		return
	}
	p, err := h.svc.Activate(r.Context(), userID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

type redeemRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request, userID, promoID string) {
	id, err := strconv.ParseInt(promoID, 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid promo id"})
		return
	}
	var req redeemRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	p, err := h.svc.Redeem(r.Context(), userID, id, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

type createRequest struct {
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	ExpiresAt *time.Time      `json:"expires_at"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.UserID == "" || req.Currency == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id and currency are required"})
		return
	}
	p, err := h.svc.Create(r.Context(), CreateInput{
		UserID:    req.UserID,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Note:      req.Note,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

type cancelRequest struct {
	Note string `json:"note"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, promoID string) {
	id, err := strconv.ParseInt(promoID, 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid promo id"})
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	p, err := h.svc.Cancel(r.Context(), id, req.Note)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

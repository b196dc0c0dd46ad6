package wallet

import (
	"net/http"
	"strconv"

	"simcex/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type depositRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Network  string          `json:"network"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, userID string) {
	var req depositRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tx, err := h.svc.RequestDeposit(r.Context(), userID, req.Currency, req.Network, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

type withdrawRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
	Network  string          `json:"network"`
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, userID string) {
	var req withdrawRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tx, err := h.svc.RequestWithdrawal(r.Context(), userID, req.Currency, req.Address, req.Network, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID, transactionID string) {
	tx, err := h.svc.Get(r.Context(), transactionID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request, transactionID string) {
	tx, err := h.svc.Approve(r.Context(), transactionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request, transactionID string) {
	tx, err := h.svc.Complete(r.Context(), transactionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, transactionID string) {
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled"
	}
	tx, err := h.svc.Cancel(r.Context(), transactionID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

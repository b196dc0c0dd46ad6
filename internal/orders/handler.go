package orders

import (
	"net/http"
	"strconv"

	"simcex/internal/httputil"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createOrderRequest struct {
	Market      string           `json:"market"`
	Side        string           `json:"side"`
	Type        string           `json:"type"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       *decimal.Decimal `json:"price"`
	StopPrice   *decimal.Decimal `json:"stop_price"`
	TimeInForce string           `json:"time_in_force"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request, userID string) {
	var req createOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.TimeInForce == "" {
		req.TimeInForce = string(types.TimeInForceGTC)
	}
	order, err := h.svc.Create(r.Context(), CreateRequest{
		UserID:      userID,
		Market:      req.Market,
		Side:        types.OrderSide(req.Side),
		Type:        types.OrderType(req.Type),
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: types.TimeInForce(req.TimeInForce),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

type editOrderRequest struct {
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	var req editOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	order, err := h.svc.Edit(r.Context(), EditRequest{
		OrderID:  orderID,
		UserID:   userID,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	order, err := h.svc.Get(r.Context(), orderID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	f := store.OrderFilter{UserID: userID}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = []types.OrderStatus{types.OrderStatus(v)}
	}
	if v := r.URL.Query().Get("market_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.MarketID = id
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	list, err := h.svc.List(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "user_cancelled"
	}
	order, err := h.svc.Cancel(r.Context(), orderID, userID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

type fillOrderRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Fill is the internal execution hook: the simulated matching side reports
// an execution and the order settles accordingly.
func (h *Handler) Fill(w http.ResponseWriter, r *http.Request, orderID string) {
	var req fillOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	order, err := h.svc.Fill(r.Context(), orderID, req.Quantity, req.Price)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request, orderID string) {
	var req rejectOrderRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "rejected"
	}
	order, err := h.svc.Reject(r.Context(), orderID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

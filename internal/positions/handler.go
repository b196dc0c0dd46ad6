package positions

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

type openPositionRequest struct {
	Market     string           `json:"market"`
	Side       string           `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	EntryPrice *decimal.Decimal `json:"entry_price"`
	Leverage   decimal.Decimal  `json:"leverage"`
	StopLoss   *decimal.Decimal `json:"stop_loss_price"`
	TakeProfit *decimal.Decimal `json:"take_profit_price"`
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req openPositionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Leverage.IsZero() {
		req.Leverage = decimal.NewFromInt(1)
	}
	position, err := h.svc.Open(r.Context(), OpenRequest{
		UserID:     userID,
		Market:     req.Market,
		Side:       types.PositionSide(req.Side),
		Quantity:   req.Quantity,
		EntryPrice: req.EntryPrice,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, position)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	position, err := h.svc.Get(r.Context(), positionID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, position)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	f := store.PositionFilter{UserID: userID}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = []types.PositionStatus{types.PositionStatus(v)}
	}
	if v := r.URL.Query().Get("market_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.MarketID = id
		}
	}
	list, err := h.svc.List(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type closePositionRequest struct {
	ClosePrice *decimal.Decimal `json:"close_price"`
	Quantity   *decimal.Decimal `json:"quantity"`
	Reason     string           `json:"reason"`
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	var req closePositionRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "user_closed"
	}
	position, err := h.svc.Close(r.Context(), CloseRequest{
		PositionID: positionID,
		UserID:     userID,
		ClosePrice: req.ClosePrice,
		Quantity:   req.Quantity,
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, position)
}

// Liquidate is internal: risk tooling forces the position to total loss.
func (h *Handler) Liquidate(w http.ResponseWriter, r *http.Request, positionID string) {
	if err := h.svc.Liquidate(r.Context(), positionID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	position, err := h.svc.Get(r.Context(), positionID, "")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, position)
}

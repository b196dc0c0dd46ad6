package funds

import (
	"net/http"

	"simcex/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type balanceEntry struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request, userID string) {
	balances, err := h.svc.Balances(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]balanceEntry, 0, len(balances))
	for _, b := range balances {
		allocated, err := h.svc.TotalAllocated(r.Context(), userID, b.Currency)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		out = append(out, balanceEntry{
			Currency:  b.Currency,
			Amount:    b.Amount,
			Allocated: allocated,
			Available: b.Amount.Sub(allocated),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

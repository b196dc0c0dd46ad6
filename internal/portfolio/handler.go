package portfolio

import (
	"net/http"
	"strconv"

	"simcex/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request, userID string) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	snap, err := h.svc.Snapshot(r.Context(), userID, days)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

package announcements

import (
	"net/http"
	"strconv"
	"time"

	"simcex/internal/httputil"
	"simcex/internal/model"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), true)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type announcementRequest struct {
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Type        string     `json:"type"`
	IsActive    bool       `json:"is_active"`
	PublishedAt *time.Time `json:"published_at"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req announcementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Title == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "title is required"})
		return
	}
	if req.Type == "" {
		req.Type = "general"
	}
	a, err := h.store.Create(r.Context(), model.Announcement{
		Title:       req.Title,
		Body:        req.Body,
		Type:        req.Type,
		IsActive:    req.IsActive,
		PublishedAt: req.PublishedAt,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid id"})
		return
	}
	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req announcementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Title != "" {
		existing.Title = req.Title
	}
	if req.Body != "" {
		existing.Body = req.Body
	}
	if req.Type != "" {
		existing.Type = req.Type
	}
	existing.IsActive = req.IsActive
	if req.PublishedAt != nil {
		existing.PublishedAt = req.PublishedAt
	}
	if err := h.store.Update(r.Context(), existing); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, existing)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid id"})
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

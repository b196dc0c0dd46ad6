package httputil

import (
	"errors"
	"net/http"

	"simcex/internal/model"
)

// WriteError maps domain errors onto HTTP statuses. Anything unrecognized
// is a 500 with the raw message; the simulated exchange has no secrets to
// hide in error text.
func WriteError(w http.ResponseWriter, err error) {
	var (
		insufficient *model.InsufficientFundsError
		state        *model.InvalidStateError
		quantity     *model.InvalidQuantityError
		notFound     *model.NotFoundError
	)
	switch {
	case errors.As(err, &insufficient):
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.As(err, &state):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.As(err, &quantity):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &notFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/homerun-app/homerun-server/cmd/models"
)

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// WriteError maps domain error kinds to distinct HTTP statuses and stable
// machine-readable codes. A taken slot, a declined card and a closed dispute
// window all surface differently so clients can show the right message.
func WriteError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, models.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrSlotNoLongerAvailable):
		status, code = http.StatusConflict, "slot_no_longer_available"
	case errors.Is(err, models.ErrPaymentDeclined):
		status, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, models.ErrDisputeWindowClosed):
		status, code = http.StatusUnprocessableEntity, "dispute_window_closed"
	case errors.Is(err, models.ErrDisputeAlreadyExists):
		status, code = http.StatusConflict, "dispute_already_exists"
	case errors.Is(err, models.ErrCompletionUnrecorded):
		status, code = http.StatusUnprocessableEntity, "completion_unrecorded"
	case errors.Is(err, models.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrPaymentAmountSync):
		status, code = http.StatusConflict, "payment_amount_sync"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	WriteJSON(w, status, map[string]string{
		"error":   code,
		"message": err.Error(),
	})
}

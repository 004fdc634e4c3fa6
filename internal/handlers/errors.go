package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/talkbridge/backend/internal/services"
)

// statusFor maps a service error onto an HTTP status and a stable code that
// websocket clients receive in call-error events.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, services.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrPeerUnreachable):
		return http.StatusConflict, "peer_unreachable"
	case errors.Is(err, services.ErrTransientStore):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[HTTP] %s failed: %v", op, err)
		services.SendErrorResponse(w, "Internal error", status, nil)
		return
	}
	services.SendErrorResponse(w, code+": "+err.Error(), status, nil)
}

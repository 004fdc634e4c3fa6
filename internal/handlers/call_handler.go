package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/talkbridge/backend/internal/models"
	"github.com/talkbridge/backend/internal/services"
)

// CallOperations is the call lifecycle as the transports see it.
type CallOperations interface {
	Initiate(ctx context.Context, req services.InitiateRequest) (*models.Call, error)
	Accept(ctx context.Context, callID, receiverID int64) (*models.Call, error)
	Reject(ctx context.Context, callID, accountID int64) (*models.Call, error)
	End(ctx context.Context, callID, accountID int64, reason string) (*models.Call, error)
	ForwardSignal(ctx context.Context, callID, fromAccount, toAccount int64, payload []byte) error
	TranslateAudio(ctx context.Context, fromAccount int64, req services.AudioTranslation) error
	Get(ctx context.Context, callID int64) (*models.Call, error)
	Register(accountID int64, conn services.Connection)
	Disconnect(ctx context.Context, connID string)
}

type CallHandler struct {
	calls     CallOperations
	validator *services.ValidationHelper
}

func NewCallHandler(calls CallOperations) *CallHandler {
	return &CallHandler{
		calls:     calls,
		validator: services.NewValidationHelper(),
	}
}

type SignalRequest struct {
	CallID   int64           `json:"callId" validate:"required,gt=0"`
	TargetID int64           `json:"targetId" validate:"omitempty,gt=0"`
	Signal   json.RawMessage `json:"signal" validate:"required"`
}

// Initiate starts a call to another account
// @Summary Start call
// @Tags Calls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.InitiateRequest true "Call request"
// @Success 201 {object} models.Call
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /calls [post]
func (h *CallHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req services.InitiateRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	req.CallerID = accountID

	call, err := h.calls.Initiate(r.Context(), req)
	if err != nil {
		writeServiceError(w, "initiate call", err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// Accept answers a ringing call
// @Summary Accept call
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param callId path int true "Call ID"
// @Success 200 {object} models.Call
// @Failure 409 {object} services.ErrorResponse
// @Router /calls/{callId}/accept [post]
func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept call", func(ctx context.Context, callID, accountID int64) (*models.Call, error) {
		return h.calls.Accept(ctx, callID, accountID)
	})
}

// Reject declines or cancels a ringing call
// @Summary Reject call
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param callId path int true "Call ID"
// @Success 200 {object} models.Call
// @Failure 409 {object} services.ErrorResponse
// @Router /calls/{callId}/reject [post]
func (h *CallHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject call", h.calls.Reject)
}

// End hangs up an accepted call and settles its cost
// @Summary End call
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param callId path int true "Call ID"
// @Success 200 {object} models.Call
// @Failure 409 {object} services.ErrorResponse
// @Router /calls/{callId}/end [post]
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "end call", func(ctx context.Context, callID, accountID int64) (*models.Call, error) {
		return h.calls.End(ctx, callID, accountID, models.ReasonNormal)
	})
}

// Get returns the current record of a call
// @Summary Get call
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param callId path int true "Call ID"
// @Success 200 {object} models.Call
// @Failure 404 {object} services.ErrorResponse
// @Router /calls/{callId} [get]
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	callID, ok := pathID(w, r, "callId")
	if !ok {
		return
	}

	call, err := h.calls.Get(r.Context(), callID)
	if err != nil {
		writeServiceError(w, "get call", err)
		return
	}
	if call.CallerID != accountID && call.ReceiverID != accountID {
		services.SendErrorResponse(w, "not_found: call not found", http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// Signal relays a negotiation payload to the other party
// @Summary Relay signal
// @Tags Calls
// @Accept json
// @Security BearerAuth
// @Param request body SignalRequest true "Signal"
// @Success 204
// @Failure 409 {object} services.ErrorResponse
// @Router /signals [post]
func (h *CallHandler) Signal(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req SignalRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	if err := h.calls.ForwardSignal(r.Context(), req.CallID, accountID, req.TargetID, req.Signal); err != nil {
		writeServiceError(w, "forward signal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CallHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64, int64) (*models.Call, error)) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	callID, ok := pathID(w, r, "callId")
	if !ok {
		return
	}

	call, err := fn(r.Context(), callID, accountID)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if call == nil {
		writeServiceError(w, op, errors.New("no call returned"))
		return
	}
	writeJSON(w, http.StatusOK, call)
}

package handlers

import (
	"context"
	"net/http"

	"github.com/talkbridge/backend/internal/models"
	"github.com/talkbridge/backend/internal/services"
)

type AccountOperations interface {
	GetAccount(ctx context.Context, id int64) (*models.User, error)
	UpdateAccount(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error)
}

type AccountHandler struct {
	accounts  AccountOperations
	validator *services.ValidationHelper
}

func NewAccountHandler(accounts AccountOperations) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		validator: services.NewValidationHelper(),
	}
}

// GetAccount returns the caller's profile
// @Summary Get account
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 404 {object} services.ErrorResponse
// @Router /account [get]
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	user, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateAccount changes profile fields; credits cannot be set here
// @Summary Update account
// @Tags Account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.UserUpdate true "Profile fields"
// @Success 200 {object} models.User
// @Failure 400 {object} services.ErrorResponse
// @Router /account [patch]
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var update models.UserUpdate
	if !decodeBody(w, r, h.validator, &update) {
		return
	}
	user, err := h.accounts.UpdateAccount(r.Context(), accountID, update)
	if err != nil {
		writeServiceError(w, "update account", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

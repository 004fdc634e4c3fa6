package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/talkbridge/backend/internal/models"
	"github.com/talkbridge/backend/internal/services"
)

type LedgerOperations interface {
	Credit(ctx context.Context, accountID, amount int64, description string) (int64, error)
	Debit(ctx context.Context, accountID, amount int64, description string) (int64, error)
	Balance(ctx context.Context, accountID int64) (int64, error)
	History(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error)
}

type LedgerHandler struct {
	ledger    LedgerOperations
	validator *services.ValidationHelper
}

func NewLedgerHandler(ledger LedgerOperations) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type AdjustRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=255"`
}

// GetCredits returns the caller's balance
// @Summary Get balance
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{credits=int64}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /credits [get]
func (h *LedgerHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

// GetTransactions lists the caller's ledger entries, most recent first
// @Summary Transaction history
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries (default 100)"
// @Success 200 {object} object{transactions=[]models.LedgerEntry}
// @Failure 401 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *LedgerHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			services.SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	entries, err := h.ledger.History(r.Context(), accountID, limit)
	if err != nil {
		writeServiceError(w, "history", err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

// Credit grants credits to an account
// @Summary Credit account
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param request body AdjustRequest true "Credit request"
// @Success 200 {object} object{balance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/accounts/{accountId}/credit [post]
func (h *LedgerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.Credit, "credit")
}

// Debit removes credits from an account; refused when the balance is short
// @Summary Debit account
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param request body AdjustRequest true "Debit request"
// @Success 200 {object} object{balance=int64}
// @Failure 402 {object} services.ErrorResponse
// @Router /admin/accounts/{accountId}/debit [post]
func (h *LedgerHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.Debit, "debit")
}

func (h *LedgerHandler) adjust(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int64, string) (int64, error), name string) {
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	var req AdjustRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if req.Description == "" {
		req.Description = "manual " + name
	}

	balance, err := op(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "balance": balance})
}

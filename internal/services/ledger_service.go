package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/talkbridge/backend/internal/audit"
	"github.com/talkbridge/backend/internal/models"
)

const defaultHistoryLimit = 100

// LedgerService owns every write to an account's credits. Each mutation locks
// the account row, validates, writes the new balance and appends the
// transaction record inside one database transaction.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
	now   func() time.Time
}

func NewLedgerService(db *sql.DB, auditLogger *audit.Logger) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: auditLogger,
		now:   time.Now,
	}
}

// Credit adds amount to the account and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, accountID, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, accountID, amount, description, "")
}

// Debit removes amount from the account. It fails with ErrInsufficientFunds
// and leaves both balance and log untouched when amount exceeds the balance.
func (s *LedgerService) Debit(ctx context.Context, accountID, amount int64, description string) (int64, error) {
	return s.DebitWithReference(ctx, accountID, amount, description, "")
}

func (s *LedgerService) DebitWithReference(ctx context.Context, accountID, amount int64, description, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, accountID, -amount, description, reference)
}

func (s *LedgerService) apply(ctx context.Context, accountID, delta int64, description, reference string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("ledger begin", err)
	}
	defer tx.Rollback()

	balance, err := s.ApplyTx(ctx, tx, accountID, delta, description, reference)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Commit failed for account %d: %v", accountID, err)
		s.audit.LogError(reference, accountID, err)
		return 0, storeError("ledger commit", err)
	}

	txType := models.TxTypeCredit
	if delta < 0 {
		txType = models.TxTypeDebit
	}
	s.audit.LogLedger(reference, accountID, delta, balance, txType)
	return balance, nil
}

// ApplyTx is the single balance primitive. Purchases, rewards and billing all
// route through it so the row lock is always taken before the read.
func (s *LedgerService) ApplyTx(ctx context.Context, tx *sql.Tx, accountID, delta int64, description, reference string) (int64, error) {
	if delta == 0 {
		return 0, ErrInvalidAmount
	}

	account, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}

	newBalance := account.Credits + delta
	if newBalance < 0 {
		s.audit.LogRefused(reference, accountID, delta, account.Credits)
		return account.Credits, ErrInsufficientFunds
	}

	txType := models.TxTypeCredit
	if delta < 0 {
		txType = models.TxTypeDebit
	}

	if err := s.createLedgerEntry(ctx, tx, accountID, txType, delta, description, reference); err != nil {
		return 0, err
	}

	if err := s.updateAccountBalance(ctx, tx, accountID, newBalance, account.Version); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Balance returns the current credits of an account.
func (s *LedgerService) Balance(ctx context.Context, accountID int64) (int64, error) {
	var credits int64
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, accountID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return 0, storeError("ledger balance", err)
	}
	return credits, nil
}

// History returns the account's transaction records, most recent first.
func (s *LedgerService) History(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, description, reference, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, storeError("ledger history", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var description, reference sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount, &description, &reference, &e.CreatedAt); err != nil {
			return nil, storeError("ledger history scan", err)
		}
		e.Description = description.String
		e.Reference = reference.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("ledger history rows", err)
	}

	if len(entries) == 0 {
		if _, err := s.Balance(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, accountID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, credits, version, updated_at
		FROM users
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Credits, &account.Version, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, storeError("ledger lock", err)
	}
	return &account, nil
}

func (s *LedgerService) createLedgerEntry(ctx context.Context, tx *sql.Tx, accountID int64, txType string, amount int64, description, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (user_id, type, amount, description, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, txType, amount, description, nullString(reference), s.now())
	return storeError("ledger entry", err)
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET credits = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, s.now(), accountID, version)
	if err != nil {
		return storeError("ledger update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeError("ledger update", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

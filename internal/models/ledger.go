package models

import (
	"time"
)

const (
	TxTypeCredit = "credit_add"
	TxTypeDebit  = "credit_deduct"
)

// LedgerEntry is one immutable row of the credit audit trail.
type LedgerEntry struct {
	ID          int64     `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"user_id"`
	Type        string    `json:"type" db:"type"`
	Amount      int64     `json:"amount" db:"amount"` // positive=credit, negative=debit
	Description string    `json:"description" db:"description"`
	Reference   string    `json:"reference,omitempty" db:"reference"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Account struct {
	ID        int64     `json:"id" db:"id"`
	Credits   int64     `json:"credits" db:"credits"`
	Version   int       `json:"version" db:"version"` // bumped on every balance write
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state for transition")
	ErrNotFound          = errors.New("not found")
	ErrPeerUnreachable   = errors.New("peer unreachable")
	ErrTransientStore    = errors.New("transient store error")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrLeaseLost         = errors.New("ticker lease owned elsewhere")
)

// storeError wraps a database failure. Failures that a retry could clear are
// additionally tagged with ErrTransientStore.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"40", // serialization failure, deadlock
			"53", // insufficient resources
			"57": // operator intervention
			return true
		}
	}
	return false
}

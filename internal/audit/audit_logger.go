package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference,omitempty"`
	AccountID int64     `json:"account_id,omitempty"`
	CallID    int64     `json:"call_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes one JSON line per ledger mutation or call transition.
type Logger struct {
	sink func(Event)
}

func NewLogger() *Logger {
	return &Logger{}
}

// NewLoggerWithSink routes events to sink instead of the process log.
func NewLoggerWithSink(sink func(Event)) *Logger {
	return &Logger{sink: sink}
}

func (a *Logger) LogLedger(reference string, accountID, amount, balance int64, txType string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "LEDGER",
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]any{
			"type":          txType,
			"balance_after": balance,
		},
	})
}

func (a *Logger) LogRefused(reference string, accountID, amount, balance int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "LEDGER",
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "REFUSED",
		Details:   map[string]any{"balance": balance},
	})
}

func (a *Logger) LogCallTransition(callID int64, from, to, reason string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CALL",
		CallID:    callID,
		Status:    to,
		Details: map[string]string{
			"from":   from,
			"reason": reason,
		},
	})
}

func (a *Logger) LogError(reference string, accountID int64, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	if a == nil {
		return
	}
	if a.sink != nil {
		a.sink(event)
		return
	}
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}

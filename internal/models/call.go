package models

import (
	"time"
)

type CallStatus string

const (
	CallInitiated    CallStatus = "initiated"
	CallAccepted     CallStatus = "accepted"
	CallActive       CallStatus = "active"
	CallEnded        CallStatus = "ended"
	CallRejected     CallStatus = "rejected"
	CallFailed       CallStatus = "failed"
	CallDisconnected CallStatus = "disconnected"
)

// Terminal reports whether no further transition is allowed from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallEnded, CallRejected, CallFailed, CallDisconnected:
		return true
	}
	return false
}

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

const (
	ReasonNormal              = "normal"
	ReasonDisconnected        = "disconnected"
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonBillingError        = "billing_error"
	ReasonRecovered           = "recovered"
	ReasonNoAnswer            = "no_answer"
	ReasonDeclined            = "declined"
	ReasonCancelled           = "cancelled"
)

// Call is the durable record of one call attempt.
type Call struct {
	ID             int64      `json:"id" db:"id"`
	CallerID       int64      `json:"callerId" db:"caller_id"`
	ReceiverID     int64      `json:"receiverId" db:"receiver_id"`
	Kind           CallKind   `json:"callType" db:"call_type"`
	Status         CallStatus `json:"status" db:"status"`
	EndReason      string     `json:"endReason,omitempty" db:"end_reason"`
	AITranslated   bool       `json:"aiTranslated" db:"ai_translated"`
	SourceLanguage string     `json:"sourceLanguage,omitempty" db:"source_language"`
	TargetLanguage string     `json:"targetLanguage,omitempty" db:"target_language"`
	Duration       int64      `json:"duration" db:"duration"` // seconds
	Cost           int64      `json:"cost" db:"cost"`         // credits
	StartedAt      *time.Time `json:"startedAt,omitempty" db:"started_at"`
	EndedAt        *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

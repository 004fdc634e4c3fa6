package services

import (
	"encoding/json"
	"fmt"
	"log"
)

// Outbound event names understood by clients.
const (
	EventCallInitiated   = "call-initiated"
	EventIncomingCall    = "incoming-call"
	EventCallAccepted    = "call-accepted"
	EventCallRejected    = "call-rejected"
	EventCallEnded       = "call-ended"
	EventCallBilling     = "call-billing"
	EventCallSignal      = "call-signal"
	EventTranslatedAudio = "translated-audio"
	EventCallError       = "call-error"
)

// SignalMessage is the payload delivered with a call-signal event.
type SignalMessage struct {
	CallID int64           `json:"callId"`
	From   int64           `json:"from"`
	Kind   SignalKind      `json:"kind"`
	Signal json.RawMessage `json:"signal"`
}

// SignalRelay delivers events to accounts through the presence directory. It
// never mutates presence and never queues for absent accounts.
type SignalRelay struct {
	presence *PresenceDirectory
}

func NewSignalRelay(presence *PresenceDirectory) *SignalRelay {
	return &SignalRelay{presence: presence}
}

// Forward delivers an opaque negotiation payload to toAccount, tagged with
// the sender. An absent or failing peer yields ErrPeerUnreachable.
func (r *SignalRelay) Forward(fromAccount, toAccount, callID int64, payload json.RawMessage) error {
	conn, ok := r.presence.Lookup(toAccount)
	if !ok {
		return fmt.Errorf("account %d: %w", toAccount, ErrPeerUnreachable)
	}

	kind := ClassifySignal(payload)
	err := conn.Send(Event{Type: EventCallSignal, Data: SignalMessage{
		CallID: callID,
		From:   fromAccount,
		Kind:   kind,
		Signal: payload,
	}})
	if err != nil {
		return fmt.Errorf("account %d: %w: %w", toAccount, ErrPeerUnreachable, err)
	}

	log.Printf("[RELAY] call %d: %s %d -> %d", callID, kind, fromAccount, toAccount)
	return nil
}

// Notify delivers event to accountID if it is present. It reports whether
// the event was handed to a connection.
func (r *SignalRelay) Notify(accountID int64, event Event) bool {
	conn, ok := r.presence.Lookup(accountID)
	if !ok {
		return false
	}
	if err := conn.Send(event); err != nil {
		log.Printf("[RELAY] %s to account %d dropped: %v", event.Type, accountID, err)
		return false
	}
	return true
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/talkbridge/backend/internal/audit"
	"github.com/talkbridge/backend/internal/config"
	"github.com/talkbridge/backend/internal/models"
)

// Ledger is the slice of LedgerService the call lifecycle needs.
type Ledger interface {
	DebitWithReference(ctx context.Context, accountID, amount int64, description, reference string) (int64, error)
	Balance(ctx context.Context, accountID int64) (int64, error)
}

type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	Update(ctx context.Context, call *models.Call) error
	Get(ctx context.Context, id int64) (*models.Call, error)
	ReconcileOpen(ctx context.Context, now time.Time) ([]int64, error)
}

type AccountLookup interface {
	GetAccount(ctx context.Context, id int64) (*models.User, error)
}

// Translator turns a voice payload into text in the target language.
type Translator interface {
	TranslateAudio(ctx context.Context, req AudioTranslation) (string, error)
}

type InitiateRequest struct {
	CallerID       int64           `json:"-"`
	ReceiverID     int64           `json:"receiverId" validate:"required,gt=0"`
	Kind           models.CallKind `json:"callType" validate:"required,oneof=audio video"`
	AITranslated   bool            `json:"aiTranslated"`
	SourceLanguage string          `json:"sourceLanguage,omitempty" validate:"omitempty,len=2"`
	TargetLanguage string          `json:"targetLanguage,omitempty" validate:"omitempty,len=2"`
}

type AudioTranslation struct {
	CallID         int64  `json:"callId" validate:"required,gt=0"`
	AudioData      string `json:"audioData" validate:"required"`
	SourceLanguage string `json:"sourceLanguage,omitempty" validate:"omitempty,len=2"`
	TargetLanguage string `json:"targetLanguage,omitempty" validate:"omitempty,len=2"`
}

// BillingUpdate is broadcast to both parties after every successful tick.
type BillingUpdate struct {
	CallID   int64 `json:"callId"`
	Interval int64 `json:"interval"`
	Duration int64 `json:"duration"`
	Cost     int64 `json:"cost"`
	Balance  int64 `json:"balance"`
}

type CallEndedEvent struct {
	CallID   int64  `json:"callId"`
	Reason   string `json:"reason"`
	Duration int64  `json:"duration"`
	Cost     int64  `json:"cost"`
}

type TranslatedAudioEvent struct {
	CallID         int64  `json:"callId"`
	From           int64  `json:"from"`
	TranslatedText string `json:"translatedText"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Translated     bool   `json:"translated"`
}

// CallService owns every call status transition. Transitions on one call are
// serialized by that call's session mutex; unrelated calls never contend.
type CallService struct {
	cfg        config.BillingConfig
	ledger     Ledger
	calls      CallRepository
	accounts   AccountLookup
	presence   *PresenceDirectory
	relay      *SignalRelay
	registry   *SessionRegistry
	lease      TickerLease
	translator Translator
	audit      *audit.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCallService(
	cfg config.BillingConfig,
	ledger Ledger,
	calls CallRepository,
	accounts AccountLookup,
	presence *PresenceDirectory,
	lease TickerLease,
	translator Translator,
	auditLogger *audit.Logger,
) *CallService {
	if lease == nil {
		lease = noopLease{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CallService{
		cfg:        cfg.Normalize(),
		ledger:     ledger,
		calls:      calls,
		accounts:   accounts,
		presence:   presence,
		relay:      NewSignalRelay(presence),
		registry:   NewSessionRegistry(),
		lease:      lease,
		translator: translator,
		audit:      auditLogger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *CallService) Registry() *SessionRegistry { return s.registry }

func (s *CallService) Relay() *SignalRelay { return s.relay }

// Register binds accountID to conn and moves the account's live sessions onto
// the new connection, so closing the replaced one does not end them.
func (s *CallService) Register(accountID int64, conn Connection) {
	prev := s.presence.Register(accountID, conn)
	for _, sess := range s.registry.all() {
		sess.mu.Lock()
		if !sess.done {
			if sess.call.CallerID == accountID {
				sess.callerConn = conn.ID()
			}
			if sess.call.ReceiverID == accountID {
				sess.receiverConn = conn.ID()
			}
		}
		sess.mu.Unlock()
	}
	if prev != nil {
		log.Printf("[CALL] account %d re-registered, replacing connection %s", accountID, prev.ID())
	}
}

// Initiate checks the caller can afford a session and rings the receiver.
// An unaffordable attempt is recorded as failed and returns ErrInsufficientFunds.
func (s *CallService) Initiate(ctx context.Context, req InitiateRequest) (*models.Call, error) {
	if req.CallerID == req.ReceiverID {
		return nil, fmt.Errorf("caller and receiver are the same account: %w", ErrInvalidState)
	}
	if req.Kind != models.CallAudio && req.Kind != models.CallVideo {
		return nil, fmt.Errorf("unknown call type %q: %w", req.Kind, ErrInvalidState)
	}
	if _, err := s.accounts.GetAccount(ctx, req.ReceiverID); err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, req.CallerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	call := &models.Call{
		CallerID:       req.CallerID,
		ReceiverID:     req.ReceiverID,
		Kind:           req.Kind,
		Status:         models.CallInitiated,
		AITranslated:   req.AITranslated,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		CreatedAt:      now,
	}

	if balance < s.cfg.MinSessionCost {
		call.Status = models.CallFailed
		call.EndReason = models.ReasonInsufficientCredits
		call.EndedAt = &now
		if err := s.calls.Create(ctx, call); err != nil {
			log.Printf("[CALL] failed to record refused call from %d: %v", req.CallerID, err)
		}
		s.audit.LogCallTransition(call.ID, "", string(models.CallFailed), models.ReasonInsufficientCredits)
		return call, fmt.Errorf("balance %d below minimum %d: %w", balance, s.cfg.MinSessionCost, ErrInsufficientFunds)
	}

	if err := s.calls.Create(ctx, call); err != nil {
		return nil, err
	}

	sess := &session{id: call.ID, call: call}
	if conn, ok := s.presence.Lookup(call.CallerID); ok {
		sess.callerConn = conn.ID()
	}
	if conn, ok := s.presence.Lookup(call.ReceiverID); ok {
		sess.receiverConn = conn.ID()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.registry.add(sess)
	sess.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() { s.ringExpired(sess) })

	snapshot := *call
	ringing := s.relay.Notify(call.ReceiverID, Event{Type: EventIncomingCall, Data: snapshot})
	s.relay.Notify(call.CallerID, Event{Type: EventCallInitiated, Data: map[string]any{
		"callId":     call.ID,
		"receiverId": call.ReceiverID,
		"ringing":    ringing,
	}})
	if !ringing {
		log.Printf("[CALL] call %d: receiver %d not connected, waiting up to %s", call.ID, call.ReceiverID, s.cfg.RingTimeout)
	}

	s.audit.LogCallTransition(call.ID, "", string(models.CallInitiated), "")
	return &snapshot, nil
}

// Accept moves an initiated call to accepted and starts its single ticker.
// Any other starting state, including a missing session, is ErrInvalidState;
// an account outside the call gets ErrNotFound.
func (s *CallService) Accept(ctx context.Context, callID, receiverID int64) (*models.Call, error) {
	sess, ok := s.registry.get(callID)
	if !ok {
		return nil, fmt.Errorf("call %d is not ringing: %w", callID, ErrInvalidState)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := checkParty(sess.call, receiverID); err != nil {
		return nil, err
	}
	if sess.done || sess.call.Status != models.CallInitiated {
		return nil, fmt.Errorf("call %d is %s: %w", callID, sess.call.Status, ErrInvalidState)
	}
	if sess.call.ReceiverID != receiverID {
		return nil, fmt.Errorf("account %d cannot accept call %d: %w", receiverID, callID, ErrInvalidState)
	}

	acquired, err := s.lease.Acquire(ctx, callID)
	if err != nil {
		log.Printf("[BILLING] call %d: lease unavailable, ticking without it: %v", callID, err)
		acquired = true
	}
	if !acquired {
		return nil, fmt.Errorf("call %d is billed by another instance: %w", callID, ErrInvalidState)
	}

	prev := *sess.call
	now := s.now()
	sess.call.Status = models.CallAccepted
	sess.call.StartedAt = &now
	if err := s.calls.Update(ctx, sess.call); err != nil {
		*sess.call = prev
		if rerr := s.lease.Release(ctx, callID); rerr != nil {
			log.Printf("[BILLING] call %d: %v", callID, rerr)
		}
		return nil, err
	}

	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	if conn, ok := s.presence.Lookup(receiverID); ok {
		sess.receiverConn = conn.ID()
	}
	if sess.ticker == nil {
		sess.ticker = startBillingTicker(s.ctx, &s.wg, callID, s.cfg.TickInterval, func(ctx context.Context) {
			s.tick(ctx, sess)
		})
	}

	snapshot := *sess.call
	s.relay.Notify(sess.call.CallerID, Event{Type: EventCallAccepted, Data: snapshot})
	s.audit.LogCallTransition(callID, string(models.CallInitiated), string(models.CallAccepted), "")
	log.Printf("[CALL] call %d accepted by %d", callID, receiverID)

	return &snapshot, nil
}

// Reject declines or cancels a ringing call. Rejecting a call that already
// reached a terminal state is a no-op.
func (s *CallService) Reject(ctx context.Context, callID, accountID int64) (*models.Call, error) {
	sess, ok := s.registry.get(callID)
	if !ok {
		return s.settled(ctx, callID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done {
		snapshot := *sess.call
		return &snapshot, nil
	}
	if err := checkParty(sess.call, accountID); err != nil {
		return nil, err
	}
	if sess.call.Status != models.CallInitiated {
		return nil, fmt.Errorf("call %d is %s: %w", callID, sess.call.Status, ErrInvalidState)
	}

	reason := models.ReasonDeclined
	if accountID == sess.call.CallerID {
		reason = models.ReasonCancelled
	}
	s.terminateLocked(ctx, sess, models.CallRejected, reason)

	snapshot := *sess.call
	return &snapshot, nil
}

// End finishes an accepted or active call and settles any interval the
// ticker has not charged yet. Ending an already terminal call is a no-op.
func (s *CallService) End(ctx context.Context, callID, accountID int64, reason string) (*models.Call, error) {
	sess, ok := s.registry.get(callID)
	if !ok {
		return s.settled(ctx, callID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done {
		snapshot := *sess.call
		return &snapshot, nil
	}
	if err := checkParty(sess.call, accountID); err != nil {
		return nil, err
	}
	if sess.call.Status != models.CallAccepted && sess.call.Status != models.CallActive {
		return nil, fmt.Errorf("call %d is %s: %w", callID, sess.call.Status, ErrInvalidState)
	}

	if reason == "" {
		reason = models.ReasonNormal
	}
	s.settleLocked(ctx, sess)
	s.terminateLocked(ctx, sess, models.CallEnded, reason)

	snapshot := *sess.call
	return &snapshot, nil
}

// Disconnect drops connID from presence and forces every live session that
// still references it to a terminal state. Safe to call more than once.
func (s *CallService) Disconnect(ctx context.Context, connID string) {
	accounts := s.presence.Unregister(connID)
	for _, sess := range s.registry.forConnection(connID) {
		sess.mu.Lock()
		if !sess.done && sess.involves(connID) {
			if sess.call.Status == models.CallInitiated {
				s.terminateLocked(ctx, sess, models.CallRejected, models.ReasonDisconnected)
			} else {
				s.settleLocked(ctx, sess)
				s.terminateLocked(ctx, sess, models.CallEnded, models.ReasonDisconnected)
			}
		}
		sess.mu.Unlock()
	}
	if len(accounts) > 0 {
		log.Printf("[CALL] connection %s closed for accounts %v", connID, accounts)
	}
}

// ForwardSignal relays a negotiation payload to the other party of an
// accepted call.
func (s *CallService) ForwardSignal(ctx context.Context, callID, fromAccount, toAccount int64, payload []byte) error {
	sess, ok := s.registry.get(callID)
	if !ok {
		return fmt.Errorf("call %d: %w", callID, ErrNotFound)
	}

	sess.mu.Lock()
	if err := checkParty(sess.call, fromAccount); err != nil {
		sess.mu.Unlock()
		return err
	}
	peer := otherParty(sess.call, fromAccount)
	status := sess.call.Status
	done := sess.done
	sess.mu.Unlock()

	if done || (status != models.CallAccepted && status != models.CallActive) {
		return fmt.Errorf("call %d is %s: %w", callID, status, ErrInvalidState)
	}
	if toAccount != 0 && toAccount != peer {
		return fmt.Errorf("account %d is not the peer on call %d: %w", toAccount, callID, ErrInvalidState)
	}
	return s.relay.Forward(fromAccount, peer, callID, payload)
}

// TranslateAudio delivers a translated voice payload to the peer. A failed
// translation falls back to the original payload and never ends the call.
func (s *CallService) TranslateAudio(ctx context.Context, fromAccount int64, req AudioTranslation) error {
	sess, ok := s.registry.get(req.CallID)
	if !ok {
		return fmt.Errorf("call %d: %w", req.CallID, ErrNotFound)
	}

	sess.mu.Lock()
	if err := checkParty(sess.call, fromAccount); err != nil {
		sess.mu.Unlock()
		return err
	}
	call := *sess.call
	done := sess.done
	sess.mu.Unlock()

	if done || (call.Status != models.CallAccepted && call.Status != models.CallActive) {
		return fmt.Errorf("call %d is %s: %w", call.ID, call.Status, ErrInvalidState)
	}
	if !call.AITranslated {
		return fmt.Errorf("call %d has translation disabled: %w", call.ID, ErrInvalidState)
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = call.SourceLanguage
	}
	if req.TargetLanguage == "" {
		req.TargetLanguage = call.TargetLanguage
	}

	event := TranslatedAudioEvent{
		CallID:         call.ID,
		From:           fromAccount,
		TranslatedText: req.AudioData,
		TargetLanguage: req.TargetLanguage,
	}
	if s.translator != nil {
		text, err := s.translator.TranslateAudio(ctx, req)
		if err != nil {
			log.Printf("[CALL] call %d: translation failed, relaying original: %v", call.ID, err)
		} else {
			event.TranslatedText = text
			event.Translated = true
		}
	}

	peer := otherParty(&call, fromAccount)
	if !s.relay.Notify(peer, Event{Type: EventTranslatedAudio, Data: event}) {
		return fmt.Errorf("account %d: %w", peer, ErrPeerUnreachable)
	}
	return nil
}

// Get returns the live view of a call, falling back to the durable row.
func (s *CallService) Get(ctx context.Context, callID int64) (*models.Call, error) {
	if sess, ok := s.registry.get(callID); ok {
		sess.mu.Lock()
		snapshot := *sess.call
		sess.mu.Unlock()
		return &snapshot, nil
	}
	return s.calls.Get(ctx, callID)
}

// Recover ends every durable call a previous process left open.
func (s *CallService) Recover(ctx context.Context) (int, error) {
	ids, err := s.calls.ReconcileOpen(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.audit.LogCallTransition(id, "", string(models.CallEnded), models.ReasonRecovered)
	}
	if len(ids) > 0 {
		log.Printf("[CALL] recovered %d open calls from previous run", len(ids))
	}
	return len(ids), nil
}

// Shutdown cancels every ticker and ring timer and waits for in-flight ticks.
// Durable rows stay open and are reconciled by Recover on the next start.
func (s *CallService) Shutdown(ctx context.Context) error {
	for _, sess := range s.registry.all() {
		sess.mu.Lock()
		sess.done = true
		if sess.ticker != nil {
			sess.ticker.Stop()
		}
		if sess.ringTimer != nil {
			sess.ringTimer.Stop()
		}
		sess.mu.Unlock()
	}
	s.cancel()

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		log.Printf("[CALL] all billing tickers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for billing tickers: %w", ctx.Err())
	}
}

func (s *CallService) settled(ctx context.Context, callID int64) (*models.Call, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return call, nil
	}
	return nil, fmt.Errorf("call %d is %s but not live here: %w", callID, call.Status, ErrInvalidState)
}

func (s *CallService) ringExpired(sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done || sess.call.Status != models.CallInitiated {
		return
	}
	log.Printf("[CALL] call %d not answered within %s", sess.id, s.cfg.RingTimeout)
	s.terminateLocked(s.ctx, sess, models.CallRejected, models.ReasonNoAnswer)
}

// tick performs one interval debit. It runs under the session lock so it
// cannot interleave with End, and it does nothing once the session is done.
func (s *CallService) tick(ctx context.Context, sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done || ctx.Err() != nil {
		return
	}

	interval := sess.billedIntervals + 1
	balance, err := s.debitIntervals(ctx, sess.call, interval, 1)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return
	case errors.Is(err, ErrInsufficientFunds):
		log.Printf("[BILLING] call %d: caller %d out of credits at interval %d", sess.id, sess.call.CallerID, interval)
		s.terminateLocked(ctx, sess, models.CallEnded, models.ReasonInsufficientCredits)
		return
	default:
		log.Printf("[BILLING] call %d: interval %d not billed: %v", sess.id, interval, err)
		s.terminateLocked(ctx, sess, models.CallEnded, models.ReasonBillingError)
		return
	}

	sess.billedIntervals = interval
	from := sess.call.Status
	sess.call.Status = models.CallActive
	sess.call.Duration = s.intervalSeconds(interval)
	sess.call.Cost = interval * s.cfg.RatePerInterval
	if err := s.calls.Update(ctx, sess.call); err != nil {
		log.Printf("[BILLING] call %d: failed to persist interval %d: %v", sess.id, interval, err)
	}
	if from != models.CallActive {
		s.audit.LogCallTransition(sess.id, string(from), string(models.CallActive), "")
	}
	if err := s.lease.Refresh(ctx, sess.id); err != nil {
		log.Printf("[BILLING] call %d: %v", sess.id, err)
	}

	update := Event{Type: EventCallBilling, Data: BillingUpdate{
		CallID:   sess.id,
		Interval: interval,
		Duration: sess.call.Duration,
		Cost:     sess.call.Cost,
		Balance:  balance,
	}}
	s.relay.Notify(sess.call.CallerID, update)
	s.relay.Notify(sess.call.ReceiverID, update)
}

// settleLocked charges the started intervals the ticker has not billed.
// A refused charge is logged; the balance is never driven negative.
func (s *CallService) settleLocked(ctx context.Context, sess *session) {
	if sess.call.StartedAt == nil {
		return
	}
	elapsed := s.now().Sub(*sess.call.StartedAt)
	intervals := int64(math.Ceil(float64(elapsed) / float64(s.cfg.TickInterval)))
	if intervals < sess.billedIntervals {
		intervals = sess.billedIntervals
	}

	if unbilled := intervals - sess.billedIntervals; unbilled > 0 {
		if _, err := s.debitIntervals(ctx, sess.call, intervals, unbilled); err != nil {
			log.Printf("[BILLING] call %d: %d final intervals unpaid: %v", sess.id, unbilled, err)
		} else {
			sess.billedIntervals = intervals
		}
	}

	sess.call.Duration = s.intervalSeconds(intervals)
	sess.call.Cost = sess.billedIntervals * s.cfg.RatePerInterval
}

// debitIntervals charges count intervals ending at interval, retrying
// transient store failures a bounded number of times.
func (s *CallService) debitIntervals(ctx context.Context, call *models.Call, interval, count int64) (int64, error) {
	amount := count * s.cfg.RatePerInterval
	description := fmt.Sprintf("call %d - interval %d", call.ID, interval)
	if count > 1 {
		description = fmt.Sprintf("call %d - intervals %d-%d", call.ID, interval-count+1, interval)
	}
	reference := fmt.Sprintf("call:%d:%d", call.ID, interval)

	var err error
	for attempt := 0; attempt <= s.cfg.TickRetries; attempt++ {
		var balance int64
		balance, err = s.ledger.DebitWithReference(ctx, call.CallerID, amount, description, reference)
		if err == nil {
			return balance, nil
		}
		if !errors.Is(err, ErrTransientStore) || ctx.Err() != nil {
			return 0, err
		}
		log.Printf("[BILLING] call %d: transient debit failure (attempt %d): %v", call.ID, attempt+1, err)
	}
	return 0, err
}

// terminateLocked moves sess to a terminal status exactly once. The ticker is
// cancelled before the status changes so no tick can follow the end.
func (s *CallService) terminateLocked(ctx context.Context, sess *session, status models.CallStatus, reason string) {
	if sess.done {
		return
	}
	sess.done = true
	if sess.ticker != nil {
		sess.ticker.Stop()
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
	}

	from := sess.call.Status
	now := s.now()
	sess.call.Status = status
	sess.call.EndReason = reason
	sess.call.EndedAt = &now

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.calls.Update(persistCtx, sess.call); err != nil {
		log.Printf("[CALL] call %d: failed to persist %s: %v", sess.id, status, err)
	}
	if sess.ticker != nil {
		if err := s.lease.Release(persistCtx, sess.id); err != nil {
			log.Printf("[BILLING] call %d: %v", sess.id, err)
		}
	}
	s.registry.remove(sess.id)
	s.audit.LogCallTransition(sess.id, string(from), string(status), reason)
	log.Printf("[CALL] call %d %s -> %s (%s)", sess.id, from, status, reason)

	var event Event
	if status == models.CallRejected {
		event = Event{Type: EventCallRejected, Data: map[string]any{"callId": sess.id, "reason": reason}}
	} else {
		event = Event{Type: EventCallEnded, Data: CallEndedEvent{
			CallID:   sess.id,
			Reason:   reason,
			Duration: sess.call.Duration,
			Cost:     sess.call.Cost,
		}}
	}
	s.relay.Notify(sess.call.CallerID, event)
	s.relay.Notify(sess.call.ReceiverID, event)
}

func (s *CallService) intervalSeconds(intervals int64) int64 {
	return int64(math.Round(float64(intervals) * s.cfg.TickInterval.Seconds()))
}

func checkParty(call *models.Call, accountID int64) error {
	if accountID != call.CallerID && accountID != call.ReceiverID {
		return fmt.Errorf("account %d is not a party to call %d: %w", accountID, call.ID, ErrNotFound)
	}
	return nil
}

func otherParty(call *models.Call, accountID int64) int64 {
	if accountID == call.CallerID {
		return call.ReceiverID
	}
	return call.CallerID
}

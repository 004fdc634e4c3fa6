package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkbridge/backend/internal/audit"
	"github.com/talkbridge/backend/internal/config"
	"github.com/talkbridge/backend/internal/models"
)

type fakeDebit struct {
	accountID int64
	amount    int64
	reference string
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[int64]int64
	debits   []fakeDebit
	failures []error
}

func (f *fakeLedger) DebitWithReference(ctx context.Context, accountID, amount int64, description, reference string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return 0, err
		}
	}
	balance, ok := f.balances[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	if balance < amount {
		return 0, ErrInsufficientFunds
	}
	f.balances[accountID] = balance - amount
	f.debits = append(f.debits, fakeDebit{accountID, amount, reference})
	return balance - amount, nil
}

func (f *fakeLedger) Balance(ctx context.Context, accountID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	return balance, nil
}

func (f *fakeLedger) balance(accountID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[accountID]
}

func (f *fakeLedger) debitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.debits)
}

type fakeCallRepo struct {
	mu     sync.Mutex
	nextID int64
	calls  map[int64]models.Call
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{calls: make(map[int64]models.Call)}
}

func (f *fakeCallRepo) Create(ctx context.Context, call *models.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	call.ID = f.nextID
	f.calls[call.ID] = *call
	return nil
}

func (f *fakeCallRepo) Update(ctx context.Context, call *models.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.calls[call.ID]; !ok {
		return ErrNotFound
	}
	f.calls[call.ID] = *call
	return nil
}

func (f *fakeCallRepo) Get(ctx context.Context, id int64) (*models.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[id]
	if !ok {
		return nil, fmt.Errorf("call %d: %w", id, ErrNotFound)
	}
	return &call, nil
}

func (f *fakeCallRepo) ReconcileOpen(ctx context.Context, now time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, call := range f.calls {
		if !call.Status.Terminal() {
			call.Status = models.CallEnded
			call.EndReason = models.ReasonRecovered
			call.EndedAt = &now
			f.calls[id] = call
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeCallRepo) stored(id int64) models.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeAccounts map[int64]bool

func (f fakeAccounts) GetAccount(ctx context.Context, id int64) (*models.User, error) {
	if !f[id] {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return &models.User{ID: id}, nil
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []Event
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(eventType string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == eventType {
			return c.events[i], true
		}
	}
	return Event{}, false
}

type fakeTranslator struct {
	text string
	err  error
}

func (f fakeTranslator) TranslateAudio(ctx context.Context, req AudioTranslation) (string, error) {
	return f.text, f.err
}

const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3
)

type callHarness struct {
	svc    *CallService
	ledger *fakeLedger
	repo   *fakeCallRepo
	caller *fakeConn
	callee *fakeConn
	clock  time.Time
	events []audit.Event
}

func newCallHarness(t *testing.T, callerBalance int64) *callHarness {
	t.Helper()
	h := &callHarness{
		ledger: &fakeLedger{balances: map[int64]int64{alice: callerBalance, bob: 0, carol: 0}},
		repo:   newFakeCallRepo(),
		caller: &fakeConn{id: "conn-alice"},
		callee: &fakeConn{id: "conn-bob"},
		clock:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := config.BillingConfig{
		TickInterval:    time.Hour,
		RatePerInterval: 10,
		MinSessionCost:  10,
		RingTimeout:     time.Hour,
		TickRetries:     2,
	}
	var mu sync.Mutex
	auditLogger := audit.NewLoggerWithSink(func(e audit.Event) {
		mu.Lock()
		defer mu.Unlock()
		h.events = append(h.events, e)
	})
	h.svc = NewCallService(cfg, h.ledger, h.repo, fakeAccounts{alice: true, bob: true, carol: true},
		NewPresenceDirectory(), nil, nil, auditLogger)
	h.svc.now = func() time.Time { return h.clock }
	h.svc.Register(alice, h.caller)
	h.svc.Register(bob, h.callee)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func (h *callHarness) initiate(t *testing.T) *models.Call {
	t.Helper()
	call, err := h.svc.Initiate(context.Background(), InitiateRequest{
		CallerID:   alice,
		ReceiverID: bob,
		Kind:       models.CallAudio,
	})
	require.NoError(t, err)
	return call
}

func (h *callHarness) accepted(t *testing.T) *models.Call {
	t.Helper()
	call := h.initiate(t)
	_, err := h.svc.Accept(context.Background(), call.ID, bob)
	require.NoError(t, err)
	return call
}

func (h *callHarness) session(t *testing.T, id int64) *session {
	t.Helper()
	sess, ok := h.svc.registry.get(id)
	require.True(t, ok, "session %d not live", id)
	return sess
}

func TestInitiate_RingsReceiver(t *testing.T) {
	h := newCallHarness(t, 100)

	call := h.initiate(t)

	assert.Equal(t, models.CallInitiated, call.Status)
	assert.True(t, h.svc.Registry().Has(call.ID))
	assert.Equal(t, models.CallInitiated, h.repo.stored(call.ID).Status)
	assert.Equal(t, 1, h.callee.count(EventIncomingCall))

	ev, ok := h.caller.last(EventCallInitiated)
	require.True(t, ok)
	assert.Equal(t, true, ev.Data.(map[string]any)["ringing"])
}

func TestInitiate_ReceiverOffline(t *testing.T) {
	h := newCallHarness(t, 100)

	call, err := h.svc.Initiate(context.Background(), InitiateRequest{CallerID: alice, ReceiverID: carol, Kind: models.CallVideo})
	require.NoError(t, err)

	assert.True(t, h.svc.Registry().Has(call.ID))
	ev, ok := h.caller.last(EventCallInitiated)
	require.True(t, ok)
	assert.Equal(t, false, ev.Data.(map[string]any)["ringing"])
}

func TestInitiate_InsufficientFunds(t *testing.T) {
	h := newCallHarness(t, 5)

	call, err := h.svc.Initiate(context.Background(), InitiateRequest{CallerID: alice, ReceiverID: bob, Kind: models.CallAudio})

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	require.NotNil(t, call)
	assert.Equal(t, models.CallFailed, call.Status)
	assert.Equal(t, models.CallFailed, h.repo.stored(call.ID).Status)
	assert.Equal(t, 0, h.svc.Registry().Len())
	assert.Equal(t, 0, h.callee.count(EventIncomingCall))
}

func TestInitiate_Validation(t *testing.T) {
	h := newCallHarness(t, 100)
	ctx := context.Background()

	_, err := h.svc.Initiate(ctx, InitiateRequest{CallerID: alice, ReceiverID: alice, Kind: models.CallAudio})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.Initiate(ctx, InitiateRequest{CallerID: alice, ReceiverID: 99, Kind: models.CallAudio})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.Initiate(ctx, InitiateRequest{CallerID: alice, ReceiverID: bob, Kind: "hologram"})
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 0, h.svc.Registry().Len())
}

func TestBilling_ExhaustsCredits(t *testing.T) {
	h := newCallHarness(t, 25)
	ctx := context.Background()
	call := h.accepted(t)
	sess := h.session(t, call.ID)

	h.svc.tick(ctx, sess)
	h.svc.tick(ctx, sess)

	assert.Equal(t, int64(5), h.ledger.balance(alice))
	stored := h.repo.stored(call.ID)
	assert.Equal(t, models.CallActive, stored.Status)
	assert.Equal(t, int64(20), stored.Cost)
	assert.Equal(t, int64(7200), stored.Duration)
	assert.Equal(t, 2, h.callee.count(EventCallBilling))

	h.svc.tick(ctx, sess)

	assert.Equal(t, int64(5), h.ledger.balance(alice))
	assert.Equal(t, 2, h.ledger.debitCount())
	stored = h.repo.stored(call.ID)
	assert.Equal(t, models.CallEnded, stored.Status)
	assert.Equal(t, models.ReasonInsufficientCredits, stored.EndReason)
	assert.False(t, h.svc.Registry().Has(call.ID))
	assert.Equal(t, 1, h.caller.count(EventCallEnded))
	assert.Equal(t, 1, h.callee.count(EventCallEnded))

	// a late tick on the ended session is a no-op
	h.svc.tick(ctx, sess)
	assert.Equal(t, 2, h.ledger.debitCount())
}

func TestBilling_DebitReferencesCall(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)

	h.svc.tick(context.Background(), h.session(t, call.ID))

	require.Equal(t, 1, h.ledger.debitCount())
	assert.Equal(t, fmt.Sprintf("call:%d:1", call.ID), h.ledger.debits[0].reference)
	assert.Equal(t, alice, h.ledger.debits[0].accountID)
}

func TestBilling_TransientFailuresRetried(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	transient := fmt.Errorf("debit: %w", ErrTransientStore)
	h.ledger.failures = []error{transient, transient}

	h.svc.tick(context.Background(), h.session(t, call.ID))

	assert.Equal(t, int64(90), h.ledger.balance(alice))
	assert.True(t, h.svc.Registry().Has(call.ID))
}

func TestBilling_RetriesExhausted(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	transient := fmt.Errorf("debit: %w", ErrTransientStore)
	h.ledger.failures = []error{transient, transient, transient}

	h.svc.tick(context.Background(), h.session(t, call.ID))

	assert.Equal(t, int64(100), h.ledger.balance(alice))
	stored := h.repo.stored(call.ID)
	assert.Equal(t, models.CallEnded, stored.Status)
	assert.Equal(t, models.ReasonBillingError, stored.EndReason)
}

func TestBilling_PermanentErrorNotRetried(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	h.ledger.failures = []error{errors.New("constraint violated"), nil}

	h.svc.tick(context.Background(), h.session(t, call.ID))

	assert.Equal(t, models.ReasonBillingError, h.repo.stored(call.ID).EndReason)
	assert.Equal(t, 0, h.ledger.debitCount())
}

func TestAccept_Twice(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	sess := h.session(t, call.ID)
	sess.mu.Lock()
	first := sess.ticker
	sess.mu.Unlock()
	require.NotNil(t, first)

	_, err := h.svc.Accept(context.Background(), call.ID, bob)
	assert.ErrorIs(t, err, ErrInvalidState)

	sess.mu.Lock()
	assert.Same(t, first, sess.ticker)
	sess.mu.Unlock()
	assert.Equal(t, 1, h.caller.count(EventCallAccepted))
}

func TestAccept_Errors(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)

	_, err := h.svc.Accept(context.Background(), call.ID, alice)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.Accept(context.Background(), 404, bob)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.Accept(context.Background(), call.ID, carol)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, models.CallInitiated, h.repo.stored(call.ID).Status)
}

func TestReject_NeverBills(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)
	sess := h.session(t, call.ID)

	rejected, err := h.svc.Reject(context.Background(), call.ID, bob)
	require.NoError(t, err)

	assert.Equal(t, models.CallRejected, rejected.Status)
	assert.Equal(t, models.ReasonDeclined, rejected.EndReason)
	assert.NotNil(t, rejected.EndedAt)
	assert.False(t, h.svc.Registry().Has(call.ID))
	assert.Equal(t, int64(100), h.ledger.balance(alice))
	assert.Equal(t, 0, h.ledger.debitCount())
	assert.Equal(t, 1, h.caller.count(EventCallRejected))
	sess.mu.Lock()
	assert.Nil(t, sess.ticker)
	sess.mu.Unlock()

	again, err := h.svc.Reject(context.Background(), call.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, again.Status)

	_, err = h.svc.Accept(context.Background(), call.ID, bob)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReject_AfterAccept(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)

	_, err := h.svc.Reject(context.Background(), call.ID, bob)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.Reject(context.Background(), 404, bob)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReject_CallerCancels(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)

	rejected, err := h.svc.Reject(context.Background(), call.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonCancelled, rejected.EndReason)
	assert.Equal(t, 1, h.callee.count(EventCallRejected))
}

func TestEnd_SettlesPartialInterval(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	sess := h.session(t, call.ID)

	h.svc.tick(context.Background(), sess)
	h.clock = h.clock.Add(90 * time.Minute)

	ended, err := h.svc.End(context.Background(), call.ID, alice, "")
	require.NoError(t, err)

	assert.Equal(t, models.CallEnded, ended.Status)
	assert.Equal(t, models.ReasonNormal, ended.EndReason)
	assert.Equal(t, int64(80), h.ledger.balance(alice))
	assert.Equal(t, int64(20), ended.Cost)
	assert.Equal(t, int64(7200), ended.Duration)
	assert.Equal(t, 2, h.ledger.debitCount())

	again, err := h.svc.End(context.Background(), call.ID, bob, "")
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, again.Status)
	assert.Equal(t, 2, h.ledger.debitCount())
}

func TestEnd_SettlementNeverOverdraws(t *testing.T) {
	h := newCallHarness(t, 15)
	call := h.accepted(t)
	h.svc.tick(context.Background(), h.session(t, call.ID))
	h.clock = h.clock.Add(90 * time.Minute)

	ended, err := h.svc.End(context.Background(), call.ID, bob, "")
	require.NoError(t, err)

	assert.Equal(t, int64(5), h.ledger.balance(alice))
	assert.Equal(t, int64(10), ended.Cost)
	assert.Equal(t, models.CallEnded, ended.Status)
}

func TestEnd_StopsTicker(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	sess := h.session(t, call.ID)
	sess.mu.Lock()
	tk := sess.ticker
	sess.mu.Unlock()

	_, err := h.svc.End(context.Background(), call.ID, alice, "")
	require.NoError(t, err)

	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("ticker still running after end")
	}
	h.svc.tick(context.Background(), sess)
	assert.Equal(t, 0, h.ledger.debitCount())
}

func TestEnd_FromInitiated(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)

	_, err := h.svc.End(context.Background(), call.ID, alice, "")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, h.svc.Registry().Has(call.ID))
}

func TestEnd_NotAParty(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)

	_, err := h.svc.End(context.Background(), call.ID, carol, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, h.svc.Registry().Has(call.ID))
}

func TestDisconnect_EndsAcceptedSessionOnce(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)

	h.svc.Disconnect(context.Background(), h.caller.ID())
	h.svc.Disconnect(context.Background(), h.caller.ID())

	stored := h.repo.stored(call.ID)
	assert.Equal(t, models.CallEnded, stored.Status)
	assert.Equal(t, models.ReasonDisconnected, stored.EndReason)
	assert.False(t, h.svc.Registry().Has(call.ID))
	assert.Equal(t, 1, h.callee.count(EventCallEnded))
	assert.Equal(t, 0, h.caller.count(EventCallEnded))

	transitions := 0
	for _, e := range h.events {
		if e.CallID == call.ID && e.Status == string(models.CallEnded) {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions)
}

func TestDisconnect_RingingSessionRejected(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)

	h.svc.Disconnect(context.Background(), h.callee.ID())

	stored := h.repo.stored(call.ID)
	assert.Equal(t, models.CallRejected, stored.Status)
	assert.Equal(t, models.ReasonDisconnected, stored.EndReason)
	assert.Equal(t, 1, h.caller.count(EventCallRejected))
	assert.Equal(t, 0, h.ledger.debitCount())
}

func TestRegister_MovesSessionsToNewConnection(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)

	replacement := &fakeConn{id: "conn-alice-2"}
	h.svc.Register(alice, replacement)
	h.svc.Disconnect(context.Background(), h.caller.ID())

	assert.True(t, h.svc.Registry().Has(call.ID))

	h.svc.Disconnect(context.Background(), replacement.ID())
	assert.False(t, h.svc.Registry().Has(call.ID))
}

func TestForwardSignal(t *testing.T) {
	h := newCallHarness(t, 100)
	ctx := context.Background()
	call := h.initiate(t)
	offer := []byte(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}`)

	err := h.svc.ForwardSignal(ctx, call.ID, alice, bob, offer)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.Accept(ctx, call.ID, bob)
	require.NoError(t, err)

	require.NoError(t, h.svc.ForwardSignal(ctx, call.ID, alice, 0, offer))
	ev, ok := h.callee.last(EventCallSignal)
	require.True(t, ok)
	msg := ev.Data.(SignalMessage)
	assert.Equal(t, alice, msg.From)
	assert.Equal(t, call.ID, msg.CallID)

	err = h.svc.ForwardSignal(ctx, 404, alice, bob, offer)
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.svc.ForwardSignal(ctx, call.ID, carol, bob, offer)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForwardSignal_PeerUnreachable(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.accepted(t)
	h.svc.presence.Unregister(h.callee.ID())
	before := h.repo.stored(call.ID)

	err := h.svc.ForwardSignal(context.Background(), call.ID, alice, bob, []byte(`{"candidate":"x"}`))

	assert.ErrorIs(t, err, ErrPeerUnreachable)
	assert.Equal(t, 0, h.callee.count(EventCallSignal))
	assert.Equal(t, before, h.repo.stored(call.ID))
	assert.Equal(t, int64(100), h.ledger.balance(alice))
	assert.True(t, h.svc.Registry().Has(call.ID))
}

func TestTranslateAudio(t *testing.T) {
	ctx := context.Background()
	req := func(id int64) AudioTranslation {
		return AudioTranslation{CallID: id, AudioData: "hola", TargetLanguage: "en"}
	}

	t.Run("translated", func(t *testing.T) {
		h := newCallHarness(t, 100)
		h.svc.translator = fakeTranslator{text: "hello"}
		call, err := h.svc.Initiate(ctx, InitiateRequest{CallerID: alice, ReceiverID: bob, Kind: models.CallAudio, AITranslated: true})
		require.NoError(t, err)
		_, err = h.svc.Accept(ctx, call.ID, bob)
		require.NoError(t, err)

		require.NoError(t, h.svc.TranslateAudio(ctx, alice, req(call.ID)))
		ev, ok := h.callee.last(EventTranslatedAudio)
		require.True(t, ok)
		data := ev.Data.(TranslatedAudioEvent)
		assert.Equal(t, "hello", data.TranslatedText)
		assert.True(t, data.Translated)
	})

	t.Run("degrades to original", func(t *testing.T) {
		h := newCallHarness(t, 100)
		h.svc.translator = fakeTranslator{err: errors.New("upstream 500")}
		call, err := h.svc.Initiate(ctx, InitiateRequest{CallerID: alice, ReceiverID: bob, Kind: models.CallAudio, AITranslated: true})
		require.NoError(t, err)
		_, err = h.svc.Accept(ctx, call.ID, bob)
		require.NoError(t, err)

		require.NoError(t, h.svc.TranslateAudio(ctx, bob, req(call.ID)))
		ev, ok := h.caller.last(EventTranslatedAudio)
		require.True(t, ok)
		data := ev.Data.(TranslatedAudioEvent)
		assert.Equal(t, "hola", data.TranslatedText)
		assert.False(t, data.Translated)
		assert.True(t, h.svc.Registry().Has(call.ID))
	})

	t.Run("translation disabled", func(t *testing.T) {
		h := newCallHarness(t, 100)
		call := h.accepted(t)
		err := h.svc.TranslateAudio(ctx, alice, req(call.ID))
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestRingTimeout(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)

	h.svc.ringExpired(h.session(t, call.ID))

	stored := h.repo.stored(call.ID)
	assert.Equal(t, models.CallRejected, stored.Status)
	assert.Equal(t, models.ReasonNoAnswer, stored.EndReason)
	assert.Equal(t, 1, h.caller.count(EventCallRejected))
}

func TestRecover(t *testing.T) {
	h := newCallHarness(t, 100)
	open := h.initiate(t)
	closed := h.initiate(t)
	_, err := h.svc.Reject(context.Background(), closed.ID, bob)
	require.NoError(t, err)

	n, err := h.svc.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, models.ReasonRecovered, h.repo.stored(open.ID).EndReason)
	assert.Equal(t, models.ReasonDeclined, h.repo.stored(closed.ID).EndReason)
}

func TestGet_LiveThenDurable(t *testing.T) {
	h := newCallHarness(t, 100)
	call := h.initiate(t)

	live, err := h.svc.Get(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiated, live.Status)

	_, err = h.svc.Reject(context.Background(), call.ID, bob)
	require.NoError(t, err)

	durable, err := h.svc.Get(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, durable.Status)

	_, err = h.svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShutdown_JoinsTickers(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{alice: 1000, bob: 0}}
	cfg := config.BillingConfig{TickInterval: 2 * time.Millisecond, RatePerInterval: 1, MinSessionCost: 1, RingTimeout: time.Hour}
	svc := NewCallService(cfg, ledger, newFakeCallRepo(), fakeAccounts{alice: true, bob: true},
		NewPresenceDirectory(), nil, nil, nil)
	ctx := context.Background()

	call, err := svc.Initiate(ctx, InitiateRequest{CallerID: alice, ReceiverID: bob, Kind: models.CallAudio})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, call.ID, bob)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return ledger.debitCount() >= 2 }, time.Second, time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(shutdownCtx))

	after := ledger.debitCount()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, ledger.debitCount())
}

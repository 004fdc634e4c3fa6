package handlers

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"
	"github.com/talkbridge/backend/internal/middleware"
	"github.com/talkbridge/backend/internal/models"
	"github.com/talkbridge/backend/internal/services"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Credit(ctx context.Context, accountID, amount int64, description string) (int64, error) {
	args := m.Called(accountID, amount, description)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) Debit(ctx context.Context, accountID, amount int64, description string) (int64, error) {
	args := m.Called(accountID, amount, description)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) Balance(ctx context.Context, accountID int64) (int64, error) {
	args := m.Called(accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) History(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

type MockCalls struct {
	mock.Mock
}

func (m *MockCalls) Initiate(ctx context.Context, req services.InitiateRequest) (*models.Call, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Call), args.Error(1)
}

func (m *MockCalls) Accept(ctx context.Context, callID, receiverID int64) (*models.Call, error) {
	args := m.Called(callID, receiverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Call), args.Error(1)
}

func (m *MockCalls) Reject(ctx context.Context, callID, accountID int64) (*models.Call, error) {
	args := m.Called(callID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Call), args.Error(1)
}

func (m *MockCalls) End(ctx context.Context, callID, accountID int64, reason string) (*models.Call, error) {
	args := m.Called(callID, accountID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Call), args.Error(1)
}

func (m *MockCalls) ForwardSignal(ctx context.Context, callID, fromAccount, toAccount int64, payload []byte) error {
	args := m.Called(callID, fromAccount, toAccount, payload)
	return args.Error(0)
}

func (m *MockCalls) TranslateAudio(ctx context.Context, fromAccount int64, req services.AudioTranslation) error {
	args := m.Called(fromAccount, req)
	return args.Error(0)
}

func (m *MockCalls) Get(ctx context.Context, callID int64) (*models.Call, error) {
	args := m.Called(callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Call), args.Error(1)
}

func (m *MockCalls) Register(accountID int64, conn services.Connection) {
	m.Called(accountID, conn)
}

func (m *MockCalls) Disconnect(ctx context.Context, connID string) {
	m.Called(connID)
}

// asAccount stands in for AuthMiddleware.
func asAccount(accountID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.AccountIDKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) GetAccount(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAccounts) UpdateAccount(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	args := m.Called(id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

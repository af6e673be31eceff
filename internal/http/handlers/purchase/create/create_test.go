package create

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
	"github.com/magabrotheeeer/credit-ledger/internal/paymentprovider"
	purchaseservice "github.com/magabrotheeeer/credit-ledger/internal/services/purchase"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, userUID string, req models.DummyPurchaseRequest) (*purchaseservice.Result, error) {
	args := m.Called(ctx, userUID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*purchaseservice.Result), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestCreateHandler_ServeHTTP(t *testing.T) {
	const uid = "550e8400-e29b-41d4-a716-446655440000"
	newBalance := 150

	tests := []struct {
		name           string
		userUID        string
		body           string
		setupMocks     func(*MockService)
		expectedStatus int
		checkBody      func(t *testing.T, body string)
	}{
		{
			name:    "pending gateway payment without payment ref",
			userUID: uid,
			body:    `{"amount":50,"description":"credit topup"}`,
			setupMocks: func(s *MockService) {
				s.On("Create", mock.Anything, uid,
					models.DummyPurchaseRequest{Amount: 50, Description: "credit topup"}).
					Return(&purchaseservice.Result{
						Payment: &paymentprovider.CreatePaymentResponse{ID: "pay_1", Status: "pending"},
					}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			checkBody: func(t *testing.T, body string) {
				assert.Contains(t, body, `"status":"OK"`)
				assert.Contains(t, body, `"pay_1"`)
				assert.NotContains(t, body, `"transaction"`)
			},
		},
		{
			name:    "synchronous settle with payment ref",
			userUID: uid,
			body:    `{"amount":50,"description":"credit topup","payment_ref":"pay_7"}`,
			setupMocks: func(s *MockService) {
				s.On("Create", mock.Anything, uid,
					models.DummyPurchaseRequest{Amount: 50, Description: "credit topup", PaymentRef: "pay_7"}).
					Return(&purchaseservice.Result{
						Transaction: &models.Transaction{ID: "tx7", Amount: 50},
						NewBalance:  &newBalance,
					}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			checkBody: func(t *testing.T, body string) {
				assert.Contains(t, body, `"status":"OK"`)
				assert.Contains(t, body, `"tx7"`)
				assert.Contains(t, body, `"new_balance":150`)
			},
		},
		{
			name:    "already settled payment ref gives conflict",
			userUID: uid,
			body:    `{"amount":50,"description":"credit topup","payment_ref":"pay_7"}`,
			setupMocks: func(s *MockService) {
				s.On("Create", mock.Anything, uid, mock.Anything).
					Return(nil, models.ErrDuplicatePayment).Once()
			},
			expectedStatus: http.StatusConflict,
			checkBody: func(t *testing.T, body string) {
				assert.JSONEq(t, `{"status":"Error","error":"payment already settled"}`, body)
			},
		},
		{
			name:           "invalid json",
			userUID:        uid,
			body:           `{`,
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			checkBody: func(t *testing.T, body string) {
				assert.JSONEq(t, `{"status":"Error","error":"invalid request body"}`, body)
			},
		},
		{
			name:           "missing user UID",
			userUID:        "",
			body:           `{"amount":50,"description":"credit topup"}`,
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
			checkBody: func(t *testing.T, body string) {
				assert.JSONEq(t, `{"status":"Error","error":"unauthorized"}`, body)
			},
		},
		{
			name:    "service error",
			userUID: uid,
			body:    `{"amount":50,"description":"credit topup"}`,
			setupMocks: func(s *MockService) {
				s.On("Create", mock.Anything, uid, mock.Anything).
					Return(nil, errors.New("gateway timeout")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			checkBody: func(t *testing.T, body string) {
				assert.JSONEq(t, `{"status":"Error","error":"could not create purchase"}`, body)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			handler := New(newNoopLogger(), service)
			tt.setupMocks(service)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/purchase", strings.NewReader(tt.body))
			ctx := context.WithValue(req.Context(), middlewarectx.UserUID, tt.userUID)
			ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-id")
			req = req.WithContext(ctx)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.checkBody(t, w.Body.String())
			service.AssertExpectations(t)
		})
	}
}

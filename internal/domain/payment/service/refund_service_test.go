package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockProvider is a mock of provider.Provider
type MockProvider struct {
	mock.Mock
	name string
}

func (m *MockProvider) Name() string {
	if m.name != "" {
		return m.name
	}
	return model.ProviderStripe
}

func (m *MockProvider) CreatePayment(ctx context.Context, req provider.CreatePaymentRequest) (*provider.CreatePaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.CreatePaymentResult), args.Error(1)
}

func (m *MockProvider) RetrievePayment(ctx context.Context, externalID string) (*provider.PaymentDetail, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.PaymentDetail), args.Error(1)
}

func (m *MockProvider) CapturePayment(ctx context.Context, externalID string, amount float64) error {
	args := m.Called(ctx, externalID, amount)
	return args.Error(0)
}

func (m *MockProvider) RefundPayment(ctx context.Context, externalID string, amount float64, reason string) (*provider.RefundResult, error) {
	args := m.Called(ctx, externalID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.RefundResult), args.Error(1)
}

func (m *MockProvider) VerifyWebhook(rawBody []byte, header http.Header) (*provider.NormalizedEvent, error) {
	args := m.Called(rawBody, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.NormalizedEvent), args.Error(1)
}

func (m *MockProvider) ListRecentPayments(ctx context.Context, since time.Time, kindFilter string) ([]provider.PaymentSummary, error) {
	args := m.Called(ctx, since, kindFilter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.PaymentSummary), args.Error(1)
}

// MockReconciler is a mock of Reconciler
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) HandleEvent(ctx context.Context, event *provider.NormalizedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func refundFixture(t *testing.T) (*MockLedgerRepository, *MockProvider, *MockReconciler, RefundService) {
	t.Helper()
	mockRepo := new(MockLedgerRepository)
	mockProvider := new(MockProvider)
	mockReconciler := new(MockReconciler)

	providers := NewProviderRegistry()
	providers.Register(mockProvider)

	svc := NewRefundService(mockRepo, providers, mockReconciler, nil)
	return mockRepo, mockProvider, mockReconciler, svc
}

func TestRequestRefund(t *testing.T) {
	t.Run("Partial refund accumulates running total", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		payment := testPayment(model.PaymentStatusSucceeded) // amount 250.00
		mockRepo.On("GetPaymentByID", "payment-1").Return(payment, nil)
		mockProvider.On("RefundPayment", mock.Anything, "pi_test_1", 40.00, "requested_by_customer").
			Return(&provider.RefundResult{RefundID: "re_1", Status: "succeeded"}, nil)

		updated := testPayment(model.PaymentStatusPartiallyRefunded)
		updated.RefundedAmount = 40.00
		mockRepo.On("AddRefund", mock.Anything, "payment-1", int64(4000)).Return(updated, nil)

		outcome, err := svc.RequestRefund(context.Background(), "payment-1", 40.00, "requested_by_customer")

		assert.NoError(t, err)
		assert.Equal(t, "re_1", outcome.RefundID)
		assert.Equal(t, model.PaymentStatusPartiallyRefunded, outcome.Payment.Status)
		mockRepo.AssertExpectations(t)
		mockProvider.AssertExpectations(t)
	})

	t.Run("Refund exceeding remaining balance is rejected", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		payment := testPayment(model.PaymentStatusPartiallyRefunded)
		payment.RefundedAmount = 220.00 // 剩余可退 30.00
		mockRepo.On("GetPaymentByID", "payment-1").Return(payment, nil)

		_, err := svc.RequestRefund(context.Background(), "payment-1", 30.01, "")

		assert.ErrorIs(t, err, ErrInvalidAmount)
		mockProvider.AssertNotCalled(t, "RefundPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Fully refunded payment has nothing left to refund", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "payment-1").Return(testPayment(model.PaymentStatusRefunded), nil)

		_, err := svc.RequestRefund(context.Background(), "payment-1", 10.00, "")

		assert.ErrorIs(t, err, ErrInvalidAmount)
		mockProvider.AssertNotCalled(t, "RefundPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Refund on unsettled payment is an invalid state", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "payment-1").Return(testPayment(model.PaymentStatusProcessing), nil)

		_, err := svc.RequestRefund(context.Background(), "payment-1", 10.00, "")

		assert.ErrorIs(t, err, ErrInvalidState)
		mockProvider.AssertNotCalled(t, "RefundPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Provider failure leaves ledger untouched", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "payment-1").Return(testPayment(model.PaymentStatusSucceeded), nil)
		mockProvider.On("RefundPayment", mock.Anything, "pi_test_1", 40.00, "").
			Return(nil, &provider.ProviderError{Provider: "stripe", Code: "charge_already_refunded", Retryable: false})

		_, err := svc.RequestRefund(context.Background(), "payment-1", 40.00, "")

		var pe *provider.ProviderError
		assert.ErrorAs(t, err, &pe)
		mockRepo.AssertNotCalled(t, "AddRefund", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unknown payment id", func(t *testing.T) {
		mockRepo, _, _, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "missing").Return(nil, gorm.ErrRecordNotFound)

		_, err := svc.RequestRefund(context.Background(), "missing", 10.00, "")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRequestCapture(t *testing.T) {
	t.Run("Capture routes settlement through the reconciler", func(t *testing.T) {
		mockRepo, mockProvider, mockReconciler, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "payment-1").Return(testPayment(model.PaymentStatusProcessing), nil)
		mockProvider.On("RetrievePayment", mock.Anything, "pi_test_1").
			Return(&provider.PaymentDetail{ExternalID: "pi_test_1", Kind: provider.KindAuthorized, ChargeID: "ch_1"}, nil)
		mockProvider.On("CapturePayment", mock.Anything, "pi_test_1", 0.0).Return(nil)
		mockReconciler.On("HandleEvent", mock.Anything, mock.MatchedBy(func(e *provider.NormalizedEvent) bool {
			return e.Kind == provider.KindSucceeded && e.ExternalID == "pi_test_1" && e.Amount == 250.00
		})).Return(nil)

		err := svc.RequestCapture(context.Background(), "payment-1", 0)

		assert.NoError(t, err)
		mockReconciler.AssertExpectations(t)
	})

	t.Run("Capture on settled payment is rejected", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "payment-1").Return(testPayment(model.PaymentStatusSucceeded), nil)

		err := svc.RequestCapture(context.Background(), "payment-1", 0)

		assert.ErrorIs(t, err, ErrInvalidState)
		mockProvider.AssertNotCalled(t, "CapturePayment", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Capture requires provider-side authorization", func(t *testing.T) {
		mockRepo, mockProvider, _, svc := refundFixture(t)

		mockRepo.On("GetPaymentByID", "payment-1").Return(testPayment(model.PaymentStatusProcessing), nil)
		mockProvider.On("RetrievePayment", mock.Anything, "pi_test_1").
			Return(&provider.PaymentDetail{ExternalID: "pi_test_1", Kind: provider.KindCreated}, nil)

		err := svc.RequestCapture(context.Background(), "payment-1", 0)

		assert.ErrorIs(t, err, ErrInvalidState)
		mockProvider.AssertNotCalled(t, "CapturePayment", mock.Anything, mock.Anything, mock.Anything)
	})
}

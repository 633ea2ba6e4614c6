package service

import (
	"context"
	"testing"
	"time"

	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockRecoveryRepository is a mock of repository.RecoveryRepository
type MockRecoveryRepository struct {
	mock.Mock
}

func (m *MockRecoveryRepository) ExistingExternalIDs(ctx context.Context, providerName string, externalIDs []string) (map[string]struct{}, error) {
	args := m.Called(ctx, providerName, externalIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func recoveryFixture(t *testing.T) (*MockLedgerRepository, *MockRecoveryRepository, *MockProvider, *MockReconciler, RecoveryService) {
	t.Helper()
	mockRepo := new(MockLedgerRepository)
	mockRecovery := new(MockRecoveryRepository)
	mockProvider := new(MockProvider)
	mockReconciler := new(MockReconciler)

	providers := NewProviderRegistry()
	providers.Register(mockProvider)

	svc := NewRecoveryService(mockRepo, mockRecovery, providers, mockReconciler, nil, 1, 16)
	return mockRepo, mockRecovery, mockProvider, mockReconciler, svc
}

func TestFindOrphanedPayments(t *testing.T) {
	t.Run("Orphans are the provider-side successes missing locally", func(t *testing.T) {
		_, mockRecovery, mockProvider, _, svc := recoveryFixture(t)

		now := time.Now()
		mockProvider.On("ListRecentPayments", mock.Anything, mock.Anything, provider.KindSucceeded).
			Return([]provider.PaymentSummary{
				{ExternalID: "pi_a", Kind: provider.KindSucceeded, Amount: 100, Currency: "AED", CreatedAt: now},
				{ExternalID: "pi_b", Kind: provider.KindSucceeded, Amount: 200, Currency: "AED", CreatedAt: now},
				{ExternalID: "pi_c", Kind: provider.KindSucceeded, Amount: 300, Currency: "AED", CreatedAt: now},
			}, nil)
		mockRecovery.On("ExistingExternalIDs", mock.Anything, model.ProviderStripe, []string{"pi_a", "pi_b", "pi_c"}).
			Return(map[string]struct{}{"pi_a": {}, "pi_c": {}}, nil)

		orphans, err := svc.FindOrphanedPayments(context.Background(), 24*time.Hour)

		assert.NoError(t, err)
		assert.Len(t, orphans, 1)
		assert.Equal(t, "pi_b", orphans[0].ExternalID)
		assert.Equal(t, model.ProviderStripe, orphans[0].Provider)
	})

	t.Run("Unavailable provider does not fail the whole scan", func(t *testing.T) {
		_, mockRecovery, mockProvider, _, svc := recoveryFixture(t)

		mockProvider.On("ListRecentPayments", mock.Anything, mock.Anything, provider.KindSucceeded).
			Return(nil, &provider.ProviderError{Provider: "stripe", Code: "timeout", Retryable: true})

		orphans, err := svc.FindOrphanedPayments(context.Background(), 24*time.Hour)

		assert.NoError(t, err)
		assert.Empty(t, orphans)
		mockRecovery.AssertNotCalled(t, "ExistingExternalIDs", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRecover(t *testing.T) {
	t.Run("Recovery replays a synthesized succeeded event", func(t *testing.T) {
		mockRepo, _, mockProvider, mockReconciler, svc := recoveryFixture(t)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_orphan").
			Return(nil, gorm.ErrRecordNotFound)
		mockProvider.On("RetrievePayment", mock.Anything, "pi_orphan").
			Return(&provider.PaymentDetail{
				ExternalID: "pi_orphan",
				Kind:       provider.KindSucceeded,
				Amount:     150.00,
				Currency:   "AED",
				Customer:   provider.CustomerInfo{Name: "Omar", Email: "omar@example.com"},
			}, nil)
		mockReconciler.On("HandleEvent", mock.Anything, mock.MatchedBy(func(e *provider.NormalizedEvent) bool {
			return e.Kind == provider.KindSucceeded &&
				e.ExternalID == "pi_orphan" &&
				e.EventID == "recovery:pi_orphan"
		})).Return(nil)

		err := svc.Recover(context.Background(), "pi_orphan")

		assert.NoError(t, err)
		mockReconciler.AssertExpectations(t)
	})

	t.Run("Payment not successful at provider is not recovered", func(t *testing.T) {
		mockRepo, _, mockProvider, mockReconciler, svc := recoveryFixture(t)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_pending").
			Return(nil, gorm.ErrRecordNotFound)
		mockProvider.On("RetrievePayment", mock.Anything, "pi_pending").
			Return(&provider.PaymentDetail{ExternalID: "pi_pending", Kind: provider.KindAuthorized}, nil)

		err := svc.Recover(context.Background(), "pi_pending")

		assert.ErrorIs(t, err, ErrInvalidState)
		mockReconciler.AssertNotCalled(t, "HandleEvent", mock.Anything, mock.Anything)
	})
}

func TestCrossReference(t *testing.T) {
	t.Run("Both sides present", func(t *testing.T) {
		mockRepo, _, mockProvider, _, svc := recoveryFixture(t)

		payment := testPayment(model.PaymentStatusSucceeded)
		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").Return(payment, nil)
		mockRepo.On("GetOrderByID", "order-1").Return(testOrder(model.OrderStatusProcessing), nil)
		mockProvider.On("RetrievePayment", mock.Anything, "pi_test_1").
			Return(&provider.PaymentDetail{ExternalID: "pi_test_1", Kind: provider.KindSucceeded}, nil)

		result, err := svc.CrossReference(context.Background(), "pi_test_1")

		assert.NoError(t, err)
		assert.True(t, result.Database.PaymentExists)
		assert.True(t, result.Database.OrderExists)
		assert.True(t, result.Provider.Found)
	})

	t.Run("Provider has no such payment", func(t *testing.T) {
		mockRepo, _, mockProvider, _, svc := recoveryFixture(t)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_ghost").
			Return(nil, gorm.ErrRecordNotFound)
		mockProvider.On("RetrievePayment", mock.Anything, "pi_ghost").
			Return(nil, &provider.ProviderError{Provider: "stripe", Code: "resource_missing", Retryable: false})

		result, err := svc.CrossReference(context.Background(), "pi_ghost")

		assert.NoError(t, err)
		assert.False(t, result.Provider.Found)
		assert.False(t, result.Database.PaymentExists)
	})
}

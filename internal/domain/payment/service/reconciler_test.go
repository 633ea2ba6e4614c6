package service

import (
	"context"
	"testing"
	"time"

	customerModel "store_backend/internal/domain/customer/model"
	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

func init() {
	logger.InitLogger(true)
}

// MockLedgerRepository is a mock of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) GetPaymentByExternalID(providerName, externalID string) (*model.Payment, error) {
	args := m.Called(providerName, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockLedgerRepository) GetPaymentByID(id string) (*model.Payment, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockLedgerRepository) GetOrderByID(id string) (*model.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockLedgerRepository) GetOrderByExternalID(externalID string) (*model.Order, error) {
	args := m.Called(externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockLedgerRepository) CreateOrderWithPayment(ctx context.Context, customer *customerModel.Customer, order *model.Order, payment *model.Payment) error {
	args := m.Called(ctx, customer, order, payment)
	return args.Error(0)
}

func (m *MockLedgerRepository) MaterializeOrder(ctx context.Context, params repository.MaterializeParams) (*model.Order, *model.Payment, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Order), args.Get(1).(*model.Payment), args.Error(2)
}

func (m *MockLedgerRepository) UpdatePaymentAndOrder(ctx context.Context, paymentID string, paymentUpdates map[string]interface{}, orderID, orderStatus string) error {
	args := m.Called(ctx, paymentID, paymentUpdates, orderID, orderStatus)
	return args.Error(0)
}

func (m *MockLedgerRepository) AddRefund(ctx context.Context, paymentID string, amountMinor int64) (*model.Payment, error) {
	args := m.Called(ctx, paymentID, amountMinor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockLedgerRepository) SyncRefundTotal(ctx context.Context, paymentID string, totalMinor int64) (*model.Payment, error) {
	args := m.Called(ctx, paymentID, totalMinor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func testPayment(status string) *model.Payment {
	p := &model.Payment{
		OrderID:    "order-1",
		Provider:   model.ProviderStripe,
		ExternalID: "pi_test_1",
		Amount:     250.00,
		Currency:   "AED",
		Status:     status,
	}
	p.ID = "payment-1"
	return p
}

func testOrder(status string) *model.Order {
	o := &model.Order{Status: status}
	o.ID = "order-1"
	return o
}

func succeededEvent() *provider.NormalizedEvent {
	return &provider.NormalizedEvent{
		Provider:     model.ProviderStripe,
		EventID:      "evt_1",
		ExternalID:   "pi_test_1",
		ChargeID:     "ch_test_1",
		Kind:         provider.KindSucceeded,
		Amount:       250.00,
		Currency:     "AED",
		Customer:     provider.CustomerInfo{Name: "Sara", Email: "sara@example.com"},
		RawTimestamp: time.Now(),
	}
}

func TestHandleEventMaterialization(t *testing.T) {
	t.Run("Succeeded event for unknown payment creates order", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(nil, gorm.ErrRecordNotFound)
		mockRepo.On("MaterializeOrder", mock.Anything, mock.MatchedBy(func(p repository.MaterializeParams) bool {
			return p.Provider == model.ProviderStripe && p.ExternalID == "pi_test_1"
		})).Return(testOrder("processing"), testPayment("succeeded"), nil)

		err := r.HandleEvent(context.Background(), succeededEvent())

		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Lost creation race falls back to update path", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		// 首查未命中，落库事务发现并发投递已赢，重查后走幂等更新
		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(nil, gorm.ErrRecordNotFound).Once()
		mockRepo.On("MaterializeOrder", mock.Anything, mock.Anything).
			Return(nil, nil, repository.ErrPaymentExists)
		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusSucceeded), nil).Once()

		err := r.HandleEvent(context.Background(), succeededEvent())

		// 已成功的支付单收到重复 succeeded：无事发生，也不向上抛冲突
		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
		mockRepo.AssertNotCalled(t, "UpdatePaymentAndOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unknown payment with non-succeeded event is discarded", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(nil, gorm.ErrRecordNotFound)

		event := succeededEvent()
		event.Kind = provider.KindFailed

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "MaterializeOrder", mock.Anything, mock.Anything)
	})

	t.Run("Incomplete customer metadata rejects materialization", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(nil, gorm.ErrRecordNotFound)

		event := succeededEvent()
		event.Customer.Email = ""

		err := r.HandleEvent(context.Background(), event)

		assert.ErrorIs(t, err, ErrInvalidMetadata)
		mockRepo.AssertNotCalled(t, "MaterializeOrder", mock.Anything, mock.Anything)
	})
}

func TestHandleEventStateTransitions(t *testing.T) {
	t.Run("Duplicate succeeded delivery is a noop", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusSucceeded), nil)

		err := r.HandleEvent(context.Background(), succeededEvent())

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "UpdatePaymentAndOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Failed then succeeded promotes payment and order", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusFailed), nil)
		mockRepo.On("GetOrderByID", "order-1").Return(testOrder(model.OrderStatusCancelled), nil)
		mockRepo.On("UpdatePaymentAndOrder", mock.Anything, "payment-1",
			mock.MatchedBy(func(u map[string]interface{}) bool {
				return u["status"] == model.PaymentStatusSucceeded
			}),
			"order-1", model.OrderStatusProcessing).Return(nil)

		err := r.HandleEvent(context.Background(), succeededEvent())

		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Late failure after settlement is ignored", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusSucceeded), nil)

		event := succeededEvent()
		event.Kind = provider.KindFailed

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "UpdatePaymentAndOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cancelled payment refuses late success", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusCancelled), nil)

		err := r.HandleEvent(context.Background(), succeededEvent())

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "UpdatePaymentAndOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Dispute fails payment and cancels order", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusSucceeded), nil)
		mockRepo.On("GetOrderByID", "order-1").Return(testOrder(model.OrderStatusProcessing), nil)
		mockRepo.On("UpdatePaymentAndOrder", mock.Anything, "payment-1",
			mock.MatchedBy(func(u map[string]interface{}) bool {
				return u["status"] == model.PaymentStatusFailed && u["failure_reason"] == "disputed"
			}),
			"order-1", model.OrderStatusCancelled).Return(nil)

		event := succeededEvent()
		event.Kind = provider.KindDisputed

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Shipped order is never touched by cancellation cascade", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusProcessing), nil)
		mockRepo.On("GetOrderByID", "order-1").Return(testOrder(model.OrderStatusShipped), nil)
		// 订单状态参数为空串表示不推进
		mockRepo.On("UpdatePaymentAndOrder", mock.Anything, "payment-1", mock.Anything, "order-1", "").
			Return(nil)

		event := succeededEvent()
		event.Kind = provider.KindFailed

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Progress notifications do not change the ledger", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusProcessing), nil)

		event := succeededEvent()
		event.Kind = provider.KindAuthorized

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "UpdatePaymentAndOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleEventProviderRefund(t *testing.T) {
	t.Run("Provider refund total ahead of ledger is synced", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		payment := testPayment(model.PaymentStatusSucceeded)
		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").Return(payment, nil)
		mockRepo.On("SyncRefundTotal", mock.Anything, "payment-1", int64(10000)).
			Return(testPayment(model.PaymentStatusPartiallyRefunded), nil)

		event := succeededEvent()
		event.Kind = provider.KindRefunded
		event.Amount = 100.00 // 渠道累计退款额

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Refund callback already reflected locally is a noop", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		payment := testPayment(model.PaymentStatusPartiallyRefunded)
		payment.RefundedAmount = 100.00
		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").Return(payment, nil)

		event := succeededEvent()
		event.Kind = provider.KindRefunded
		event.Amount = 100.00

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "SyncRefundTotal", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Refund event for unsettled payment is ignored", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		mockRepo.On("GetPaymentByExternalID", model.ProviderStripe, "pi_test_1").
			Return(testPayment(model.PaymentStatusProcessing), nil)

		event := succeededEvent()
		event.Kind = provider.KindRefunded
		event.Amount = 50.00

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "SyncRefundTotal", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleEventEdgeCases(t *testing.T) {
	t.Run("Unknown event kind is acknowledged without lookup", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		event := succeededEvent()
		event.Kind = provider.KindUnknown

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "GetPaymentByExternalID", mock.Anything, mock.Anything)
	})

	t.Run("Event without external id is discarded", func(t *testing.T) {
		mockRepo := new(MockLedgerRepository)
		r := NewReconciler(mockRepo, nil, nil)

		event := succeededEvent()
		event.ExternalID = ""

		err := r.HandleEvent(context.Background(), event)

		assert.NoError(t, err)
		mockRepo.AssertNotCalled(t, "GetPaymentByExternalID", mock.Anything, mock.Anything)
	})
}

package service

import (
	"context"
	"errors"
	"time"

	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/pkg/logger"
	"store_backend/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundOutcome 退款结果
type RefundOutcome struct {
	RefundID string         `json:"id"`
	Amount   float64        `json:"amount"`
	Status   string         `json:"status"`
	Payment  *model.Payment `json:"payment"`
}

// RefundService 退款/请款编排器
// 校验本地账务 -> 调渠道 -> 事务内应用结果；渠道失败时本地账务零改动
type RefundService interface {
	RequestRefund(ctx context.Context, paymentID string, amount float64, reason string) (*RefundOutcome, error)
	RequestCapture(ctx context.Context, paymentID string, amount float64) error
}

type refundService struct {
	repo       repository.LedgerRepository
	providers  *ProviderRegistry
	reconciler Reconciler
	collector  *metrics.Collector
}

// NewRefundService 创建退款/请款服务
func NewRefundService(repo repository.LedgerRepository, providers *ProviderRegistry, reconciler Reconciler, collector *metrics.Collector) RefundService {
	return &refundService{
		repo:       repo,
		providers:  providers,
		reconciler: reconciler,
		collector:  collector,
	}
}

// RequestRefund 退款
// 金额校验：0 < amount <= Amount - RefundedAmount，比较在最小货币单位内做
func (s *refundService) RequestRefund(ctx context.Context, paymentID string, amount float64, reason string) (*RefundOutcome, error) {
	payment, err := s.repo.GetPaymentByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch payment.Status {
	case model.PaymentStatusSucceeded, model.PaymentStatusPartiallyRefunded:
		// 可退
	case model.PaymentStatusRefunded:
		return nil, ErrInvalidAmount // 已全额退款，剩余可退为 0
	default:
		return nil, ErrInvalidState
	}

	amountMinor := model.ToMinorUnits(amount)
	if amountMinor <= 0 || amountMinor > payment.RefundableMinor() {
		return nil, ErrInvalidAmount
	}

	p, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	// 渠道侧退款；失败原样上抛，本地不动账
	result, err := p.RefundPayment(ctx, payment.ExternalID, amount, reason)
	if err != nil {
		if s.collector != nil {
			s.collector.RecordRefund(payment.Provider, "provider_error")
		}
		return nil, err
	}

	updated, err := s.repo.AddRefund(ctx, payment.ID, amountMinor)
	if err != nil {
		// 渠道已退但本地应用失败：留给补单/渠道退款回调对齐
		logger.Log.Error("refund applied at provider but ledger update failed",
			zap.String("payment_id", payment.ID),
			zap.String("refund_id", result.RefundID),
			zap.Error(err))
		return nil, err
	}

	if s.collector != nil {
		s.collector.RecordRefund(payment.Provider, "ok")
	}
	logger.Log.Info("refund applied",
		zap.String("payment_id", updated.ID),
		zap.String("refund_id", result.RefundID),
		zap.Float64("amount", amount),
		zap.Float64("refunded_total", updated.RefundedAmount),
		zap.String("status", updated.Status))

	return &RefundOutcome{
		RefundID: result.RefundID,
		Amount:   amount,
		Status:   result.Status,
		Payment:  updated,
	}, nil
}

// RequestCapture 请款
// 仅对"已授权未请款"的支付单有效（该子状态由渠道侧追踪，本地状态仍是 processing）；
// 请款成功后合成 succeeded 事件走对账器更新路径，状态推进只有一条路
func (s *refundService) RequestCapture(ctx context.Context, paymentID string, amount float64) error {
	payment, err := s.repo.GetPaymentByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if payment.Status != model.PaymentStatusProcessing {
		return ErrInvalidState
	}

	p, err := s.providers.Get(payment.Provider)
	if err != nil {
		return err
	}

	// 渠道侧确认授权状态，避免对未授权的支付单盲目请款
	detail, err := p.RetrievePayment(ctx, payment.ExternalID)
	if err != nil {
		return err
	}
	if detail.Kind != provider.KindAuthorized {
		return ErrInvalidState
	}

	if err := p.CapturePayment(ctx, payment.ExternalID, amount); err != nil {
		if s.collector != nil {
			s.collector.RecordCapture(payment.Provider, "provider_error")
		}
		return err
	}

	captured := payment.Amount
	if amount > 0 {
		captured = amount
	}

	err = s.reconciler.HandleEvent(ctx, &provider.NormalizedEvent{
		Provider:     payment.Provider,
		ExternalID:   payment.ExternalID,
		ChargeID:     detail.ChargeID,
		Kind:         provider.KindSucceeded,
		Amount:       captured,
		Currency:     payment.Currency,
		Customer:     detail.Customer,
		RawTimestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	if s.collector != nil {
		s.collector.RecordCapture(payment.Provider, "ok")
	}
	return nil
}

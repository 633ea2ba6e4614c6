package service

import (
	"context"
	"errors"
	"time"

	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/internal/pkg/worker"
	"store_backend/pkg/logger"
	"store_backend/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrphanedPayment 渠道侧成功但本地无订单的支付
type OrphanedPayment struct {
	Provider   string    `json:"provider"`
	ExternalID string    `json:"externalId"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CrossReferenceResult 单笔支付的渠道/本地对照
type CrossReferenceResult struct {
	Provider ProviderSide `json:"provider"`
	Database DatabaseSide `json:"database"`
}

type ProviderSide struct {
	Found  bool                    `json:"found"`
	Detail *provider.PaymentDetail `json:"detail,omitempty"`
}

type DatabaseSide struct {
	OrderExists   bool           `json:"orderExists"`
	PaymentExists bool           `json:"paymentExists"`
	Order         *model.Order   `json:"order,omitempty"`
	Payment       *model.Payment `json:"payment,omitempty"`
}

// RecoveryService 补单工具
// 唯一的职责是找到孤儿支付并把它们重放进 Reconciler.HandleEvent——
// 自己绝不直接建单
type RecoveryService interface {
	FindOrphanedPayments(ctx context.Context, window time.Duration) ([]OrphanedPayment, error)
	CrossReference(ctx context.Context, externalID string) (*CrossReferenceResult, error)
	Recover(ctx context.Context, externalID string) error
	// RecoverWindow 扫描窗口并把孤儿批量丢进 worker pool 重放，返回入队数量
	RecoverWindow(ctx context.Context, window time.Duration) (int, error)
}

type recoveryService struct {
	repo       repository.LedgerRepository
	recovery   repository.RecoveryRepository
	providers  *ProviderRegistry
	reconciler Reconciler
	collector  *metrics.Collector
	pool       *worker.WorkerPool
}

// NewRecoveryService 创建补单服务并启动重放 worker pool
func NewRecoveryService(
	repo repository.LedgerRepository,
	recovery repository.RecoveryRepository,
	providers *ProviderRegistry,
	reconciler Reconciler,
	collector *metrics.Collector,
	workers, queueSize int,
) RecoveryService {
	s := &recoveryService{
		repo:       repo,
		recovery:   recovery,
		providers:  providers,
		reconciler: reconciler,
		collector:  collector,
	}

	if workers <= 0 {
		workers = 3
	}
	if queueSize <= 0 {
		queueSize = 500
	}
	s.pool = worker.NewWorkerPool(s.processTask, workers, queueSize)
	s.pool.Start()

	return s
}

// FindOrphanedPayments 列出窗口内每个通道的成功支付，与本地账务做差集
func (s *recoveryService) FindOrphanedPayments(ctx context.Context, window time.Duration) ([]OrphanedPayment, error) {
	since := time.Now().Add(-window)
	var orphans []OrphanedPayment

	for _, p := range s.providers.All() {
		summaries, err := p.ListRecentPayments(ctx, since, provider.KindSucceeded)
		if err != nil {
			// 单个通道不可用不拖垮整体扫描
			logger.Log.Error("orphan scan failed for provider",
				zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if len(summaries) == 0 {
			continue
		}

		ids := make([]string, 0, len(summaries))
		for _, summary := range summaries {
			ids = append(ids, summary.ExternalID)
		}

		existing, err := s.recovery.ExistingExternalIDs(ctx, p.Name(), ids)
		if err != nil {
			return nil, err
		}

		for _, summary := range summaries {
			if _, ok := existing[summary.ExternalID]; ok {
				continue
			}
			orphans = append(orphans, OrphanedPayment{
				Provider:   p.Name(),
				ExternalID: summary.ExternalID,
				Amount:     summary.Amount,
				Currency:   summary.Currency,
				CreatedAt:  summary.CreatedAt,
			})
		}
	}

	if s.collector != nil && len(orphans) > 0 {
		s.collector.RecordOrphans(len(orphans))
	}
	return orphans, nil
}

// CrossReference 渠道侧与本地账务的单笔对照
func (s *recoveryService) CrossReference(ctx context.Context, externalID string) (*CrossReferenceResult, error) {
	result := &CrossReferenceResult{}

	p, payment, err := s.resolveProvider(externalID)
	if err != nil {
		return nil, err
	}

	if payment != nil {
		result.Database.PaymentExists = true
		result.Database.Payment = payment
		if order, err := s.repo.GetOrderByID(payment.OrderID); err == nil {
			result.Database.OrderExists = true
			result.Database.Order = order
		}
	}

	detail, err := p.RetrievePayment(ctx, externalID)
	if err != nil {
		var pe *provider.ProviderError
		if errors.As(err, &pe) && !pe.Retryable {
			// 渠道明确说没有这笔支付
			return result, nil
		}
		return nil, err
	}
	result.Provider.Found = true
	result.Provider.Detail = detail

	return result, nil
}

// Recover 手动补单：渠道重查 -> 合成 succeeded 事件 -> 走对账器
func (s *recoveryService) Recover(ctx context.Context, externalID string) error {
	p, _, err := s.resolveProvider(externalID)
	if err != nil {
		return err
	}

	detail, err := p.RetrievePayment(ctx, externalID)
	if err != nil {
		return err
	}

	if detail.Kind != provider.KindSucceeded {
		// 渠道侧未成功的支付不允许补单
		return ErrInvalidState
	}

	err = s.reconciler.HandleEvent(ctx, &provider.NormalizedEvent{
		Provider:     p.Name(),
		EventID:      "recovery:" + externalID,
		ExternalID:   detail.ExternalID,
		ChargeID:     detail.ChargeID,
		Kind:         provider.KindSucceeded,
		Amount:       detail.Amount,
		Currency:     detail.Currency,
		Customer:     detail.Customer,
		RawTimestamp: detail.CreatedAt,
	})

	if s.collector != nil {
		if err != nil {
			s.collector.RecordRecovery(p.Name(), "error")
		} else {
			s.collector.RecordRecovery(p.Name(), "ok")
		}
	}
	return err
}

// RecoverWindow 窗口扫描 + 批量重放
func (s *recoveryService) RecoverWindow(ctx context.Context, window time.Duration) (int, error) {
	orphans, err := s.FindOrphanedPayments(ctx, window)
	if err != nil {
		return 0, err
	}

	for _, orphan := range orphans {
		s.pool.AddTask(worker.RecoveryTask{
			Provider:   orphan.Provider,
			ExternalID: orphan.ExternalID,
		})
	}
	return len(orphans), nil
}

// processTask worker pool 回调：单笔补单
func (s *recoveryService) processTask(task worker.RecoveryTask) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Recover(ctx, task.ExternalID)
}

// resolveProvider 确定外部支付单号归属的通道
// 本地有支付单就用它记录的通道；没有则按注册顺序逐个试查
func (s *recoveryService) resolveProvider(externalID string) (provider.Provider, *model.Payment, error) {
	for _, p := range s.providers.All() {
		payment, err := s.repo.GetPaymentByExternalID(p.Name(), externalID)
		if err == nil {
			resolved, rerr := s.providers.Get(payment.Provider)
			if rerr != nil {
				return nil, nil, rerr
			}
			return resolved, payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
	}

	// 本地没有记录：按外部单号前缀猜通道（Stripe 的 intent id 以 pi_ 开头）
	if len(externalID) > 3 && externalID[:3] == "pi_" {
		p, err := s.providers.Get(model.ProviderStripe)
		if err == nil {
			return p, nil, nil
		}
	}

	all := s.providers.All()
	if len(all) == 0 {
		return nil, nil, ErrUnsupportedProvider
	}
	return all[0], nil, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	customerModel "store_backend/internal/domain/customer/model"
	"store_backend/internal/domain/payment/model"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/pkg/logger"
	"store_backend/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 事件处理结果（指标 outcome 标签）
const (
	outcomeApplied      = "applied"
	outcomeMaterialized = "materialized"
	outcomeNoop         = "noop"
	outcomeDuplicate    = "duplicate"
	outcomeRejected     = "rejected"
	outcomeError        = "error"
)

// 去重键有效期：覆盖渠道的重投窗口即可
const eventDedupTTL = 48 * time.Hour

// Reconciler 对账核心：渠道事件唯一的账务入口
// 回调、补单、请款全部经过 HandleEvent——从渠道确认创建订单的代码路径必须只有一条
type Reconciler interface {
	HandleEvent(ctx context.Context, event *provider.NormalizedEvent) error
}

type reconciler struct {
	repo      repository.LedgerRepository
	rdb       *redis.Client
	collector *metrics.Collector
}

// NewReconciler 创建对账器
func NewReconciler(repo repository.LedgerRepository, rdb *redis.Client, collector *metrics.Collector) Reconciler {
	return &reconciler{
		repo:      repo,
		rdb:       rdb,
		collector: collector,
	}
}

// HandleEvent 处理一条归一化渠道事件
//
// 1. 按 (provider, externalID) 查支付单
// 2. 已存在：重复投递或状态推进，走幂等更新路径
// 3. 不存在且非 succeeded：未完成的支付不落订单，记日志丢弃
// 4. 不存在且 succeeded：竞态场景，走订单落库事务；
//    复查/唯一索引命中则回退到更新路径，绝不向上抛唯一性冲突
func (r *reconciler) HandleEvent(ctx context.Context, event *provider.NormalizedEvent) error {
	start := time.Now()
	outcome, err := r.handle(ctx, event)

	if r.collector != nil {
		r.collector.RecordWebhookEvent(event.Provider, event.Kind, outcome)
		r.collector.RecordReconcile(event.Provider, time.Since(start))
	}
	return err
}

func (r *reconciler) handle(ctx context.Context, event *provider.NormalizedEvent) (string, error) {
	if event.Kind == provider.KindUnknown {
		return outcomeNoop, nil
	}
	if event.ExternalID == "" {
		logger.Log.Warn("event without external payment id, discarding",
			zap.String("provider", event.Provider), zap.String("kind", event.Kind))
		return outcomeNoop, nil
	}

	// Redis 去重快路径：只为省掉重投风暴下的重复处理，
	// 正确性不依赖它——幂等性由下面的账务逻辑和唯一索引保证
	if r.isDuplicate(ctx, event) {
		logger.Log.Debug("duplicate event skipped",
			zap.String("provider", event.Provider), zap.String("event_id", event.EventID))
		return outcomeDuplicate, nil
	}

	payment, err := r.repo.GetPaymentByExternalID(event.Provider, event.ExternalID)
	switch {
	case err == nil:
		// 情况 2：已有支付单，幂等更新
		outcome, err := r.applyUpdate(ctx, payment, event)
		if err == nil {
			r.markProcessed(ctx, event)
		}
		return outcome, err

	case errors.Is(err, gorm.ErrRecordNotFound):
		if event.Kind != provider.KindSucceeded {
			// 情况 3：从未成功过的支付不应落订单
			logger.Log.Info("event for unknown payment, no order materialized",
				zap.String("provider", event.Provider),
				zap.String("external_id", event.ExternalID),
				zap.String("kind", event.Kind))
			return outcomeNoop, nil
		}
		// 情况 4：落库竞态
		outcome, err := r.materialize(ctx, event)
		if err == nil {
			r.markProcessed(ctx, event)
		}
		return outcome, err

	default:
		return outcomeError, err
	}
}

// materialize 订单落库：校验客户信息后进入落库事务
func (r *reconciler) materialize(ctx context.Context, event *provider.NormalizedEvent) (string, error) {
	if err := event.Customer.Validate(); err != nil {
		logger.Log.Error("materialization rejected: incomplete customer metadata",
			zap.String("provider", event.Provider),
			zap.String("external_id", event.ExternalID),
			zap.Error(err))
		return outcomeRejected, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	order, payment, err := r.repo.MaterializeOrder(ctx, repository.MaterializeParams{
		Provider:   event.Provider,
		ExternalID: event.ExternalID,
		ChargeID:   event.ChargeID,
		Amount:     event.Amount,
		Currency:   event.Currency,
		Customer: customerModel.Customer{
			Name:    event.Customer.Name,
			Email:   event.Customer.Email,
			Phone:   event.Customer.Phone,
			City:    event.Customer.City,
			Address: event.Customer.Address,
		},
	})

	if errors.Is(err, repository.ErrPaymentExists) {
		// 并发投递的另一方赢了，等价于重复通知，回退更新路径
		existing, ferr := r.repo.GetPaymentByExternalID(event.Provider, event.ExternalID)
		if ferr != nil {
			return outcomeError, ferr
		}
		return r.applyUpdate(ctx, existing, event)
	}
	if err != nil {
		// 落库事务整体回滚，无半成品；回调方收到 5xx 后重投，重入安全
		return outcomeError, err
	}

	if r.collector != nil {
		r.collector.RecordMaterialization(event.Provider, "webhook")
	}
	logger.Log.Info("order materialized from provider confirmation",
		zap.String("provider", event.Provider),
		zap.String("external_id", event.ExternalID),
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID))
	return outcomeMaterialized, nil
}

// applyUpdate 幂等状态推进：支付单状态机 + 订单状态级联
func (r *reconciler) applyUpdate(ctx context.Context, payment *model.Payment, event *provider.NormalizedEvent) (string, error) {
	switch event.Kind {
	case provider.KindCreated, provider.KindAuthorized:
		// 进度通知，不改账务
		return outcomeNoop, nil

	case provider.KindSucceeded:
		return r.applySucceeded(ctx, payment, event)

	case provider.KindFailed, provider.KindCancelled:
		return r.applyFailure(ctx, payment, event.Kind, "")

	case provider.KindDisputed:
		// 上游把拒付等同于普通失败并取消订单。拒付其实是银行追回资金，
		// 不是支付未成功，这里保留原行为不做修正，只单独打点便于追踪
		return r.applyFailure(ctx, payment, event.Kind, "disputed")

	case provider.KindRefunded:
		return r.applyProviderRefund(ctx, payment, event)

	default:
		return outcomeNoop, nil
	}
}

func (r *reconciler) applySucceeded(ctx context.Context, payment *model.Payment, event *provider.NormalizedEvent) (string, error) {
	switch payment.Status {
	case model.PaymentStatusSucceeded,
		model.PaymentStatusRefunded,
		model.PaymentStatusPartiallyRefunded:
		// 重复投递，无事发生
		return outcomeNoop, nil

	case model.PaymentStatusCancelled:
		// 已取消的支付单不接受迟到的成功
		logger.Log.Warn("succeeded event for cancelled payment ignored",
			zap.String("payment_id", payment.ID), zap.String("external_id", payment.ExternalID))
		return outcomeNoop, nil
	}

	// processing / failed -> succeeded（渠道可在同一支付单号上重试成功）
	updates := map[string]interface{}{
		"status":         model.PaymentStatusSucceeded,
		"failure_reason": "",
	}
	if event.ChargeID != "" && payment.ChargeID == "" {
		updates["charge_id"] = event.ChargeID
	}

	orderStatus, err := r.cascadeOrderStatus(payment.OrderID, model.OrderStatusProcessing,
		model.OrderStatusNew, model.OrderStatusCancelled)
	if err != nil {
		return outcomeError, err
	}

	if err := r.repo.UpdatePaymentAndOrder(ctx, payment.ID, updates, payment.OrderID, orderStatus); err != nil {
		return outcomeError, err
	}
	return outcomeApplied, nil
}

func (r *reconciler) applyFailure(ctx context.Context, payment *model.Payment, kind, reason string) (string, error) {
	if payment.Status == model.PaymentStatusSucceeded && kind != provider.KindDisputed {
		// 结算即终局：成功后的失败事件是乱序噪声，渠道侧的资金逆转走退款
		logger.Log.Warn("failure event for settled payment ignored",
			zap.String("payment_id", payment.ID), zap.String("kind", kind))
		return outcomeNoop, nil
	}

	target := model.PaymentStatusFailed
	if kind == provider.KindCancelled {
		target = model.PaymentStatusCancelled
	}
	if payment.Status == target {
		return outcomeNoop, nil
	}
	if payment.Status == model.PaymentStatusRefunded || payment.Status == model.PaymentStatusPartiallyRefunded {
		return outcomeNoop, nil
	}

	updates := map[string]interface{}{"status": target}
	if reason != "" {
		updates["failure_reason"] = reason
	}

	orderStatus, err := r.cascadeOrderStatus(payment.OrderID, model.OrderStatusCancelled,
		model.OrderStatusNew, model.OrderStatusProcessing)
	if err != nil {
		return outcomeError, err
	}

	if err := r.repo.UpdatePaymentAndOrder(ctx, payment.ID, updates, payment.OrderID, orderStatus); err != nil {
		return outcomeError, err
	}
	return outcomeApplied, nil
}

// applyProviderRefund 渠道侧退款通知：累计退款额以渠道为准
func (r *reconciler) applyProviderRefund(ctx context.Context, payment *model.Payment, event *provider.NormalizedEvent) (string, error) {
	switch payment.Status {
	case model.PaymentStatusSucceeded,
		model.PaymentStatusPartiallyRefunded,
		model.PaymentStatusRefunded:
		// 可应用
	default:
		logger.Log.Warn("refund event for unsettled payment ignored",
			zap.String("payment_id", payment.ID), zap.String("status", payment.Status))
		return outcomeNoop, nil
	}

	totalMinor := model.ToMinorUnits(event.Amount)
	if totalMinor <= model.ToMinorUnits(payment.RefundedAmount) {
		// 本地已对齐（通常是我们主动退款后渠道回调确认）
		return outcomeNoop, nil
	}

	if _, err := r.repo.SyncRefundTotal(ctx, payment.ID, totalMinor); err != nil {
		return outcomeError, err
	}
	return outcomeApplied, nil
}

// cascadeOrderStatus 计算订单级联目标状态
// 只有订单当前状态在 allowedFrom 里才推进；shipped/delivered 永不触碰
func (r *reconciler) cascadeOrderStatus(orderID, target string, allowedFrom ...string) (string, error) {
	order, err := r.repo.GetOrderByID(orderID)
	if err != nil {
		return "", err
	}
	for _, from := range allowedFrom {
		if order.Status == from {
			return target, nil
		}
	}
	return "", nil
}

// isDuplicate Redis 去重快路径；Redis 不可用时放行，靠账务幂等兜底
func (r *reconciler) isDuplicate(ctx context.Context, event *provider.NormalizedEvent) bool {
	if r.rdb == nil || event.EventID == "" {
		return false
	}
	n, err := r.rdb.Exists(ctx, dedupKey(event)).Result()
	if err != nil {
		logger.Log.Warn("redis dedup check failed, proceeding", zap.Error(err))
		return false
	}
	return n > 0
}

// markProcessed 处理成功后写入去重键
func (r *reconciler) markProcessed(ctx context.Context, event *provider.NormalizedEvent) {
	if r.rdb == nil || event.EventID == "" {
		return
	}
	if err := r.rdb.Set(ctx, dedupKey(event), 1, eventDedupTTL).Err(); err != nil {
		logger.Log.Warn("redis dedup mark failed", zap.Error(err))
	}
}

func dedupKey(event *provider.NormalizedEvent) string {
	return "payment:event:" + event.Provider + ":" + event.EventID
}

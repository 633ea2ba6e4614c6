package repository

import (
	"context"
	"errors"

	customerModel "store_backend/internal/domain/customer/model"
	customerRepo "store_backend/internal/domain/customer/repository"
	"store_backend/internal/domain/payment/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPaymentExists 落库事务内复查时发现支付单已存在（并发建单被另一方抢先）
// 仅在仓库与 Reconciler 之间流转，永远不会暴露给调用方
var ErrPaymentExists = errors.New("payment already exists for external id")

// MaterializeParams 订单落库参数
type MaterializeParams struct {
	Provider   string
	ExternalID string
	ChargeID   string
	Amount     float64
	Currency   string
	Customer   customerModel.Customer
	// Items 为空时落一条以订单总额计价的默认行项目
	Items []model.OrderItem
}

// LedgerRepository 账务仓库：Order/Payment 及其关系的唯一持久化入口
// 两个事务边界：订单落库（MaterializeOrder）与退款/请款应用（AddRefund 等），
// 其余均为无事务读
type LedgerRepository interface {
	GetPaymentByExternalID(provider, externalID string) (*model.Payment, error)
	GetPaymentByID(id string) (*model.Payment, error)
	GetOrderByID(id string) (*model.Order, error)
	GetOrderByExternalID(externalID string) (*model.Order, error)

	// CreateOrderWithPayment 同步下单路径：客户、订单、支付单原子创建
	CreateOrderWithPayment(ctx context.Context, customer *customerModel.Customer, order *model.Order, payment *model.Payment) error

	// MaterializeOrder 从渠道确认事件落库订单（回调/补单共用）
	// 事务内按 (provider, externalID) 复查；已存在则返回 ErrPaymentExists，
	// 由调用方回退到更新路径
	MaterializeOrder(ctx context.Context, params MaterializeParams) (*model.Order, *model.Payment, error)

	// UpdatePaymentAndOrder 状态推进：支付单字段与订单状态同事务写入，
	// 不允许出现两边状态不一致的可观测中间态
	UpdatePaymentAndOrder(ctx context.Context, paymentID string, paymentUpdates map[string]interface{}, orderID, orderStatus string) error

	// AddRefund 累加退款额并按不变式重算状态；满额时级联订单 refunded
	AddRefund(ctx context.Context, paymentID string, amountMinor int64) (*model.Payment, error)

	// SyncRefundTotal 渠道侧累计退款额对齐（回调路径，渠道为准，只增不减）
	SyncRefundTotal(ctx context.Context, paymentID string, totalMinor int64) (*model.Payment, error)
}

type ledgerRepository struct {
	db        *gorm.DB
	customers customerRepo.CustomerRepository
}

// NewLedgerRepository 创建新的仓库实例
func NewLedgerRepository(db *gorm.DB, customers customerRepo.CustomerRepository) LedgerRepository {
	return &ledgerRepository{db: db, customers: customers}
}

func (r *ledgerRepository) GetPaymentByExternalID(provider, externalID string) (*model.Payment, error) {
	var payment model.Payment
	if err := r.db.Where("provider = ? AND external_id = ?", provider, externalID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *ledgerRepository) GetPaymentByID(id string) (*model.Payment, error) {
	var payment model.Payment
	if err := r.db.Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *ledgerRepository) GetOrderByID(id string) (*model.Order, error) {
	var order model.Order
	if err := r.db.Preload("Items").Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *ledgerRepository) GetOrderByExternalID(externalID string) (*model.Order, error) {
	var order model.Order
	if err := r.db.Preload("Items").Where("external_id = ?", externalID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrderWithPayment 同步下单：客户+订单+行项目+支付单一个事务
func (r *ledgerRepository) CreateOrderWithPayment(ctx context.Context, customer *customerModel.Customer, order *model.Order, payment *model.Payment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if customer != nil {
			c, err := r.customers.GetOrCreateTx(tx, customer)
			if err != nil {
				return err
			}
			order.CustomerID = c.ID
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		payment.OrderID = order.ID
		return tx.Create(payment).Error
	})
}

// MaterializeOrder 订单落库事务
// 正确性兜底是 payments(provider, external_id) 的唯一索引：
// 复查挡掉大多数并发，索引挡掉复查之间溜进来的那一个
func (r *ledgerRepository) MaterializeOrder(ctx context.Context, params MaterializeParams) (*model.Order, *model.Payment, error) {
	var order *model.Order
	var payment *model.Payment

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 事务内复查：同一外部支付单号是否已被并发投递落库
		var existing model.Payment
		err := tx.Where("provider = ? AND external_id = ?", params.Provider, params.ExternalID).
			First(&existing).Error
		if err == nil {
			return ErrPaymentExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// 2. 客户按邮箱取或建
		customer, err := r.customers.GetOrCreateTx(tx, &params.Customer)
		if err != nil {
			return err
		}

		// 3. 行项目：事件 metadata 没有明细时落一条默认行
		items := params.Items
		if len(items) == 0 {
			items = []model.OrderItem{{
				Name:      "Online order " + params.ExternalID,
				Quantity:  1,
				UnitPrice: params.Amount,
			}}
		}

		// 4. 订单 + 支付单原子创建
		externalID := params.ExternalID
		order = &model.Order{
			CustomerID: customer.ID,
			Items:      items,
			Subtotal:   params.Amount,
			Total:      params.Amount,
			Status:     model.OrderStatusProcessing,
			Provider:   params.Provider,
			ExternalID: &externalID,
			City:       customer.City,
			Address:    customer.Address,
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		payment = &model.Payment{
			OrderID:    order.ID,
			Provider:   params.Provider,
			ExternalID: params.ExternalID,
			ChargeID:   params.ChargeID,
			Amount:     params.Amount,
			Currency:   params.Currency,
			Status:     model.PaymentStatusSucceeded,
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		return nil
	})

	if err != nil {
		// 唯一索引冲突：复查之后、提交之前另一个事务赢了，等价于复查命中
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, ErrPaymentExists
		}
		return nil, nil, err
	}
	return order, payment, nil
}

// UpdatePaymentAndOrder 支付单与订单状态同事务推进
func (r *ledgerRepository) UpdatePaymentAndOrder(ctx context.Context, paymentID string, paymentUpdates map[string]interface{}, orderID, orderStatus string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(paymentUpdates) > 0 {
			if err := tx.Model(&model.Payment{}).Where("id = ?", paymentID).Updates(paymentUpdates).Error; err != nil {
				return err
			}
		}
		if orderStatus != "" {
			if err := tx.Model(&model.Order{}).Where("id = ?", orderID).Update("status", orderStatus).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AddRefund 退款应用事务：行锁 + 单调累加 + 状态重算 + 级联
func (r *ledgerRepository) AddRefund(ctx context.Context, paymentID string, amountMinor int64) (*model.Payment, error) {
	return r.applyRefund(ctx, paymentID, func(refundedMinor int64) int64 {
		return refundedMinor + amountMinor
	})
}

// SyncRefundTotal 对齐渠道累计退款额（只增不减）
func (r *ledgerRepository) SyncRefundTotal(ctx context.Context, paymentID string, totalMinor int64) (*model.Payment, error) {
	return r.applyRefund(ctx, paymentID, func(refundedMinor int64) int64 {
		if totalMinor > refundedMinor {
			return totalMinor
		}
		return refundedMinor
	})
}

func (r *ledgerRepository) applyRefund(ctx context.Context, paymentID string, next func(refundedMinor int64) int64) (*model.Payment, error) {
	var payment model.Payment

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", paymentID).First(&payment).Error; err != nil {
			return err
		}

		amountMinor := model.ToMinorUnits(payment.Amount)
		newRefunded := next(model.ToMinorUnits(payment.RefundedAmount))
		if newRefunded > amountMinor {
			return errors.New("refunded amount would exceed payment amount")
		}

		payment.RefundedAmount = model.FromMinorUnits(newRefunded)
		payment.Status = model.RefundStatusFor(amountMinor, newRefunded)

		if err := tx.Model(&model.Payment{}).Where("id = ?", payment.ID).Updates(map[string]interface{}{
			"refunded_amount": payment.RefundedAmount,
			"status":          payment.Status,
		}).Error; err != nil {
			return err
		}

		// 满额退款级联订单状态，同一事务内完成
		if payment.Status == model.PaymentStatusRefunded {
			if err := tx.Model(&model.Order{}).Where("id = ?", payment.OrderID).
				Update("status", model.OrderStatusRefunded).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &payment, nil
}

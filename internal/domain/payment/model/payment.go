package model

import (
	"math"

	baseModel "store_backend/pkg/model"
)

// Payment 支付单模型：一次外部支付尝试及其结算生命周期
// (Provider, ExternalID) 全局唯一，由复合唯一索引保证——
// 并发建单的正确性最终落在这条约束上
type Payment struct {
	baseModel.BaseModel
	OrderID        string  `gorm:"type:uuid;uniqueIndex" json:"orderId"` // 与订单 1:1
	Provider       string  `gorm:"uniqueIndex:idx_payments_provider_external" json:"provider"`
	ExternalID     string  `gorm:"uniqueIndex:idx_payments_provider_external" json:"externalId"`
	ChargeID       string  `json:"chargeId"` // 外部交易/扣款流水号，结算明确后写入一次
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `gorm:"default:'processing';index" json:"status"`
	RefundedAmount float64 `json:"refundedAmount"` // 单调不减，<= Amount
	FailureReason  string  `json:"failureReason"`
}

// 支付通道
const (
	ProviderStripe = "stripe"
	ProviderTabby  = "tabby"
)

// 支付状态
const (
	PaymentStatusProcessing        = "processing"
	PaymentStatusSucceeded         = "succeeded"
	PaymentStatusFailed            = "failed"
	PaymentStatusCancelled         = "cancelled"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// ToMinorUnits 金额转最小货币单位（分/fils）
// 金额不变式（refundedAmount == amount 等）必须在整数域比较，
// 避免 float64 累加误差
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits 最小货币单位转金额
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100.0
}

// RefundableMinor 剩余可退金额（最小单位）
func (p *Payment) RefundableMinor() int64 {
	return ToMinorUnits(p.Amount) - ToMinorUnits(p.RefundedAmount)
}

// RefundStatusFor 根据退款累计额推导支付状态
// status = refunded  <=> refundedAmount == amount
// status = partially_refunded <=> 0 < refundedAmount < amount
func RefundStatusFor(amountMinor, refundedMinor int64) string {
	switch {
	case refundedMinor >= amountMinor:
		return PaymentStatusRefunded
	case refundedMinor > 0:
		return PaymentStatusPartiallyRefunded
	default:
		return PaymentStatusSucceeded
	}
}

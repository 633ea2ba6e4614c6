package model

import (
	baseModel "store_backend/pkg/model"
)

// Order 订单模型
// ExternalID 是外部支付单号（如 Stripe 的 payment intent id），
// 一个外部支付单号至多对应一条订单记录，由唯一索引保证
type Order struct {
	baseModel.BaseModel
	CustomerID string      `gorm:"type:uuid;index" json:"customerId"`
	Items      []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal   float64     `json:"subtotal"`
	Tax        float64     `json:"tax"`
	Shipping   float64     `json:"shipping"`
	Discount   float64     `json:"discount"`
	Total      float64     `json:"total"`
	Status     string      `gorm:"default:'new';index" json:"status"`
	Provider   string      `json:"provider"`
	ExternalID *string     `gorm:"uniqueIndex" json:"externalId"` // 支付确认前可能为空
	City       string      `json:"city"`
	Address    string      `json:"address"`
}

// OrderItem 订单行项目，随订单原子创建，之后不再变更
type OrderItem struct {
	baseModel.BaseModel
	OrderID   string  `gorm:"type:uuid;index" json:"orderId"`
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// 订单状态
// shipped/delivered 由履约侧推进，对账管线只读不写
const (
	OrderStatusNew        = "new"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// OrderStatusTerminal 判断订单是否处于终态（履约终态或退款终态）
func OrderStatusTerminal(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusRefunded
}

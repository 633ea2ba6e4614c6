package model

import (
	baseModel "store_backend/pkg/model"
)

// Customer 客户模型
// 订单落库时按邮箱匹配，不存在则即时创建（弱持有）
type Customer struct {
	baseModel.BaseModel
	Name    string `json:"name"`
	Email   string `gorm:"unique;not null" json:"email"`
	Phone   string `json:"phone"`
	City    string `json:"city"`
	Address string `json:"address"`
}

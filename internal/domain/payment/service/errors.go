package service

import "errors"

// 对外暴露的业务错误，handler 层据此映射 HTTP 状态码与业务码
var (
	// ErrNotFound 支付单/订单不存在
	ErrNotFound = errors.New("payment not found")

	// ErrInvalidAmount 退款金额非法（<=0 或超出剩余可退额）
	ErrInvalidAmount = errors.New("invalid refund amount")

	// ErrInvalidState 当前账务状态不允许该操作（如对未成功的支付单退款）
	ErrInvalidState = errors.New("operation not allowed in current payment state")

	// ErrInvalidMetadata 渠道事件缺少落库必需的客户信息，拒绝建单
	// 这是确定性拒绝：返回 4xx，渠道不应重投
	ErrInvalidMetadata = errors.New("event metadata missing required customer fields")

	// ErrUnsupportedProvider 未注册的支付通道
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

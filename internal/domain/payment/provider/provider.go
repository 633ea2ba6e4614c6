package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// 归一化事件类型
const (
	KindCreated    = "created"
	KindAuthorized = "authorized"
	KindSucceeded  = "succeeded"
	KindFailed     = "failed"
	KindCancelled  = "cancelled"
	KindRefunded   = "refunded"
	KindDisputed   = "disputed"
	KindUnknown    = "" // 不认识的事件类型：记日志后直接 ACK，渠道不得重投
)

// CustomerInfo 订单落库所需的客户信息
// 渠道侧 metadata 在入口处收敛为这个封闭结构，缺必填字段直接拒绝，
// 不允许松散 map 渗透到对账核心
type CustomerInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	City    string `json:"city"`
	Address string `json:"address"`
}

// Validate 校验落库必填字段
func (c *CustomerInfo) Validate() error {
	if c.Email == "" {
		return errors.New("customer email is required for order materialization")
	}
	if c.Name == "" {
		return errors.New("customer name is required for order materialization")
	}
	return nil
}

// NormalizedEvent 归一化后的渠道事件（仅在内存中流转，不落库）
type NormalizedEvent struct {
	Provider     string
	EventID      string // 渠道事件 id，用于 Redis 去重快路径
	ExternalID   string // 外部支付单号，本地与渠道状态的关联键
	ChargeID     string // 外部扣款流水号，结算明确后才有
	Kind         string
	Amount       float64
	Currency     string
	Customer     CustomerInfo
	RawTimestamp time.Time
}

// CreatePaymentRequest 发起支付请求
type CreatePaymentRequest struct {
	Amount      float64
	Currency    string
	Description string
	Customer    CustomerInfo
	SuccessURL  string
	CancelURL   string
}

// CreatePaymentResult 发起支付结果
// 卡通道返回 client secret，BNPL 通道返回跳转链接
type CreatePaymentResult struct {
	ExternalID   string
	ClientSecret string
	RedirectURL  string
}

// PaymentDetail 渠道侧支付单详情（幂等读）
type PaymentDetail struct {
	ExternalID string
	Kind       string // 渠道状态映射为归一化事件类型
	Amount     float64
	Currency   string
	ChargeID   string
	Customer   CustomerInfo
	CreatedAt  time.Time
}

// PaymentSummary 轻量支付单摘要，仅供补单扫描使用
type PaymentSummary struct {
	ExternalID string
	Kind       string
	Amount     float64
	Currency   string
	CreatedAt  time.Time
}

// RefundResult 渠道退款结果
type RefundResult struct {
	RefundID string
	Status   string
}

// Provider 支付渠道适配器接口
// 所有副作用限于对渠道的网络调用，不触碰本地账务
type Provider interface {
	// Name 返回通道标识（stripe / tabby）
	Name() string

	// CreatePayment 发起支付，返回外部支付单号和支付参数
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)

	// RetrievePayment 查询支付单详情，幂等
	RetrievePayment(ctx context.Context, externalID string) (*PaymentDetail, error)

	// CapturePayment 请款；amount <= 0 表示全额
	// 已请款或未授权时返回 ProviderError
	CapturePayment(ctx context.Context, externalID string, amount float64) error

	// RefundPayment 退款；超额或渠道侧终态时返回 ProviderError
	RefundPayment(ctx context.Context, externalID string, amount float64, reason string) (*RefundResult, error)

	// VerifyWebhook 用原始请求体验签并归一化事件
	// 验签必须针对原始字节，重新序列化会破坏签名
	VerifyWebhook(rawBody []byte, header http.Header) (*NormalizedEvent, error)

	// ListRecentPayments 列出窗口内的支付单摘要，仅供补单工具使用
	ListRecentPayments(ctx context.Context, since time.Time, kindFilter string) ([]PaymentSummary, error)
}

// ProviderError 渠道错误
// Retryable 决定回调返回 5xx（渠道重投）还是 4xx（终止）
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s error [%s]: %s (retryable=%v)", e.Provider, e.Code, e.Message, e.Retryable)
}

// SignatureError 验签失败
// 验签失败的回调一律 400，且绝不触达 Reconciler
type SignatureError struct {
	Provider string
	Err      error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature verification failed for %s: %v", e.Provider, e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否为可重试的渠道错误
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// wrapTimeout 超时一律视为可重试的渠道错误，
// 绝不能当作支付失败或成功来解读
func wrapTimeout(providerName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderError{
			Provider:  providerName,
			Code:      "timeout",
			Message:   err.Error(),
			Retryable: true,
		}
	}
	return err
}

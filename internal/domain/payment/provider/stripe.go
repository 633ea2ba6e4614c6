package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"store_backend/internal/domain/payment/model"
	"store_backend/internal/pkg/config"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/paymentintent"
	"github.com/stripe/stripe-go/v78/refund"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeProvider 卡支付通道适配器
type StripeProvider struct {
	config  config.StripeConfig
	timeout time.Duration
}

// NewStripeProvider 初始化 Stripe 适配器
func NewStripeProvider() (*StripeProvider, error) {
	cfg := config.GlobalConfig.Stripe
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe config missing")
	}

	// SDK 使用全局 Key
	stripe.Key = cfg.SecretKey

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &StripeProvider{
		config:  cfg,
		timeout: timeout,
	}, nil
}

func (s *StripeProvider) Name() string {
	return model.ProviderStripe
}

// CreatePayment 创建 PaymentIntent
// 客户信息写入 metadata，回调建单时从 metadata 还原
func (s *StripeProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(model.ToMinorUnits(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("customer_name", req.Customer.Name)
	params.AddMetadata("customer_email", req.Customer.Email)
	params.AddMetadata("customer_phone", req.Customer.Phone)
	params.AddMetadata("shipping_city", req.Customer.City)
	params.AddMetadata("shipping_address", req.Customer.Address)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, s.wrapError(ctx, err)
	}

	return &CreatePaymentResult{
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

// RetrievePayment 查询 PaymentIntent，幂等读
func (s *StripeProvider) RetrievePayment(ctx context.Context, externalID string) (*PaymentDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(externalID, params)
	if err != nil {
		return nil, s.wrapError(ctx, err)
	}

	detail := &PaymentDetail{
		ExternalID: pi.ID,
		Kind:       stripeIntentKind(pi.Status),
		Amount:     model.FromMinorUnits(pi.Amount),
		Currency:   strings.ToUpper(string(pi.Currency)),
		Customer:   customerFromMetadata(pi.Metadata),
		CreatedAt:  time.Unix(pi.Created, 0),
	}
	if pi.LatestCharge != nil {
		detail.ChargeID = pi.LatestCharge.ID
	}
	return detail, nil
}

// CapturePayment 请款（仅 requires_capture 状态可用）
func (s *StripeProvider) CapturePayment(ctx context.Context, externalID string, amount float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if amount > 0 {
		params.AmountToCapture = stripe.Int64(model.ToMinorUnits(amount))
	}

	if _, err := paymentintent.Capture(externalID, params); err != nil {
		return s.wrapError(ctx, err)
	}
	return nil
}

// RefundPayment 按 PaymentIntent 退款，支持部分退款
func (s *StripeProvider) RefundPayment(ctx context.Context, externalID string, amount float64, reason string) (*RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Amount:        stripe.Int64(model.ToMinorUnits(amount)),
	}
	params.Context = ctx

	// Stripe 的 reason 是枚举，自由文本放 metadata
	switch reason {
	case "duplicate", "fraudulent", "requested_by_customer":
		params.Reason = stripe.String(reason)
	default:
		if reason != "" {
			params.AddMetadata("reason", reason)
		}
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, s.wrapError(ctx, err)
	}

	return &RefundResult{
		RefundID: r.ID,
		Status:   string(r.Status),
	}, nil
}

// VerifyWebhook 验签并归一化 Stripe 事件
func (s *StripeProvider) VerifyWebhook(rawBody []byte, header http.Header) (*NormalizedEvent, error) {
	event, err := webhook.ConstructEventWithOptions(
		rawBody,
		header.Get("Stripe-Signature"),
		s.config.WebhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, &SignatureError{Provider: s.Name(), Err: err}
	}

	normalized := &NormalizedEvent{
		Provider:     s.Name(),
		EventID:      event.ID,
		RawTimestamp: time.Unix(event.Created, 0),
	}

	switch string(event.Type) {
	case "payment_intent.created":
		normalized.Kind = KindCreated
	case "payment_intent.amount_capturable_updated":
		normalized.Kind = KindAuthorized
	case "payment_intent.succeeded":
		normalized.Kind = KindSucceeded
	case "payment_intent.payment_failed":
		normalized.Kind = KindFailed
	case "payment_intent.canceled":
		normalized.Kind = KindCancelled
	case "charge.refunded":
		return s.normalizeChargeRefunded(normalized, event.Data.Raw)
	case "charge.dispute.created":
		return s.normalizeDispute(normalized, event.Data.Raw)
	default:
		// 不认识的事件类型：Kind 留空，入口记日志后 ACK
		normalized.Kind = KindUnknown
		return normalized, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, &ProviderError{Provider: s.Name(), Code: "bad_payload", Message: err.Error(), Retryable: false}
	}

	normalized.ExternalID = pi.ID
	normalized.Amount = model.FromMinorUnits(pi.Amount)
	normalized.Currency = strings.ToUpper(string(pi.Currency))
	normalized.Customer = customerFromMetadata(pi.Metadata)
	if pi.LatestCharge != nil {
		normalized.ChargeID = pi.LatestCharge.ID
	}
	return normalized, nil
}

// normalizeChargeRefunded charge.refunded 事件：金额取渠道侧累计退款额
func (s *StripeProvider) normalizeChargeRefunded(normalized *NormalizedEvent, raw json.RawMessage) (*NormalizedEvent, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, &ProviderError{Provider: s.Name(), Code: "bad_payload", Message: err.Error(), Retryable: false}
	}

	normalized.Kind = KindRefunded
	if ch.PaymentIntent != nil {
		normalized.ExternalID = ch.PaymentIntent.ID
	}
	normalized.Amount = model.FromMinorUnits(ch.AmountRefunded)
	normalized.Currency = strings.ToUpper(string(ch.Currency))
	return normalized, nil
}

// normalizeDispute 拒付事件
func (s *StripeProvider) normalizeDispute(normalized *NormalizedEvent, raw json.RawMessage) (*NormalizedEvent, error) {
	var d stripe.Dispute
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &ProviderError{Provider: s.Name(), Code: "bad_payload", Message: err.Error(), Retryable: false}
	}

	normalized.Kind = KindDisputed
	if d.PaymentIntent != nil {
		normalized.ExternalID = d.PaymentIntent.ID
	}
	normalized.Amount = model.FromMinorUnits(d.Amount)
	normalized.Currency = strings.ToUpper(string(d.Currency))
	return normalized, nil
}

// ListRecentPayments 按创建时间窗口列出 PaymentIntent，仅供补单扫描
func (s *StripeProvider) ListRecentPayments(ctx context.Context, since time.Time, kindFilter string) ([]PaymentSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: since.Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var summaries []PaymentSummary
	iter := paymentintent.List(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		kind := stripeIntentKind(pi.Status)
		if kindFilter != "" && kind != kindFilter {
			continue
		}
		summaries = append(summaries, PaymentSummary{
			ExternalID: pi.ID,
			Kind:       kind,
			Amount:     model.FromMinorUnits(pi.Amount),
			Currency:   strings.ToUpper(string(pi.Currency)),
			CreatedAt:  time.Unix(pi.Created, 0),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, s.wrapError(ctx, err)
	}
	return summaries, nil
}

// wrapError 将 SDK 错误映射为 ProviderError
func (s *StripeProvider) wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return wrapTimeout(s.Name(), ctx.Err())
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Provider: s.Name(),
			Code:     string(stripeErr.Code),
			Message:  stripeErr.Msg,
			// 5xx 和限流可以重试，其余是确定性拒绝
			Retryable: stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		}
	}

	// 网络层错误（连接重置等）按可重试处理
	return &ProviderError{Provider: s.Name(), Code: "network", Message: err.Error(), Retryable: true}
}

// stripeIntentKind PaymentIntent 状态映射为归一化事件类型
func stripeIntentKind(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return KindSucceeded
	case stripe.PaymentIntentStatusRequiresCapture:
		return KindAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return KindCancelled
	default:
		// requires_payment_method / requires_confirmation / requires_action / processing
		return KindCreated
	}
}

// customerFromMetadata 从 intent metadata 还原客户信息
func customerFromMetadata(metadata map[string]string) CustomerInfo {
	return CustomerInfo{
		Name:    metadata["customer_name"],
		Email:   metadata["customer_email"],
		Phone:   metadata["customer_phone"],
		City:    metadata["shipping_city"],
		Address: metadata["shipping_address"],
	}
}

// 确保实现了接口
var _ Provider = (*StripeProvider)(nil)

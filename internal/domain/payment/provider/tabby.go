package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"store_backend/internal/domain/payment/model"
	"store_backend/internal/pkg/config"
)

// TabbyProvider 先买后付（BNPL）通道适配器
// Tabby 只提供 REST API，没有官方 Go SDK，适配器自带一个薄 HTTP 客户端
type TabbyProvider struct {
	config config.TabbyConfig
	client *http.Client
}

// NewTabbyProvider 初始化 Tabby 适配器
func NewTabbyProvider() (*TabbyProvider, error) {
	cfg := config.GlobalConfig.Tabby
	if cfg.SecretKey == "" {
		return nil, errors.New("tabby config missing")
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &TabbyProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (t *TabbyProvider) Name() string {
	return model.ProviderTabby
}

// tabbyPayment Tabby 支付单应答
type tabbyPayment struct {
	ID             string `json:"id"`
	Status         string `json:"status"` // CREATED / AUTHORIZED / CLOSED / REJECTED / EXPIRED
	Amount         string `json:"amount"` // 十进制字符串
	RefundedAmount string `json:"refunded_amount"`
	Currency       string `json:"currency"`
	CreatedAt      string `json:"created_at"`
	Buyer          struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"buyer"`
	ShippingAddress struct {
		City    string `json:"city"`
		Address string `json:"address"`
	} `json:"shipping_address"`
	Captures []struct {
		ID string `json:"id"`
	} `json:"captures"`
}

type tabbyCheckoutResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Payment       tabbyPayment `json:"payment"`
	Configuration struct {
		AvailableProducts struct {
			Installments []struct {
				WebURL string `json:"web_url"`
			} `json:"installments"`
		} `json:"available_products"`
	} `json:"configuration"`
}

type tabbyErrorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// CreatePayment 创建 checkout session，返回分期付款跳转链接
func (t *TabbyProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	payload := map[string]interface{}{
		"merchant_code": t.config.MerchantCode,
		"lang":          "en",
		"payment": map[string]interface{}{
			"amount":      formatAmount(req.Amount),
			"currency":    req.Currency,
			"description": req.Description,
			"buyer": map[string]string{
				"name":  req.Customer.Name,
				"email": req.Customer.Email,
				"phone": req.Customer.Phone,
			},
			"shipping_address": map[string]string{
				"city":    req.Customer.City,
				"address": req.Customer.Address,
			},
		},
		"merchant_urls": map[string]string{
			"success": req.SuccessURL,
			"cancel":  req.CancelURL,
			"failure": req.CancelURL,
		},
	}

	var resp tabbyCheckoutResponse
	if err := t.doRequest(ctx, http.MethodPost, "/api/v2/checkout", payload, &resp); err != nil {
		return nil, err
	}

	result := &CreatePaymentResult{ExternalID: resp.Payment.ID}
	if products := resp.Configuration.AvailableProducts.Installments; len(products) > 0 {
		result.RedirectURL = products[0].WebURL
	}
	return result, nil
}

// RetrievePayment 查询支付单详情，幂等
func (t *TabbyProvider) RetrievePayment(ctx context.Context, externalID string) (*PaymentDetail, error) {
	var p tabbyPayment
	if err := t.doRequest(ctx, http.MethodGet, "/api/v2/payments/"+url.PathEscape(externalID), nil, &p); err != nil {
		return nil, err
	}
	return t.paymentDetail(&p), nil
}

// CapturePayment 请款：AUTHORIZED -> CLOSED
func (t *TabbyProvider) CapturePayment(ctx context.Context, externalID string, amount float64) error {
	if amount <= 0 {
		// 全额请款需要先查出授权金额
		detail, err := t.RetrievePayment(ctx, externalID)
		if err != nil {
			return err
		}
		amount = detail.Amount
	}

	payload := map[string]string{"amount": formatAmount(amount)}
	var p tabbyPayment
	return t.doRequest(ctx, http.MethodPost, "/api/v2/payments/"+url.PathEscape(externalID)+"/captures", payload, &p)
}

// RefundPayment 退款，支持部分退款
func (t *TabbyProvider) RefundPayment(ctx context.Context, externalID string, amount float64, reason string) (*RefundResult, error) {
	payload := map[string]string{
		"amount": formatAmount(amount),
		"reason": reason,
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := t.doRequest(ctx, http.MethodPost, "/api/v2/payments/"+url.PathEscape(externalID)+"/refunds", payload, &resp); err != nil {
		return nil, err
	}

	return &RefundResult{RefundID: resp.ID, Status: resp.Status}, nil
}

// VerifyWebhook 校验回调 HMAC 签名并归一化事件
// 签名 = HMAC-SHA256(rawBody, webhook_secret)，十六进制编码在 X-Tabby-Signature
func (t *TabbyProvider) VerifyWebhook(rawBody []byte, header http.Header) (*NormalizedEvent, error) {
	signature := header.Get("X-Tabby-Signature")
	if signature == "" {
		return nil, &SignatureError{Provider: t.Name(), Err: errors.New("missing signature header")}
	}

	mac := hmac.New(sha256.New, []byte(t.config.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, &SignatureError{Provider: t.Name(), Err: errors.New("signature mismatch")}
	}

	var p tabbyPayment
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, &ProviderError{Provider: t.Name(), Code: "bad_payload", Message: err.Error(), Retryable: false}
	}

	detail := t.paymentDetail(&p)
	event := &NormalizedEvent{
		Provider: t.Name(),
		// Tabby 回调没有独立事件 id，用支付单号+状态做去重键
		EventID:      p.ID + ":" + p.Status,
		ExternalID:   p.ID,
		ChargeID:     detail.ChargeID,
		Kind:         detail.Kind,
		Amount:       detail.Amount,
		Currency:     detail.Currency,
		Customer:     detail.Customer,
		RawTimestamp: detail.CreatedAt,
	}

	// 有退款额时以渠道累计退款额为准
	if refunded := parseAmount(p.RefundedAmount); refunded > 0 {
		event.Kind = KindRefunded
		event.Amount = refunded
		event.EventID = p.ID + ":refunded:" + p.RefundedAmount
	}

	return event, nil
}

// ListRecentPayments 按窗口列出支付单，仅供补单扫描
func (t *TabbyProvider) ListRecentPayments(ctx context.Context, since time.Time, kindFilter string) ([]PaymentSummary, error) {
	path := "/api/v2/payments?limit=100&created_at__gte=" + url.QueryEscape(since.UTC().Format(time.RFC3339))

	var resp struct {
		Payments []tabbyPayment `json:"payments"`
	}
	if err := t.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	var summaries []PaymentSummary
	for i := range resp.Payments {
		detail := t.paymentDetail(&resp.Payments[i])
		if kindFilter != "" && detail.Kind != kindFilter {
			continue
		}
		summaries = append(summaries, PaymentSummary{
			ExternalID: detail.ExternalID,
			Kind:       detail.Kind,
			Amount:     detail.Amount,
			Currency:   detail.Currency,
			CreatedAt:  detail.CreatedAt,
		})
	}
	return summaries, nil
}

// doRequest 发送请求并解码应答，错误统一映射为 ProviderError
func (t *TabbyProvider) doRequest(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.config.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return wrapTimeout(t.Name(), ctx.Err())
		}
		// http.Client 自身的超时
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return &ProviderError{Provider: t.Name(), Code: "timeout", Message: err.Error(), Retryable: true}
		}
		return &ProviderError{Provider: t.Name(), Code: "network", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: t.Name(), Code: "network", Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode >= 400 {
		var errBody tabbyErrorBody
		_ = json.Unmarshal(data, &errBody)
		code := errBody.ErrorType
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return &ProviderError{
			Provider:  t.Name(),
			Code:      code,
			Message:   errBody.Error,
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &ProviderError{Provider: t.Name(), Code: "bad_payload", Message: err.Error(), Retryable: false}
		}
	}
	return nil
}

// paymentDetail Tabby 支付单映射为通用详情
func (t *TabbyProvider) paymentDetail(p *tabbyPayment) *PaymentDetail {
	createdAt, _ := time.Parse(time.RFC3339, p.CreatedAt)
	return &PaymentDetail{
		ExternalID: p.ID,
		Kind:       tabbyKind(p.Status),
		Amount:     parseAmount(p.Amount),
		Currency:   p.Currency,
		ChargeID:   firstCaptureID(p),
		Customer: CustomerInfo{
			Name:    p.Buyer.Name,
			Email:   p.Buyer.Email,
			Phone:   p.Buyer.Phone,
			City:    p.ShippingAddress.City,
			Address: p.ShippingAddress.Address,
		},
		CreatedAt: createdAt,
	}
}

// tabbyKind Tabby 状态映射为归一化事件类型
// CLOSED 表示已请款结算，对应 succeeded
func tabbyKind(status string) string {
	switch status {
	case "CREATED":
		return KindCreated
	case "AUTHORIZED":
		return KindAuthorized
	case "CLOSED":
		return KindSucceeded
	case "REJECTED", "EXPIRED":
		return KindFailed
	default:
		return KindUnknown
	}
}

func firstCaptureID(p *tabbyPayment) string {
	if len(p.Captures) > 0 {
		return p.Captures[0].ID
	}
	return ""
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func parseAmount(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// 确保实现了接口
var _ Provider = (*TabbyProvider)(nil)

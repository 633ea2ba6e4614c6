package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"store_backend/internal/pkg/config"

	"github.com/stretchr/testify/assert"
)

func testTabbyProvider() *TabbyProvider {
	return &TabbyProvider{
		config: config.TabbyConfig{
			BaseURL:       "https://api.tabby.ai",
			SecretKey:     "sk_test",
			WebhookSecret: "whsec_test",
		},
		client: &http.Client{},
	}
}

func signTabbyBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTabbyVerifyWebhook(t *testing.T) {
	p := testTabbyProvider()

	closedPayment := []byte(`{
		"id": "tb_pay_1",
		"status": "CLOSED",
		"amount": "340.50",
		"refunded_amount": "0.00",
		"currency": "AED",
		"created_at": "2026-08-30T12:00:00Z",
		"buyer": {"name": "Laila", "email": "laila@example.com", "phone": "+971500000000"},
		"shipping_address": {"city": "Dubai", "address": "Marina Walk 5"},
		"captures": [{"id": "cap_1"}]
	}`)

	t.Run("Valid signature yields normalized succeeded event", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Tabby-Signature", signTabbyBody("whsec_test", closedPayment))

		event, err := p.VerifyWebhook(closedPayment, header)

		assert.NoError(t, err)
		assert.Equal(t, KindSucceeded, event.Kind)
		assert.Equal(t, "tb_pay_1", event.ExternalID)
		assert.Equal(t, "tb_pay_1:CLOSED", event.EventID)
		assert.Equal(t, 340.50, event.Amount)
		assert.Equal(t, "cap_1", event.ChargeID)
		assert.Equal(t, "laila@example.com", event.Customer.Email)
	})

	t.Run("Tampered body fails signature verification", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Tabby-Signature", signTabbyBody("whsec_test", closedPayment))

		tampered := append([]byte{}, closedPayment...)
		tampered[20] = 'X'

		_, err := p.VerifyWebhook(tampered, header)

		var sigErr *SignatureError
		assert.ErrorAs(t, err, &sigErr)
	})

	t.Run("Missing signature header is rejected", func(t *testing.T) {
		_, err := p.VerifyWebhook(closedPayment, http.Header{})

		var sigErr *SignatureError
		assert.ErrorAs(t, err, &sigErr)
	})

	t.Run("Refunded amount overrides kind with provider total", func(t *testing.T) {
		body := []byte(`{"id": "tb_pay_2", "status": "CLOSED", "amount": "200.00", "refunded_amount": "75.00", "currency": "AED"}`)
		header := http.Header{}
		header.Set("X-Tabby-Signature", signTabbyBody("whsec_test", body))

		event, err := p.VerifyWebhook(body, header)

		assert.NoError(t, err)
		assert.Equal(t, KindRefunded, event.Kind)
		assert.Equal(t, 75.00, event.Amount)
		assert.Equal(t, "tb_pay_2:refunded:75.00", event.EventID)
	})

	t.Run("Unrecognized status maps to unknown kind", func(t *testing.T) {
		body := []byte(`{"id": "tb_pay_3", "status": "SOMETHING_NEW", "amount": "10.00", "refunded_amount": "0"}`)
		header := http.Header{}
		header.Set("X-Tabby-Signature", signTabbyBody("whsec_test", body))

		event, err := p.VerifyWebhook(body, header)

		assert.NoError(t, err)
		assert.Equal(t, KindUnknown, event.Kind)
	})
}

func TestTabbyKindMapping(t *testing.T) {
	cases := map[string]string{
		"CREATED":    KindCreated,
		"AUTHORIZED": KindAuthorized,
		"CLOSED":     KindSucceeded,
		"REJECTED":   KindFailed,
		"EXPIRED":    KindFailed,
		"WHATEVER":   KindUnknown,
	}
	for status, want := range cases {
		assert.Equal(t, want, tabbyKind(status), "status %s", status)
	}
}

func TestTabbyAmountFormatting(t *testing.T) {
	assert.Equal(t, "340.50", formatAmount(340.5))
	assert.Equal(t, "0.10", formatAmount(0.1))
	assert.Equal(t, 340.50, parseAmount("340.50"))
	assert.Equal(t, 0.0, parseAmount(""))
}

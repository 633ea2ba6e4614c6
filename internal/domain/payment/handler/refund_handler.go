package handler

import (
	"errors"
	"net/http"

	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/service"
	"store_backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type RefundHandler struct {
	service service.RefundService
}

func NewRefundHandler(service service.RefundService) *RefundHandler {
	return &RefundHandler{service: service}
}

type RefundInput struct {
	PaymentID string  `json:"paymentId" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Reason    string  `json:"reason"`
}

// Refund 管理员退款（支持多次部分退款）
func (h *RefundHandler) Refund(c *gin.Context) {
	var input RefundInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	outcome, err := h.service.RequestRefund(c.Request.Context(), input.PaymentID, input.Amount, input.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, outcome)
}

type CaptureInput struct {
	PaymentID string  `json:"paymentId" binding:"required"`
	Amount    float64 `json:"amount"` // 0 表示全额请款
}

// Capture 管理员请款（仅对渠道侧已授权的支付单有效）
func (h *RefundHandler) Capture(c *gin.Context) {
	var input CaptureInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.RequestCapture(c.Request.Context(), input.PaymentID, input.Amount); err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, "Payment captured")
}

// writeServiceError 服务层错误到响应码的统一映射
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.ErrPaymentNotFound, "payment not found")
	case errors.Is(err, service.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidAmount, "invalid amount")
	case errors.Is(err, service.ErrInvalidState):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidState, "operation not allowed in current payment state")
	case errors.Is(err, service.ErrInvalidMetadata):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
	case errors.Is(err, service.ErrUnsupportedProvider):
		response.Error(c, http.StatusBadRequest, response.ErrUnsupportedGateway, "unsupported payment gateway")
	default:
		var pe *provider.ProviderError
		if errors.As(err, &pe) {
			if pe.Retryable {
				response.Error(c, http.StatusBadGateway, response.ErrProviderUnavail, "payment gateway unavailable, try again later")
			} else {
				response.Error(c, http.StatusBadRequest, response.ErrProviderRejected, pe.Message)
			}
			return
		}
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	}
}

package handler

import (
	"errors"
	"io"
	"net/http"

	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/service"
	"store_backend/pkg/logger"
	"store_backend/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookHandler 渠道回调入口
// 验签 -> 归一化 -> Reconciler.HandleEvent；返回码决定渠道是否重投：
// 2xx 终止，4xx 终止（事件有问题），5xx 重投
type WebhookHandler struct {
	providers  *service.ProviderRegistry
	reconciler service.Reconciler
}

func NewWebhookHandler(providers *service.ProviderRegistry, reconciler service.Reconciler) *WebhookHandler {
	return &WebhookHandler{providers: providers, reconciler: reconciler}
}

// Handle 指定通道的回调处理函数
func (h *WebhookHandler) Handle(providerName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.providers.Get(providerName)
		if err != nil {
			response.Error(c, http.StatusNotFound, response.ErrUnsupportedGateway, "unknown payment gateway")
			return
		}

		// 验签必须用原始字节，任何反序列化/再序列化都会破坏签名
		rawBody, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "failed to read request body")
			return
		}

		event, err := p.VerifyWebhook(rawBody, c.Request.Header)
		if err != nil {
			var sigErr *provider.SignatureError
			if errors.As(err, &sigErr) {
				logger.Log.Warn("webhook signature verification failed",
					zap.String("provider", providerName),
					zap.String("remote_addr", c.ClientIP()))
				response.Error(c, http.StatusBadRequest, response.ErrSignatureInvalid, "invalid signature")
				return
			}
			response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "malformed webhook payload")
			return
		}

		// 不认识的事件类型：记日志直接 ACK，渠道不得重投
		if event.Kind == provider.KindUnknown {
			logger.Log.Info("unhandled webhook event type acknowledged",
				zap.String("provider", providerName),
				zap.String("event_id", event.EventID))
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		if err := h.reconciler.HandleEvent(c.Request.Context(), event); err != nil {
			if errors.Is(err, service.ErrInvalidMetadata) {
				// 缺客户信息的事件重投多少次都一样，4xx 终止
				response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
				return
			}
			// 账务落库失败：5xx 让渠道重投，重入安全
			logger.Log.Error("webhook event processing failed",
				zap.String("provider", providerName),
				zap.String("event_id", event.EventID),
				zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "event processing failed")
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

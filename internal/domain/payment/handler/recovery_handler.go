package handler

import (
	"net/http"
	"strconv"
	"time"

	"store_backend/internal/domain/payment/service"
	"store_backend/internal/pkg/config"
	"store_backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// RecoveryHandler 补单运维接口（仅管理员）
type RecoveryHandler struct {
	service service.RecoveryService
}

func NewRecoveryHandler(service service.RecoveryService) *RecoveryHandler {
	return &RecoveryHandler{service: service}
}

// ListOrphans 列出窗口内渠道成功但本地缺单的支付
// GET /payment/recovery?hours=24
func (h *RecoveryHandler) ListOrphans(c *gin.Context) {
	window, err := parseWindow(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid hours parameter")
		return
	}

	orphans, err := h.service.FindOrphanedPayments(c.Request.Context(), window)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"windowHours": int(window.Hours()),
		"count":       len(orphans),
		"orphans":     orphans,
	})
}

// RunWindow 扫描窗口并异步重放所有孤儿支付
// POST /payment/recovery?hours=24
func (h *RecoveryHandler) RunWindow(c *gin.Context) {
	window, err := parseWindow(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid hours parameter")
		return
	}

	enqueued, err := h.service.RecoverWindow(c.Request.Context(), window)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"windowHours": int(window.Hours()),
		"enqueued":    enqueued,
	})
}

// CrossReference 单笔支付的渠道/本地对照
// GET /payment/recovery/:externalId
func (h *RecoveryHandler) CrossReference(c *gin.Context) {
	externalID := c.Param("externalId")

	result, err := h.service.CrossReference(c.Request.Context(), externalID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// Recover 手动补单单笔支付
// POST /payment/recovery/:externalId
func (h *RecoveryHandler) Recover(c *gin.Context) {
	externalID := c.Param("externalId")

	if err := h.service.Recover(c.Request.Context(), externalID); err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, "Payment recovered")
}

func parseWindow(c *gin.Context) (time.Duration, error) {
	hours := config.GlobalConfig.Recovery.WindowHours
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, strconv.ErrSyntax
		}
		hours = parsed
	}
	return time.Duration(hours) * time.Hour, nil
}

package payment

import (
	customerRepo "store_backend/internal/domain/customer/repository"
	"store_backend/internal/domain/payment/handler"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/internal/domain/payment/service"
	"store_backend/internal/pkg/config"
	"store_backend/internal/pkg/middleware"
	"store_backend/internal/pkg/registry"
	"store_backend/pkg/logger"
	"store_backend/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// PaymentModule 支付与对账模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	return 10
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	cRepo := customerRepo.NewCustomerRepository(ctx.DB)
	ledger := repository.NewLedgerRepository(ctx.DB, cRepo)

	// 补单扫描用 sqlx 复用 gorm 的连接池
	sqlDB, err := ctx.DB.DB()
	if err != nil {
		return err
	}
	recoveryRepo := repository.NewRecoveryRepository(sqlx.NewDb(sqlDB, "pgx"))

	collector := metrics.Init()

	// 2. 注册支付通道（按配置启用）
	providers := service.NewProviderRegistry()

	if config.GlobalConfig.Stripe.SecretKey != "" {
		stripe, err := provider.NewStripeProvider()
		if err != nil {
			logger.Log.Error("Failed to init Stripe provider: " + err.Error())
		} else {
			providers.Register(stripe)
		}
	}

	if config.GlobalConfig.Tabby.SecretKey != "" {
		tabby, err := provider.NewTabbyProvider()
		if err != nil {
			logger.Log.Error("Failed to init Tabby provider: " + err.Error())
		} else {
			providers.Register(tabby)
		}
	}

	// 3. 服务编排
	// Reconciler 是渠道确认的唯一账务入口：回调、补单、请款全部经过它
	reconciler := service.NewReconciler(ledger, ctx.Redis, collector)
	checkout := service.NewCheckoutService(ledger, providers)
	refunds := service.NewRefundService(ledger, providers, reconciler, collector)
	recovery := service.NewRecoveryService(
		ledger, recoveryRepo, providers, reconciler, collector,
		config.GlobalConfig.Recovery.Workers,
		config.GlobalConfig.Recovery.QueueSize,
	)

	webhookHandler := handler.NewWebhookHandler(providers, reconciler)
	checkoutHandler := handler.NewCheckoutHandler(checkout)
	refundHandler := handler.NewRefundHandler(refunds)
	recoveryHandler := handler.NewRecoveryHandler(recovery)

	// 4. 路由注册
	setupRoutes(ctx.Router, webhookHandler, checkoutHandler, refundHandler, recoveryHandler)

	return nil
}

func setupRoutes(
	r *gin.Engine,
	webhook *handler.WebhookHandler,
	checkout *handler.CheckoutHandler,
	refund *handler.RefundHandler,
	recovery *handler.RecoveryHandler,
) {
	g := r.Group("/payment")

	// 渠道回调 (无需鉴权，验签 + 独立限流)
	hooks := g.Group("/webhook")
	hooks.Use(middleware.WebhookRateLimitMiddleware())
	{
		hooks.POST("/stripe", webhook.Handle("stripe"))
		hooks.POST("/tabby", webhook.Handle("tabby"))
	}

	// 下单需要登录
	auth := g.Group("")
	auth.Use(middleware.AuthMiddleware())
	{
		auth.POST("/checkout", checkout.Checkout)
	}

	// 退款/请款/补单是运维动作，仅管理员
	admin := g.Group("")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("/refund", refund.Refund)
		admin.POST("/capture", refund.Capture)

		admin.GET("/recovery", recovery.ListOrphans)
		admin.POST("/recovery", recovery.RunWindow)
		admin.GET("/recovery/:externalId", recovery.CrossReference)
		admin.POST("/recovery/:externalId", recovery.Recover)
	}
}

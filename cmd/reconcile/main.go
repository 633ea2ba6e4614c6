package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	customerRepo "store_backend/internal/domain/customer/repository"
	"store_backend/internal/domain/payment/provider"
	"store_backend/internal/domain/payment/repository"
	"store_backend/internal/domain/payment/service"
	"store_backend/internal/pkg/config"
	"store_backend/pkg/database"
	"store_backend/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// 对账运维 CLI：窗口扫描孤儿支付并补单
//
//	go run ./cmd/reconcile -hours 24 -dry-run   仅列出孤儿
//	go run ./cmd/reconcile -hours 24            扫描并补单
//	go run ./cmd/reconcile -id pi_xxx           单笔补单
func main() {
	hours := flag.Int("hours", 0, "scan window in hours (default from config)")
	dryRun := flag.Bool("dry-run", false, "list orphaned payments without recovering")
	externalID := flag.String("id", "", "recover a single payment by external id")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.GlobalConfig.App.Debug)
	defer logger.Sync()

	db := database.InitDatabase()
	rdb := database.InitRedis()

	cRepo := customerRepo.NewCustomerRepository(db)
	ledger := repository.NewLedgerRepository(db, cRepo)

	sqlDB, err := db.DB()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get sql.DB:", err)
		os.Exit(1)
	}
	recoveryRepo := repository.NewRecoveryRepository(sqlx.NewDb(sqlDB, "pgx"))

	providers := service.NewProviderRegistry()
	if config.GlobalConfig.Stripe.SecretKey != "" {
		if p, err := provider.NewStripeProvider(); err == nil {
			providers.Register(p)
		}
	}
	if config.GlobalConfig.Tabby.SecretKey != "" {
		if p, err := provider.NewTabbyProvider(); err == nil {
			providers.Register(p)
		}
	}

	reconciler := service.NewReconciler(ledger, rdb, nil)
	recovery := service.NewRecoveryService(ledger, recoveryRepo, providers, reconciler, nil, 1, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// 单笔补单
	if *externalID != "" {
		if err := recovery.Recover(ctx, *externalID); err != nil {
			fmt.Fprintln(os.Stderr, "recovery failed:", err)
			os.Exit(1)
		}
		fmt.Println("recovered:", *externalID)
		return
	}

	window := time.Duration(config.GlobalConfig.Recovery.WindowHours) * time.Hour
	if *hours > 0 {
		window = time.Duration(*hours) * time.Hour
	}

	orphans, err := recovery.FindOrphanedPayments(ctx, window)
	if err != nil {
		fmt.Fprintln(os.Stderr, "orphan scan failed:", err)
		os.Exit(1)
	}

	fmt.Printf("window: %s, orphaned payments: %d\n", window, len(orphans))
	for _, o := range orphans {
		fmt.Printf("  %-8s %-30s %10.2f %s  created %s\n",
			o.Provider, o.ExternalID, o.Amount, o.Currency, o.CreatedAt.Format(time.RFC3339))
	}
	if *dryRun || len(orphans) == 0 {
		return
	}

	// CLI 里同步逐笔补单，结果直接可见
	var failed int
	for _, o := range orphans {
		if err := recovery.Recover(ctx, o.ExternalID); err != nil {
			failed++
			fmt.Printf("  FAIL %s: %v\n", o.ExternalID, err)
			continue
		}
		fmt.Printf("  OK   %s\n", o.ExternalID)
	}
	if failed > 0 {
		fmt.Printf("done with %d failures\n", failed)
		os.Exit(1)
	}
	fmt.Println("done")
}

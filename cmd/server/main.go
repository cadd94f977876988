package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/tenant-wallet/internal/config"
	"github.com/richardliu001/tenant-wallet/internal/gate"
	"github.com/richardliu001/tenant-wallet/internal/idempotency"
	"github.com/richardliu001/tenant-wallet/internal/logger"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/recharge"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/richardliu001/tenant-wallet/internal/service"
	httptransport "github.com/richardliu001/tenant-wallet/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// 1. load config
	cfgPath := "internal/config/config.yaml"
	if p := os.Getenv("WALLET_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. repo, idempotency cache, recharge scheduler
	repository := repo.NewRepository(gdb, rdb, nil, log).WithBalanceTTL(cfg.Redis.BalanceTTL)

	var webhooks idempotency.Store
	switch cfg.Webhook.Backend {
	case "redis":
		webhooks = idempotency.NewRedisStore(rdb, cfg.Webhook.TTL)
	default:
		webhooks = idempotency.NewMemoryStore(cfg.Webhook.Capacity, cfg.Webhook.TTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := recharge.NewScheduler(recharge.NewOutboxSink(repository), cfg.Recharge.QueueSize, cfg.Recharge.Cooldown, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	svc := service.NewWalletService(repository, log,
		service.WithWebhookStore(webhooks),
		service.WithRecharger(scheduler),
		service.WithCurrency(cfg.Billing.Currency),
		service.WithMaxRetries(cfg.Wallet.MaxRetries),
	)
	g := gate.New(svc, cfg.Billing.Enabled(), log)
	if !cfg.Billing.Enabled() {
		log.Warn("billing disabled: balance gate allows every request without charge")
	}

	// 6. gin router
	router := httptransport.NewRouter(svc, g, cfg.Server.TenantHeader, cfg.RateLimit, log)

	// 7. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infof("wallet-server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Info("wallet-server stopped")
}

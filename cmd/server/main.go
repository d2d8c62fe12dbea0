package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"banhang/backend/internal/cache"
	"banhang/backend/internal/config"
	"banhang/backend/internal/httpapi"
	"banhang/backend/internal/jobs"
	"banhang/backend/internal/ledger"
	"banhang/backend/internal/logging"
	"banhang/backend/internal/payment"
	"banhang/backend/internal/promotion"
	"banhang/backend/internal/service"
	"banhang/backend/internal/store"
	"banhang/backend/internal/store/memory"
	pgstore "banhang/backend/internal/store/postgres"
	"banhang/backend/internal/xid"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogMode, cfg.LogFile)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := xid.Init(cfg.NodeID); err != nil {
		logger.Fatal("id generator init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(startCtx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	invoiceCache := cache.InvoiceCache(cache.NewLocalInvoiceCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInvoiceCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
		} else {
			invoiceCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: in-process")
	}

	promotions := promotion.NewEngine(repo)
	vnpay := payment.NewVNPayGateway(payment.VNPayConfig{
		TmnCode:    cfg.VNPayTmnCode,
		HashSecret: cfg.VNPayHashSecret,
		PayURL:     cfg.VNPayPayURL,
		ReturnURL:  cfg.VNPayReturnURL,
	})

	svc := service.New(repo, promotions, invoiceCache, cfg.InvoiceCacheTTL())
	svc.SetPaymentGateway(payment.NewRouter(vnpay, payment.MockGateway{}))

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL())
	api := httpapi.New(svc, ledger.New(repo), auth, cfg.AllowedOrigin)
	if cfg.VNPayHashSecret != "" {
		api.WithVNPay(vnpay)
	}

	scheduler, err := jobs.New(time.UTC, cfg.PromotionSweepSpec, promotions)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	waitErr := g.Wait()
	if waitErr != nil {
		logger.Error("shutdown with error", zap.Error(waitErr))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	if waitErr != nil {
		_ = logger.Sync()
		os.Exit(1)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.VNPayTmnCode != "" && cfg.VNPayHashSecret == "" {
		return fmt.Errorf("VNPAY_HASH_SECRET must be set when VNPAY_TMN_CODE is")
	}
	if _, err := jobs.ParseSpec(cfg.PromotionSweepSpec); err != nil {
		return fmt.Errorf("PROMOTION_SWEEP_SPEC is invalid: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"okanassist/internal/assist"
	"okanassist/internal/cache"
	"okanassist/internal/config"
	"okanassist/internal/credits"
	"okanassist/internal/extract"
	"okanassist/internal/httpserver"
	"okanassist/internal/identity"
	"okanassist/internal/logging"
	"okanassist/internal/metrics"
	"okanassist/internal/payment"
	"okanassist/internal/repo"
	"okanassist/internal/session"
	"okanassist/internal/telegram"
	"okanassist/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting okanassist", "env", cfg.AppEnv, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Store
	switch cfg.DatabaseDriver {
	case "sqlite":
		store, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		store, err = repo.NewPostgres(ctx, cfg.DatabaseURL, logger)
	}
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var summaryCache *cache.Redis
	if cfg.RedisAddr != "" {
		summaryCache = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := summaryCache.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := summaryCache.Ping(ctx); err != nil {
			logger.Warn("redis ping failed, running without summary cache", "error", err)
			summaryCache = nil
		}
	}

	sessions := session.New(cfg.SessionTimeout, cfg.SessionSweepInterval, logger, metricRegistry)
	go sessions.Start(ctx)

	resolver := identity.NewResolver(store, sessions, logger, metricRegistry)

	ledger := credits.New(store, cfg.MonthlyCredits,
		time.Duration(cfg.CreditResetDays)*24*time.Hour, logger, metricRegistry)
	go ledger.RunMaintenance(ctx, time.Hour)

	extractor := extract.NewClient(extract.Config{
		BaseURL:     cfg.ExtractorBaseURL,
		APIKey:      cfg.ExtractorAPIKey,
		TextModel:   cfg.ExtractorTextModel,
		VisionModel: cfg.ExtractorVisionModel,
		Timeout:     cfg.ExtractorTimeout,
	}, logger, metricRegistry)

	gateway := payment.NewPayPal(cfg.PaymentCheckoutURL, cfg.PaymentBusiness)

	engine := assist.New(store, sessions, resolver, ledger, extractor, gateway, summaryCache, assist.Config{
		PremiumPrice:    cfg.PremiumPrice,
		PremiumCurrency: cfg.PremiumCurrency,
		PremiumPeriod:   time.Duration(cfg.PremiumPeriodDays) * 24 * time.Hour,
		SummaryCacheTTL: cfg.SummaryCacheTTL,
		InitialCredits:  cfg.InitialCredits,
	}, logger, metricRegistry)

	webhookHandler := payment.NewWebhookHandler(logger, metricRegistry, cfg.PaymentWebhookSecret, engine)

	if cfg.TelegramBotToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramBotToken, engine, logger, metricRegistry)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		engine.SetNotifier(bot)
		go bot.StartPolling(ctx)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN unset, telegram channel disabled")
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, engine, store, logger, metricRegistry, httpserver.Handlers{
		PaymentWebhook: webhookHandler,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

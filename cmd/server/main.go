package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"posrider/backend/internal/cache"
	"posrider/backend/internal/config"
	"posrider/backend/internal/httpapi"
	"posrider/backend/internal/logger"
	"posrider/backend/internal/report"
	"posrider/backend/internal/service"
	"posrider/backend/internal/store"
	"posrider/backend/internal/store/memory"
	pgstore "posrider/backend/internal/store/postgres"
)

const writeTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	logg, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logg.Fatal("invalid configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logg.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(ctx, logg); err != nil {
				logg.Fatal("migrate", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		logg.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logg)
		logg.Warn("repository: in-memory, data is lost on restart")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	idempotency := cache.IdempotencyStore(cache.NewMemoryIdempotencyStore())
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logg.Warn("redis unavailable, using noop report cache and in-process idempotency", zap.Error(err))
			_ = client.Close()
		} else {
			reportCache = cache.NewRedisReportCache(client)
			idempotency = cache.NewRedisIdempotencyStore(client)
			closers = append(closers, client.Close)
			logg.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logg.Info("cache: noop")
	}

	reports := report.NewEngine(repo, reportCache, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second)
	svc := service.New(repo, reports, service.Options{
		TrustClientPrice:    cfg.TrustClientPrice,
		DistributionPolicy:  cfg.DistributionPolicy,
		OpnameSurplusPolicy: cfg.OpnameSurplusPolicy,
	}, logg)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Idempotency:    idempotency,
		IdempotencyTTL: time.Duration(cfg.IdempotencyTTLMinutes) * time.Minute,
		InFlightTTL:    2 * writeTimeout,
		Logger:         logg,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logg.Info("POS Rider backend listening",
			zap.String("addr", cfg.Address()),
			zap.String("distribution_policy", cfg.DistributionPolicy),
			zap.String("opname_surplus_policy", cfg.OpnameSurplusPolicy),
			zap.Bool("trust_client_price", cfg.TrustClientPrice))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logg.Error("close error", zap.Error(err))
		}
	}

	logg.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if !service.ValidDistributionPolicy(cfg.DistributionPolicy) {
		return fmt.Errorf("DISTRIBUTION_POLICY %q is not one of %s, %s",
			cfg.DistributionPolicy, service.DistributionAllOrNothing, service.DistributionBestEffort)
	}
	if !service.ValidSurplusPolicy(cfg.OpnameSurplusPolicy) {
		return fmt.Errorf("OPNAME_SURPLUS_POLICY %q is not one of %s, %s, %s",
			cfg.OpnameSurplusPolicy, service.SurplusAccept, service.SurplusClamp, service.SurplusReject)
	}
	return nil
}

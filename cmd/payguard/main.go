// Package main запускает HTTP-сервер платёжного модуля салона.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/salon-payguard/internal/config"
	"github.com/mmeshcher/salon-payguard/internal/gateway"
	"github.com/mmeshcher/salon-payguard/internal/handler"
	"github.com/mmeshcher/salon-payguard/internal/integrity"
	"github.com/mmeshcher/salon-payguard/internal/middleware"
	"github.com/mmeshcher/salon-payguard/internal/ratelimit"
	"github.com/mmeshcher/salon-payguard/internal/repository"
	"github.com/mmeshcher/salon-payguard/internal/service"
	"github.com/mmeshcher/salon-payguard/internal/signature"
)

type attemptStore interface {
	ratelimit.Store
	Close() error
}

var (
	_ ratelimit.AtomicStore = (*repository.MemoryStore)(nil)
	_ ratelimit.AtomicStore = (*repository.RedisStore)(nil)
	_ ratelimit.AtomicStore = (*repository.PostgresStore)(nil)
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newAttemptStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("attempt store initialization error", "error", err.Error())
	}
	defer store.Close()

	limiter := ratelimit.New(store, ratelimit.Config{
		MaxAttempts: cfg.MaxAttempts,
		Cooldown:    cfg.CooldownWindow,
	})

	verifier, err := signature.NewVerifier(cfg.PaymentSecret, logger)
	if err != nil {
		sugar.Fatalw("signature verifier initialization error", "error", err.Error())
	}

	checker := integrity.NewChecker(integrity.Config{
		AmountTolerance: cfg.AmountTolerance,
		FreshnessWindow: cfg.OrderFreshnessWindow,
		ClockSkew:       cfg.OrderClockSkew,
	}, nil)

	gw, err := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.GatewayURL,
		KeyID:     cfg.GatewayKeyID,
		KeySecret: cfg.GatewayKeySecret,
		Timeout:   cfg.GatewayTimeout,
		RPS:       cfg.GatewayRPS,
	})
	if err != nil {
		sugar.Fatalw("gateway client initialization error", "error", err.Error())
	}

	svc, err := service.NewService(limiter, verifier, checker, gw, logger, service.Options{
		HighValueAmount:        cfg.HighValueAmount,
		CountSignatureFailures: cfg.CountSignatureFailures,
	})
	if err != nil {
		sugar.Fatalw("service initialization error", "error", err.Error())
	}

	authMiddleware, err := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if err != nil {
		sugar.Fatalw("auth initialization error", "error", err.Error())
	}
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting payguard server",
			"addr", cfg.RunAddress,
			"max_attempts", cfg.MaxAttempts,
			"cooldown", cfg.CooldownWindow.String(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// newAttemptStore выбирает хранилище счётчиков: Redis, затем PostgreSQL, иначе память процесса.
func newAttemptStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (attemptStore, error) {
	switch {
	case cfg.RedisAddress != "":
		sugar.Infow("using redis attempt store", "addr", cfg.RedisAddress)
		return repository.NewRedisStore(ctx, cfg.RedisAddress)

	case cfg.DatabaseURI != "":
		sugar.Info("using postgres attempt store")
		return repository.NewPostgresStore(ctx, cfg.DatabaseURI)

	default:
		sugar.Warn("no external attempt store configured, counters are kept in memory")
		return repository.NewMemoryStore(), nil
	}
}

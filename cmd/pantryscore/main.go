// Package main запускает сервис учёта продуктов и начисления очков.
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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/pantry-score/internal/config"
	"github.com/mmeshcher/pantry-score/internal/handler"
	"github.com/mmeshcher/pantry-score/internal/ledger"
	"github.com/mmeshcher/pantry-score/internal/lock"
	"github.com/mmeshcher/pantry-score/internal/logger"
	"github.com/mmeshcher/pantry-score/internal/middleware"
	"github.com/mmeshcher/pantry-score/internal/reconcile"
	"github.com/mmeshcher/pantry-score/internal/repository"
	"github.com/mmeshcher/pantry-score/internal/scheduler"
	"github.com/mmeshcher/pantry-score/internal/service"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("logger initialization error: %v", err)
	}
	defer zl.Sync()

	sugar := zl.Sugar()

	policy, err := reconcile.ParsePolicy(cfg.ReconcilePolicy)
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		locker = lock.NewRedis(rdb, 0, zl)
	}

	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	svc := service.NewService(repo, ledger.New(repo, zl), locker, zl, service.WithClock(now))
	defer svc.Close()

	reconciler, err := reconcile.NewReconciler(reconcile.Config{
		Repo:   repo,
		Locker: locker,
		Policy: policy,
		Now:    now,
		Logger: zl,
	})
	if err != nil {
		sugar.Fatalw("reconciler initialization error", "error", err.Error())
	}

	sched, err := scheduler.New(scheduler.Config{
		Jobs:              reconciler,
		ReconcileSchedule: cfg.ReconcileSchedule,
		CleanupSchedule:   cfg.CleanupSchedule,
		Location:          loc,
		Logger:            zl,
	})
	if err != nil {
		sugar.Fatalw("scheduler initialization error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, zl, authMiddleware, middleware.NewRateLimiter(cfg.RateLimitRPM))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Сверка и очистка по расписанию
	g.Go(func() error {
		sugar.Infow("starting scheduler",
			"reconcile", cfg.ReconcileSchedule,
			"cleanup", cfg.CleanupSchedule,
			"policy", string(policy),
			"timezone", loc.String(),
		)
		sched.Run(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting pantry-score server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

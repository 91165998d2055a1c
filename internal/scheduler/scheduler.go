// Package scheduler запускает пакетные задачи сверки по расписанию cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/pantry-score/internal/reconcile"
)

// Jobs описывает задачи, которые запускает планировщик.
type Jobs interface {
	ReconcileExpiryAndScores(ctx context.Context) (*reconcile.Result, error)
	MonthlyCleanup(ctx context.Context) (*reconcile.CleanupResult, error)
}

// Config содержит параметры планировщика.
type Config struct {
	Jobs              Jobs
	ReconcileSchedule string
	CleanupSchedule   string
	Location          *time.Location
	Logger            *zap.Logger
}

// Scheduler запускает сверку и очистку по расписанию. Задачи не перекрываются
// друг с другом.
type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	logger *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New создаёт планировщик и проверяет выражения расписаний.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("scheduler: jobs are required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		jobs:   cfg.Jobs,
		logger: logger,
		ctx:    context.Background(),
	}

	if _, err := s.cron.AddFunc(cfg.ReconcileSchedule, s.runReconcile); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", cfg.ReconcileSchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.CleanupSchedule, s.runCleanup); err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}

	return s, nil
}

// Run запускает расписание и блокируется до отмены контекста. После отмены
// дожидается завершения уже запущенных задач.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runReconcile() {
	if !s.mu.TryLock() {
		s.logger.Warn("reconcile skipped, previous job still running")
		return
	}
	defer s.mu.Unlock()

	res, err := s.jobs.ReconcileExpiryAndScores(s.ctx)
	if err != nil {
		s.logger.Error("scheduled reconcile failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled reconcile done",
		zap.Int("expired", res.Expired),
		zap.Int("usersUpdated", res.UsersUpdated),
		zap.Int("failed", res.FailedProducts+res.FailedUsers),
		zap.Duration("duration", res.Duration),
	)
}

// Очистка не пропускается, а ждёт окончания сверки.
func (s *Scheduler) runCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.jobs.MonthlyCleanup(s.ctx)
	if err != nil {
		s.logger.Error("scheduled cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled cleanup done", zap.Int64("deleted", res.Deleted))
}

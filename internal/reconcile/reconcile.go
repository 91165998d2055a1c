// Package reconcile пересчитывает статусы сроков годности и счета пользователей.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/pantry-score/internal/lock"
	"github.com/mmeshcher/pantry-score/internal/metrics"
	"github.com/mmeshcher/pantry-score/internal/model"
	"github.com/mmeshcher/pantry-score/internal/scoring"
)

const (
	jobReconcile = "reconcile"
	jobCleanup   = "cleanup"
)

// Policy определяет, что входит в пересчитанный счёт.
type Policy string

const (
	// PolicyActiveOnly перезаписывает счёт суммой только неупотреблённых продуктов.
	// Бонусы за употребление при этом теряются.
	PolicyActiveOnly Policy = "active_only"
	// PolicyPreserveConsumed дополнительно учитывает вклад ещё не удалённых
	// употреблённых продуктов.
	PolicyPreserveConsumed Policy = "preserve_consumed"
)

// ParsePolicy преобразует строку конфигурации в Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyActiveOnly, nil
	case PolicyActiveOnly, PolicyPreserveConsumed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown reconcile policy %q", s)
	}
}

// Repository описывает контракт доступа к данным, используемый сверкой.
type Repository interface {
	ListProductsByStatus(ctx context.Context, statuses ...model.ProductStatus) ([]model.Product, error)
	ListProductsByUser(ctx context.Context, userID int64) ([]model.Product, error)
	ExpireProduct(ctx context.Context, id uuid.UUID) (bool, error)
	SetScore(ctx context.Context, userID, score int64) error
	DeleteProductsByStatus(ctx context.Context, statuses ...model.ProductStatus) (int64, error)
}

// Config содержит зависимости Reconciler.
type Config struct {
	Repo   Repository
	Locker lock.Locker
	Policy Policy
	Now    func() time.Time
	Logger *zap.Logger
}

// Reconciler выполняет периодическую сверку и ежемесячную очистку.
type Reconciler struct {
	repo   Repository
	locker lock.Locker
	policy Policy
	now    func() time.Time
	logger *zap.Logger
}

// Result описывает итог одного прогона сверки.
type Result struct {
	StartedAt       time.Time
	Scanned         int
	Expired         int
	Skipped         int
	UsersUpdated    int
	Scores          map[int64]int64
	FailedProducts  int
	FailedUsers     int
	Errors          []error
	Duration        time.Duration
	ContextCanceled bool
}

// CleanupResult описывает итог ежемесячной очистки.
type CleanupResult struct {
	Deleted   int64
	Reconcile *Result
}

// NewReconciler создаёт Reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Repo == nil {
		return nil, errors.New("reconcile: repository is required")
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewMemory()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:   cfg.Repo,
		locker: locker,
		policy: policy,
		now:    now,
		logger: logger,
	}, nil
}

// ReconcileExpiryAndScores переводит истёкшие продукты в expired и перезаписывает
// счёт каждого пользователя с активными продуктами. Ошибки отдельных продуктов
// и пользователей не прерывают прогон.
func (r *Reconciler) ReconcileExpiryAndScores(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{StartedAt: r.now(), Scores: make(map[int64]int64)}
	defer func() {
		res.Duration = time.Since(start)
		metrics.RecordJobRun(jobReconcile, res.Duration, res.FailedProducts == 0 && res.FailedUsers == 0 && !res.ContextCanceled)
	}()

	statuses := []model.ProductStatus{model.ProductStatusNotExpired, model.ProductStatusExpired}
	if r.policy == PolicyPreserveConsumed {
		statuses = append(statuses, model.ProductStatusConsumed)
	}

	products, err := r.repo.ListProductsByStatus(ctx, statuses...)
	if err != nil {
		return res, fmt.Errorf("load products: %w", err)
	}

	today := res.StartedAt
	users := make(map[int64]struct{})

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			res.ContextCanceled = true
			return res, err
		}

		users[p.UserID] = struct{}{}
		if p.Status != model.ProductStatusNotExpired {
			continue
		}
		res.Scanned++

		if scoring.DaysRemaining(p.DateOfExpiry, today) > 0 {
			continue
		}

		expired, err := r.repo.ExpireProduct(ctx, p.ID)
		if err != nil {
			res.FailedProducts++
			res.Errors = append(res.Errors, fmt.Errorf("expire product %s: %w", p.ID, err))
			metrics.RecordJobItemFailure(jobReconcile)
			r.logger.Warn("expire product failed",
				zap.Error(err), zap.Stringer("productID", p.ID), zap.Int64("userID", p.UserID))
			continue
		}
		if !expired {
			// Пользователь успел изменить статус после загрузки списка.
			res.Skipped++
			continue
		}
		res.Expired++
	}
	metrics.RecordProductsExpired(res.Expired)

	for _, userID := range sortedUsers(users) {
		if err := ctx.Err(); err != nil {
			res.ContextCanceled = true
			return res, err
		}

		score, err := r.overwriteScore(ctx, userID, today)
		if err != nil {
			res.FailedUsers++
			res.Errors = append(res.Errors, fmt.Errorf("overwrite score of user %d: %w", userID, err))
			metrics.RecordJobItemFailure(jobReconcile)
			r.logger.Warn("overwrite score failed", zap.Error(err), zap.Int64("userID", userID))
			continue
		}
		if score == nil {
			continue
		}
		res.Scores[userID] = *score
		res.UsersUpdated++
	}

	r.logger.Info("reconciliation finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("expired", res.Expired),
		zap.Int("skipped", res.Skipped),
		zap.Int("usersUpdated", res.UsersUpdated),
		zap.Int("failedProducts", res.FailedProducts),
		zap.Int("failedUsers", res.FailedUsers),
	)
	return res, nil
}

// overwriteScore под блокировкой пользователя заново читает его продукты и
// записывает их сумму. nil означает, что записывать нечего.
func (r *Reconciler) overwriteScore(ctx context.Context, userID int64, today time.Time) (*int64, error) {
	unlock, err := r.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	products, err := r.repo.ListProductsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		total   int64
		counted bool
	)
	for _, p := range products {
		switch p.Status {
		case model.ProductStatusNotExpired, model.ProductStatusExpired:
			total += int64(scoring.ProductScore(scoring.DaysRemaining(p.DateOfExpiry, today), p.Status))
			counted = true
		case model.ProductStatusConsumed:
			if r.policy != PolicyPreserveConsumed {
				continue
			}
			counted = true
			if p.ConsumedAt != nil {
				total += int64(scoring.ConsumedContribution(scoring.DaysRemaining(p.DateOfExpiry, *p.ConsumedAt)))
			}
		}
	}

	// Все продукты могли быть удалены или употреблены с момента загрузки.
	if !counted {
		return nil, nil
	}

	if err := r.repo.SetScore(ctx, userID, total); err != nil {
		return nil, err
	}
	return &total, nil
}

// MonthlyCleanup удаляет просроченные и употреблённые продукты и затем
// пересчитывает счета оставшихся пользователей.
func (r *Reconciler) MonthlyCleanup(ctx context.Context) (*CleanupResult, error) {
	start := time.Now()

	deleted, err := r.repo.DeleteProductsByStatus(ctx, model.ProductStatusExpired, model.ProductStatusConsumed)
	if err != nil {
		metrics.RecordJobRun(jobCleanup, time.Since(start), false)
		return nil, fmt.Errorf("purge products: %w", err)
	}
	metrics.RecordProductsPurged(deleted)
	r.logger.Info("products purged", zap.Int64("deleted", deleted))

	rec, err := r.ReconcileExpiryAndScores(ctx)
	metrics.RecordJobRun(jobCleanup, time.Since(start), err == nil)

	return &CleanupResult{Deleted: deleted, Reconcile: rec}, err
}

func sortedUsers(users map[int64]struct{}) []int64 {
	res := make([]int64, 0, len(users))
	for id := range users {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

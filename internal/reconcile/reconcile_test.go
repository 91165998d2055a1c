package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pantry-score/internal/ledger"
	"github.com/mmeshcher/pantry-score/internal/lock"
	"github.com/mmeshcher/pantry-score/internal/model"
	"github.com/mmeshcher/pantry-score/internal/repository"
	"github.com/mmeshcher/pantry-score/internal/service"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func product(userID int64, daysUntilExpiry int, status model.ProductStatus) model.Product {
	return model.Product{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         "bread",
		Quantity:     decimal.NewFromInt(1),
		DateLogged:   testNow.AddDate(0, 0, -1),
		DateOfExpiry: testNow.AddDate(0, 0, daysUntilExpiry).Truncate(24 * time.Hour),
		Status:       status,
	}
}

func consumed(userID int64, daysUntilExpiry, consumedDaysAgo int) model.Product {
	p := product(userID, daysUntilExpiry, model.ProductStatusConsumed)
	at := testNow.AddDate(0, 0, -consumedDaysAgo)
	p.ConsumedAt = &at
	return p
}

func newReconciler(t *testing.T, repo Repository, policy Policy) *Reconciler {
	t.Helper()
	r, err := NewReconciler(Config{
		Repo:   repo,
		Policy: policy,
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return r
}

func score(t *testing.T, repo *repository.MemoryRepository, userID int64) int64 {
	t.Helper()
	inv, err := repo.GetInventory(context.Background(), userID)
	require.NoError(t, err)
	return inv.Score
}

func status(t *testing.T, repo *repository.MemoryRepository, p model.Product) model.ProductStatus {
	t.Helper()
	got, err := repo.GetProductForUser(context.Background(), p.ID, p.UserID)
	require.NoError(t, err)
	return got.Status
}

func TestReconcile_ExpiresAndOverwrites(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 999)

	fresh := product(1, 3, model.ProductStatusNotExpired)
	today := product(1, 0, model.ProductStatusNotExpired)
	past := product(1, -2, model.ProductStatusNotExpired)
	far := product(1, 40, model.ProductStatusNotExpired)
	for _, p := range []model.Product{fresh, today, past, far} {
		repo.SeedProduct(p)
	}

	res, err := newReconciler(t, repo, PolicyActiveOnly).ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, 1, res.UsersUpdated)

	assert.Equal(t, model.ProductStatusNotExpired, status(t, repo, fresh))
	assert.Equal(t, model.ProductStatusExpired, status(t, repo, today))
	assert.Equal(t, model.ProductStatusExpired, status(t, repo, past))
	assert.Equal(t, model.ProductStatusNotExpired, status(t, repo, far))

	// 3 + 10 - 10 - 10
	assert.Equal(t, int64(-7), score(t, repo, 1))
	assert.Equal(t, int64(-7), res.Scores[1])
}

func TestReconcile_Idempotent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 0)
	repo.SeedInventory(2, 0)
	repo.SeedProduct(product(1, 5, model.ProductStatusNotExpired))
	repo.SeedProduct(product(1, -1, model.ProductStatusNotExpired))
	repo.SeedProduct(product(2, 12, model.ProductStatusNotExpired))

	r := newReconciler(t, repo, PolicyActiveOnly)

	first, err := r.ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)
	s1, s2 := score(t, repo, 1), score(t, repo, 2)

	second, err := r.ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, s1, score(t, repo, 1))
	assert.Equal(t, s2, score(t, repo, 2))
	assert.Equal(t, first.Scores, second.Scores)
	assert.Equal(t, 0, second.Expired)
}

func TestReconcile_UsersWithoutActiveProductsUntouched(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 42)
	repo.SeedProduct(consumed(1, 3, 1))

	res, err := newReconciler(t, repo, PolicyActiveOnly).ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.UsersUpdated)
	assert.Equal(t, int64(42), score(t, repo, 1))
}

func TestReconcile_Policies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   int64
	}{
		// Бонус и очки употреблённого продукта теряются.
		{name: "active only clobbers consumption", policy: PolicyActiveOnly, want: 2},
		// 2 за активный, 3+5 за употреблённый вовремя, -10 за употреблённый после срока.
		{name: "preserve consumed", policy: PolicyPreserveConsumed, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryRepository()
			repo.SeedInventory(1, 0)
			repo.SeedProduct(product(1, 2, model.ProductStatusNotExpired))
			repo.SeedProduct(consumed(1, 1, 2))
			repo.SeedProduct(consumed(1, -5, 1))

			_, err := newReconciler(t, repo, tt.policy).ReconcileExpiryAndScores(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, score(t, repo, 1))
		})
	}
}

func TestReconcile_PreserveIncludesConsumedOnlyUsers(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 0)
	repo.SeedProduct(consumed(1, 20, 0))

	res, err := newReconciler(t, repo, PolicyPreserveConsumed).ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.UsersUpdated)
	assert.Equal(t, int64(15), score(t, repo, 1))
}

func TestReconcile_PartialFailureContinues(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 0)
	broken := product(1, -1, model.ProductStatusNotExpired)
	healthy := product(1, -3, model.ProductStatusNotExpired)
	repo.SeedProduct(broken)
	repo.SeedProduct(healthy)

	storageErr := errors.New("disk full")
	repo.FailStatusUpdate = func(id uuid.UUID) error {
		if id == broken.ID {
			return storageErr
		}
		return nil
	}

	res, err := newReconciler(t, repo, PolicyActiveOnly).ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.FailedProducts)
	assert.Equal(t, 1, res.Expired)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], storageErr)

	assert.Equal(t, model.ProductStatusNotExpired, status(t, repo, broken))
	assert.Equal(t, model.ProductStatusExpired, status(t, repo, healthy))
	assert.Equal(t, int64(-20), score(t, repo, 1))
}

func TestReconcile_ConsumedDuringRunIsNotExpired(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 0)
	milk := product(1, 0, model.ProductStatusNotExpired)
	repo.SeedProduct(milk)

	locker := lock.NewMemory()
	svc := service.NewService(repo, ledger.New(repo, nil), locker, nil,
		service.WithClock(func() time.Time { return testNow }))

	// Пользователь употребляет продукт между загрузкой списка и записью expired.
	var consumedOnce bool
	repo.FailStatusUpdate = func(id uuid.UUID) error {
		if consumedOnce || id != milk.ID {
			return nil
		}
		consumedOnce = true
		_, err := svc.UpdateStatus(context.Background(), 1, id, "consumed")
		return err
	}

	r, err := NewReconciler(Config{
		Repo:   repo,
		Locker: locker,
		Policy: PolicyPreserveConsumed,
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	res, err := r.ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)
	require.True(t, consumedOnce)

	assert.Equal(t, 0, res.Expired)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.FailedProducts)
	assert.Equal(t, model.ProductStatusConsumed, status(t, repo, milk))
	assert.Equal(t, int64(5), score(t, repo, 1))
}

func TestReconcile_MissingInventoryCountsAsFailedUser(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 0)
	repo.SeedProduct(product(1, 4, model.ProductStatusNotExpired))
	repo.SeedProduct(product(2, 4, model.ProductStatusNotExpired))

	res, err := newReconciler(t, repo, PolicyActiveOnly).ReconcileExpiryAndScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.FailedUsers)
	assert.Equal(t, 1, res.UsersUpdated)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], repository.ErrInventoryNotFound)
	assert.Equal(t, int64(4), score(t, repo, 1))
}

func TestReconcile_ContextCanceled(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 5)
	repo.SeedProduct(product(1, -1, model.ProductStatusNotExpired))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newReconciler(t, repo, PolicyActiveOnly).ReconcileExpiryAndScores(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.ContextCanceled)
	assert.Equal(t, int64(5), score(t, repo, 1))
}

func TestMonthlyCleanup(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SeedInventory(1, 100)
	repo.SeedInventory(2, 100)

	keep := product(1, 6, model.ProductStatusNotExpired)
	repo.SeedProduct(keep)
	repo.SeedProduct(product(1, -4, model.ProductStatusExpired))
	repo.SeedProduct(consumed(1, 2, 1))
	repo.SeedProduct(consumed(2, 2, 1))

	res, err := newReconciler(t, repo, PolicyActiveOnly).MonthlyCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Deleted)
	require.NotNil(t, res.Reconcile)
	assert.Equal(t, 1, res.Reconcile.UsersUpdated)

	remaining, err := repo.ListProductsByUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)

	assert.Equal(t, int64(6), score(t, repo, 1))
	assert.Equal(t, int64(100), score(t, repo, 2))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyActiveOnly, p)

	p, err = ParsePolicy("preserve_consumed")
	require.NoError(t, err)
	assert.Equal(t, PolicyPreserveConsumed, p)

	_, err = ParsePolicy("sometimes")
	require.Error(t, err)
}

func TestNewReconciler_RequiresRepository(t *testing.T) {
	_, err := NewReconciler(Config{})
	require.Error(t, err)
}

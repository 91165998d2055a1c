// Package ledger применяет изменения счёта пользователя.
package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/pantry-score/internal/metrics"
)

// Store описывает атомарное изменение счёта в хранилище.
type Store interface {
	IncrementScore(ctx context.Context, userID, delta int64) (int64, error)
}

// Ledger единственный инкрементальный путь изменения счёта. Ledger не знает
// о продуктах: знак и величину delta вычисляет вызывающий код.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// New создаёт Ledger поверх хранилища.
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// ApplyDelta прибавляет delta к счёту пользователя. Нулевое изменение ничего не делает.
// Если у пользователя нет инвентаря, возвращается repository.ErrInventoryNotFound.
func (l *Ledger) ApplyDelta(ctx context.Context, userID int64, delta int) error {
	if delta == 0 {
		return nil
	}

	score, err := l.store.IncrementScore(ctx, userID, int64(delta))
	if err != nil {
		return err
	}

	metrics.RecordScoreDelta(int64(delta))
	l.logger.Debug("score delta applied",
		zap.Int64("userID", userID),
		zap.Int("delta", delta),
		zap.Int64("score", score),
	)
	return nil
}

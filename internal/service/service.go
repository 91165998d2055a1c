// Package service реализует жизненный цикл продуктов и связанное с ним начисление очков.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pantry-score/internal/lock"
	"github.com/mmeshcher/pantry-score/internal/model"
	"github.com/mmeshcher/pantry-score/internal/repository"
	"github.com/mmeshcher/pantry-score/internal/scoring"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetInventory(ctx context.Context, userID int64) (*model.UserInventory, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	GetProductForUser(ctx context.Context, id uuid.UUID, userID int64) (*model.Product, error)
	UpdateProductStatus(ctx context.Context, id uuid.UUID, status model.ProductStatus, consumedAt *time.Time) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	ListProductsByUser(ctx context.Context, userID int64) ([]model.Product, error)
}

// Ledger применяет изменение счёта пользователя.
type Ledger interface {
	ApplyDelta(ctx context.Context, userID int64, delta int) error
}

// Service управляет продуктами пользователя и поддерживает его счёт.
type Service struct {
	repo   Repository
	ledger Ledger
	locker lock.Locker
	logger *zap.Logger
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт новый сервис.
func NewService(repo Repository, ledger Ledger, locker lock.Locker, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		ledger: ledger,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateProduct сохраняет продукт и начисляет его очки.
func (s *Service) CreateProduct(ctx context.Context, userID int64, in model.NewProduct) (*model.Product, error) {
	p, err := parseNewProduct(in)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, err := s.repo.GetInventory(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.ID = uuid.New()
	p.UserID = userID
	p.InventoryID = &inv.ID
	p.DateLogged = now

	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	delta := scoring.ProductScore(scoring.DaysRemaining(p.DateOfExpiry, now), p.Status)
	if err := s.ledger.ApplyDelta(ctx, userID, delta); err != nil {
		if delErr := s.repo.DeleteProduct(ctx, p.ID); delErr != nil {
			s.logger.Error("rollback product insert failed",
				zap.Error(delErr), zap.Stringer("productID", p.ID), zap.Int64("userID", userID))
		}
		return nil, err
	}

	return p, nil
}

// UpdateStatus меняет статус продукта. Первое употребление продукта до истечения
// срока приносит бонус.
func (s *Service) UpdateStatus(ctx context.Context, userID int64, productID uuid.UUID, rawStatus string) (*model.Product, error) {
	status, err := model.ParseProductStatus(rawStatus)
	if err != nil {
		return nil, invalid("status", ErrInvalidStatus)
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.getOwned(ctx, productID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	oldStatus := p.Status
	firstConsumption := status == model.ProductStatusConsumed && oldStatus != model.ProductStatusConsumed

	// Бонус начисляется до записи статуса и отменяется, если запись не удалась.
	var (
		consumedAt *time.Time
		bonus      int
	)
	if firstConsumption {
		consumedAt = &now
		bonus = scoring.ConsumptionBonusFor(scoring.DaysRemaining(p.DateOfExpiry, now))
		if err := s.ledger.ApplyDelta(ctx, userID, bonus); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateProductStatus(ctx, p.ID, status, consumedAt); err != nil {
		if revertErr := s.ledger.ApplyDelta(ctx, userID, -bonus); revertErr != nil {
			s.logger.Error("revert bonus after failed status update",
				zap.Error(revertErr), zap.Stringer("productID", p.ID), zap.Int64("userID", userID))
		}
		return nil, mapProductErr(err)
	}
	p.Status = status
	if consumedAt != nil && p.ConsumedAt == nil {
		p.ConsumedAt = consumedAt
	}

	return p, nil
}

// DeleteProduct удаляет продукт, снимая с пользователя начисленные за него очки.
// Штраф за просроченный продукт при удалении сохраняется.
func (s *Service) DeleteProduct(ctx context.Context, userID int64, productID uuid.UUID) (bool, error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	p, err := s.getOwned(ctx, productID, userID)
	if err != nil {
		return false, err
	}

	delta := scoring.DeletionDelta(scoring.DaysRemaining(p.DateOfExpiry, s.now()), p.Status)
	if err := s.ledger.ApplyDelta(ctx, userID, delta); err != nil {
		return false, err
	}

	if err := s.repo.DeleteProduct(ctx, p.ID); err != nil {
		if revertErr := s.ledger.ApplyDelta(ctx, userID, -delta); revertErr != nil {
			s.logger.Error("revert score after failed delete",
				zap.Error(revertErr), zap.Stringer("productID", p.ID), zap.Int64("userID", userID))
		}
		return false, mapProductErr(err)
	}

	return true, nil
}

// ListProducts возвращает продукты пользователя.
func (s *Service) ListProducts(ctx context.Context, userID int64) ([]model.Product, error) {
	return s.repo.ListProductsByUser(ctx, userID)
}

// GetScore возвращает текущий счёт пользователя.
func (s *Service) GetScore(ctx context.Context, userID int64) (int64, error) {
	inv, err := s.repo.GetInventory(ctx, userID)
	if err != nil {
		return 0, err
	}
	return inv.Score, nil
}

func (s *Service) getOwned(ctx context.Context, productID uuid.UUID, userID int64) (*model.Product, error) {
	p, err := s.repo.GetProductForUser(ctx, productID, userID)
	if err != nil {
		return nil, mapProductErr(err)
	}
	return p, nil
}

func mapProductErr(err error) error {
	if errors.Is(err, repository.ErrProductNotFound) {
		return ErrNotFoundOrForbidden
	}
	return err
}

var dateLayouts = []string{time.DateOnly, time.RFC3339}

func parseNewProduct(in model.NewProduct) (*model.Product, error) {
	name := strings.TrimSpace(in.ProductName)
	if name == "" {
		return nil, invalid("productName", ErrMissingField)
	}
	if strings.TrimSpace(in.Quantity) == "" {
		return nil, invalid("quantity", ErrMissingField)
	}
	if strings.TrimSpace(in.DateOfExpiry) == "" {
		return nil, invalid("dateOfExpiry", ErrMissingField)
	}

	expiry, ok := parseDate(strings.TrimSpace(in.DateOfExpiry))
	if !ok {
		return nil, invalid("dateOfExpiry", ErrInvalidDate)
	}

	quantity, err := decimal.NewFromString(strings.TrimSpace(in.Quantity))
	if err != nil || !quantity.IsPositive() {
		return nil, invalid("quantity", ErrInvalidQuantity)
	}

	status := model.ProductStatusNotExpired
	if in.Status != "" {
		status, err = model.ParseProductStatus(in.Status)
		if err != nil {
			return nil, invalid("status", ErrInvalidStatus)
		}
	}

	return &model.Product{
		Name:         name,
		Quantity:     quantity,
		DateOfExpiry: expiry,
		Status:       status,
	}, nil
}

// parseDate оставляет только календарную дату.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

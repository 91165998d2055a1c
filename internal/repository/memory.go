package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/pantry-score/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется в тестах.
type MemoryRepository struct {
	mu          sync.Mutex
	nextInvID   int64
	inventories map[int64]*model.UserInventory
	products    map[uuid.UUID]model.Product

	// FailStatusUpdate, если задан, вызывается перед обновлением статуса продукта.
	FailStatusUpdate func(id uuid.UUID) error
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		inventories: make(map[int64]*model.UserInventory),
		products:    make(map[uuid.UUID]model.Product),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// SeedInventory создаёт инвентарь пользователя с указанным счётом.
func (r *MemoryRepository) SeedInventory(userID, score int64) *model.UserInventory {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextInvID++
	inv := &model.UserInventory{ID: r.nextInvID, UserID: userID, Score: score}
	r.inventories[userID] = inv
	cp := *inv
	return &cp
}

// SeedProduct сохраняет продукт как есть, без начисления очков.
func (r *MemoryRepository) SeedProduct(p model.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

func (r *MemoryRepository) GetInventory(ctx context.Context, userID int64) (*model.UserInventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.inventories[userID]
	if !ok {
		return nil, ErrInventoryNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *MemoryRepository) IncrementScore(ctx context.Context, userID, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.inventories[userID]
	if !ok {
		return 0, ErrInventoryNotFound
	}
	inv.Score += delta
	return inv.Score, nil
}

func (r *MemoryRepository) SetScore(ctx context.Context, userID, score int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.inventories[userID]
	if !ok {
		return ErrInventoryNotFound
	}
	inv.Score = score
	return nil
}

func (r *MemoryRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = *p
	return nil
}

func (r *MemoryRepository) GetProductForUser(ctx context.Context, id uuid.UUID, userID int64) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok || p.UserID != userID {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) UpdateProductStatus(ctx context.Context, id uuid.UUID, status model.ProductStatus, consumedAt *time.Time) error {
	if r.FailStatusUpdate != nil {
		if err := r.FailStatusUpdate(id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Status = status
	if p.ConsumedAt == nil && consumedAt != nil {
		t := *consumedAt
		p.ConsumedAt = &t
	}
	r.products[id] = p
	return nil
}

func (r *MemoryRepository) ExpireProduct(ctx context.Context, id uuid.UUID) (bool, error) {
	if r.FailStatusUpdate != nil {
		if err := r.FailStatusUpdate(id); err != nil {
			return false, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok || p.Status != model.ProductStatusNotExpired {
		return false, nil
	}
	p.Status = model.ProductStatusExpired
	r.products[id] = p
	return true, nil
}

func (r *MemoryRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *MemoryRepository) ListProductsByUser(ctx context.Context, userID int64) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Product
	for _, p := range r.products {
		if p.UserID == userID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].DateLogged.After(res[j].DateLogged)
	})
	return res, nil
}

func (r *MemoryRepository) ListProductsByStatus(ctx context.Context, statuses ...model.ProductStatus) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Product
	for _, p := range r.products {
		if slices.Contains(statuses, p.Status) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UserID != res[j].UserID {
			return res[i].UserID < res[j].UserID
		}
		return res[i].DateLogged.Before(res[j].DateLogged)
	})
	return res, nil
}

func (r *MemoryRepository) DeleteProductsByStatus(ctx context.Context, statuses ...model.ProductStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, p := range r.products {
		if slices.Contains(statuses, p.Status) {
			delete(r.products, id)
			n++
		}
	}
	return n, nil
}

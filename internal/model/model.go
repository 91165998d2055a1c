// Package model содержит доменные сущности сервиса учёта продуктов и очков.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductStatus описывает состояние продукта с точки зрения срока годности.
// Допустимы только три значения, любое другое отклоняется ParseProductStatus.
type ProductStatus string

const (
	ProductStatusNotExpired ProductStatus = "not_expired"
	ProductStatusExpired    ProductStatus = "expired"
	ProductStatusConsumed   ProductStatus = "consumed"
)

// ParseProductStatus преобразует строку в статус продукта.
func ParseProductStatus(s string) (ProductStatus, error) {
	switch st := ProductStatus(s); st {
	case ProductStatusNotExpired, ProductStatusExpired, ProductStatusConsumed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown product status %q", s)
	}
}

// Product описывает продукт пользователя со сроком годности.
type Product struct {
	ID           uuid.UUID
	UserID       int64
	InventoryID  *int64
	Name         string
	Quantity     decimal.Decimal
	DateLogged   time.Time
	DateOfExpiry time.Time
	Status       ProductStatus
	ConsumedAt   *time.Time
}

// UserInventory хранит текущий счёт пользователя. Счёт может быть отрицательным.
type UserInventory struct {
	ID     int64
	UserID int64
	Score  int64
}

// NewProduct описывает входные данные для создания продукта в том виде,
// в котором они приходят от клиента.
type NewProduct struct {
	ProductName  string
	Quantity     string
	DateOfExpiry string
	Status       string
}

package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/pantry-score/internal/repository"
)

var (
	// ErrInventoryNotFound возвращается, если у пользователя нет инвентаря.
	ErrInventoryNotFound = repository.ErrInventoryNotFound
	// ErrPersistence оборачивает ошибки хранилища.
	ErrPersistence = repository.ErrPersistence
	// ErrNotFoundOrForbidden возвращается, если продукт не существует или принадлежит
	// другому пользователю. Эти случаи намеренно не различаются.
	ErrNotFoundOrForbidden = errors.New("product not found or forbidden")

	// ErrValidation объединяет все ошибки проверки входных данных.
	ErrValidation      = errors.New("validation error")
	ErrMissingField    = fmt.Errorf("%w: missing field", ErrValidation)
	ErrInvalidDate     = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrInvalidStatus   = fmt.Errorf("%w: invalid status", ErrValidation)
)

// ValidationError указывает поле, не прошедшее проверку.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

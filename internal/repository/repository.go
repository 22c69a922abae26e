package repository

import (
	"context"
	"errors"
	"strings"

	"pharmacy/internal/domain"
)

var (
	// ErrNotFound возвращается, когда сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized запись принадлежит другому владельцу
	ErrUnauthorized = errors.New("not authorized")
	// ErrDuplicate препарат с таким именем у владельца уже есть
	ErrDuplicate = errors.New("duplicate medicine name")
	// ErrInsufficientStock остатка не хватает для списания
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict конкурентная транзакция помешала, операцию можно повторить
	ErrConflict = errors.New("conflict")
)

// MedicineFilter параметры фильтрации списка препаратов
type MedicineFilter struct {
	NameSubstring string
	Category      domain.Category
	LowStockOnly  bool
}

func (f MedicineFilter) match(m domain.Medicine) bool {
	if !containsIgnoreCase(m.Name, f.NameSubstring) {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.LowStockOnly && !m.LowStock() {
		return false
	}
	return true
}

// PrescriptionFilter параметры фильтрации списка рецептов
type PrescriptionFilter struct {
	Status domain.PrescriptionStatus
}

// MedicineRepository складские записи. Владелец передаётся в каждый вызов явно.
// Внутри TxManager.WithTransaction все методы участвуют в той же единице работы.
type MedicineRepository interface {
	Create(ctx context.Context, m *domain.Medicine) error
	GetByID(ctx context.Context, owner string, id int64) (*domain.Medicine, error)
	// FindByName регистронезависимое точное совпадение имени
	FindByName(ctx context.Context, owner, name string) (*domain.Medicine, error)
	Update(ctx context.Context, m *domain.Medicine) error
	Delete(ctx context.Context, owner string, id int64) error
	List(ctx context.Context, owner string, f MedicineFilter) ([]domain.Medicine, error)
	// DecrementIfSufficient уменьшает остаток или возвращает ErrInsufficientStock, ничего не меняя
	DecrementIfSufficient(ctx context.Context, owner string, id int64, amount int64) error
}

// PrescriptionRepository хранилище рецептов
type PrescriptionRepository interface {
	Create(ctx context.Context, p *domain.Prescription) error
	GetByID(ctx context.Context, owner string, id int64) (*domain.Prescription, error)
	Update(ctx context.Context, p *domain.Prescription) error
	List(ctx context.Context, owner string, f PrescriptionFilter) ([]domain.Prescription, error)
}

// TxManager единица работы: fn выполняется атомарно, при ошибке все изменения откатываются.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func checkOwner(owner, actual string) error {
	if owner != actual {
		return ErrUnauthorized
	}
	return nil
}

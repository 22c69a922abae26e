package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/repository"
)

// MedicineService инкапсулирует бизнес-логику вокруг каталога препаратов
type MedicineService struct {
	repo repository.MedicineRepository
	tx   repository.TxManager
}

func NewMedicineService(repo repository.MedicineRepository, tx repository.TxManager) *MedicineService {
	return &MedicineService{repo: repo, tx: tx}
}

// MedicinePatch частичное обновление: nil-поля не меняются
type MedicinePatch struct {
	Name         *string
	GenericName  *string
	Category     *domain.Category
	Manufacturer *string
	BatchNumber  *string
	ExpiryDate   *time.Time
	Quantity     *int64
	ReorderLevel *int64
	Price        *decimal.Decimal
}

func (p MedicinePatch) apply(m *domain.Medicine) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.GenericName != nil {
		m.GenericName = *p.GenericName
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.Manufacturer != nil {
		m.Manufacturer = *p.Manufacturer
	}
	if p.BatchNumber != nil {
		m.BatchNumber = *p.BatchNumber
	}
	if p.ExpiryDate != nil {
		d := *p.ExpiryDate
		m.ExpiryDate = &d
	}
	if p.Quantity != nil {
		m.Quantity = *p.Quantity
	}
	if p.ReorderLevel != nil {
		m.ReorderLevel = *p.ReorderLevel
	}
	if p.Price != nil {
		m.Price = *p.Price
	}
}

func validateMedicine(m *domain.Medicine) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.OwnerID == "" {
		return invalidInput("owner is required")
	}
	if m.Name == "" {
		return invalidInput("name is required")
	}
	if m.Category == "" {
		m.Category = domain.CategoryOther
	}
	if !m.Category.Valid() {
		return invalidInput("unknown category %q", m.Category)
	}
	if m.Quantity < 0 || m.ReorderLevel < 0 {
		return invalidInput("quantity and reorder level must be non-negative")
	}
	if m.Price.LessThan(decimal.Zero) {
		return invalidInput("price must be non-negative")
	}
	return nil
}

// Create добавляет препарат; ReorderLevel nil означает значение по умолчанию
func (s *MedicineService) Create(ctx context.Context, m domain.Medicine, reorderLevel *int64) (*domain.Medicine, error) {
	cp := m
	cp.ReorderLevel = domain.DefaultReorderLevel
	if reorderLevel != nil {
		cp.ReorderLevel = *reorderLevel
	}
	if err := validateMedicine(&cp); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *MedicineService) GetByID(ctx context.Context, owner string, id int64) (*domain.Medicine, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, owner, id)
}

// Update накладывает patch на текущую запись внутри единицы работы,
// чтобы параллельное списание остатка не было затёрто старым значением.
func (s *MedicineService) Update(ctx context.Context, owner string, id int64, patch MedicinePatch) (*domain.Medicine, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var updated *domain.Medicine
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetByID(ctx, owner, id)
		if err != nil {
			return err
		}
		patch.apply(cur)
		if err := validateMedicine(cur); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *MedicineService) Delete(ctx context.Context, owner string, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	return s.repo.Delete(ctx, owner, id)
}

func (s *MedicineService) List(ctx context.Context, owner string, f repository.MedicineFilter) ([]domain.Medicine, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, invalidInput("unknown category %q", f.Category)
	}
	return s.repo.List(ctx, owner, f)
}

// LowStock препараты с остатком на уровне порога заказа или ниже
func (s *MedicineService) LowStock(ctx context.Context, owner string) ([]domain.Medicine, error) {
	return s.repo.List(ctx, owner, repository.MedicineFilter{LowStockOnly: true})
}

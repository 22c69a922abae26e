package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReorderLevel порог низкого остатка, если он не задан явно
const DefaultReorderLevel int64 = 10

// Category форма выпуска препарата
type Category string

const (
	CategoryTablet    Category = "tablet"
	CategorySyrup     Category = "syrup"
	CategoryInjection Category = "injection"
	CategoryOintment  Category = "ointment"
	CategoryDrops     Category = "drops"
	CategoryOther     Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTablet, CategorySyrup, CategoryInjection, CategoryOintment, CategoryDrops, CategoryOther:
		return true
	}
	return false
}

// Medicine представляет препарат на складе аптеки
type Medicine struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	GenericName  string          `json:"generic_name,omitempty"`
	Category     Category        `json:"category"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	BatchNumber  string          `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	Quantity     int64           `json:"quantity"`
	ReorderLevel int64           `json:"reorder_level"`
	Price        decimal.Decimal `json:"price"`
	OwnerID      string          `json:"owner_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LowStock остаток на уровне порога заказа или ниже
func (m Medicine) LowStock() bool { return m.Quantity <= m.ReorderLevel }

// NameKey ключ для регистронезависимого точного сравнения имён; пробелы значимы
func NameKey(name string) string { return strings.ToLower(name) }

// PrescriptionStatus статус рецепта
type PrescriptionStatus string

const (
	StatusPending    PrescriptionStatus = "pending"
	StatusProcessing PrescriptionStatus = "processing"
	StatusPartial    PrescriptionStatus = "partial"
	StatusCompleted  PrescriptionStatus = "completed"
	StatusCancelled  PrescriptionStatus = "cancelled"
)

func ParseStatus(s string) (PrescriptionStatus, bool) {
	st := PrescriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusProcessing, StatusPartial, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Open рецепт ещё можно завершить или отменить
func (s PrescriptionStatus) Open() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusPartial
}

// MatchOutcome результат сопоставления позиции со складом на момент создания
type MatchOutcome string

const (
	MatchUnmatched    MatchOutcome = "unmatched"
	MatchInsufficient MatchOutcome = "insufficient"
	MatchAvailable    MatchOutcome = "available"
)

// PrescriptionItem позиция рецепта. Снимок наличия фиксируется при создании и не является резервом.
type PrescriptionItem struct {
	MedicineID   *int64          `json:"medicine_id"`
	MedicineName string          `json:"medicine_name"`
	Quantity     int64           `json:"quantity"`
	Dosage       string          `json:"dosage,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Match        MatchOutcome    `json:"match"`
}

func (it PrescriptionItem) Available() bool { return it.Match == MatchAvailable }

// Fulfillable позиция списывается со склада при завершении
func (it PrescriptionItem) Fulfillable() bool { return it.Available() && it.MedicineID != nil }

// Prescription агрегат рецепта
type Prescription struct {
	ID             int64              `json:"id"`
	PrescriptionID string             `json:"prescription_id"`
	PatientName    string             `json:"patient_name"`
	PatientAge     int                `json:"patient_age"`
	PatientPhone   string             `json:"patient_phone,omitempty"`
	DoctorName     string             `json:"doctor_name"`
	Items          []PrescriptionItem `json:"items"`
	Status         PrescriptionStatus `json:"status"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	Notes          string             `json:"notes,omitempty"`
	OwnerID        string             `json:"owner_id"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// Clone глубокая копия, чтобы хранилища не делили срез позиций с вызывающим
func (p Prescription) Clone() Prescription {
	cp := p
	cp.Items = make([]PrescriptionItem, len(p.Items))
	for i, it := range p.Items {
		if it.MedicineID != nil {
			id := *it.MedicineID
			it.MedicineID = &id
		}
		cp.Items[i] = it
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/repository"
)

// RequestedItem позиция рецепта в том виде, в каком её выписал врач
type RequestedItem struct {
	MedicineName string `json:"medicine_name"`
	Quantity     int64  `json:"quantity"`
	Dosage       string `json:"dosage"`
}

// MatchResult snapshot of the catalog at creation time. Nothing is reserved.
type MatchResult struct {
	Items []domain.PrescriptionItem
	Total decimal.Decimal
}

// Match resolves requested items against the owner's catalog, preserving order.
// Unmatched names are kept verbatim; matched items take the catalog name.
// Only items whose stock covers the request contribute price × quantity to the total.
func Match(ctx context.Context, medicines repository.MedicineRepository, owner string, requested []RequestedItem) (*MatchResult, error) {
	if len(requested) == 0 {
		return nil, invalidInput("prescription must contain items")
	}
	for i, r := range requested {
		if strings.TrimSpace(r.MedicineName) == "" {
			return nil, invalidInput("item %d: medicine name is required", i)
		}
		if r.Quantity < 1 {
			return nil, invalidInput("item %d: quantity must be at least 1", i)
		}
	}

	res := &MatchResult{Items: make([]domain.PrescriptionItem, 0, len(requested)), Total: decimal.Zero}
	for _, r := range requested {
		med, err := medicines.FindByName(ctx, owner, r.MedicineName)
		if errors.Is(err, repository.ErrNotFound) {
			res.Items = append(res.Items, domain.PrescriptionItem{
				MedicineName: r.MedicineName,
				Quantity:     r.Quantity,
				Dosage:       r.Dosage,
				UnitPrice:    decimal.Zero,
				Match:        domain.MatchUnmatched,
			})
			continue
		}
		if err != nil {
			return nil, err
		}

		id := med.ID
		item := domain.PrescriptionItem{
			MedicineID:   &id,
			MedicineName: med.Name,
			Quantity:     r.Quantity,
			Dosage:       r.Dosage,
			UnitPrice:    med.Price,
			Match:        domain.MatchInsufficient,
		}
		if med.Quantity >= r.Quantity {
			item.Match = domain.MatchAvailable
			res.Total = res.Total.Add(med.Price.Mul(decimal.NewFromInt(r.Quantity)))
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

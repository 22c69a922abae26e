package service

import "pharmacy/internal/domain"

// DeriveStatus maps creation-time availability to the initial status:
// all available -> processing, none -> pending, otherwise partial.
func DeriveStatus(items []domain.PrescriptionItem) domain.PrescriptionStatus {
	available := 0
	for _, it := range items {
		if it.Available() {
			available++
		}
	}
	switch {
	case len(items) > 0 && available == len(items):
		return domain.StatusProcessing
	case available == 0:
		return domain.StatusPending
	default:
		return domain.StatusPartial
	}
}

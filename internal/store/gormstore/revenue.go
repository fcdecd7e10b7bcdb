package gormstore

import (
	"context"

	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

// ListAttributableRevenue returns every license revenue record whose
// effective window overlaps the run period.
func (store *Store) ListAttributableRevenue(ctx context.Context, period royalty.Period) ([]royalty.RevenueItem, error) {
	var rows []LicenseRevenue
	err := store.db.WithContext(ctx).
		Where("effective_start < ? AND effective_end > ?", period.End(), period.Start()).
		Order("creator_id ASC, license_id ASC, effective_start ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRevenue, errorCodeList, err)
	}
	items := make([]royalty.RevenueItem, 0, len(rows))
	for _, row := range rows {
		item, err := mapRevenueItem(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRevenue, errorCodeInvalid, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func mapRevenueItem(model LicenseRevenue) (royalty.RevenueItem, error) {
	licenseID, err := royalty.NewLicenseID(model.LicenseID)
	if err != nil {
		return royalty.RevenueItem{}, err
	}
	creatorID, err := royalty.NewCreatorID(model.CreatorID)
	if err != nil {
		return royalty.RevenueItem{}, err
	}
	assetID, err := royalty.NewIPAssetID(model.IPAssetID)
	if err != nil {
		return royalty.RevenueItem{}, err
	}
	revenue, err := royalty.NewNonNegativeAmountCents(model.RevenueCents)
	if err != nil {
		return royalty.RevenueItem{}, err
	}
	share, err := royalty.NewBasisPoints(model.ShareBps)
	if err != nil {
		return royalty.RevenueItem{}, err
	}
	effective, err := royalty.NewPeriod(model.EffectiveStart, model.EffectiveEnd)
	if err != nil {
		return royalty.RevenueItem{}, err
	}
	return royalty.RevenueItem{
		LicenseID:    licenseID,
		CreatorID:    creatorID,
		IPAssetID:    assetID,
		RevenueCents: revenue,
		ShareBps:     share,
		Effective:    effective,
	}, nil
}

package gormstore

import (
	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

func mapRun(model RoyaltyRun) (royalty.RoyaltyRun, error) {
	runID, err := royalty.NewRunID(model.RunID)
	if err != nil {
		return royalty.RoyaltyRun{}, err
	}
	period, err := royalty.NewPeriod(model.PeriodStart, model.PeriodEnd)
	if err != nil {
		return royalty.RoyaltyRun{}, err
	}
	status, err := royalty.ParseRunStatus(model.Status)
	if err != nil {
		return royalty.RoyaltyRun{}, err
	}
	createdBy, err := royalty.NewActorID(model.CreatedBy)
	if err != nil {
		return royalty.RoyaltyRun{}, err
	}
	return royalty.RoyaltyRun{
		ID:                  runID,
		Period:              period,
		Status:              status,
		TotalRevenueCents:   royalty.AmountCents(model.TotalRevenueCents),
		TotalRoyaltiesCents: royalty.AmountCents(model.TotalRoyaltiesCents),
		CreatedBy:           createdBy,
		ProcessedAt:         model.ProcessedAt,
		LockedAt:            model.LockedAt,
		Notes:               model.Notes,
	}, nil
}

func mapStatement(model RoyaltyStatement) (royalty.RoyaltyStatement, error) {
	statementID, err := royalty.NewStatementID(model.StatementID)
	if err != nil {
		return royalty.RoyaltyStatement{}, err
	}
	runID, err := royalty.NewRunID(model.RunID)
	if err != nil {
		return royalty.RoyaltyStatement{}, err
	}
	creatorID, err := royalty.NewCreatorID(model.CreatorID)
	if err != nil {
		return royalty.RoyaltyStatement{}, err
	}
	status, err := royalty.ParseStatementStatus(model.Status)
	if err != nil {
		return royalty.RoyaltyStatement{}, err
	}
	return royalty.RoyaltyStatement{
		ID:                 statementID,
		RunID:              runID,
		CreatorID:          creatorID,
		TotalEarningsCents: royalty.AmountCents(model.TotalEarningsCents),
		PlatformFeeCents:   royalty.AmountCents(model.PlatformFeeCents),
		NetPayableCents:    royalty.AmountCents(model.NetPayableCents),
		Status:             status,
		ReviewedAt:         model.ReviewedAt,
		DisputedAt:         model.DisputedAt,
		DisputeReason:      model.DisputeReason,
		ResolutionNote:     model.ResolutionNote,
		PaidAt:             model.PaidAt,
		PaymentReference:   model.PaymentReference,
	}, nil
}

func mapLine(model RoyaltyLine) (royalty.RoyaltyLine, error) {
	lineID, err := royalty.NewLineID(model.LineID)
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	statementID, err := royalty.NewStatementID(model.StatementID)
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	runID, err := royalty.NewRunID(model.RunID)
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	var assetID royalty.IPAssetID
	if model.IPAssetID != nil {
		assetID, err = royalty.NewIPAssetID(*model.IPAssetID)
		if err != nil {
			return royalty.RoyaltyLine{}, err
		}
	}
	licenseID := ""
	if model.LicenseID != nil {
		licenseID = *model.LicenseID
	}
	source, err := royalty.ParseLineSource(model.SourceKind, licenseID)
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	shareBps, err := royalty.NewBasisPoints(model.ShareBps)
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	period, err := royalty.NewPeriod(model.PeriodStart, model.PeriodEnd)
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	metadata, err := royalty.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return royalty.RoyaltyLine{}, err
	}
	return royalty.RoyaltyLine{
		ID:                     lineID,
		StatementID:            statementID,
		RunID:                  runID,
		IPAssetID:              assetID,
		Source:                 source,
		RevenueCents:           royalty.AmountCents(model.RevenueCents),
		ShareBps:               shareBps,
		CalculatedRoyaltyCents: royalty.AmountCents(model.CalculatedRoyaltyCents),
		Period:                 period,
		Metadata:               metadata,
	}, nil
}

func mapAdjustment(model RoyaltyAdjustment) (royalty.Adjustment, error) {
	runID, err := royalty.NewRunID(model.RunID)
	if err != nil {
		return royalty.Adjustment{}, err
	}
	creatorID, err := royalty.NewCreatorID(model.CreatorID)
	if err != nil {
		return royalty.Adjustment{}, err
	}
	kind, err := royalty.ParseAdjustmentKind(model.Kind)
	if err != nil {
		return royalty.Adjustment{}, err
	}
	createdBy, err := royalty.NewActorID(model.CreatedBy)
	if err != nil {
		return royalty.Adjustment{}, err
	}
	return royalty.Adjustment{
		ID:          model.AdjustmentID,
		RunID:       runID,
		CreatorID:   creatorID,
		Kind:        kind,
		AmountCents: royalty.AmountCents(model.AmountCents),
		Memo:        model.Memo,
		RefRunID:    model.RefRunID,
		CreatedBy:   createdBy,
		ConsumedAt:  model.ConsumedAt,
	}, nil
}

func mapDeferral(model RoyaltyDeferral) (royalty.Deferral, error) {
	runID, err := royalty.NewRunID(model.RunID)
	if err != nil {
		return royalty.Deferral{}, err
	}
	creatorID, err := royalty.NewCreatorID(model.CreatorID)
	if err != nil {
		return royalty.Deferral{}, err
	}
	deferral := royalty.Deferral{
		ID:          model.DeferralID,
		RunID:       runID,
		CreatorID:   creatorID,
		AmountCents: royalty.AmountCents(model.AmountCents),
	}
	if model.CarriedIntoRunID != nil {
		deferral.CarriedIntoRunID = *model.CarriedIntoRunID
	}
	return deferral, nil
}

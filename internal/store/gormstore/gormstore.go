// Package gormstore persists runs, statements, lines, adjustments,
// deferrals, revenue records, and the audit chain with GORM, on PostgreSQL
// or sqlite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	defaultMetadataJSON   = "{}"

	errorOperationStore    = "store"
	errorSubjectRun        = "run"
	errorSubjectStatement  = "statement"
	errorSubjectLine       = "line"
	errorSubjectAdjustment = "adjustment"
	errorSubjectDeferral   = "deferral"
	errorSubjectRevenue    = "revenue"
	errorCodeCreate        = "create"
	errorCodeDelete        = "delete"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeUpdate        = "update"
)

// Store implements royalty.Store, royalty.RevenueSource, and
// auditchain.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for sqlite deployments and tests;
// PostgreSQL schemas are managed externally.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore royalty.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateRun(ctx context.Context, run royalty.RoyaltyRun) error {
	model := RoyaltyRun{
		RunID:               run.ID.String(),
		PeriodStart:         run.Period.Start(),
		PeriodEnd:           run.Period.End(),
		Status:              run.Status.String(),
		TotalRevenueCents:   run.TotalRevenueCents.Int64(),
		TotalRoyaltiesCents: run.TotalRoyaltiesCents.Int64(),
		CreatedBy:           run.CreatedBy.String(),
		ProcessedAt:         run.ProcessedAt,
		LockedAt:            run.LockedAt,
		Notes:               run.Notes,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectRun, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRun, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRun(ctx context.Context, runID royalty.RunID) (royalty.RoyaltyRun, error) {
	var model RoyaltyRun
	err := store.db.WithContext(ctx).Where("run_id = ?", runID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return royalty.RoyaltyRun{}, wrapStoreError(errorSubjectRun, errorCodeGet, royalty.ErrRunNotFound)
	}
	if err != nil {
		return royalty.RoyaltyRun{}, wrapStoreError(errorSubjectRun, errorCodeGet, err)
	}
	run, err := mapRun(model)
	if err != nil {
		return royalty.RoyaltyRun{}, wrapStoreError(errorSubjectRun, errorCodeInvalid, err)
	}
	return run, nil
}

func (store *Store) FindRunOverlapping(ctx context.Context, period royalty.Period) (royalty.RoyaltyRun, bool, error) {
	var model RoyaltyRun
	err := store.db.WithContext(ctx).
		Where("period_start < ? AND period_end > ?", period.End(), period.Start()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return royalty.RoyaltyRun{}, false, nil
	}
	if err != nil {
		return royalty.RoyaltyRun{}, false, wrapStoreError(errorSubjectRun, errorCodeGet, err)
	}
	run, err := mapRun(model)
	if err != nil {
		return royalty.RoyaltyRun{}, false, wrapStoreError(errorSubjectRun, errorCodeInvalid, err)
	}
	return run, true, nil
}

func (store *Store) UpdateRunStatus(ctx context.Context, runID royalty.RunID, from royalty.RunStatus, to royalty.RunStatus) error {
	result := store.db.WithContext(ctx).
		Model(&RoyaltyRun{}).
		Where("run_id = ? AND status = ?", runID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectRun, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRun, errorCodeUpdate,
			fmt.Errorf("%w: run is no longer in %s status", royalty.ErrStateConflict, from))
	}
	return nil
}

func (store *Store) SetRunCalculated(ctx context.Context, runID royalty.RunID, totalRevenue royalty.AmountCents, totalRoyalties royalty.AmountCents, processedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&RoyaltyRun{}).
		Where("run_id = ? AND status = ?", runID.String(), royalty.RunStatusProcessing.String()).
		Updates(map[string]any{
			"status":                royalty.RunStatusCalculated.String(),
			"total_revenue_cents":   totalRevenue.Int64(),
			"total_royalties_cents": totalRoyalties.Int64(),
			"processed_at":          processedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRun, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRun, errorCodeUpdate,
			fmt.Errorf("%w: run is no longer processing", royalty.ErrStateConflict))
	}
	return nil
}

func (store *Store) SetRunLocked(ctx context.Context, runID royalty.RunID, lockedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&RoyaltyRun{}).
		Where("run_id = ? AND status = ?", runID.String(), royalty.RunStatusCalculated.String()).
		Updates(map[string]any{
			"status":    royalty.RunStatusLocked.String(),
			"locked_at": lockedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRun, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRun, errorCodeUpdate,
			fmt.Errorf("%w: run is no longer calculated", royalty.ErrStateConflict))
	}
	return nil
}

func (store *Store) RequeueStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&RoyaltyRun{}).
		Where("status = ? AND updated_at < ?", royalty.RunStatusProcessing.String(), olderThan).
		Update("status", royalty.RunStatusDraft.String())
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectRun, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) DeleteRunResults(ctx context.Context, runID royalty.RunID) error {
	if err := store.db.WithContext(ctx).Where("run_id = ?", runID.String()).Delete(&RoyaltyLine{}).Error; err != nil {
		return wrapStoreError(errorSubjectLine, errorCodeDelete, err)
	}
	if err := store.db.WithContext(ctx).Where("run_id = ?", runID.String()).Delete(&RoyaltyStatement{}).Error; err != nil {
		return wrapStoreError(errorSubjectStatement, errorCodeDelete, err)
	}
	if err := store.db.WithContext(ctx).Where("run_id = ? AND carried_into_run_id IS NULL", runID.String()).Delete(&RoyaltyDeferral{}).Error; err != nil {
		return wrapStoreError(errorSubjectDeferral, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) InsertStatement(ctx context.Context, statement royalty.RoyaltyStatement) error {
	model := RoyaltyStatement{
		StatementID:        statement.ID.String(),
		RunID:              statement.RunID.String(),
		CreatorID:          statement.CreatorID.String(),
		TotalEarningsCents: statement.TotalEarningsCents.Int64(),
		PlatformFeeCents:   statement.PlatformFeeCents.Int64(),
		NetPayableCents:    statement.NetPayableCents.Int64(),
		Status:             statement.Status.String(),
		ReviewedAt:         statement.ReviewedAt,
		DisputedAt:         statement.DisputedAt,
		DisputeReason:      statement.DisputeReason,
		ResolutionNote:     statement.ResolutionNote,
		PaidAt:             statement.PaidAt,
		PaymentReference:   statement.PaymentReference,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectStatement, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectStatement, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertLine(ctx context.Context, line royalty.RoyaltyLine) error {
	var assetID *string
	if !line.IPAssetID.IsZero() {
		value := line.IPAssetID.String()
		assetID = &value
	}
	var licenseID *string
	if backing, ok := line.Source.LicenseID(); ok {
		value := backing.String()
		licenseID = &value
	}
	model := RoyaltyLine{
		LineID:                 line.ID.String(),
		StatementID:            line.StatementID.String(),
		RunID:                  line.RunID.String(),
		IPAssetID:              assetID,
		SourceKind:             line.Source.Kind().String(),
		LicenseID:              licenseID,
		RevenueCents:           line.RevenueCents.Int64(),
		ShareBps:               line.ShareBps.Int64(),
		CalculatedRoyaltyCents: line.CalculatedRoyaltyCents.Int64(),
		PeriodStart:            line.Period.Start(),
		PeriodEnd:              line.Period.End(),
		Metadata:               datatypesJSON(line.Metadata.String()),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectLine, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetStatement(ctx context.Context, statementID royalty.StatementID) (royalty.RoyaltyStatement, error) {
	var model RoyaltyStatement
	err := store.db.WithContext(ctx).Where("statement_id = ?", statementID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return royalty.RoyaltyStatement{}, wrapStoreError(errorSubjectStatement, errorCodeGet, royalty.ErrStatementNotFound)
	}
	if err != nil {
		return royalty.RoyaltyStatement{}, wrapStoreError(errorSubjectStatement, errorCodeGet, err)
	}
	statement, err := mapStatement(model)
	if err != nil {
		return royalty.RoyaltyStatement{}, wrapStoreError(errorSubjectStatement, errorCodeInvalid, err)
	}
	return statement, nil
}

func (store *Store) ListStatements(ctx context.Context, runID royalty.RunID) ([]royalty.RoyaltyStatement, error) {
	var rows []RoyaltyStatement
	err := store.db.WithContext(ctx).
		Where("run_id = ?", runID.String()).
		Order("creator_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectStatement, errorCodeList, err)
	}
	statements := make([]royalty.RoyaltyStatement, 0, len(rows))
	for _, row := range rows {
		statement, err := mapStatement(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectStatement, errorCodeInvalid, err)
		}
		statements = append(statements, statement)
	}
	return statements, nil
}

func (store *Store) ListLines(ctx context.Context, statementID royalty.StatementID) ([]royalty.RoyaltyLine, error) {
	var rows []RoyaltyLine
	err := store.db.WithContext(ctx).
		Where("statement_id = ?", statementID.String()).
		Order("created_at ASC, line_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, err)
	}
	lines := make([]royalty.RoyaltyLine, 0, len(rows))
	for _, row := range rows {
		line, err := mapLine(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLine, errorCodeInvalid, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (store *Store) CountDisputedStatements(ctx context.Context, runID royalty.RunID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&RoyaltyStatement{}).
		Where("run_id = ? AND status = ?", runID.String(), royalty.StatementStatusDisputed.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectStatement, errorCodeList, err)
	}
	return count, nil
}

func (store *Store) MarkStatementReviewed(ctx context.Context, statementID royalty.StatementID, from royalty.StatementStatus, reviewedAt time.Time) error {
	return store.transitionStatement(ctx, statementID, from, map[string]any{
		"status":      royalty.StatementStatusReviewed.String(),
		"reviewed_at": reviewedAt,
	})
}

func (store *Store) MarkStatementDisputed(ctx context.Context, statementID royalty.StatementID, from royalty.StatementStatus, reason royalty.DisputeReason, disputedAt time.Time) error {
	return store.transitionStatement(ctx, statementID, from, map[string]any{
		"status":         royalty.StatementStatusDisputed.String(),
		"disputed_at":    disputedAt,
		"dispute_reason": reason.String(),
	})
}

func (store *Store) MarkStatementResolved(ctx context.Context, statementID royalty.StatementID, resolution royalty.ResolutionNote, resolvedAt time.Time) error {
	return store.transitionStatement(ctx, statementID, royalty.StatementStatusDisputed, map[string]any{
		"status":          royalty.StatementStatusResolved.String(),
		"resolution_note": resolution.String(),
		"updated_at":      resolvedAt,
	})
}

func (store *Store) MarkStatementPaid(ctx context.Context, statementID royalty.StatementID, from royalty.StatementStatus, paymentReference string, paidAt time.Time) error {
	return store.transitionStatement(ctx, statementID, from, map[string]any{
		"status":            royalty.StatementStatusPaid.String(),
		"paid_at":           paidAt,
		"payment_reference": paymentReference,
	})
}

func (store *Store) transitionStatement(ctx context.Context, statementID royalty.StatementID, from royalty.StatementStatus, updates map[string]any) error {
	result := store.db.WithContext(ctx).
		Model(&RoyaltyStatement{}).
		Where("statement_id = ? AND status = ?", statementID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectStatement, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectStatement, errorCodeUpdate,
			fmt.Errorf("%w: statement is no longer in %s status", royalty.ErrStateConflict, from))
	}
	return nil
}

func (store *Store) CreateAdjustment(ctx context.Context, adjustment royalty.Adjustment) error {
	model := RoyaltyAdjustment{
		AdjustmentID: adjustment.ID,
		RunID:        adjustment.RunID.String(),
		CreatorID:    adjustment.CreatorID.String(),
		Kind:         adjustment.Kind.String(),
		AmountCents:  adjustment.AmountCents.Int64(),
		Memo:         adjustment.Memo,
		RefRunID:     adjustment.RefRunID,
		CreatedBy:    adjustment.CreatedBy.String(),
		ConsumedAt:   adjustment.ConsumedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAdjustment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) ListPendingAdjustments(ctx context.Context, runID royalty.RunID) ([]royalty.Adjustment, error) {
	var rows []RoyaltyAdjustment
	err := store.db.WithContext(ctx).
		Where("run_id = ? AND consumed_at IS NULL", runID.String()).
		Order("adjustment_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAdjustment, errorCodeList, err)
	}
	adjustments := make([]royalty.Adjustment, 0, len(rows))
	for _, row := range rows {
		adjustment, err := mapAdjustment(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAdjustment, errorCodeInvalid, err)
		}
		adjustments = append(adjustments, adjustment)
	}
	return adjustments, nil
}

func (store *Store) MarkAdjustmentsConsumed(ctx context.Context, runID royalty.RunID, consumedAt time.Time) error {
	err := store.db.WithContext(ctx).
		Model(&RoyaltyAdjustment{}).
		Where("run_id = ? AND consumed_at IS NULL", runID.String()).
		Update("consumed_at", consumedAt).Error
	if err != nil {
		return wrapStoreError(errorSubjectAdjustment, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) CreateDeferral(ctx context.Context, deferral royalty.Deferral) error {
	model := RoyaltyDeferral{
		DeferralID:  deferral.ID,
		RunID:       deferral.RunID.String(),
		CreatorID:   deferral.CreatorID.String(),
		AmountCents: deferral.AmountCents.Int64(),
	}
	if deferral.CarriedIntoRunID != "" {
		value := deferral.CarriedIntoRunID
		model.CarriedIntoRunID = &value
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectDeferral, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) ListOpenDeferrals(ctx context.Context, endedBy time.Time) ([]royalty.Deferral, error) {
	var rows []RoyaltyDeferral
	err := store.db.WithContext(ctx).
		Joins("JOIN royalty_runs ON royalty_runs.run_id = royalty_deferrals.run_id").
		Where("royalty_deferrals.carried_into_run_id IS NULL AND royalty_runs.period_end <= ?", endedBy).
		Order("royalty_deferrals.deferral_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDeferral, errorCodeList, err)
	}
	deferrals := make([]royalty.Deferral, 0, len(rows))
	for _, row := range rows {
		deferral, err := mapDeferral(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDeferral, errorCodeInvalid, err)
		}
		deferrals = append(deferrals, deferral)
	}
	return deferrals, nil
}

func (store *Store) MarkDeferralsCarried(ctx context.Context, deferralIDs []string, intoRunID royalty.RunID) error {
	if len(deferralIDs) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).
		Model(&RoyaltyDeferral{}).
		Where("deferral_id IN ?", deferralIDs).
		Update("carried_into_run_id", intoRunID.String()).Error
	if err != nil {
		return wrapStoreError(errorSubjectDeferral, errorCodeUpdate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return royalty.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

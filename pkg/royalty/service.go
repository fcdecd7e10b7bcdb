package royalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Service contains the royalty calculation and settlement logic over a Store,
// a Locker, a RevenueSource, and an AuditSink. Constructed once at process
// start and shared by handlers and job workers.
type Service struct {
	store   Store
	revenue RevenueSource
	locker  Locker
	audit   AuditSink
	nowFn   func() time.Time
	logger  OperationLogger

	platformFeeBps     BasisPoints
	minimumPayoutCents AmountCents
	lockPolicy         LockPolicy
	disputeWindow      time.Duration
}

// NewService wires a Service.
func NewService(store Store, revenue RevenueSource, locker Locker, audit AuditSink, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if revenue == nil {
		return nil, fmt.Errorf("%w: revenue source dependency is nil", ErrInvalidServiceConfig)
	}
	if locker == nil {
		return nil, fmt.Errorf("%w: locker dependency is nil", ErrInvalidServiceConfig)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit sink dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:              store,
		revenue:            revenue,
		locker:             locker,
		audit:              audit,
		nowFn:              now,
		platformFeeBps:     defaultPlatformFeeBps,
		minimumPayoutCents: defaultMinimumPayoutCents,
		lockPolicy:         defaultLockPolicy(),
		disputeWindow:      defaultDisputeWindow,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateRun registers a draft run for a settlement period. The period must be
// fully elapsed and must not overlap any existing run's period.
func (service *Service) CreateRun(ctx context.Context, period Period, actor ActorID, notes string) (RoyaltyRun, error) {
	run, operationError := service.createRun(ctx, period, actor, notes)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateRun,
		RunID:     run.ID,
		Actor:     actor,
		Error:     operationError,
	})
	return run, operationError
}

func (service *Service) createRun(ctx context.Context, period Period, actor ActorID, notes string) (RoyaltyRun, error) {
	now := service.nowFn().UTC()
	if period.End().After(now) {
		return RoyaltyRun{}, WrapError(operationCreateRun, "run", "period", ErrPeriodInFuture)
	}
	_, overlaps, err := service.store.FindRunOverlapping(ctx, period)
	if err != nil {
		return RoyaltyRun{}, WrapError(operationCreateRun, "run", "lookup", err)
	}
	if overlaps {
		return RoyaltyRun{}, WrapError(operationCreateRun, "run", "period", ErrPeriodOverlap)
	}
	runID, err := NewRunID(uuid.NewString())
	if err != nil {
		return RoyaltyRun{}, err
	}
	run := RoyaltyRun{
		ID:        runID,
		Period:    period,
		Status:    RunStatusDraft,
		CreatedBy: actor,
		Notes:     notes,
	}
	if err := service.store.CreateRun(ctx, run); err != nil {
		return RoyaltyRun{}, WrapError(operationCreateRun, "run", "create", err)
	}
	if err := service.appendAudit(ctx, actor, auditEntityRun, runID.String(), auditActionCreated, nil, snapshotRun(run)); err != nil {
		return run, WrapError(operationCreateRun, "audit", "append", err)
	}
	return run, nil
}

// CalculateRun computes all statements and lines for a run under the per-run
// distributed lock. Recalculation of a draft or stale-processing run is
// deterministic and idempotent; a run that is already calculated is a no-op.
func (service *Service) CalculateRun(ctx context.Context, runID RunID, actor ActorID) (RunSummary, error) {
	lease, err := service.acquireRunLock(ctx, runID)
	if err != nil {
		operationError := WrapError(operationCalculateRun, "lock", "acquire", err)
		service.logOperation(ctx, OperationLog{
			Operation: operationCalculateRun,
			RunID:     runID,
			Actor:     actor,
			Error:     operationError,
		})
		return RunSummary{}, operationError
	}
	summary, operationError := service.calculateHoldingLock(ctx, runID, actor)
	// Ownership-checked release; a stale token is a no-op and the TTL
	// reclaims the key if the release itself fails.
	_ = lease.Release(ctx)
	service.logOperation(ctx, OperationLog{
		Operation:   operationCalculateRun,
		RunID:       runID,
		Actor:       actor,
		AmountCents: summary.TotalRoyaltiesCents,
		Error:       operationError,
	})
	return summary, operationError
}

func (service *Service) acquireRunLock(ctx context.Context, runID RunID) (Lease, error) {
	key := RunLockKey(runID)
	var lastErr error
	for attempt := 0; ; attempt++ {
		lease, err := service.locker.Acquire(ctx, key, service.lockPolicy.TTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			// Backend failure: fail closed, surfaced as retryable.
			return nil, fmt.Errorf("%w: lock backend: %v", ErrLockNotAcquired, err)
		}
		lastErr = err
		if attempt >= service.lockPolicy.MaxRetries {
			return nil, lastErr
		}
		timer := time.NewTimer(service.lockPolicy.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (service *Service) calculateHoldingLock(ctx context.Context, runID RunID, actor ActorID) (RunSummary, error) {
	run, err := service.store.GetRun(ctx, runID)
	if err != nil {
		return RunSummary{}, WrapError(operationCalculateRun, "run", "get", err)
	}
	before := snapshotRun(run)

	switch run.Status {
	case RunStatusLocked:
		return RunSummary{}, WrapError(operationCalculateRun, "run", "status", ErrRunLocked)
	case RunStatusCalculated:
		return service.existingSummary(ctx, run)
	case RunStatusDraft:
		if err := service.store.UpdateRunStatus(ctx, runID, RunStatusDraft, RunStatusProcessing); err != nil {
			return RunSummary{}, WrapError(operationCalculateRun, "run", "transition", err)
		}
	case RunStatusProcessing:
		// A prior worker died mid-calculation and its lock expired. Holding
		// the lock now, recomputing from source is safe and reproducible.
	}

	result, err := service.computeRun(ctx, run)
	if err != nil {
		service.revertToDraft(ctx, runID)
		return RunSummary{}, WrapError(operationCalculateRun, "run", "compute", err)
	}

	processedAt := service.nowFn().UTC()
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.DeleteRunResults(ctx, runID); err != nil {
			return err
		}
		for _, creatorResult := range result.creators {
			statementID, err := NewStatementID(uuid.NewString())
			if err != nil {
				return err
			}
			statement := RoyaltyStatement{
				ID:                 statementID,
				RunID:              runID,
				CreatorID:          creatorResult.creator,
				TotalEarningsCents: creatorResult.totalEarnings,
				PlatformFeeCents:   creatorResult.platformFee,
				NetPayableCents:    creatorResult.netPayable,
				Status:             StatementStatusPending,
			}
			if err := txStore.InsertStatement(ctx, statement); err != nil {
				return err
			}
			for _, draft := range creatorResult.lines {
				lineID, err := NewLineID(uuid.NewString())
				if err != nil {
					return err
				}
				draft.ID = lineID
				draft.StatementID = statementID
				draft.RunID = runID
				if err := txStore.InsertLine(ctx, draft); err != nil {
					return err
				}
			}
			if creatorResult.deferred > 0 {
				deferral := Deferral{
					ID:          uuid.NewString(),
					RunID:       runID,
					CreatorID:   creatorResult.creator,
					AmountCents: creatorResult.deferred,
				}
				if err := txStore.CreateDeferral(ctx, deferral); err != nil {
					return err
				}
			}
		}
		if result.adjustmentsConsumed {
			if err := txStore.MarkAdjustmentsConsumed(ctx, runID, processedAt); err != nil {
				return err
			}
		}
		if len(result.carriedDeferralIDs) > 0 {
			if err := txStore.MarkDeferralsCarried(ctx, result.carriedDeferralIDs, runID); err != nil {
				return err
			}
		}
		return txStore.SetRunCalculated(ctx, runID, result.totalRevenue, result.totalRoyalties, processedAt)
	})
	if err != nil {
		service.revertToDraft(ctx, runID)
		return RunSummary{}, WrapError(operationCalculateRun, "run", "persist", err)
	}

	run.Status = RunStatusCalculated
	run.TotalRevenueCents = result.totalRevenue
	run.TotalRoyaltiesCents = result.totalRoyalties
	run.ProcessedAt = &processedAt
	summary := RunSummary{
		RunID:               runID,
		StatementCount:      len(result.creators),
		LineCount:           result.lineCount,
		TotalRevenueCents:   result.totalRevenue,
		TotalRoyaltiesCents: result.totalRoyalties,
		ProcessedAt:         processedAt,
	}
	if err := service.appendAudit(ctx, actor, auditEntityRun, runID.String(), auditActionCalculated, before, snapshotRun(run)); err != nil {
		return summary, WrapError(operationCalculateRun, "audit", "append", err)
	}
	return summary, nil
}

// revertToDraft returns a failed processing run to draft so it can be
// retried. Best effort: the transaction already rolled back, so statement
// state is untouched either way.
func (service *Service) revertToDraft(ctx context.Context, runID RunID) {
	_ = service.store.UpdateRunStatus(ctx, runID, RunStatusProcessing, RunStatusDraft)
}

type creatorResult struct {
	creator       CreatorID
	lines         []RoyaltyLine
	totalEarnings AmountCents
	platformFee   AmountCents
	netPayable    AmountCents
	deferred      AmountCents
}

type runComputation struct {
	creators            []creatorResult
	totalRevenue        AmountCents
	totalRoyalties      AmountCents
	lineCount           int
	carriedDeferralIDs  []string
	adjustmentsConsumed bool
}

// computeRun derives every creator's lines and totals from source records.
// Pure reads; all inputs are sorted so repeated runs over identical inputs
// produce identical results.
func (service *Service) computeRun(ctx context.Context, run RoyaltyRun) (runComputation, error) {
	items, err := service.revenue.ListAttributableRevenue(ctx, run.Period)
	if err != nil {
		return runComputation{}, err
	}
	sort.Slice(items, func(left, right int) bool {
		if items[left].CreatorID.String() != items[right].CreatorID.String() {
			return items[left].CreatorID.String() < items[right].CreatorID.String()
		}
		if items[left].LicenseID.String() != items[right].LicenseID.String() {
			return items[left].LicenseID.String() < items[right].LicenseID.String()
		}
		return items[left].Effective.Start().Before(items[right].Effective.Start())
	})

	linesByCreator := make(map[string][]RoyaltyLine)
	creatorOrder := make([]string, 0)
	creatorIDs := make(map[string]CreatorID)
	appendLine := func(creator CreatorID, line RoyaltyLine) {
		key := creator.String()
		if _, seen := creatorIDs[key]; !seen {
			creatorIDs[key] = creator
			creatorOrder = append(creatorOrder, key)
		}
		linesByCreator[key] = append(linesByCreator[key], line)
	}

	var totalRevenue AmountCents
	for _, item := range items {
		if item.RevenueCents < 0 {
			return runComputation{}, fmt.Errorf("%w: negative revenue for license %s", ErrInvalidAmountCents, item.LicenseID.String())
		}
		attributed, overlap, ok := ProratedRevenue(item, run.Period)
		if !ok {
			continue
		}
		source, err := NewLicenseLineSource(item.LicenseID)
		if err != nil {
			return runComputation{}, err
		}
		appendLine(item.CreatorID, RoyaltyLine{
			IPAssetID:              item.IPAssetID,
			Source:                 source,
			RevenueCents:           attributed,
			ShareBps:               item.ShareBps,
			CalculatedRoyaltyCents: RoyaltyCents(attributed, item.ShareBps),
			Period:                 overlap,
		})
		totalRevenue += attributed
	}

	carried, carriedIDs, err := service.carryoverLines(ctx, run)
	if err != nil {
		return runComputation{}, err
	}
	carriedKeys := make([]string, 0, len(carried))
	for creatorKey := range carried {
		carriedKeys = append(carriedKeys, creatorKey)
	}
	sort.Strings(carriedKeys)
	for _, creatorKey := range carriedKeys {
		appendLine(creatorIDForKey(creatorKey, creatorIDs), carried[creatorKey])
	}

	adjustments, err := service.store.ListPendingAdjustments(ctx, run.ID)
	if err != nil {
		return runComputation{}, err
	}
	sort.Slice(adjustments, func(left, right int) bool {
		return adjustments[left].ID < adjustments[right].ID
	})
	for _, adjustment := range adjustments {
		source, err := NewAdjustmentLineSource(adjustment.Kind.LineSourceKind())
		if err != nil {
			return runComputation{}, err
		}
		metadata, err := adjustmentMetadata(adjustment)
		if err != nil {
			return runComputation{}, err
		}
		appendLine(adjustment.CreatorID, RoyaltyLine{
			Source:                 source,
			RevenueCents:           adjustment.AmountCents,
			ShareBps:               BasisPoints(basisPointsDenominator),
			CalculatedRoyaltyCents: adjustment.AmountCents,
			Period:                 run.Period,
			Metadata:               metadata,
		})
	}

	computation := runComputation{
		carriedDeferralIDs:  carriedIDs,
		adjustmentsConsumed: len(adjustments) > 0,
		totalRevenue:        totalRevenue,
	}
	sort.Strings(creatorOrder)
	for _, creatorKey := range creatorOrder {
		lines := linesByCreator[creatorKey]
		var earnings AmountCents
		var feeBase AmountCents
		for _, line := range lines {
			earnings += line.CalculatedRoyaltyCents
			// Carried-over amounts are already net of the platform fee from
			// the run that deferred them; charging them again would shrink a
			// below-threshold balance on every re-deferral.
			if line.Source.Kind() != LineSourceCarryover {
				feeBase += line.CalculatedRoyaltyCents
			}
		}
		fee := platformFee(feeBase, service.platformFeeBps)
		net := earnings - fee
		var deferred AmountCents
		if service.minimumPayoutCents > 0 && net > 0 && net < service.minimumPayoutCents {
			deferred = net
			net = 0
			metadata, err := thresholdMetadata(deferred, service.minimumPayoutCents)
			if err != nil {
				return runComputation{}, err
			}
			source, err := NewAdjustmentLineSource(LineSourceThresholdNote)
			if err != nil {
				return runComputation{}, err
			}
			// Recorded but excluded from this period's payable: the note
			// carries zero royalty so statement sums stay exact.
			lines = append(lines, RoyaltyLine{
				Source:                 source,
				RevenueCents:           deferred,
				ShareBps:               0,
				CalculatedRoyaltyCents: 0,
				Period:                 run.Period,
				Metadata:               metadata,
			})
		}
		computation.creators = append(computation.creators, creatorResult{
			creator:       creatorIDs[creatorKey],
			lines:         lines,
			totalEarnings: earnings,
			platformFee:   fee,
			netPayable:    net,
			deferred:      deferred,
		})
		computation.lineCount += len(lines)
		computation.totalRoyalties += earnings
	}
	return computation, nil
}

// carryoverLines folds open deferrals from earlier runs into one CARRYOVER
// line per creator.
func (service *Service) carryoverLines(ctx context.Context, run RoyaltyRun) (map[string]RoyaltyLine, []string, error) {
	deferrals, err := service.store.ListOpenDeferrals(ctx, run.Period.Start())
	if err != nil {
		return nil, nil, err
	}
	if len(deferrals) == 0 {
		return nil, nil, nil
	}
	sort.Slice(deferrals, func(left, right int) bool {
		if deferrals[left].CreatorID.String() != deferrals[right].CreatorID.String() {
			return deferrals[left].CreatorID.String() < deferrals[right].CreatorID.String()
		}
		return deferrals[left].ID < deferrals[right].ID
	})
	totals := make(map[string]AmountCents)
	sources := make(map[string][]string)
	order := make([]string, 0)
	carriedIDs := make([]string, 0, len(deferrals))
	for _, deferral := range deferrals {
		key := deferral.CreatorID.String()
		if _, seen := totals[key]; !seen {
			order = append(order, key)
		}
		totals[key] += deferral.AmountCents
		sources[key] = append(sources[key], deferral.RunID.String())
		carriedIDs = append(carriedIDs, deferral.ID)
	}
	lines := make(map[string]RoyaltyLine, len(order))
	for _, key := range order {
		source, err := NewAdjustmentLineSource(LineSourceCarryover)
		if err != nil {
			return nil, nil, err
		}
		metadata, err := carryoverMetadata(sources[key])
		if err != nil {
			return nil, nil, err
		}
		lines[key] = RoyaltyLine{
			Source:                 source,
			RevenueCents:           totals[key],
			ShareBps:               BasisPoints(basisPointsDenominator),
			CalculatedRoyaltyCents: totals[key],
			Period:                 run.Period,
			Metadata:               metadata,
		}
	}
	return lines, carriedIDs, nil
}

// existingSummary reports an already-calculated run without recomputing it.
func (service *Service) existingSummary(ctx context.Context, run RoyaltyRun) (RunSummary, error) {
	statements, err := service.store.ListStatements(ctx, run.ID)
	if err != nil {
		return RunSummary{}, WrapError(operationCalculateRun, "statement", "list", err)
	}
	lineCount := 0
	for _, statement := range statements {
		lines, err := service.store.ListLines(ctx, statement.ID)
		if err != nil {
			return RunSummary{}, WrapError(operationCalculateRun, "line", "list", err)
		}
		lineCount += len(lines)
	}
	processedAt := service.nowFn().UTC()
	if run.ProcessedAt != nil {
		processedAt = *run.ProcessedAt
	}
	return RunSummary{
		RunID:               run.ID,
		StatementCount:      len(statements),
		LineCount:           lineCount,
		TotalRevenueCents:   run.TotalRevenueCents,
		TotalRoyaltiesCents: run.TotalRoyaltiesCents,
		ProcessedAt:         processedAt,
	}, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) appendAudit(ctx context.Context, actor ActorID, entityKind string, entityID string, action string, before any, after any) error {
	payload := auditPayload(actor, entityKind, entityID, action)
	if before != nil {
		raw, err := json.Marshal(before)
		if err != nil {
			return err
		}
		payload.Before = raw
	}
	if after != nil {
		raw, err := json.Marshal(after)
		if err != nil {
			return err
		}
		payload.After = raw
	}
	_, err := service.audit.Append(ctx, payload)
	return err
}

func adjustmentMetadata(adjustment Adjustment) (MetadataJSON, error) {
	raw, err := json.Marshal(map[string]string{
		"adjustment_id": adjustment.ID,
		"memo":          adjustment.Memo,
		"ref_run_id":    adjustment.RefRunID,
	})
	if err != nil {
		return MetadataJSON{}, err
	}
	return NewMetadataJSON(string(raw))
}

func carryoverMetadata(fromRuns []string) (MetadataJSON, error) {
	raw, err := json.Marshal(map[string]any{"from_runs": fromRuns})
	if err != nil {
		return MetadataJSON{}, err
	}
	return NewMetadataJSON(string(raw))
}

func thresholdMetadata(deferred AmountCents, minimum AmountCents) (MetadataJSON, error) {
	raw, err := json.Marshal(map[string]int64{
		"deferred_cents":       deferred.Int64(),
		"minimum_payout_cents": minimum.Int64(),
	})
	if err != nil {
		return MetadataJSON{}, err
	}
	return NewMetadataJSON(string(raw))
}

func creatorIDForKey(key string, known map[string]CreatorID) CreatorID {
	if creator, ok := known[key]; ok {
		return creator
	}
	creator, _ := NewCreatorID(key)
	return creator
}

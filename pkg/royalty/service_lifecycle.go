package royalty

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ValidateAndLockRun finalizes a calculated run permanently. Admin-only; the
// caller establishes the role. All disputes must resolve first, and statement
// totals must reconcile against the run totals. After locking, no
// recalculation path may target the run.
func (service *Service) ValidateAndLockRun(ctx context.Context, runID RunID, actor ActorID) error {
	operationError := service.validateAndLock(ctx, runID, actor)
	service.logOperation(ctx, OperationLog{
		Operation: operationLockRun,
		RunID:     runID,
		Actor:     actor,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) validateAndLock(ctx context.Context, runID RunID, actor ActorID) error {
	run, err := service.store.GetRun(ctx, runID)
	if err != nil {
		return WrapError(operationLockRun, "run", "get", err)
	}
	if run.Status == RunStatusLocked {
		return WrapError(operationLockRun, "run", "status", fmt.Errorf("%w: already locked", ErrStateConflict))
	}
	if run.Status != RunStatusCalculated {
		return WrapError(operationLockRun, "run", "status",
			fmt.Errorf("%w: run must be in calculated status to lock; current status: %s", ErrStateConflict, run.Status))
	}
	disputed, err := service.store.CountDisputedStatements(ctx, runID)
	if err != nil {
		return WrapError(operationLockRun, "statement", "count", err)
	}
	if disputed > 0 {
		return WrapError(operationLockRun, "statement", "disputed",
			fmt.Errorf("%w: %d disputed statement(s) must be resolved before locking", ErrDisputedStatements, disputed))
	}
	statements, err := service.store.ListStatements(ctx, runID)
	if err != nil {
		return WrapError(operationLockRun, "statement", "list", err)
	}
	var earnings AmountCents
	for _, statement := range statements {
		earnings += statement.TotalEarningsCents
	}
	if earnings != run.TotalRoyaltiesCents {
		return WrapError(operationLockRun, "run", "reconcile",
			fmt.Errorf("%w: statements sum to %d, run records %d", ErrTotalsMismatch, earnings.Int64(), run.TotalRoyaltiesCents.Int64()))
	}

	before := snapshotRun(run)
	lockedAt := service.nowFn().UTC()
	if err := service.store.SetRunLocked(ctx, runID, lockedAt); err != nil {
		return WrapError(operationLockRun, "run", "transition", err)
	}
	run.Status = RunStatusLocked
	run.LockedAt = &lockedAt
	if err := service.appendAudit(ctx, actor, auditEntityRun, runID.String(), auditActionLocked, before, snapshotRun(run)); err != nil {
		return WrapError(operationLockRun, "audit", "append", err)
	}
	return nil
}

// ReviewStatement acknowledges a pending statement.
func (service *Service) ReviewStatement(ctx context.Context, statementID StatementID, actor ActorID) error {
	operationError := service.reviewStatement(ctx, statementID, actor)
	service.logOperation(ctx, OperationLog{
		Operation:   operationReviewStatement,
		StatementID: statementID,
		Actor:       actor,
		Error:       operationError,
	})
	return operationError
}

func (service *Service) reviewStatement(ctx context.Context, statementID StatementID, actor ActorID) error {
	statement, err := service.store.GetStatement(ctx, statementID)
	if err != nil {
		return WrapError(operationReviewStatement, "statement", "get", err)
	}
	if statement.Status != StatementStatusPending {
		return WrapError(operationReviewStatement, "statement", "status",
			fmt.Errorf("%w: statement must be pending to review; current status: %s", ErrStateConflict, statement.Status))
	}
	before := snapshotStatement(statement)
	reviewedAt := service.nowFn().UTC()
	if err := service.store.MarkStatementReviewed(ctx, statementID, StatementStatusPending, reviewedAt); err != nil {
		return WrapError(operationReviewStatement, "statement", "transition", err)
	}
	statement.Status = StatementStatusReviewed
	statement.ReviewedAt = &reviewedAt
	if err := service.appendAudit(ctx, actor, auditEntityStatement, statementID.String(), auditActionReviewed, before, snapshotStatement(statement)); err != nil {
		return WrapError(operationReviewStatement, "audit", "append", err)
	}
	return nil
}

// DisputeStatement opens a dispute on behalf of the owning creator. Only the
// creator the statement belongs to may dispute it; a paid statement is
// disputable only within the post-payment window.
func (service *Service) DisputeStatement(ctx context.Context, statementID StatementID, creator CreatorID, reason DisputeReason) error {
	operationError := service.disputeStatement(ctx, statementID, creator, reason)
	actor, _ := NewActorID(creator.String())
	service.logOperation(ctx, OperationLog{
		Operation:   operationDisputeStatement,
		StatementID: statementID,
		CreatorID:   creator,
		Actor:       actor,
		Error:       operationError,
	})
	return operationError
}

func (service *Service) disputeStatement(ctx context.Context, statementID StatementID, creator CreatorID, reason DisputeReason) error {
	statement, err := service.store.GetStatement(ctx, statementID)
	if err != nil {
		return WrapError(operationDisputeStatement, "statement", "get", err)
	}
	if statement.CreatorID != creator {
		return WrapError(operationDisputeStatement, "statement", "owner", ErrNotStatementOwner)
	}
	now := service.nowFn().UTC()
	from := statement.Status
	switch statement.Status {
	case StatementStatusDisputed:
		return WrapError(operationDisputeStatement, "statement", "status", ErrAlreadyDisputed)
	case StatementStatusResolved:
		return WrapError(operationDisputeStatement, "statement", "status",
			fmt.Errorf("%w: resolved statement cannot be re-disputed", ErrStateConflict))
	case StatementStatusPaid:
		if statement.PaidAt == nil || now.Sub(*statement.PaidAt) > service.disputeWindow {
			return WrapError(operationDisputeStatement, "statement", "window", ErrDisputeWindowClosed)
		}
	case StatementStatusPending, StatementStatusReviewed:
		run, err := service.store.GetRun(ctx, statement.RunID)
		if err != nil {
			return WrapError(operationDisputeStatement, "run", "get", err)
		}
		if run.Status == RunStatusLocked {
			return WrapError(operationDisputeStatement, "run", "status",
				fmt.Errorf("%w: statements under a locked run can only be disputed after payment", ErrStateConflict))
		}
	}

	before := snapshotStatement(statement)
	if err := service.store.MarkStatementDisputed(ctx, statementID, from, reason, now); err != nil {
		return WrapError(operationDisputeStatement, "statement", "transition", err)
	}
	statement.Status = StatementStatusDisputed
	statement.DisputedAt = &now
	statement.DisputeReason = reason.String()
	actor, _ := NewActorID(creator.String())
	if err := service.appendAudit(ctx, actor, auditEntityStatement, statementID.String(), auditActionDisputed, before, snapshotStatement(statement)); err != nil {
		return WrapError(operationDisputeStatement, "audit", "append", err)
	}
	return nil
}

// ResolveDispute closes a dispute with a resolution note. Admin-only.
func (service *Service) ResolveDispute(ctx context.Context, statementID StatementID, actor ActorID, resolution ResolutionNote) error {
	operationError := service.resolveDispute(ctx, statementID, actor, resolution)
	service.logOperation(ctx, OperationLog{
		Operation:   operationResolveDispute,
		StatementID: statementID,
		Actor:       actor,
		Error:       operationError,
	})
	return operationError
}

func (service *Service) resolveDispute(ctx context.Context, statementID StatementID, actor ActorID, resolution ResolutionNote) error {
	statement, err := service.store.GetStatement(ctx, statementID)
	if err != nil {
		return WrapError(operationResolveDispute, "statement", "get", err)
	}
	if statement.Status != StatementStatusDisputed {
		return WrapError(operationResolveDispute, "statement", "status",
			fmt.Errorf("%w: statement must be disputed to resolve; current status: %s", ErrStateConflict, statement.Status))
	}
	before := snapshotStatement(statement)
	resolvedAt := service.nowFn().UTC()
	if err := service.store.MarkStatementResolved(ctx, statementID, resolution, resolvedAt); err != nil {
		return WrapError(operationResolveDispute, "statement", "transition", err)
	}
	statement.Status = StatementStatusResolved
	statement.ResolutionNote = resolution.String()
	if err := service.appendAudit(ctx, actor, auditEntityStatement, statementID.String(), auditActionResolved, before, snapshotStatement(statement)); err != nil {
		return WrapError(operationResolveDispute, "audit", "append", err)
	}
	return nil
}

// MarkStatementPaid records an externally executed payment. The run must be
// locked first: money only moves against finalized statements.
func (service *Service) MarkStatementPaid(ctx context.Context, statementID StatementID, actor ActorID, paymentReference string) error {
	operationError := service.markStatementPaid(ctx, statementID, actor, paymentReference)
	service.logOperation(ctx, OperationLog{
		Operation:   operationMarkPaid,
		StatementID: statementID,
		Actor:       actor,
		Error:       operationError,
	})
	return operationError
}

func (service *Service) markStatementPaid(ctx context.Context, statementID StatementID, actor ActorID, paymentReference string) error {
	if paymentReference == "" {
		return WrapError(operationMarkPaid, "statement", "reference", ErrEmptyPaymentRef)
	}
	statement, err := service.store.GetStatement(ctx, statementID)
	if err != nil {
		return WrapError(operationMarkPaid, "statement", "get", err)
	}
	switch statement.Status {
	case StatementStatusPending, StatementStatusReviewed, StatementStatusResolved:
	default:
		return WrapError(operationMarkPaid, "statement", "status",
			fmt.Errorf("%w: statement cannot be paid from status %s", ErrStateConflict, statement.Status))
	}
	run, err := service.store.GetRun(ctx, statement.RunID)
	if err != nil {
		return WrapError(operationMarkPaid, "run", "get", err)
	}
	if run.Status != RunStatusLocked {
		return WrapError(operationMarkPaid, "run", "status",
			fmt.Errorf("%w: run must be locked before statements are paid; current status: %s", ErrStateConflict, run.Status))
	}
	before := snapshotStatement(statement)
	paidAt := service.nowFn().UTC()
	if err := service.store.MarkStatementPaid(ctx, statementID, statement.Status, paymentReference, paidAt); err != nil {
		return WrapError(operationMarkPaid, "statement", "transition", err)
	}
	statement.Status = StatementStatusPaid
	statement.PaidAt = &paidAt
	statement.PaymentReference = paymentReference
	if err := service.appendAudit(ctx, actor, auditEntityStatement, statementID.String(), auditActionPaid, before, snapshotStatement(statement)); err != nil {
		return WrapError(operationMarkPaid, "audit", "append", err)
	}
	return nil
}

// AddAdjustment registers an operator-entered manual adjustment or correction
// that the next calculation of the run folds into the creator's statement.
func (service *Service) AddAdjustment(ctx context.Context, runID RunID, creator CreatorID, amount AmountCents, kind AdjustmentKind, memo string, refRunID string, actor ActorID) (Adjustment, error) {
	adjustment, operationError := service.addAdjustment(ctx, runID, creator, amount, kind, memo, refRunID, actor)
	service.logOperation(ctx, OperationLog{
		Operation:   operationAddAdjustment,
		RunID:       runID,
		CreatorID:   creator,
		Actor:       actor,
		AmountCents: amount,
		Error:       operationError,
	})
	return adjustment, operationError
}

func (service *Service) addAdjustment(ctx context.Context, runID RunID, creator CreatorID, amount AmountCents, kind AdjustmentKind, memo string, refRunID string, actor ActorID) (Adjustment, error) {
	if amount == 0 {
		return Adjustment{}, WrapError(operationAddAdjustment, "adjustment", "amount", ErrZeroAdjustment)
	}
	if _, err := ParseAdjustmentKind(kind.String()); err != nil {
		return Adjustment{}, WrapError(operationAddAdjustment, "adjustment", "kind", err)
	}
	run, err := service.store.GetRun(ctx, runID)
	if err != nil {
		return Adjustment{}, WrapError(operationAddAdjustment, "run", "get", err)
	}
	if run.Status != RunStatusDraft {
		return Adjustment{}, WrapError(operationAddAdjustment, "run", "status",
			fmt.Errorf("%w: adjustments require a draft run; current status: %s", ErrStateConflict, run.Status))
	}
	adjustment := Adjustment{
		ID:          uuid.NewString(),
		RunID:       runID,
		CreatorID:   creator,
		Kind:        kind,
		AmountCents: amount,
		Memo:        memo,
		RefRunID:    refRunID,
		CreatedBy:   actor,
	}
	if err := service.store.CreateAdjustment(ctx, adjustment); err != nil {
		return Adjustment{}, WrapError(operationAddAdjustment, "adjustment", "create", err)
	}
	if err := service.appendAudit(ctx, actor, auditEntityRun, runID.String(), auditActionAdjusted, nil, adjustment.snapshot()); err != nil {
		return adjustment, WrapError(operationAddAdjustment, "audit", "append", err)
	}
	return adjustment, nil
}

type adjustmentSnapshot struct {
	AdjustmentID string `json:"adjustment_id"`
	RunID        string `json:"run_id"`
	CreatorID    string `json:"creator_id"`
	Kind         string `json:"kind"`
	AmountCents  int64  `json:"amount_cents"`
	Memo         string `json:"memo"`
	RefRunID     string `json:"ref_run_id,omitempty"`
}

func (adjustment Adjustment) snapshot() adjustmentSnapshot {
	return adjustmentSnapshot{
		AdjustmentID: adjustment.ID,
		RunID:        adjustment.RunID.String(),
		CreatorID:    adjustment.CreatorID.String(),
		Kind:         adjustment.Kind.String(),
		AmountCents:  adjustment.AmountCents.Int64(),
		Memo:         adjustment.Memo,
		RefRunID:     adjustment.RefRunID,
	}
}

// GetRun returns a run by id.
func (service *Service) GetRun(ctx context.Context, runID RunID) (RoyaltyRun, error) {
	return service.store.GetRun(ctx, runID)
}

// ListStatements returns the statements computed for a run.
func (service *Service) ListStatements(ctx context.Context, runID RunID) ([]RoyaltyStatement, error) {
	return service.store.ListStatements(ctx, runID)
}

// ListLines returns the lines under a statement.
func (service *Service) ListLines(ctx context.Context, statementID StatementID) ([]RoyaltyLine, error) {
	return service.store.ListLines(ctx, statementID)
}

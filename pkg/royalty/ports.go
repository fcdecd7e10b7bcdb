package royalty

import (
	"context"
	"time"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
)

// Store is the persistence contract used by Service. The relational store is
// the single source of truth; WithTx is the unit of atomicity.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateRun(ctx context.Context, run RoyaltyRun) error
	GetRun(ctx context.Context, runID RunID) (RoyaltyRun, error)
	FindRunOverlapping(ctx context.Context, period Period) (RoyaltyRun, bool, error)
	// UpdateRunStatus transitions a run from one status to another and fails
	// with a state conflict when the stored status no longer matches.
	UpdateRunStatus(ctx context.Context, runID RunID, from RunStatus, to RunStatus) error
	// SetRunCalculated records totals and the processing timestamp while
	// transitioning processing -> calculated.
	SetRunCalculated(ctx context.Context, runID RunID, totalRevenue AmountCents, totalRoyalties AmountCents, processedAt time.Time) error
	// SetRunLocked finalizes the run while transitioning calculated -> locked.
	SetRunLocked(ctx context.Context, runID RunID, lockedAt time.Time) error
	// RequeueStaleProcessing flips runs stuck in processing longer than the
	// cutoff back to draft so a retrying worker can pick them up.
	RequeueStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error)

	// DeleteRunResults removes all statements and lines for a run so an
	// idempotent recalculation can replace them.
	DeleteRunResults(ctx context.Context, runID RunID) error
	InsertStatement(ctx context.Context, statement RoyaltyStatement) error
	InsertLine(ctx context.Context, line RoyaltyLine) error
	GetStatement(ctx context.Context, statementID StatementID) (RoyaltyStatement, error)
	ListStatements(ctx context.Context, runID RunID) ([]RoyaltyStatement, error)
	ListLines(ctx context.Context, statementID StatementID) ([]RoyaltyLine, error)
	CountDisputedStatements(ctx context.Context, runID RunID) (int64, error)

	MarkStatementReviewed(ctx context.Context, statementID StatementID, from StatementStatus, reviewedAt time.Time) error
	MarkStatementDisputed(ctx context.Context, statementID StatementID, from StatementStatus, reason DisputeReason, disputedAt time.Time) error
	MarkStatementResolved(ctx context.Context, statementID StatementID, resolution ResolutionNote, resolvedAt time.Time) error
	MarkStatementPaid(ctx context.Context, statementID StatementID, from StatementStatus, paymentReference string, paidAt time.Time) error

	CreateAdjustment(ctx context.Context, adjustment Adjustment) error
	ListPendingAdjustments(ctx context.Context, runID RunID) ([]Adjustment, error)
	MarkAdjustmentsConsumed(ctx context.Context, runID RunID, consumedAt time.Time) error

	CreateDeferral(ctx context.Context, deferral Deferral) error
	// ListOpenDeferrals returns deferrals from runs whose period ended at or
	// before the cutoff and that have not been carried into a later run.
	ListOpenDeferrals(ctx context.Context, endedBy time.Time) ([]Deferral, error)
	MarkDeferralsCarried(ctx context.Context, deferralIDs []string, intoRunID RunID) error
}

// RevenueSource supplies revenue-bearing license activity overlapping a
// period. The revenue system itself is an external collaborator.
type RevenueSource interface {
	ListAttributableRevenue(ctx context.Context, period Period) ([]RevenueItem, error)
}

// Lease is a held distributed lock. Release and Extend are ownership-checked:
// a stale or foreign token is a silent no-op, never a forced removal.
type Lease interface {
	Token() string
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

// Locker provides at-most-one-holder semantics for a named resource.
// Acquisition failure (held elsewhere, or backend unreachable: the engine
// fails closed) is reported as ErrLockNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// AuditSink appends hash-chained audit entries for run and statement
// transitions.
type AuditSink interface {
	Append(ctx context.Context, payload auditchain.Payload) (auditchain.Entry, error)
}

// LockPolicy bounds lock acquisition for a calculation.
type LockPolicy struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

func defaultLockPolicy() LockPolicy {
	return LockPolicy{
		TTL:        defaultLockTTL,
		MaxRetries: defaultLockMaxRetries,
		RetryDelay: defaultLockRetryDelay,
	}
}

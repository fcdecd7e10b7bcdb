package royalty

import "time"

const (
	operationCreateRun        = "create_run"
	operationCalculateRun     = "calculate_run"
	operationLockRun          = "lock_run"
	operationReviewStatement  = "review_statement"
	operationDisputeStatement = "dispute_statement"
	operationResolveDispute   = "resolve_dispute"
	operationMarkPaid         = "mark_paid"
	operationAddAdjustment    = "add_adjustment"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// RunLockKeyPrefix prefixes the per-run mutual-exclusion key.
	RunLockKeyPrefix = "royalty-run:"

	basisPointsDenominator = 10000
	halfBasisDenominator   = basisPointsDenominator / 2

	minNarrativeLength = 10

	defaultPlatformFeeBps     = BasisPoints(1000)
	defaultMinimumPayoutCents = AmountCents(0)
	defaultDisputeWindow      = 90 * 24 * time.Hour

	defaultLockTTL        = 5 * time.Minute
	defaultLockMaxRetries = 3
	defaultLockRetryDelay = 250 * time.Millisecond
)

// RunLockKey returns the lock key guarding calculation of a run.
func RunLockKey(runID RunID) string {
	return RunLockKeyPrefix + runID.String()
}

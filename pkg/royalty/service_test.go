package royalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCreateRunRegistersDraft(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	actor := mustActorID(test, "admin-1")

	run, err := fixture.service.CreateRun(context.Background(), februaryPeriod(test), actor, "february settlement")
	if err != nil {
		test.Fatalf("create run: %v", err)
	}
	if run.Status != RunStatusDraft {
		test.Fatalf("expected draft status, got %s", run.Status)
	}
	stored, err := fixture.store.GetRun(context.Background(), run.ID)
	if err != nil {
		test.Fatalf("get run: %v", err)
	}
	if stored.Notes != "february settlement" {
		test.Fatalf("unexpected notes: %q", stored.Notes)
	}
	if len(fixture.audit.payloads) != 1 {
		test.Fatalf("expected 1 audit entry, got %d", len(fixture.audit.payloads))
	}
	if fixture.audit.payloads[0].Action != "created" {
		test.Fatalf("unexpected audit action %q", fixture.audit.payloads[0].Action)
	}
}

func TestCreateRunRejectsUnfinishedPeriod(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	period := mustPeriod(test,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	_, err := fixture.service.CreateRun(context.Background(), period, mustActorID(test, "admin-1"), "")
	if !errors.Is(err, ErrPeriodInFuture) {
		test.Fatalf("expected ErrPeriodInFuture, got %v", err)
	}
}

func TestCreateRunRejectsOverlappingPeriod(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	seedRun(test, fixture.store, "run-existing", februaryPeriod(test), RunStatusLocked)
	overlapping := mustPeriod(test,
		time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	_, err := fixture.service.CreateRun(context.Background(), overlapping, mustActorID(test, "admin-1"), "")
	if !errors.Is(err, ErrPeriodOverlap) {
		test.Fatalf("expected ErrPeriodOverlap, got %v", err)
	}
}

func TestCalculateRunComputesStatements(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	creator := mustCreatorID(test, "creator-1")
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if summary.StatementCount != 1 || summary.LineCount != 1 {
		test.Fatalf("expected 1 statement / 1 line, got %d / %d", summary.StatementCount, summary.LineCount)
	}
	if summary.TotalRevenueCents != 100000 {
		test.Fatalf("expected total revenue 100000, got %d", summary.TotalRevenueCents)
	}
	if summary.TotalRoyaltiesCents != 15000 {
		test.Fatalf("expected total royalties 15000, got %d", summary.TotalRoyaltiesCents)
	}

	statement := fixture.store.statementFor(test, run.ID, creator)
	if statement.TotalEarningsCents != 15000 {
		test.Fatalf("expected earnings 15000, got %d", statement.TotalEarningsCents)
	}
	if statement.PlatformFeeCents != 1500 {
		test.Fatalf("expected 10%% platform fee of 1500, got %d", statement.PlatformFeeCents)
	}
	if statement.NetPayableCents != 13500 {
		test.Fatalf("expected net payable 13500, got %d", statement.NetPayableCents)
	}
	if statement.Status != StatementStatusPending {
		test.Fatalf("expected pending statement, got %s", statement.Status)
	}

	stored, err := fixture.store.GetRun(context.Background(), run.ID)
	if err != nil {
		test.Fatalf("get run: %v", err)
	}
	if stored.Status != RunStatusCalculated {
		test.Fatalf("expected calculated run, got %s", stored.Status)
	}
	if stored.ProcessedAt == nil {
		test.Fatal("expected processed timestamp")
	}
}

func TestCalculateRunSumsLinesPerCreator(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	inside := mustPeriod(test,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500, inside),
		licenseItem(test, "creator-1", "license-2", "asset-2", 40000, 2500, inside),
		licenseItem(test, "creator-2", "license-3", "asset-3", 50000, 1000, inside),
	}

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if summary.StatementCount != 2 || summary.LineCount != 3 {
		test.Fatalf("expected 2 statements / 3 lines, got %d / %d", summary.StatementCount, summary.LineCount)
	}
	first := fixture.store.statementFor(test, run.ID, mustCreatorID(test, "creator-1"))
	if first.TotalEarningsCents != 15000+10000 {
		test.Fatalf("expected creator-1 earnings 25000, got %d", first.TotalEarningsCents)
	}
	second := fixture.store.statementFor(test, run.ID, mustCreatorID(test, "creator-2"))
	if second.TotalEarningsCents != 5000 {
		test.Fatalf("expected creator-2 earnings 5000, got %d", second.TotalEarningsCents)
	}
	if summary.TotalRoyaltiesCents != first.TotalEarningsCents+second.TotalEarningsCents {
		test.Fatalf("run royalties %d do not match statement sum", summary.TotalRoyaltiesCents)
	}
}

func TestCalculateRunIsIdempotentOnceCalculated(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusCalculated)
	run.TotalRevenueCents = 100000
	run.TotalRoyaltiesCents = 15000
	processedAt := testNow.Add(-time.Hour)
	run.ProcessedAt = &processedAt
	fixture.store.runs[run.ID.String()] = run
	creator := mustCreatorID(test, "creator-1")
	seedStatement(test, fixture.store, "st-1", run.ID, creator, StatementStatusPending, 15000, 1500)

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if summary.TotalRoyaltiesCents != 15000 {
		test.Fatalf("expected recorded royalties, got %d", summary.TotalRoyaltiesCents)
	}
	if !summary.ProcessedAt.Equal(processedAt) {
		test.Fatalf("expected original processed timestamp, got %v", summary.ProcessedAt)
	}
	if fixture.store.deleteResultsCalls != 0 {
		test.Fatal("expected no recomputation of an already-calculated run")
	}
}

func TestCalculateRunRecomputesStaleProcessing(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusProcessing)
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if summary.TotalRoyaltiesCents != 15000 {
		test.Fatalf("expected recomputed royalties 15000, got %d", summary.TotalRoyaltiesCents)
	}
}

func TestCalculateRunRejectsLockedRun(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusLocked)

	_, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if !errors.Is(err, ErrRunLocked) {
		test.Fatalf("expected ErrRunLocked, got %v", err)
	}
}

func TestCalculateRunFailsWhenLockHeld(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	fixture.locker.held[RunLockKey(run.ID)] = true

	_, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if !errors.Is(err, ErrLockNotAcquired) {
		test.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	if fixture.locker.acquires != 2 {
		test.Fatalf("expected 1 retry after the initial attempt, got %d acquires", fixture.locker.acquires)
	}
}

func TestCalculateRunFailsClosedOnLockBackendError(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	fixture.locker.acquireErr = errors.New("connection refused")

	_, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if !errors.Is(err, ErrLockNotAcquired) {
		test.Fatalf("expected backend failure surfaced as ErrLockNotAcquired, got %v", err)
	}
	if fixture.locker.acquires != 1 {
		test.Fatalf("expected no retries on backend failure, got %d acquires", fixture.locker.acquires)
	}
}

func TestCalculateRunReleasesLock(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)

	if _, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1")); err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if fixture.locker.releases != 1 {
		test.Fatalf("expected lock released once, got %d", fixture.locker.releases)
	}
	if fixture.locker.held[RunLockKey(run.ID)] {
		test.Fatal("expected lock key free after calculation")
	}
}

func TestCalculateRunPersistFailureRevertsToDraft(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}
	fixture.store.insertLineErr = errors.New("disk full")

	_, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err == nil {
		test.Fatal("expected persist failure")
	}
	stored, getErr := fixture.store.GetRun(context.Background(), run.ID)
	if getErr != nil {
		test.Fatalf("get run: %v", getErr)
	}
	if stored.Status != RunStatusDraft {
		test.Fatalf("expected run reverted to draft, got %s", stored.Status)
	}
	if len(fixture.store.statements) != 0 {
		test.Fatalf("expected no partial statements, got %d", len(fixture.store.statements))
	}
	if fixture.locker.releases != 1 {
		test.Fatal("expected lock released after failed calculation")
	}
}

func TestCalculateRunFoldsPendingAdjustments(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	creator := mustCreatorID(test, "creator-1")
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}
	fixture.store.adjustments["adj-1"] = Adjustment{
		ID:          "adj-1",
		RunID:       run.ID,
		CreatorID:   creator,
		Kind:        AdjustmentKindManual,
		AmountCents: 500,
		Memo:        "missed stream bonus",
		CreatedBy:   mustActorID(test, "admin-1"),
	}

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if summary.LineCount != 2 {
		test.Fatalf("expected license line plus adjustment line, got %d", summary.LineCount)
	}
	statement := fixture.store.statementFor(test, run.ID, creator)
	if statement.TotalEarningsCents != 15500 {
		test.Fatalf("expected earnings 15500 with adjustment, got %d", statement.TotalEarningsCents)
	}
	adjustment := fixture.store.adjustments["adj-1"]
	if adjustment.ConsumedAt == nil {
		test.Fatal("expected adjustment marked consumed")
	}
	lines, err := fixture.store.ListLines(context.Background(), statement.ID)
	if err != nil {
		test.Fatalf("list lines: %v", err)
	}
	var adjustmentLines int
	for _, line := range lines {
		if line.Source.Kind() == LineSourceManualAdjustment {
			adjustmentLines++
			if line.CalculatedRoyaltyCents != 500 {
				test.Fatalf("expected adjustment royalty 500, got %d", line.CalculatedRoyaltyCents)
			}
			if line.ShareBps.Int64() != 10000 {
				test.Fatalf("expected adjustment at full share, got %d", line.ShareBps.Int64())
			}
		}
	}
	if adjustmentLines != 1 {
		test.Fatalf("expected exactly one adjustment line, got %d", adjustmentLines)
	}
}

func TestCalculateRunDefersBelowMinimumPayout(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, WithMinimumPayoutCents(20000))
	run := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
	creator := mustCreatorID(test, "creator-1")
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	statement := fixture.store.statementFor(test, run.ID, creator)
	if statement.TotalEarningsCents != 15000 {
		test.Fatalf("expected earnings 15000, got %d", statement.TotalEarningsCents)
	}
	if statement.NetPayableCents != 0 {
		test.Fatalf("expected deferred net payable of 0, got %d", statement.NetPayableCents)
	}
	// Earnings stay on the statement even when the payout is deferred.
	if summary.TotalRoyaltiesCents != 15000 {
		test.Fatalf("expected run royalties 15000, got %d", summary.TotalRoyaltiesCents)
	}

	var deferred *Deferral
	for _, deferral := range fixture.store.deferrals {
		if deferral.CreatorID == creator {
			value := deferral
			deferred = &value
		}
	}
	if deferred == nil {
		test.Fatal("expected a deferral record")
	}
	if deferred.AmountCents != 13500 {
		test.Fatalf("expected deferred net 13500, got %d", deferred.AmountCents)
	}

	lines, err := fixture.store.ListLines(context.Background(), statement.ID)
	if err != nil {
		test.Fatalf("list lines: %v", err)
	}
	var thresholdNotes int
	for _, line := range lines {
		if line.Source.Kind() == LineSourceThresholdNote {
			thresholdNotes++
			if line.CalculatedRoyaltyCents != 0 {
				test.Fatalf("threshold note must carry zero royalty, got %d", line.CalculatedRoyaltyCents)
			}
		}
	}
	if thresholdNotes != 1 {
		test.Fatalf("expected one threshold note line, got %d", thresholdNotes)
	}
}

func TestCalculateRunCarriesDeferralsForward(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, WithPlatformFeeBps(mustBasisPoints(test, 0)))
	priorRun := seedRun(test, fixture.store, "run-january", januaryPeriod(test), RunStatusLocked)
	creator := mustCreatorID(test, "creator-1")
	fixture.store.deferrals["def-1"] = Deferral{
		ID:          "def-1",
		RunID:       priorRun.ID,
		CreatorID:   creator,
		AmountCents: 15500,
	}
	run := seedRun(test, fixture.store, "run-february", februaryPeriod(test), RunStatusDraft)

	summary, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1"))
	if err != nil {
		test.Fatalf("calculate: %v", err)
	}
	if summary.StatementCount != 1 || summary.LineCount != 1 {
		test.Fatalf("expected one carryover statement and line, got %d / %d", summary.StatementCount, summary.LineCount)
	}
	statement := fixture.store.statementFor(test, run.ID, creator)
	if statement.TotalEarningsCents != 15500 {
		test.Fatalf("expected carried earnings 15500, got %d", statement.TotalEarningsCents)
	}
	if statement.NetPayableCents != 15500 {
		test.Fatalf("expected carried net 15500, got %d", statement.NetPayableCents)
	}
	lines, err := fixture.store.ListLines(context.Background(), statement.ID)
	if err != nil {
		test.Fatalf("list lines: %v", err)
	}
	if len(lines) != 1 || lines[0].Source.Kind() != LineSourceCarryover {
		test.Fatalf("expected a single carryover line, got %+v", lines)
	}
	carried := fixture.store.deferrals["def-1"]
	if carried.CarriedIntoRunID != run.ID.String() {
		test.Fatalf("expected deferral carried into %s, got %q", run.ID, carried.CarriedIntoRunID)
	}
}

func TestCalculateRunChargesNoFeeOnCarryover(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	priorRun := seedRun(test, fixture.store, "run-january", januaryPeriod(test), RunStatusLocked)
	creator := mustCreatorID(test, "creator-1")
	// Carried amount is net of the fee charged by the run that deferred it.
	fixture.store.deferrals["def-1"] = Deferral{
		ID:          "def-1",
		RunID:       priorRun.ID,
		CreatorID:   creator,
		AmountCents: 500,
	}
	run := seedRun(test, fixture.store, "run-february", februaryPeriod(test), RunStatusDraft)
	fixture.revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}

	if _, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1")); err != nil {
		test.Fatalf("calculate: %v", err)
	}
	statement := fixture.store.statementFor(test, run.ID, creator)
	if statement.TotalEarningsCents != 15500 {
		test.Fatalf("expected earnings 15500, got %d", statement.TotalEarningsCents)
	}
	if statement.PlatformFeeCents != 1500 {
		test.Fatalf("expected fee on the license portion only, got %d", statement.PlatformFeeCents)
	}
	if statement.NetPayableCents != 14000 {
		test.Fatalf("expected net payable 14000, got %d", statement.NetPayableCents)
	}
}

func TestCalculateRunRedefersCarryoverWithoutDecay(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, WithMinimumPayoutCents(1000))
	priorRun := seedRun(test, fixture.store, "run-january", januaryPeriod(test), RunStatusLocked)
	creator := mustCreatorID(test, "creator-1")
	fixture.store.deferrals["def-1"] = Deferral{
		ID:          "def-1",
		RunID:       priorRun.ID,
		CreatorID:   creator,
		AmountCents: 900,
	}
	run := seedRun(test, fixture.store, "run-february", februaryPeriod(test), RunStatusDraft)

	if _, err := fixture.service.CalculateRun(context.Background(), run.ID, mustActorID(test, "admin-1")); err != nil {
		test.Fatalf("calculate: %v", err)
	}
	statement := fixture.store.statementFor(test, run.ID, creator)
	if statement.PlatformFeeCents != 0 {
		test.Fatalf("expected no fee on a pure carryover, got %d", statement.PlatformFeeCents)
	}
	if statement.NetPayableCents != 0 {
		test.Fatalf("expected net payable of 0 below the minimum, got %d", statement.NetPayableCents)
	}
	var redeferred *Deferral
	for _, deferral := range fixture.store.deferrals {
		if deferral.RunID == run.ID {
			value := deferral
			redeferred = &value
		}
	}
	if redeferred == nil {
		test.Fatal("expected the balance to be deferred again")
	}
	if redeferred.AmountCents != 900 {
		test.Fatalf("expected the full 900 re-deferred, got %d", redeferred.AmountCents)
	}
}

func TestCalculateRunIsDeterministic(test *testing.T) {
	test.Parallel()
	inside := mustPeriod(test,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))
	items := []RevenueItem{
		licenseItem(test, "creator-2", "license-3", "asset-3", 50000, 1000, inside),
		licenseItem(test, "creator-1", "license-2", "asset-2", 40000, 2500, inside),
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500, inside),
	}

	run := func(shuffled []RevenueItem) RunSummary {
		fixture := newServiceFixture(test)
		seeded := seedRun(test, fixture.store, "run-1", februaryPeriod(test), RunStatusDraft)
		fixture.revenue.items = shuffled
		summary, err := fixture.service.CalculateRun(context.Background(), seeded.ID, mustActorID(test, "admin-1"))
		if err != nil {
			test.Fatalf("calculate: %v", err)
		}
		return summary
	}

	forward := run(items)
	reversed := run([]RevenueItem{items[2], items[1], items[0]})
	if forward.TotalRoyaltiesCents != reversed.TotalRoyaltiesCents || forward.TotalRevenueCents != reversed.TotalRevenueCents {
		test.Fatalf("input order changed totals: %+v vs %+v", forward, reversed)
	}
	if forward.StatementCount != reversed.StatementCount || forward.LineCount != reversed.LineCount {
		test.Fatalf("input order changed counts: %+v vs %+v", forward, reversed)
	}
}

// gateLocker is a mutex-guarded locker for racing callers in-process.
type gateLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (locker *gateLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.held[key] {
		return nil, fmt.Errorf("%w: %s is held", ErrLockNotAcquired, key)
	}
	locker.held[key] = true
	return &gateLease{locker: locker, key: key}, nil
}

type gateLease struct {
	locker *gateLocker
	key    string
}

func (lease *gateLease) Token() string { return "gate-token" }

func (lease *gateLease) Release(ctx context.Context) error {
	lease.locker.mu.Lock()
	defer lease.locker.mu.Unlock()
	delete(lease.locker.held, lease.key)
	return nil
}

func (lease *gateLease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	return true, nil
}

func TestCalculateRunConcurrentCallersComputeOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	revenue := &stubRevenue{}
	audit := &stubAuditSink{}
	locker := &gateLocker{held: make(map[string]bool)}
	service, err := NewService(store, revenue, locker, audit, func() time.Time { return testNow },
		WithLockPolicy(LockPolicy{TTL: time.Second, MaxRetries: 1000, RetryDelay: time.Millisecond}))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	run := seedRun(test, store, "run-1", februaryPeriod(test), RunStatusDraft)
	revenue.items = []RevenueItem{
		licenseItem(test, "creator-1", "license-1", "asset-1", 100000, 1500,
			mustPeriod(test,
				time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC))),
	}
	actor := mustActorID(test, "admin-1")

	var wait sync.WaitGroup
	summaries := make([]RunSummary, 2)
	errs := make([]error, 2)
	for slot := range summaries {
		wait.Add(1)
		go func(slot int) {
			defer wait.Done()
			summaries[slot], errs[slot] = service.CalculateRun(context.Background(), run.ID, actor)
		}(slot)
	}
	wait.Wait()

	for slot, raceErr := range errs {
		if raceErr != nil {
			test.Fatalf("caller %d: %v", slot, raceErr)
		}
		if summaries[slot].TotalRoyaltiesCents != 15000 || summaries[slot].StatementCount != 1 {
			test.Fatalf("caller %d got inconsistent summary: %+v", slot, summaries[slot])
		}
	}
	if store.deleteResultsCalls != 1 {
		test.Fatalf("expected exactly one computation, got %d", store.deleteResultsCalls)
	}
	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		test.Fatalf("get run: %v", err)
	}
	if stored.Status != RunStatusCalculated {
		test.Fatalf("expected calculated run, got %s", stored.Status)
	}
	var calculatedEvents int
	for _, payload := range audit.payloads {
		if payload.Action == auditActionCalculated {
			calculatedEvents++
		}
	}
	if calculatedEvents != 1 {
		test.Fatalf("expected a single calculated audit event, got %d", calculatedEvents)
	}
}

package royalty

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type stubStore struct {
	runs        map[string]RoyaltyRun
	statements  map[string]RoyaltyStatement
	lines       map[string][]RoyaltyLine
	adjustments map[string]Adjustment
	deferrals   map[string]Deferral

	insertLineErr      error
	deleteResultsCalls int
	computeListCalls   int
}

func newStubStore() *stubStore {
	return &stubStore{
		runs:        make(map[string]RoyaltyRun),
		statements:  make(map[string]RoyaltyStatement),
		lines:       make(map[string][]RoyaltyLine),
		adjustments: make(map[string]Adjustment),
		deferrals:   make(map[string]Deferral),
	}
}

func (store *stubStore) clone() *stubStore {
	copied := newStubStore()
	for key, value := range store.runs {
		copied.runs[key] = value
	}
	for key, value := range store.statements {
		copied.statements[key] = value
	}
	for key, value := range store.lines {
		copied.lines[key] = append([]RoyaltyLine(nil), value...)
	}
	for key, value := range store.adjustments {
		copied.adjustments[key] = value
	}
	for key, value := range store.deferrals {
		copied.deferrals[key] = value
	}
	copied.insertLineErr = store.insertLineErr
	return copied
}

func (store *stubStore) adopt(from *stubStore) {
	store.runs = from.runs
	store.statements = from.statements
	store.lines = from.lines
	store.adjustments = from.adjustments
	store.deferrals = from.deferrals
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	transaction := store.clone()
	transaction.deleteResultsCalls = store.deleteResultsCalls
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	store.adopt(transaction)
	store.deleteResultsCalls = transaction.deleteResultsCalls
	return nil
}

func (store *stubStore) CreateRun(ctx context.Context, run RoyaltyRun) error {
	if _, exists := store.runs[run.ID.String()]; exists {
		return fmt.Errorf("%w: duplicate run", ErrStateConflict)
	}
	store.runs[run.ID.String()] = run
	return nil
}

func (store *stubStore) GetRun(ctx context.Context, runID RunID) (RoyaltyRun, error) {
	run, ok := store.runs[runID.String()]
	if !ok {
		return RoyaltyRun{}, ErrRunNotFound
	}
	return run, nil
}

func (store *stubStore) FindRunOverlapping(ctx context.Context, period Period) (RoyaltyRun, bool, error) {
	for _, run := range store.runs {
		if _, overlaps := run.Period.Overlap(period); overlaps {
			return run, true, nil
		}
	}
	return RoyaltyRun{}, false, nil
}

func (store *stubStore) UpdateRunStatus(ctx context.Context, runID RunID, from RunStatus, to RunStatus) error {
	run, ok := store.runs[runID.String()]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != from {
		return fmt.Errorf("%w: run is no longer in %s status", ErrStateConflict, from)
	}
	run.Status = to
	store.runs[runID.String()] = run
	return nil
}

func (store *stubStore) SetRunCalculated(ctx context.Context, runID RunID, totalRevenue AmountCents, totalRoyalties AmountCents, processedAt time.Time) error {
	run, ok := store.runs[runID.String()]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != RunStatusProcessing {
		return fmt.Errorf("%w: run is no longer processing", ErrStateConflict)
	}
	run.Status = RunStatusCalculated
	run.TotalRevenueCents = totalRevenue
	run.TotalRoyaltiesCents = totalRoyalties
	run.ProcessedAt = &processedAt
	store.runs[runID.String()] = run
	return nil
}

func (store *stubStore) SetRunLocked(ctx context.Context, runID RunID, lockedAt time.Time) error {
	run, ok := store.runs[runID.String()]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != RunStatusCalculated {
		return fmt.Errorf("%w: run is no longer calculated", ErrStateConflict)
	}
	run.Status = RunStatusLocked
	run.LockedAt = &lockedAt
	store.runs[runID.String()] = run
	return nil
}

func (store *stubStore) RequeueStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	var requeued int64
	for key, run := range store.runs {
		if run.Status == RunStatusProcessing {
			run.Status = RunStatusDraft
			store.runs[key] = run
			requeued++
		}
	}
	return requeued, nil
}

func (store *stubStore) DeleteRunResults(ctx context.Context, runID RunID) error {
	store.deleteResultsCalls++
	for key, statement := range store.statements {
		if statement.RunID == runID {
			delete(store.statements, key)
			delete(store.lines, key)
		}
	}
	for key, deferral := range store.deferrals {
		if deferral.RunID == runID && deferral.CarriedIntoRunID == "" {
			delete(store.deferrals, key)
		}
	}
	return nil
}

func (store *stubStore) InsertStatement(ctx context.Context, statement RoyaltyStatement) error {
	store.statements[statement.ID.String()] = statement
	return nil
}

func (store *stubStore) InsertLine(ctx context.Context, line RoyaltyLine) error {
	if store.insertLineErr != nil {
		return store.insertLineErr
	}
	store.lines[line.StatementID.String()] = append(store.lines[line.StatementID.String()], line)
	return nil
}

func (store *stubStore) GetStatement(ctx context.Context, statementID StatementID) (RoyaltyStatement, error) {
	statement, ok := store.statements[statementID.String()]
	if !ok {
		return RoyaltyStatement{}, ErrStatementNotFound
	}
	return statement, nil
}

func (store *stubStore) ListStatements(ctx context.Context, runID RunID) ([]RoyaltyStatement, error) {
	statements := make([]RoyaltyStatement, 0)
	for _, statement := range store.statements {
		if statement.RunID == runID {
			statements = append(statements, statement)
		}
	}
	return statements, nil
}

func (store *stubStore) ListLines(ctx context.Context, statementID StatementID) ([]RoyaltyLine, error) {
	return append([]RoyaltyLine(nil), store.lines[statementID.String()]...), nil
}

func (store *stubStore) CountDisputedStatements(ctx context.Context, runID RunID) (int64, error) {
	var disputed int64
	for _, statement := range store.statements {
		if statement.RunID == runID && statement.Status == StatementStatusDisputed {
			disputed++
		}
	}
	return disputed, nil
}

func (store *stubStore) MarkStatementReviewed(ctx context.Context, statementID StatementID, from StatementStatus, reviewedAt time.Time) error {
	return store.transitionStatement(statementID, from, func(statement *RoyaltyStatement) {
		statement.Status = StatementStatusReviewed
		statement.ReviewedAt = &reviewedAt
	})
}

func (store *stubStore) MarkStatementDisputed(ctx context.Context, statementID StatementID, from StatementStatus, reason DisputeReason, disputedAt time.Time) error {
	return store.transitionStatement(statementID, from, func(statement *RoyaltyStatement) {
		statement.Status = StatementStatusDisputed
		statement.DisputedAt = &disputedAt
		statement.DisputeReason = reason.String()
	})
}

func (store *stubStore) MarkStatementResolved(ctx context.Context, statementID StatementID, resolution ResolutionNote, resolvedAt time.Time) error {
	return store.transitionStatement(statementID, StatementStatusDisputed, func(statement *RoyaltyStatement) {
		statement.Status = StatementStatusResolved
		statement.ResolutionNote = resolution.String()
	})
}

func (store *stubStore) MarkStatementPaid(ctx context.Context, statementID StatementID, from StatementStatus, paymentReference string, paidAt time.Time) error {
	return store.transitionStatement(statementID, from, func(statement *RoyaltyStatement) {
		statement.Status = StatementStatusPaid
		statement.PaidAt = &paidAt
		statement.PaymentReference = paymentReference
	})
}

func (store *stubStore) transitionStatement(statementID StatementID, from StatementStatus, apply func(*RoyaltyStatement)) error {
	statement, ok := store.statements[statementID.String()]
	if !ok {
		return ErrStatementNotFound
	}
	if statement.Status != from {
		return fmt.Errorf("%w: statement is no longer in %s status", ErrStateConflict, from)
	}
	apply(&statement)
	store.statements[statementID.String()] = statement
	return nil
}

func (store *stubStore) CreateAdjustment(ctx context.Context, adjustment Adjustment) error {
	store.adjustments[adjustment.ID] = adjustment
	return nil
}

func (store *stubStore) ListPendingAdjustments(ctx context.Context, runID RunID) ([]Adjustment, error) {
	store.computeListCalls++
	pending := make([]Adjustment, 0)
	for _, adjustment := range store.adjustments {
		if adjustment.RunID == runID && adjustment.ConsumedAt == nil {
			pending = append(pending, adjustment)
		}
	}
	return pending, nil
}

func (store *stubStore) MarkAdjustmentsConsumed(ctx context.Context, runID RunID, consumedAt time.Time) error {
	for key, adjustment := range store.adjustments {
		if adjustment.RunID == runID && adjustment.ConsumedAt == nil {
			adjustment.ConsumedAt = &consumedAt
			store.adjustments[key] = adjustment
		}
	}
	return nil
}

func (store *stubStore) CreateDeferral(ctx context.Context, deferral Deferral) error {
	store.deferrals[deferral.ID] = deferral
	return nil
}

func (store *stubStore) ListOpenDeferrals(ctx context.Context, endedBy time.Time) ([]Deferral, error) {
	open := make([]Deferral, 0)
	for _, deferral := range store.deferrals {
		if deferral.CarriedIntoRunID != "" {
			continue
		}
		run, ok := store.runs[deferral.RunID.String()]
		if ok && run.Period.End().After(endedBy) {
			continue
		}
		open = append(open, deferral)
	}
	return open, nil
}

func (store *stubStore) MarkDeferralsCarried(ctx context.Context, deferralIDs []string, intoRunID RunID) error {
	for _, deferralID := range deferralIDs {
		deferral, ok := store.deferrals[deferralID]
		if !ok {
			return fmt.Errorf("%w: deferral %s", ErrNotFound, deferralID)
		}
		deferral.CarriedIntoRunID = intoRunID.String()
		store.deferrals[deferralID] = deferral
	}
	return nil
}

func (store *stubStore) statementFor(test *testing.T, runID RunID, creator CreatorID) RoyaltyStatement {
	test.Helper()
	for _, statement := range store.statements {
		if statement.RunID == runID && statement.CreatorID == creator {
			return statement
		}
	}
	test.Fatalf("no statement for creator %s in run %s", creator, runID)
	return RoyaltyStatement{}
}

type stubRevenue struct {
	items []RevenueItem
	err   error
}

func (revenue *stubRevenue) ListAttributableRevenue(ctx context.Context, period Period) ([]RevenueItem, error) {
	if revenue.err != nil {
		return nil, revenue.err
	}
	return append([]RevenueItem(nil), revenue.items...), nil
}

type stubLocker struct {
	held       map[string]bool
	acquireErr error
	acquires   int
	releases   int
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: make(map[string]bool)}
}

func (locker *stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	locker.acquires++
	if locker.acquireErr != nil {
		return nil, locker.acquireErr
	}
	if locker.held[key] {
		return nil, fmt.Errorf("%w: %s is held", ErrLockNotAcquired, key)
	}
	locker.held[key] = true
	return &stubLease{locker: locker, key: key}, nil
}

type stubLease struct {
	locker *stubLocker
	key    string
}

func (lease *stubLease) Token() string { return "stub-token" }

func (lease *stubLease) Release(ctx context.Context) error {
	delete(lease.locker.held, lease.key)
	lease.locker.releases++
	return nil
}

func (lease *stubLease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	return true, nil
}

type stubAuditSink struct {
	payloads []auditchain.Payload
	err      error
}

func (sink *stubAuditSink) Append(ctx context.Context, payload auditchain.Payload) (auditchain.Entry, error) {
	if sink.err != nil {
		return auditchain.Entry{}, sink.err
	}
	sink.payloads = append(sink.payloads, payload)
	return auditchain.Entry{Sequence: int64(len(sink.payloads))}, nil
}

type serviceFixture struct {
	store   *stubStore
	revenue *stubRevenue
	locker  *stubLocker
	audit   *stubAuditSink
	service *Service
}

func newServiceFixture(test *testing.T, options ...ServiceOption) *serviceFixture {
	test.Helper()
	store := newStubStore()
	revenue := &stubRevenue{}
	locker := newStubLocker()
	audit := &stubAuditSink{}
	base := []ServiceOption{
		WithLockPolicy(LockPolicy{TTL: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond}),
	}
	service, err := NewService(store, revenue, locker, audit, func() time.Time { return testNow }, append(base, options...)...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return &serviceFixture{store: store, revenue: revenue, locker: locker, audit: audit, service: service}
}

func mustRunID(test *testing.T, raw string) RunID {
	test.Helper()
	runID, err := NewRunID(raw)
	if err != nil {
		test.Fatalf("run id %q: %v", raw, err)
	}
	return runID
}

func mustStatementID(test *testing.T, raw string) StatementID {
	test.Helper()
	statementID, err := NewStatementID(raw)
	if err != nil {
		test.Fatalf("statement id %q: %v", raw, err)
	}
	return statementID
}

func mustCreatorID(test *testing.T, raw string) CreatorID {
	test.Helper()
	creatorID, err := NewCreatorID(raw)
	if err != nil {
		test.Fatalf("creator id %q: %v", raw, err)
	}
	return creatorID
}

func mustActorID(test *testing.T, raw string) ActorID {
	test.Helper()
	actorID, err := NewActorID(raw)
	if err != nil {
		test.Fatalf("actor id %q: %v", raw, err)
	}
	return actorID
}

func mustLicenseID(test *testing.T, raw string) LicenseID {
	test.Helper()
	licenseID, err := NewLicenseID(raw)
	if err != nil {
		test.Fatalf("license id %q: %v", raw, err)
	}
	return licenseID
}

func mustIPAssetID(test *testing.T, raw string) IPAssetID {
	test.Helper()
	assetID, err := NewIPAssetID(raw)
	if err != nil {
		test.Fatalf("ip asset id %q: %v", raw, err)
	}
	return assetID
}

func mustPeriod(test *testing.T, start time.Time, end time.Time) Period {
	test.Helper()
	period, err := NewPeriod(start, end)
	if err != nil {
		test.Fatalf("period: %v", err)
	}
	return period
}

func mustBasisPoints(test *testing.T, raw int64) BasisPoints {
	test.Helper()
	points, err := NewBasisPoints(raw)
	if err != nil {
		test.Fatalf("basis points %d: %v", raw, err)
	}
	return points
}

func februaryPeriod(test *testing.T) Period {
	test.Helper()
	return mustPeriod(test,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
}

func januaryPeriod(test *testing.T) Period {
	test.Helper()
	return mustPeriod(test,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
}

func seedRun(test *testing.T, store *stubStore, rawID string, period Period, status RunStatus) RoyaltyRun {
	test.Helper()
	run := RoyaltyRun{
		ID:        mustRunID(test, rawID),
		Period:    period,
		Status:    status,
		CreatedBy: mustActorID(test, "admin-1"),
	}
	store.runs[run.ID.String()] = run
	return run
}

func seedStatement(test *testing.T, store *stubStore, rawID string, runID RunID, creator CreatorID, status StatementStatus, earnings int64, fee int64) RoyaltyStatement {
	test.Helper()
	statement := RoyaltyStatement{
		ID:                 mustStatementID(test, rawID),
		RunID:              runID,
		CreatorID:          creator,
		TotalEarningsCents: AmountCents(earnings),
		PlatformFeeCents:   AmountCents(fee),
		NetPayableCents:    AmountCents(earnings - fee),
		Status:             status,
	}
	store.statements[statement.ID.String()] = statement
	return statement
}

func licenseItem(test *testing.T, creator string, license string, asset string, revenue int64, shareBps int64, effective Period) RevenueItem {
	test.Helper()
	return RevenueItem{
		LicenseID:    mustLicenseID(test, license),
		CreatorID:    mustCreatorID(test, creator),
		IPAssetID:    mustIPAssetID(test, asset),
		RevenueCents: AmountCents(revenue),
		ShareBps:     mustBasisPoints(test, shareBps),
		Effective:    effective,
	}
}

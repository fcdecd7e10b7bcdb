package royalty

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AmountCents is an integer currency amount in cents. Adjustment amounts may
// be negative; revenue and share-derived amounts are validated non-negative
// where the domain requires it.
type AmountCents int64

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewNonNegativeAmountCents validates an amount that must not be negative.
func NewNonNegativeAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// BasisPoints is a revenue share in basis points (10000 = 100%).
type BasisPoints int64

// NewBasisPoints validates a share in [0, 10000].
func NewBasisPoints(raw int64) (BasisPoints, error) {
	if raw < 0 || raw > basisPointsDenominator {
		return 0, fmt.Errorf("%w: must be within [0, %d]", ErrInvalidBasisPoints, basisPointsDenominator)
	}
	return BasisPoints(raw), nil
}

// Int64 returns the raw basis-point value.
func (share BasisPoints) Int64() int64 {
	return int64(share)
}

// Period is a half-open [start, end) time window, held in UTC.
type Period struct {
	start time.Time
	end   time.Time
}

// NewPeriod validates start < end.
func NewPeriod(start time.Time, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, fmt.Errorf("%w: start and end are required", ErrInvalidPeriod)
	}
	startUTC := start.UTC()
	endUTC := end.UTC()
	if !startUTC.Before(endUTC) {
		return Period{}, fmt.Errorf("%w: start must precede end", ErrInvalidPeriod)
	}
	return Period{start: startUTC, end: endUTC}, nil
}

// Start returns the inclusive period start.
func (period Period) Start() time.Time {
	return period.start
}

// End returns the exclusive period end.
func (period Period) End() time.Time {
	return period.end
}

// Seconds returns the elapsed length of the period in whole seconds.
func (period Period) Seconds() int64 {
	return int64(period.end.Sub(period.start) / time.Second)
}

// Overlap returns the intersection of two periods, if any.
func (period Period) Overlap(other Period) (Period, bool) {
	start := period.start
	if other.start.After(start) {
		start = other.start
	}
	end := period.end
	if other.end.Before(end) {
		end = other.end
	}
	if !start.Before(end) {
		return Period{}, false
	}
	return Period{start: start, end: end}, true
}

// IsZero reports whether the period is unset.
func (period Period) IsZero() bool {
	return period.start.IsZero() && period.end.IsZero()
}

// RunID identifies a royalty run.
type RunID struct {
	value string
}

// NewRunID validates and normalizes a run id.
func NewRunID(raw string) (RunID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RunID{}, fmt.Errorf("%w: empty value", ErrInvalidRunID)
	}
	return RunID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RunID) String() string {
	return id.value
}

// StatementID identifies a royalty statement.
type StatementID struct {
	value string
}

// NewStatementID validates and normalizes a statement id.
func NewStatementID(raw string) (StatementID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StatementID{}, fmt.Errorf("%w: empty value", ErrInvalidStatementID)
	}
	return StatementID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id StatementID) String() string {
	return id.value
}

// LineID identifies a royalty line.
type LineID struct {
	value string
}

// NewLineID validates and normalizes a line id.
func NewLineID(raw string) (LineID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return LineID{}, fmt.Errorf("%w: empty value", ErrInvalidLineID)
	}
	return LineID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id LineID) String() string {
	return id.value
}

// CreatorID identifies the creator owed by a statement.
type CreatorID struct {
	value string
}

// NewCreatorID validates and normalizes a creator id.
func NewCreatorID(raw string) (CreatorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CreatorID{}, fmt.Errorf("%w: empty value", ErrInvalidCreatorID)
	}
	return CreatorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CreatorID) String() string {
	return id.value
}

// ActorID identifies the operator or creator performing an operation.
// Authorization (admin / owning creator) is established by the caller.
type ActorID struct {
	value string
}

// NewActorID validates and normalizes an actor id.
func NewActorID(raw string) (ActorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ActorID{}, fmt.Errorf("%w: empty value", ErrInvalidActorID)
	}
	return ActorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ActorID) String() string {
	return id.value
}

// LicenseID identifies a revenue-bearing license.
type LicenseID struct {
	value string
}

// NewLicenseID validates and normalizes a license id.
func NewLicenseID(raw string) (LicenseID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return LicenseID{}, fmt.Errorf("%w: empty value", ErrInvalidLicenseID)
	}
	return LicenseID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id LicenseID) String() string {
	return id.value
}

// IPAssetID identifies the intellectual-property asset a line attributes
// revenue to. Adjustment lines may carry no asset.
type IPAssetID struct {
	value string
}

// NewIPAssetID validates and normalizes an IP asset id.
func NewIPAssetID(raw string) (IPAssetID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IPAssetID{}, fmt.Errorf("%w: empty value", ErrInvalidIPAssetID)
	}
	return IPAssetID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id IPAssetID) String() string {
	return id.value
}

// IsZero reports whether no asset is attached.
func (id IPAssetID) IsZero() bool {
	return id.value == ""
}

// DisputeReason is the creator-supplied explanation for a dispute.
type DisputeReason struct {
	value string
}

// NewDisputeReason validates the reason against the minimum length.
func NewDisputeReason(raw string) (DisputeReason, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minNarrativeLength {
		return DisputeReason{}, fmt.Errorf("%w: at least %d characters required", ErrInvalidDisputeReason, minNarrativeLength)
	}
	return DisputeReason{value: trimmed}, nil
}

// String returns the normalized reason.
func (reason DisputeReason) String() string {
	return reason.value
}

// ResolutionNote is the admin-supplied text closing a dispute.
type ResolutionNote struct {
	value string
}

// NewResolutionNote validates the note against the minimum length.
func NewResolutionNote(raw string) (ResolutionNote, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minNarrativeLength {
		return ResolutionNote{}, fmt.Errorf("%w: at least %d characters required", ErrInvalidResolutionNote, minNarrativeLength)
	}
	return ResolutionNote{value: trimmed}, nil
}

// String returns the normalized note.
func (note ResolutionNote) String() string {
	return note.value
}

// MetadataJSON stores arbitrary line metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// RunStatus defines the royalty-run lifecycle.
type RunStatus string

const (
	RunStatusDraft      RunStatus = "draft"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCalculated RunStatus = "calculated"
	RunStatusLocked     RunStatus = "locked"
)

// ParseRunStatus validates a stored run status.
func ParseRunStatus(raw string) (RunStatus, error) {
	switch RunStatus(raw) {
	case RunStatusDraft, RunStatusProcessing, RunStatusCalculated, RunStatusLocked:
		return RunStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRunStatus, raw)
}

// String returns the status value.
func (status RunStatus) String() string {
	return string(status)
}

// StatementStatus defines the statement lifecycle.
type StatementStatus string

const (
	StatementStatusPending  StatementStatus = "pending"
	StatementStatusReviewed StatementStatus = "reviewed"
	StatementStatusDisputed StatementStatus = "disputed"
	StatementStatusResolved StatementStatus = "resolved"
	StatementStatusPaid     StatementStatus = "paid"
)

// ParseStatementStatus validates a stored statement status.
func ParseStatementStatus(raw string) (StatementStatus, error) {
	switch StatementStatus(raw) {
	case StatementStatusPending, StatementStatusReviewed, StatementStatusDisputed,
		StatementStatusResolved, StatementStatusPaid:
		return StatementStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatementStatus, raw)
}

// String returns the status value.
func (status StatementStatus) String() string {
	return string(status)
}

// LineSourceKind enumerates where a royalty line's amount came from.
type LineSourceKind string

const (
	LineSourceLicense          LineSourceKind = "license"
	LineSourceManualAdjustment LineSourceKind = "manual_adjustment"
	LineSourceCarryover        LineSourceKind = "carryover"
	LineSourceThresholdNote    LineSourceKind = "threshold_note"
	LineSourceCorrection       LineSourceKind = "correction"
)

// String returns the kind value.
func (kind LineSourceKind) String() string {
	return string(kind)
}

// LineSource tags a royalty line as license-backed or as a synthetic
// adjustment. Adjustment lines never join to a license.
type LineSource struct {
	kind      LineSourceKind
	licenseID LicenseID
}

// NewLicenseLineSource builds a source backed by a real license.
func NewLicenseLineSource(licenseID LicenseID) (LineSource, error) {
	if licenseID.String() == "" {
		return LineSource{}, fmt.Errorf("%w: license source requires a license id", ErrInvalidLineSource)
	}
	return LineSource{kind: LineSourceLicense, licenseID: licenseID}, nil
}

// NewAdjustmentLineSource builds a synthetic, non-license-backed source.
func NewAdjustmentLineSource(kind LineSourceKind) (LineSource, error) {
	switch kind {
	case LineSourceManualAdjustment, LineSourceCarryover, LineSourceThresholdNote, LineSourceCorrection:
		return LineSource{kind: kind}, nil
	case LineSourceLicense:
		return LineSource{}, fmt.Errorf("%w: license kind requires NewLicenseLineSource", ErrInvalidLineSource)
	}
	return LineSource{}, fmt.Errorf("%w: %q", ErrInvalidLineSource, kind)
}

// ParseLineSource reconstructs a source from stored kind and license columns.
func ParseLineSource(kind string, licenseID string) (LineSource, error) {
	if LineSourceKind(kind) == LineSourceLicense {
		parsed, err := NewLicenseID(licenseID)
		if err != nil {
			return LineSource{}, fmt.Errorf("%w: license source without license id", ErrInvalidLineSource)
		}
		return NewLicenseLineSource(parsed)
	}
	return NewAdjustmentLineSource(LineSourceKind(kind))
}

// Kind returns the source kind.
func (source LineSource) Kind() LineSourceKind {
	return source.kind
}

// LicenseID returns the backing license when the source is license-backed.
func (source LineSource) LicenseID() (LicenseID, bool) {
	if source.kind != LineSourceLicense {
		return LicenseID{}, false
	}
	return source.licenseID, true
}

// IsAdjustment reports whether the line is synthetic.
func (source LineSource) IsAdjustment() bool {
	return source.kind != LineSourceLicense
}

// RoyaltyRun is one calculation batch for a fixed period.
type RoyaltyRun struct {
	ID                  RunID
	Period              Period
	Status              RunStatus
	TotalRevenueCents   AmountCents
	TotalRoyaltiesCents AmountCents
	CreatedBy           ActorID
	ProcessedAt         *time.Time
	LockedAt            *time.Time
	Notes               string
}

// RoyaltyStatement aggregates the royalty owed to one creator for one run.
type RoyaltyStatement struct {
	ID                 StatementID
	RunID              RunID
	CreatorID          CreatorID
	TotalEarningsCents AmountCents
	PlatformFeeCents   AmountCents
	NetPayableCents    AmountCents
	Status             StatementStatus
	ReviewedAt         *time.Time
	DisputedAt         *time.Time
	DisputeReason      string
	ResolutionNote     string
	PaidAt             *time.Time
	PaymentReference   string
}

// RoyaltyLine is one revenue-attribution or adjustment entry within a
// statement. Lines are immutable once written; corrections append new lines
// in a later run.
type RoyaltyLine struct {
	ID                     LineID
	StatementID            StatementID
	RunID                  RunID
	IPAssetID              IPAssetID
	Source                 LineSource
	RevenueCents           AmountCents
	ShareBps               BasisPoints
	CalculatedRoyaltyCents AmountCents
	Period                 Period
	Metadata               MetadataJSON
}

// RevenueItem is one revenue-bearing license activity record supplied by the
// revenue source.
type RevenueItem struct {
	LicenseID    LicenseID
	CreatorID    CreatorID
	IPAssetID    IPAssetID
	RevenueCents AmountCents
	ShareBps     BasisPoints
	Effective    Period
}

// AdjustmentKind enumerates operator-entered adjustment categories.
type AdjustmentKind string

const (
	AdjustmentKindManual     AdjustmentKind = "manual_adjustment"
	AdjustmentKindCorrection AdjustmentKind = "correction"
)

// ParseAdjustmentKind validates a stored adjustment kind.
func ParseAdjustmentKind(raw string) (AdjustmentKind, error) {
	switch AdjustmentKind(raw) {
	case AdjustmentKindManual, AdjustmentKindCorrection:
		return AdjustmentKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAdjustmentKind, raw)
}

// String returns the kind value.
func (kind AdjustmentKind) String() string {
	return string(kind)
}

// LineSourceKind maps the adjustment onto the line source it produces.
func (kind AdjustmentKind) LineSourceKind() LineSourceKind {
	if kind == AdjustmentKindCorrection {
		return LineSourceCorrection
	}
	return LineSourceManualAdjustment
}

// Adjustment is an operator-entered amount folded into the next calculation
// of its run. Correction adjustments reference the prior run they fix.
type Adjustment struct {
	ID          string
	RunID       RunID
	CreatorID   CreatorID
	Kind        AdjustmentKind
	AmountCents AmountCents
	Memo        string
	RefRunID    string
	CreatedBy   ActorID
	ConsumedAt  *time.Time
}

// Deferral is a below-threshold payable held back from one run and carried
// into a later run as a CARRYOVER line.
type Deferral struct {
	ID               string
	RunID            RunID
	CreatorID        CreatorID
	AmountCents      AmountCents
	CarriedIntoRunID string
}

// RunSummary reports the outcome of a calculation.
type RunSummary struct {
	RunID               RunID
	StatementCount      int
	LineCount           int
	TotalRevenueCents   AmountCents
	TotalRoyaltiesCents AmountCents
	ProcessedAt         time.Time
}

package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RoyaltyRun mirrors the royalty_runs table.
type RoyaltyRun struct {
	RunID               string    `gorm:"type:uuid;primaryKey"`
	PeriodStart         time.Time `gorm:"not null;index:idx_runs_period,priority:1"`
	PeriodEnd           time.Time `gorm:"not null;index:idx_runs_period,priority:2"`
	Status              string    `gorm:"not null;index"`
	TotalRevenueCents   int64     `gorm:"not null;default:0"`
	TotalRoyaltiesCents int64     `gorm:"not null;default:0"`
	CreatedBy           string    `gorm:"not null"`
	ProcessedAt         *time.Time
	LockedAt            *time.Time
	Notes               string
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (RoyaltyRun) TableName() string { return "royalty_runs" }

func (run *RoyaltyRun) BeforeCreate(tx *gorm.DB) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	return nil
}

// RoyaltyStatement mirrors the royalty_statements table.
type RoyaltyStatement struct {
	StatementID        string `gorm:"type:uuid;primaryKey"`
	RunID              string `gorm:"type:uuid;not null;index:idx_statements_run_creator,unique,priority:1"`
	CreatorID          string `gorm:"not null;index:idx_statements_run_creator,unique,priority:2"`
	TotalEarningsCents int64  `gorm:"not null"`
	PlatformFeeCents   int64  `gorm:"not null"`
	NetPayableCents    int64  `gorm:"not null"`
	Status             string `gorm:"not null;index"`
	ReviewedAt         *time.Time
	DisputedAt         *time.Time
	DisputeReason      string
	ResolutionNote     string
	PaidAt             *time.Time
	PaymentReference   string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (RoyaltyStatement) TableName() string { return "royalty_statements" }

func (statement *RoyaltyStatement) BeforeCreate(tx *gorm.DB) error {
	if statement.StatementID == "" {
		statement.StatementID = uuid.NewString()
	}
	return nil
}

// RoyaltyLine mirrors the royalty_lines table. Lines are insert-only.
type RoyaltyLine struct {
	LineID                 string  `gorm:"type:uuid;primaryKey"`
	StatementID            string  `gorm:"type:uuid;not null;index"`
	RunID                  string  `gorm:"type:uuid;not null;index"`
	IPAssetID              *string `gorm:"index"`
	SourceKind             string  `gorm:"not null"`
	LicenseID              *string `gorm:"index"`
	RevenueCents           int64   `gorm:"not null"`
	ShareBps               int64   `gorm:"not null"`
	CalculatedRoyaltyCents int64   `gorm:"not null"`
	PeriodStart            time.Time
	PeriodEnd              time.Time
	Metadata               datatypes.JSON `gorm:"not null"`
	CreatedAt              time.Time      `gorm:"not null"`
}

func (RoyaltyLine) TableName() string { return "royalty_lines" }

func (line *RoyaltyLine) BeforeCreate(tx *gorm.DB) error {
	if line.LineID == "" {
		line.LineID = uuid.NewString()
	}
	return nil
}

// RoyaltyAdjustment mirrors the royalty_adjustments table.
type RoyaltyAdjustment struct {
	AdjustmentID string `gorm:"type:uuid;primaryKey"`
	RunID        string `gorm:"type:uuid;not null;index"`
	CreatorID    string `gorm:"not null"`
	Kind         string `gorm:"not null"`
	AmountCents  int64  `gorm:"not null"`
	Memo         string
	RefRunID     string
	CreatedBy    string `gorm:"not null"`
	ConsumedAt   *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}

func (RoyaltyAdjustment) TableName() string { return "royalty_adjustments" }

// RoyaltyDeferral mirrors the royalty_deferrals table.
type RoyaltyDeferral struct {
	DeferralID       string    `gorm:"type:uuid;primaryKey"`
	RunID            string    `gorm:"type:uuid;not null;index"`
	CreatorID        string    `gorm:"not null;index"`
	AmountCents      int64     `gorm:"not null"`
	CarriedIntoRunID *string   `gorm:"type:uuid"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (RoyaltyDeferral) TableName() string { return "royalty_deferrals" }

// LicenseRevenue mirrors the license_revenue table fed by the licensing
// system; this service only reads it.
type LicenseRevenue struct {
	RevenueID      string    `gorm:"type:uuid;primaryKey"`
	LicenseID      string    `gorm:"not null;index"`
	CreatorID      string    `gorm:"not null;index"`
	IPAssetID      string    `gorm:"not null"`
	RevenueCents   int64     `gorm:"not null"`
	ShareBps       int64     `gorm:"not null"`
	EffectiveStart time.Time `gorm:"not null;index:idx_license_revenue_effective,priority:1"`
	EffectiveEnd   time.Time `gorm:"not null;index:idx_license_revenue_effective,priority:2"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (LicenseRevenue) TableName() string { return "license_revenue" }

func (revenue *LicenseRevenue) BeforeCreate(tx *gorm.DB) error {
	if revenue.RevenueID == "" {
		revenue.RevenueID = uuid.NewString()
	}
	return nil
}

// AuditEntry mirrors the append-only audit_entries table.
type AuditEntry struct {
	EntryID    string `gorm:"type:uuid;primaryKey"`
	Sequence   int64  `gorm:"not null;uniqueIndex:uniq_audit_sequence"`
	Actor      string `gorm:"not null"`
	EntityKind string `gorm:"not null;index:idx_audit_entity,priority:1"`
	EntityID   string `gorm:"not null;index:idx_audit_entity,priority:2"`
	Action     string `gorm:"not null"`
	Before     datatypes.JSON
	After      datatypes.JSON
	PrevHash   string    `gorm:"size:64;not null"`
	Hash       string    `gorm:"size:64;not null"`
	RecordedAt time.Time `gorm:"not null;index"`
}

func (AuditEntry) TableName() string { return "audit_entries" }

func (entry *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Models lists every table for schema migration.
func Models() []any {
	return []any{
		&RoyaltyRun{},
		&RoyaltyStatement{},
		&RoyaltyLine{},
		&RoyaltyAdjustment{},
		&RoyaltyDeferral{},
		&LicenseRevenue{},
		&AuditEntry{},
	}
}

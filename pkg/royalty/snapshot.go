package royalty

import (
	"time"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
)

const (
	auditEntityRun       = "royalty_run"
	auditEntityStatement = "royalty_statement"

	auditActionCreated    = "created"
	auditActionCalculated = "calculated"
	auditActionLocked     = "locked"
	auditActionReviewed   = "reviewed"
	auditActionDisputed   = "disputed"
	auditActionResolved   = "resolved"
	auditActionPaid       = "paid"
	auditActionAdjusted   = "adjustment_added"
)

func auditPayload(actor ActorID, entityKind string, entityID string, action string) auditchain.Payload {
	return auditchain.Payload{
		Actor:      actor.String(),
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     action,
	}
}

type runSnapshot struct {
	RunID               string `json:"run_id"`
	Status              string `json:"status"`
	PeriodStart         string `json:"period_start"`
	PeriodEnd           string `json:"period_end"`
	TotalRevenueCents   int64  `json:"total_revenue_cents"`
	TotalRoyaltiesCents int64  `json:"total_royalties_cents"`
}

func snapshotRun(run RoyaltyRun) runSnapshot {
	return runSnapshot{
		RunID:               run.ID.String(),
		Status:              run.Status.String(),
		PeriodStart:         run.Period.Start().Format(time.RFC3339),
		PeriodEnd:           run.Period.End().Format(time.RFC3339),
		TotalRevenueCents:   run.TotalRevenueCents.Int64(),
		TotalRoyaltiesCents: run.TotalRoyaltiesCents.Int64(),
	}
}

type statementSnapshot struct {
	StatementID        string `json:"statement_id"`
	RunID              string `json:"run_id"`
	CreatorID          string `json:"creator_id"`
	Status             string `json:"status"`
	TotalEarningsCents int64  `json:"total_earnings_cents"`
	NetPayableCents    int64  `json:"net_payable_cents"`
}

func snapshotStatement(statement RoyaltyStatement) statementSnapshot {
	return statementSnapshot{
		StatementID:        statement.ID.String(),
		RunID:              statement.RunID.String(),
		CreatorID:          statement.CreatorID.String(),
		Status:             statement.Status.String(),
		TotalEarningsCents: statement.TotalEarningsCents.Int64(),
		NetPayableCents:    statement.NetPayableCents.Int64(),
	}
}

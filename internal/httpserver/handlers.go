package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

type createRunRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	Notes       string    `json:"notes"`
}

type runResponse struct {
	RunID               string     `json:"run_id"`
	PeriodStart         time.Time  `json:"period_start"`
	PeriodEnd           time.Time  `json:"period_end"`
	Status              string     `json:"status"`
	TotalRevenueCents   int64      `json:"total_revenue_cents"`
	TotalRoyaltiesCents int64      `json:"total_royalties_cents"`
	CreatedBy           string     `json:"created_by"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
	LockedAt            *time.Time `json:"locked_at,omitempty"`
	Notes               string     `json:"notes,omitempty"`
}

type summaryResponse struct {
	RunID               string    `json:"run_id"`
	StatementCount      int       `json:"statement_count"`
	LineCount           int       `json:"line_count"`
	TotalRevenueCents   int64     `json:"total_revenue_cents"`
	TotalRoyaltiesCents int64     `json:"total_royalties_cents"`
	ProcessedAt         time.Time `json:"processed_at"`
}

type statementResponse struct {
	StatementID        string     `json:"statement_id"`
	RunID              string     `json:"run_id"`
	CreatorID          string     `json:"creator_id"`
	TotalEarningsCents int64      `json:"total_earnings_cents"`
	PlatformFeeCents   int64      `json:"platform_fee_cents"`
	NetPayableCents    int64      `json:"net_payable_cents"`
	Status             string     `json:"status"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	DisputedAt         *time.Time `json:"disputed_at,omitempty"`
	DisputeReason      string     `json:"dispute_reason,omitempty"`
	ResolutionNote     string     `json:"resolution_note,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	PaymentReference   string     `json:"payment_reference,omitempty"`
}

type lineResponse struct {
	LineID                 string    `json:"line_id"`
	StatementID            string    `json:"statement_id"`
	RunID                  string    `json:"run_id"`
	IPAssetID              string    `json:"ip_asset_id,omitempty"`
	SourceKind             string    `json:"source_kind"`
	LicenseID              string    `json:"license_id,omitempty"`
	RevenueCents           int64     `json:"revenue_cents"`
	ShareBps               int64     `json:"share_bps"`
	CalculatedRoyaltyCents int64     `json:"calculated_royalty_cents"`
	PeriodStart            time.Time `json:"period_start"`
	PeriodEnd              time.Time `json:"period_end"`
	Metadata               string    `json:"metadata"`
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

type payRequest struct {
	PaymentReference string `json:"payment_reference" binding:"required"`
}

type adjustmentRequest struct {
	CreatorID   string `json:"creator_id" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	Memo        string `json:"memo"`
	RefRunID    string `json:"ref_run_id"`
}

type adjustmentResponse struct {
	AdjustmentID string `json:"adjustment_id"`
	RunID        string `json:"run_id"`
	CreatorID    string `json:"creator_id"`
	Kind         string `json:"kind"`
	AmountCents  int64  `json:"amount_cents"`
	Memo         string `json:"memo,omitempty"`
	RefRunID     string `json:"ref_run_id,omitempty"`
}

type verifyRequest struct {
	FromSequence int64      `json:"from_sequence"`
	ToSequence   int64      `json:"to_sequence"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	BatchSize    int        `json:"batch_size"`
}

type verifyResponse struct {
	IsValid      bool                  `json:"is_valid"`
	TotalChecked int64                 `json:"total_checked"`
	FirstInvalid *invalidEntryResponse `json:"first_invalid,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

type invalidEntryResponse struct {
	Sequence     int64  `json:"sequence"`
	StoredHash   string `json:"stored_hash"`
	ExpectedHash string `json:"expected_hash"`
	Reason       string `json:"reason"`
}

func (server *Server) handleCreateRun(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	var request createRunRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	period, err := royalty.NewPeriod(request.PeriodStart, request.PeriodEnd)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	run, err := server.service.CreateRun(ctx.Request.Context(), period, actor, request.Notes)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, mapRunResponse(run))
}

func (server *Server) handleGetRun(ctx *gin.Context) {
	runID, err := royalty.NewRunID(ctx.Param("run_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	run, err := server.service.GetRun(ctx.Request.Context(), runID)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapRunResponse(run))
}

func (server *Server) handleCalculateRun(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	runID, err := royalty.NewRunID(ctx.Param("run_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	summary, err := server.service.CalculateRun(ctx.Request.Context(), runID, actor)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summaryResponse{
		RunID:               summary.RunID.String(),
		StatementCount:      summary.StatementCount,
		LineCount:           summary.LineCount,
		TotalRevenueCents:   summary.TotalRevenueCents.Int64(),
		TotalRoyaltiesCents: summary.TotalRoyaltiesCents.Int64(),
		ProcessedAt:         summary.ProcessedAt,
	})
}

func (server *Server) handleLockRun(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	runID, err := royalty.NewRunID(ctx.Param("run_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	if err := server.service.ValidateAndLockRun(ctx.Request.Context(), runID, actor); err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "locked"})
}

func (server *Server) handleListStatements(ctx *gin.Context) {
	runID, err := royalty.NewRunID(ctx.Param("run_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	statements, err := server.service.ListStatements(ctx.Request.Context(), runID)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	responses := make([]statementResponse, 0, len(statements))
	for _, statement := range statements {
		responses = append(responses, mapStatementResponse(statement))
	}
	ctx.JSON(http.StatusOK, gin.H{"statements": responses})
}

func (server *Server) handleListLines(ctx *gin.Context) {
	statementID, err := royalty.NewStatementID(ctx.Param("statement_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	lines, err := server.service.ListLines(ctx.Request.Context(), statementID)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	responses := make([]lineResponse, 0, len(lines))
	for _, line := range lines {
		responses = append(responses, mapLineResponse(line))
	}
	ctx.JSON(http.StatusOK, gin.H{"lines": responses})
}

func (server *Server) handleReviewStatement(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	statementID, err := royalty.NewStatementID(ctx.Param("statement_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	if err := server.service.ReviewStatement(ctx.Request.Context(), statementID, actor); err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "reviewed"})
}

// handleDisputeStatement treats the forwarded actor identity as the creator:
// only the statement owner may dispute, and the service enforces ownership.
func (server *Server) handleDisputeStatement(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	statementID, err := royalty.NewStatementID(ctx.Param("statement_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	var request disputeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason, err := royalty.NewDisputeReason(request.Reason)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	creator, err := royalty.NewCreatorID(actor.String())
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	if err := server.service.DisputeStatement(ctx.Request.Context(), statementID, creator, reason); err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "disputed"})
}

func (server *Server) handleResolveDispute(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	statementID, err := royalty.NewStatementID(ctx.Param("statement_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	var request resolveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resolution, err := royalty.NewResolutionNote(request.Resolution)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	if err := server.service.ResolveDispute(ctx.Request.Context(), statementID, actor, resolution); err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (server *Server) handleMarkStatementPaid(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	statementID, err := royalty.NewStatementID(ctx.Param("statement_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	var request payRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := server.service.MarkStatementPaid(ctx.Request.Context(), statementID, actor, request.PaymentReference); err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "paid"})
}

func (server *Server) handleAddAdjustment(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}
	runID, err := royalty.NewRunID(ctx.Param("run_id"))
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	creator, err := royalty.NewCreatorID(request.CreatorID)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	kind, err := royalty.ParseAdjustmentKind(request.Kind)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	adjustment, err := server.service.AddAdjustment(ctx.Request.Context(), runID, creator,
		royalty.AmountCents(request.AmountCents), kind, request.Memo, request.RefRunID, actor)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, adjustmentResponse{
		AdjustmentID: adjustment.ID,
		RunID:        adjustment.RunID.String(),
		CreatorID:    adjustment.CreatorID.String(),
		Kind:         adjustment.Kind.String(),
		AmountCents:  adjustment.AmountCents.Int64(),
		Memo:         adjustment.Memo,
		RefRunID:     adjustment.RefRunID,
	})
}

func (server *Server) handleVerifyAudit(ctx *gin.Context) {
	var request verifyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (request.StartTime == nil) != (request.EndTime == nil) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "start_time and end_time must be provided together"})
		return
	}
	options := auditchain.VerifyOptions{
		FromSequence: request.FromSequence,
		ToSequence:   request.ToSequence,
		BatchSize:    request.BatchSize,
	}
	if request.StartTime != nil && request.EndTime != nil {
		window, found, err := server.verifier.WindowBySequence(ctx.Request.Context(), *request.StartTime, *request.EndTime)
		if err != nil {
			server.renderError(ctx, err)
			return
		}
		if !found {
			ctx.JSON(http.StatusOK, verifyResponse{IsValid: true})
			return
		}
		options.FromSequence = window.FromSequence
		options.ToSequence = window.ToSequence
	}
	report, err := server.verifier.VerifyChain(ctx.Request.Context(), options)
	if err != nil {
		server.renderError(ctx, err)
		return
	}
	response := verifyResponse{
		IsValid:      report.IsValid,
		TotalChecked: report.TotalChecked,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
	}
	if report.FirstInvalid != nil {
		response.FirstInvalid = &invalidEntryResponse{
			Sequence:     report.FirstInvalid.Sequence,
			StoredHash:   report.FirstInvalid.StoredHash,
			ExpectedHash: report.FirstInvalid.ExpectedHash,
			Reason:       report.FirstInvalid.Reason,
		}
	}
	ctx.JSON(http.StatusOK, response)
}

func mapRunResponse(run royalty.RoyaltyRun) runResponse {
	return runResponse{
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
}

func mapStatementResponse(statement royalty.RoyaltyStatement) statementResponse {
	return statementResponse{
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
}

func mapLineResponse(line royalty.RoyaltyLine) lineResponse {
	licenseID := ""
	if backing, ok := line.Source.LicenseID(); ok {
		licenseID = backing.String()
	}
	return lineResponse{
		LineID:                 line.ID.String(),
		StatementID:            line.StatementID.String(),
		RunID:                  line.RunID.String(),
		IPAssetID:              line.IPAssetID.String(),
		SourceKind:             line.Source.Kind().String(),
		LicenseID:              licenseID,
		RevenueCents:           line.RevenueCents.Int64(),
		ShareBps:               line.ShareBps.Int64(),
		CalculatedRoyaltyCents: line.CalculatedRoyaltyCents.Int64(),
		PeriodStart:            line.Period.Start(),
		PeriodEnd:              line.Period.End(),
		Metadata:               line.Metadata.String(),
	}
}

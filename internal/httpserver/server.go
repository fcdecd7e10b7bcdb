// Package httpserver exposes the royalty service over a gin HTTP façade.
// Authentication is terminated upstream; the gateway forwards the verified
// actor identity in the X-Actor-Id header.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

const (
	actorHeader     = "X-Actor-Id"
	shutdownTimeout = 5 * time.Second
)

// Config carries the HTTP listener settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server hosts the REST endpoints for runs, statements, and audit
// verification.
type Server struct {
	config   Config
	service  *royalty.Service
	verifier *auditchain.Verifier
	logger   *zap.Logger
}

// New wires a Server. All dependencies are required.
func New(config Config, service *royalty.Service, verifier *auditchain.Verifier, logger *zap.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("httpserver: service dependency is nil")
	}
	if verifier == nil {
		return nil, errors.New("httpserver: verifier dependency is nil")
	}
	if logger == nil {
		return nil, errors.New("httpserver: logger dependency is nil")
	}
	return &Server{config: config, service: service, verifier: verifier, logger: logger}, nil
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("royalty api listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router assembles the gin engine. Exposed separately so tests can drive it
// with httptest.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", actorHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.POST("/runs", server.handleCreateRun)
	api.GET("/runs/:run_id", server.handleGetRun)
	api.POST("/runs/:run_id/calculate", server.handleCalculateRun)
	api.POST("/runs/:run_id/lock", server.handleLockRun)
	api.GET("/runs/:run_id/statements", server.handleListStatements)
	api.POST("/runs/:run_id/adjustments", server.handleAddAdjustment)
	api.GET("/statements/:statement_id/lines", server.handleListLines)
	api.POST("/statements/:statement_id/review", server.handleReviewStatement)
	api.POST("/statements/:statement_id/dispute", server.handleDisputeStatement)
	api.POST("/statements/:statement_id/resolve", server.handleResolveDispute)
	api.POST("/statements/:statement_id/pay", server.handleMarkStatementPaid)
	api.POST("/audit/verify", server.handleVerifyAudit)

	return router
}

func actorFrom(ctx *gin.Context) (royalty.ActorID, bool) {
	actor, err := royalty.NewActorID(ctx.GetHeader(actorHeader))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity"})
		return royalty.ActorID{}, false
	}
	return actor, true
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, royalty.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, royalty.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, royalty.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, royalty.ErrLockNotAcquired):
		return http.StatusServiceUnavailable
	case errors.Is(err, royalty.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (server *Server) renderError(ctx *gin.Context, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

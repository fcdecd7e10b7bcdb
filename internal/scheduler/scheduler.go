// Package scheduler runs the periodic background jobs: audit chain
// verification and requeueing of royalty runs stranded in processing.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/machinesoul11/yg-backend-sub013/pkg/auditchain"
	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

const (
	defaultVerifyInterval  = time.Hour
	defaultRequeueInterval = 5 * time.Minute
	defaultStaleAfter      = 30 * time.Minute
	jobTimeout             = 10 * time.Minute
)

// Config bounds the job cadence. Zero values fall back to defaults.
type Config struct {
	VerifyInterval  time.Duration
	RequeueInterval time.Duration
	// StaleAfter is how long a run may sit in processing before it is
	// treated as abandoned by a dead worker and reset to draft.
	StaleAfter time.Duration
}

func (config Config) withDefaults() Config {
	if config.VerifyInterval <= 0 {
		config.VerifyInterval = defaultVerifyInterval
	}
	if config.RequeueInterval <= 0 {
		config.RequeueInterval = defaultRequeueInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaultStaleAfter
	}
	return config
}

// Manager owns the gocron scheduler and the registered jobs.
type Manager struct {
	config    Config
	scheduler gocron.Scheduler
	store     royalty.Store
	verifier  *auditchain.Verifier
	logger    *zap.Logger
}

// NewManager wires the background jobs. All dependencies are required.
func NewManager(config Config, store royalty.Store, verifier *auditchain.Verifier, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("scheduler: store dependency is nil")
	}
	if verifier == nil {
		return nil, errors.New("scheduler: verifier dependency is nil")
	}
	if logger == nil {
		return nil, errors.New("scheduler: logger dependency is nil")
	}
	cronScheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:    config.withDefaults(),
		scheduler: cronScheduler,
		store:     store,
		verifier:  verifier,
		logger:    logger,
	}, nil
}

// Start registers the jobs and begins scheduling.
func (manager *Manager) Start() error {
	_, err := manager.scheduler.NewJob(
		gocron.DurationJob(manager.config.VerifyInterval),
		gocron.NewTask(manager.runVerify),
		gocron.WithName("audit_chain_verify"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	_, err = manager.scheduler.NewJob(
		gocron.DurationJob(manager.config.RequeueInterval),
		gocron.NewTask(manager.runRequeue),
		gocron.WithName("requeue_stale_processing"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	manager.scheduler.Start()
	manager.logger.Info("scheduler started",
		zap.Duration("verify_interval", manager.config.VerifyInterval),
		zap.Duration("requeue_interval", manager.config.RequeueInterval))
	return nil
}

// Stop shuts the scheduler down and waits for running jobs.
func (manager *Manager) Stop() {
	if err := manager.scheduler.Shutdown(); err != nil {
		manager.logger.Warn("scheduler shutdown error", zap.Error(err))
	}
}

func (manager *Manager) runVerify() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := manager.verifier.VerifyChain(ctx, auditchain.VerifyOptions{})
	if err != nil {
		manager.logger.Error("audit chain verification failed", zap.Error(err))
		return
	}
	if !report.IsValid {
		manager.logger.Error("audit chain integrity violation",
			zap.Int64("first_invalid_sequence", report.FirstInvalid.Sequence),
			zap.String("reason", report.FirstInvalid.Reason),
			zap.Int64("total_checked", report.TotalChecked))
		return
	}
	manager.logger.Info("audit chain verified", zap.Int64("total_checked", report.TotalChecked))
}

func (manager *Manager) runRequeue() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-manager.config.StaleAfter)
	requeued, err := manager.store.RequeueStaleProcessing(ctx, cutoff)
	if err != nil {
		manager.logger.Error("stale run requeue failed", zap.Error(err))
		return
	}
	if requeued > 0 {
		manager.logger.Warn("requeued stale processing runs", zap.Int64("count", requeued))
	}
}

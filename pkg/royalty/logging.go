package royalty

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing royalty operation.
type OperationLog struct {
	Operation   string
	RunID       RunID
	StatementID StatementID
	CreatorID   CreatorID
	Actor       ActorID
	AmountCents AmountCents
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPlatformFeeBps overrides the platform fee share applied to earnings.
func WithPlatformFeeBps(feeBps BasisPoints) ServiceOption {
	return func(service *Service) {
		service.platformFeeBps = feeBps
	}
}

// WithMinimumPayoutCents sets the threshold below which a creator's payable is
// deferred to a later run.
func WithMinimumPayoutCents(minimum AmountCents) ServiceOption {
	return func(service *Service) {
		service.minimumPayoutCents = minimum
	}
}

// WithLockPolicy overrides the per-run lock TTL and acquisition retry policy.
func WithLockPolicy(policy LockPolicy) ServiceOption {
	return func(service *Service) {
		service.lockPolicy = policy
	}
}

// WithDisputeWindow overrides the post-payment dispute window.
func WithDisputeWindow(window time.Duration) ServiceOption {
	return func(service *Service) {
		service.disputeWindow = window
	}
}

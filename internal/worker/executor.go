package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"pingpay/backend/internal/models"
)

// Executor re-verifies transfers handed over by the monitor
type Executor struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewExecutor creates a new re-verification executor
func NewExecutor(manager *WorkerManager) *Executor {
	return &Executor{
		manager: manager,
		logger:  manager.logger.Named("executor"),
	}
}

// Run starts the executor loop
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("Executor started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopping")
			return
		case t, ok := <-e.manager.monitor.readyTransfers:
			if !ok {
				e.logger.Info("Transfer channel closed, executor stopping")
				return
			}
			e.handleTransfer(ctx, t)
		}
	}
}

// handleTransfer retries verification of a single pending transfer
func (e *Executor) handleTransfer(ctx context.Context, t *models.Transfer) {
	defer e.manager.inflight.Delete(t.TransferID)

	logger := e.logger.With(
		zap.String("transfer_id", t.TransferID),
		zap.String("tx_hash", models.StringValue(t.TxHash)),
		zap.Int("verify_attempts", t.VerifyAttempts))

	logger.Info("Re-verifying pending transfer")

	timeout := e.manager.cfg.ReverifyTimeout
	if timeout <= 0 {
		timeout = ReverifyTimeout
	}
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.manager.reverifier.ReverifyPending(verifyCtx, t)
	switch {
	case err == nil:
		logger.Info("Pending transfer settled")
	case errors.Is(err, models.ErrChainUnavailable):
		// Picked up again on the next poll cycle unless retries ran out
		logger.Warn("Chain still unavailable", zap.Error(err))
	case errors.Is(err, models.ErrVerification):
		logger.Warn("Pending transfer failed verification", zap.Error(err))
	default:
		logger.Error("Re-verification failed", zap.Error(err))
	}
}

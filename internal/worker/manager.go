package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pingpay/backend/internal/config"
	"pingpay/backend/internal/models"
)

// Constants for worker configuration
const (
	MonitorTimeout  = 30 * time.Second
	ReverifyTimeout = 3 * time.Minute // used when WorkerConfig.ReverifyTimeout is unset
	queueSize       = 100
)

// PendingLister finds pending transfers whose verification never concluded
type PendingLister interface {
	ListUnverified(ctx context.Context, idleSince time.Time, limit int) ([]models.Transfer, error)
}

// Reverifier retries verification of a pending transfer
type Reverifier interface {
	ReverifyPending(ctx context.Context, transfer *models.Transfer) error
}

// WorkerManager orchestrates background re-verification of pending transfers
type WorkerManager struct {
	cfg    *config.WorkerConfig
	logger *zap.Logger

	lister     PendingLister
	reverifier Reverifier

	// Worker components
	monitor  *Monitor
	executor *Executor

	// Transfers queued or being handled, keyed by transfer id
	inflight sync.Map

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(
	lister PendingLister,
	reverifier Reverifier,
	cfg *config.WorkerConfig,
	logger *zap.Logger,
) *WorkerManager {
	ctx, cancel := context.WithCancel(context.Background())

	wm := &WorkerManager{
		cfg:        cfg,
		logger:     logger.Named("worker"),
		lister:     lister,
		reverifier: reverifier,
		ctx:        ctx,
		cancel:     cancel,
	}

	wm.monitor = NewMonitor(wm)
	wm.executor = NewExecutor(wm)

	return wm
}

// Start starts all worker goroutines
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager",
		zap.Duration("poll_interval", wm.cfg.PollInterval),
		zap.Duration("min_age", wm.cfg.MinAge),
		zap.Int("max_retries", wm.cfg.MaxRetries))

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.monitor.Run(wm.ctx)
	}()

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.executor.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown gracefully stops all workers
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
	}

	wm.logger.Info("Worker manager shutdown complete")
	return nil
}

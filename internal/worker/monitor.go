package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pingpay/backend/internal/models"
)

// Monitor polls the ledger for pending transfers left unverified
type Monitor struct {
	manager *WorkerManager
	logger  *zap.Logger
	now     func() time.Time

	// Channel to send transfers ready for re-verification
	readyTransfers chan *models.Transfer
}

// NewMonitor creates a new pending transfer monitor
func NewMonitor(manager *WorkerManager) *Monitor {
	return &Monitor{
		manager:        manager,
		logger:         manager.logger.Named("monitor"),
		now:            time.Now,
		readyTransfers: make(chan *models.Transfer, queueSize),
	}
}

// Run starts the monitor polling loop
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started",
		zap.Duration("poll_interval", m.manager.cfg.PollInterval))

	ticker := time.NewTicker(m.manager.cfg.PollInterval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			close(m.readyTransfers)
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll executes one polling cycle
func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	defer cancel()

	// Attaching a hash or recording an attempt restarts the idle clock.
	// MinAge is at least one request's verification budget.
	idleSince := m.now().Add(-m.manager.cfg.MinAge)

	transfers, err := m.manager.lister.ListUnverified(pollCtx, idleSince, m.manager.cfg.BatchSize)
	if err != nil {
		m.logger.Error("Failed to list unverified transfers", zap.Error(err))
		return
	}

	if len(transfers) == 0 {
		return
	}

	m.logger.Debug("Checking unverified transfers", zap.Int("count", len(transfers)))

	for i := range transfers {
		t := &transfers[i]

		if _, queued := m.manager.inflight.LoadOrStore(t.TransferID, struct{}{}); queued {
			continue
		}

		select {
		case m.readyTransfers <- t:
		case <-ctx.Done():
			m.manager.inflight.Delete(t.TransferID)
			return
		default:
			m.manager.inflight.Delete(t.TransferID)
			m.logger.Warn("Executor channel full, skipping transfer",
				zap.String("transfer_id", t.TransferID))
		}
	}
}

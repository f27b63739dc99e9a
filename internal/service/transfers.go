package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pingpay/backend/internal/config"
	"pingpay/backend/internal/models"
	"pingpay/backend/internal/notify"
)

const notifyTimeout = 5 * time.Second

// TransferService orchestrates prepare -> verify -> confirm -> notify
type TransferService struct {
	ledger   *TransferLedger
	wallets  *WalletRegistry
	chain    Chain
	notifier notify.Notifier
	cfg      *config.Config
	logger   *zap.Logger
}

// NewTransferService creates a new transfer service
func NewTransferService(
	ledger *TransferLedger,
	wallets *WalletRegistry,
	chain Chain,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *TransferService {
	return &TransferService{
		ledger:   ledger,
		wallets:  wallets,
		chain:    chain,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("transfers"),
	}
}

// Prepare records a pending transfer to the recipient's custodial wallet
func (s *TransferService) Prepare(ctx context.Context, req CreateTransferRequest) (*models.Transfer, error) {
	return s.ledger.Create(ctx, req)
}

// ConfirmTransfer verifies txHash on chain and confirms the transfer.
// A transaction that does not satisfy the transfer fails it; chain
// unavailability leaves it pending for a later retry or the worker.
func (s *TransferService) ConfirmTransfer(ctx context.Context, transferID, txHash string) (*models.Transfer, error) {
	txHash, err := normalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	transfer, err := s.ledger.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}

	switch {
	case isSettled(transfer):
		if models.StringValue(transfer.TxHash) == txHash {
			return transfer, nil
		}
		return nil, transitionConflict(transfer, txHash)
	case transfer.Status == models.TransferStatusFailed:
		return nil, transitionConflict(transfer, txHash)
	}

	attached, err := s.ledger.AttachTxHash(ctx, transfer.TransferID, txHash)
	if err != nil {
		return nil, err
	}
	if isSettled(attached) {
		return attached, nil
	}

	return s.verifyAndSettle(ctx, transfer, txHash)
}

// ReverifyPending retries verification of a transfer left pending by chain
// unavailability. After Worker.MaxRetries inconclusive attempts it is failed.
func (s *TransferService) ReverifyPending(ctx context.Context, transfer *models.Transfer) error {
	if transfer.Status != models.TransferStatusPending || transfer.TxHash == nil {
		return nil
	}

	_, err := s.verifyAndSettle(ctx, transfer, *transfer.TxHash)
	if err == nil || !errors.Is(err, models.ErrChainUnavailable) {
		return err
	}

	current, getErr := s.ledger.Get(ctx, transfer.TransferID)
	if getErr != nil {
		return getErr
	}
	if current.Status != models.TransferStatusPending || current.VerifyAttempts < s.cfg.Worker.MaxRetries {
		return err
	}

	reason := fmt.Sprintf("verification unavailable after %d attempts: %s", current.VerifyAttempts, err.Error())
	if _, failErr := s.ledger.Fail(ctx, transfer.TransferID, reason); failErr != nil {
		return failErr
	}
	return err
}

func (s *TransferService) verifyAndSettle(ctx context.Context, transfer *models.Transfer, txHash string) (*models.Transfer, error) {
	logger := s.logger.With(
		zap.String("transfer_id", transfer.TransferID),
		zap.String("tx_hash", txHash))

	_, err := s.chain.VerifyTransfer(ctx, txHash, transfer.RecipientAddress, transfer.Amount)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrVerification):
		reason := err.Error()
		var verr *models.VerificationError
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		if _, failErr := s.ledger.Fail(ctx, transfer.TransferID, reason); failErr != nil {
			logger.Error("Failed to mark transfer failed", zap.Error(failErr))
		}
		return nil, err
	case errors.Is(err, models.ErrChainUnavailable):
		attempts, recErr := s.ledger.RecordVerifyAttempt(ctx, transfer.TransferID, err.Error())
		if recErr != nil {
			logger.Error("Failed to record verify attempt", zap.Error(recErr))
		}
		logger.Warn("Chain unavailable, transfer left pending",
			zap.Int("verify_attempts", attempts),
			zap.Error(err))
		return nil, err
	default:
		return nil, err
	}

	confirmed, updated, err := s.ledger.confirm(ctx, transfer.TransferID, txHash)
	if err != nil {
		return nil, err
	}
	if updated {
		s.notifyConfirmed(ctx, confirmed)
	}
	return confirmed, nil
}

// notifyConfirmed is best-effort; failures are logged and swallowed
func (s *TransferService) notifyConfirmed(ctx context.Context, transfer *models.Transfer) {
	logger := s.logger.With(zap.String("transfer_id", transfer.TransferID))

	wallet, err := s.wallets.LookupByHandle(ctx, transfer.RecipientHandle)
	if err != nil {
		logger.Warn("Notification skipped, recipient wallet unavailable", zap.Error(err))
		return
	}
	if wallet.NotificationChannel == nil {
		logger.Info("Notification skipped, recipient has no contact channel",
			zap.String("recipient_handle", transfer.RecipientHandle))
		return
	}

	senderHandle := models.StringValue(transfer.SenderHandle)
	txHash := models.StringValue(transfer.TxHash)
	event := notify.TransferConfirmedEvent{
		TransferID:      transfer.TransferID,
		RecipientHandle: transfer.RecipientHandle,
		Channel:         *wallet.NotificationChannel,
		SenderHandle:    senderHandle,
		Amount:          transfer.Amount,
		TxHash:          txHash,
		ClaimURL:        s.ClaimURL(models.StringValue(transfer.ClaimToken)),
		ExplorerURL:     s.chain.ExplorerURL(txHash),
		Message:         notify.FormatMessage(transfer.Amount, senderHandle),
		Timestamp:       time.Now().UTC(),
	}

	// The confirmation already happened; a canceled request must not drop the notice
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.notifier.NotifyTransferConfirmed(notifyCtx, event); err != nil {
		logger.Warn("Notification delivery failed", zap.Error(err))
		return
	}
	logger.Info("Recipient notified", zap.String("recipient_handle", transfer.RecipientHandle))
}

// ClaimURL returns the frontend link for a claim token
func (s *TransferService) ClaimURL(token string) string {
	return s.cfg.Notifications.FrontendURL + "/claim/" + token
}

package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pingpay/backend/internal/blockchain/evm"
	"pingpay/backend/internal/models"
)

const maxTransferIDLength = 128

// CreateTransferRequest is a sender's intent to pay a handle
type CreateTransferRequest struct {
	TransferID      string // optional idempotency key; generated when empty
	SenderAddress   string
	SenderHandle    string
	RecipientHandle string
	Amount          string
}

// TransferLedger is the transfer state machine. All transitions go through
// guarded store updates so concurrent writers resolve to exactly one winner.
type TransferLedger struct {
	store    TransferStore
	wallets  *WalletRegistry
	newToken func() (string, error)
	now      func() time.Time
	logger   *zap.Logger
}

// NewTransferLedger creates a new transfer ledger
func NewTransferLedger(store TransferStore, wallets *WalletRegistry, logger *zap.Logger) *TransferLedger {
	return &TransferLedger{
		store:    store,
		wallets:  wallets,
		newToken: generateClaimToken,
		now:      time.Now,
		logger:   logger.Named("ledger"),
	}
}

// generateClaimToken returns 256 bits of randomness as hex
func generateClaimToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate claim token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ==================== Transitions ====================

// Create persists a pending transfer to the recipient's custodial wallet.
// Re-submitting an existing TransferID with the same parameters returns the
// stored record; different parameters are a conflict.
func (l *TransferLedger) Create(ctx context.Context, req CreateTransferRequest) (*models.Transfer, error) {
	candidate, err := l.validateCreate(req)
	if err != nil {
		return nil, err
	}

	if req.TransferID != "" {
		existing, err := l.store.GetTransferByID(ctx, candidate.TransferID)
		if err != nil {
			return nil, fmt.Errorf("failed to get transfer: %w", err)
		}
		if existing != nil {
			return sameIntent(existing, candidate)
		}
	}

	wallet, _, err := l.wallets.GetOrCreate(ctx, candidate.RecipientHandle)
	if err != nil {
		return nil, err
	}
	candidate.RecipientAddress = wallet.Address

	stored, inserted, err := l.store.InsertTransfer(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return sameIntent(stored, candidate)
	}

	l.logger.Info("Transfer created",
		zap.String("transfer_id", stored.TransferID),
		zap.String("recipient_handle", stored.RecipientHandle),
		zap.String("recipient_address", stored.RecipientAddress),
		zap.String("amount", stored.Amount))

	return stored, nil
}

func (l *TransferLedger) validateCreate(req CreateTransferRequest) (*models.Transfer, error) {
	recipient, err := NormalizeHandle(req.RecipientHandle)
	if err != nil {
		return nil, err
	}

	amount, err := evm.CanonicalAmount(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, err
	}

	sender, err := CanonicalAddress(req.SenderAddress)
	if err != nil {
		return nil, err
	}

	var senderHandle *string
	if strings.TrimSpace(req.SenderHandle) != "" {
		h, err := NormalizeHandle(req.SenderHandle)
		if err != nil {
			return nil, err
		}
		senderHandle = &h
	}

	transferID := strings.TrimSpace(req.TransferID)
	if transferID == "" {
		transferID = uuid.NewString()
	}
	if len(transferID) > maxTransferIDLength {
		return nil, models.Validationf("transfer id longer than %d characters", maxTransferIDLength)
	}

	return &models.Transfer{
		TransferID:      transferID,
		SenderAddress:   sender,
		SenderHandle:    senderHandle,
		RecipientHandle: recipient,
		Amount:          amount,
	}, nil
}

func sameIntent(existing, candidate *models.Transfer) (*models.Transfer, error) {
	if existing.SenderAddress != candidate.SenderAddress ||
		models.StringValue(existing.SenderHandle) != models.StringValue(candidate.SenderHandle) ||
		existing.RecipientHandle != candidate.RecipientHandle ||
		existing.Amount != candidate.Amount {
		return nil, models.Conflictf("transfer %s already exists with different parameters", existing.TransferID)
	}
	return existing, nil
}

// AttachTxHash binds an observed transaction to a pending transfer. A transfer
// already settled by the same transaction is returned as is.
func (l *TransferLedger) AttachTxHash(ctx context.Context, transferID, txHash string) (*models.Transfer, error) {
	txHash, err := normalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	t, ok, err := l.store.AttachTxHash(ctx, transferID, txHash)
	if errors.Is(err, models.ErrConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to attach tx hash: %w", err)
	}
	if ok {
		return t, nil
	}

	current, err := l.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if isSettled(current) && models.StringValue(current.TxHash) == txHash {
		return current, nil
	}
	return nil, transitionConflict(current, txHash)
}

// Confirm moves a pending transfer to confirmed and issues its claim token.
// Repeating it with the same txHash returns the confirmed record unchanged.
func (l *TransferLedger) Confirm(ctx context.Context, transferID, txHash string) (*models.Transfer, error) {
	t, _, err := l.confirm(ctx, transferID, txHash)
	return t, err
}

// confirm also reports whether this call performed the transition
func (l *TransferLedger) confirm(ctx context.Context, transferID, txHash string) (*models.Transfer, bool, error) {
	txHash, err := normalizeTxHash(txHash)
	if err != nil {
		return nil, false, err
	}

	token, err := l.newToken()
	if err != nil {
		return nil, false, err
	}

	t, ok, err := l.store.ConfirmTransfer(ctx, transferID, txHash, token)
	if errors.Is(err, models.ErrConflict) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to confirm transfer: %w", err)
	}
	if ok {
		l.logger.Info("Transfer confirmed",
			zap.String("transfer_id", t.TransferID),
			zap.String("tx_hash", txHash),
			zap.String("claim_token_prefix", tokenPrefix(token)))
		return t, true, nil
	}

	// Guard missed: report the winner's state
	current, err := l.Get(ctx, transferID)
	if err != nil {
		return nil, false, err
	}
	if isSettled(current) && models.StringValue(current.TxHash) == txHash {
		return current, false, nil
	}
	return nil, false, transitionConflict(current, txHash)
}

// Claim moves a confirmed transfer to claimed. Claiming an already claimed
// transfer returns it unchanged.
func (l *TransferLedger) Claim(ctx context.Context, claimToken string) (*models.Transfer, error) {
	t, _, err := l.claim(ctx, claimToken)
	return t, err
}

func (l *TransferLedger) claim(ctx context.Context, claimToken string) (*models.Transfer, bool, error) {
	claimToken = strings.TrimSpace(claimToken)
	if claimToken == "" {
		return nil, false, models.NotFoundf("claim not found")
	}

	t, ok, err := l.store.ClaimTransfer(ctx, claimToken, l.now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim transfer: %w", err)
	}
	if ok {
		l.logger.Info("Transfer claimed",
			zap.String("transfer_id", t.TransferID),
			zap.String("recipient_handle", t.RecipientHandle))
		return t, true, nil
	}

	current, err := l.GetByClaimToken(ctx, claimToken)
	if err != nil {
		return nil, false, err
	}
	if current.Status == models.TransferStatusClaimed {
		return current, false, nil
	}
	return nil, false, models.Conflictf("transfer %s is %s", current.TransferID, current.Status)
}

// Fail moves a pending or confirmed transfer to failed. Failing a failed
// transfer returns it unchanged; a claimed transfer cannot fail.
func (l *TransferLedger) Fail(ctx context.Context, transferID, reason string) (*models.Transfer, error) {
	t, ok, err := l.store.FailTransfer(ctx, transferID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to fail transfer: %w", err)
	}
	if ok {
		l.logger.Warn("Transfer failed",
			zap.String("transfer_id", t.TransferID),
			zap.String("reason", reason))
		return t, nil
	}

	current, err := l.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.TransferStatusFailed {
		return current, nil
	}
	return nil, models.Conflictf("transfer %s is %s and cannot fail", transferID, current.Status)
}

// RecordVerifyAttempt counts an inconclusive verification of a pending transfer
func (l *TransferLedger) RecordVerifyAttempt(ctx context.Context, transferID, lastError string) (int, error) {
	attempts, err := l.store.IncrementVerifyAttempts(ctx, transferID, lastError)
	if err != nil {
		return 0, fmt.Errorf("failed to record verify attempt: %w", err)
	}
	return attempts, nil
}

// ==================== Queries ====================

// Get retrieves a transfer by id
func (l *TransferLedger) Get(ctx context.Context, transferID string) (*models.Transfer, error) {
	t, err := l.store.GetTransferByID(ctx, strings.TrimSpace(transferID))
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	if t == nil {
		return nil, models.NotFoundf("transfer %s not found", transferID)
	}
	return t, nil
}

// GetByClaimToken retrieves a transfer by claim token
func (l *TransferLedger) GetByClaimToken(ctx context.Context, claimToken string) (*models.Transfer, error) {
	claimToken = strings.TrimSpace(claimToken)
	if claimToken == "" {
		return nil, models.NotFoundf("claim not found")
	}

	t, err := l.store.GetTransferByClaimToken(ctx, claimToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	if t == nil {
		return nil, models.NotFoundf("claim not found")
	}
	return t, nil
}

// HistoryByAddress lists confirmed and claimed transfers sent from address, newest first
func (l *TransferLedger) HistoryByAddress(ctx context.Context, address string) ([]models.Transfer, error) {
	address, err := CanonicalAddress(address)
	if err != nil {
		return nil, err
	}
	transfers, err := l.store.ListTransfersBySender(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// HistoryByHandle lists transfers where handle is sender or recipient, newest first
func (l *TransferLedger) HistoryByHandle(ctx context.Context, handle string) ([]models.Transfer, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	transfers, err := l.store.ListTransfersByHandle(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// PendingClaims lists confirmed, unclaimed transfers for a recipient, newest first
func (l *TransferLedger) PendingClaims(ctx context.Context, handle string) ([]models.Transfer, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	transfers, err := l.store.ListPendingClaims(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending claims: %w", err)
	}
	return transfers, nil
}

// ListUnverified returns pending transfers with an attached tx hash that
// have not been touched since idleSince
func (l *TransferLedger) ListUnverified(ctx context.Context, idleSince time.Time, limit int) ([]models.Transfer, error) {
	transfers, err := l.store.ListUnverifiedTransfers(ctx, idleSince, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unverified transfers: %w", err)
	}
	return transfers, nil
}

// ==================== Helpers ====================

func normalizeTxHash(txHash string) (string, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !evm.IsTxHash(txHash) {
		return "", models.Validationf("invalid transaction hash %q", txHash)
	}
	return txHash, nil
}

// tokenPrefix is the only part of a claim token that may be logged
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return ""
	}
	return token[:8]
}

func isSettled(t *models.Transfer) bool {
	return t.Status == models.TransferStatusConfirmed || t.Status == models.TransferStatusClaimed
}

func transitionConflict(current *models.Transfer, txHash string) error {
	switch {
	case current.Status == models.TransferStatusFailed:
		return models.Conflictf("transfer %s has failed: %s", current.TransferID, models.StringValue(current.FailureReason))
	case isSettled(current) && models.StringValue(current.TxHash) != txHash:
		return models.Conflictf("transfer %s is already %s with a different transaction", current.TransferID, current.Status)
	case current.Status == models.TransferStatusPending && current.TxHash != nil && *current.TxHash != txHash:
		return models.Conflictf("transfer %s is bound to a different transaction", current.TransferID)
	default:
		return models.Conflictf("transfer %s is %s", current.TransferID, current.Status)
	}
}

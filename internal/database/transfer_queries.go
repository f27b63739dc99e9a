package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"pingpay/backend/internal/models"
)

const transferColumns = `
	id, transfer_id, sender_address, sender_handle, recipient_handle, recipient_address,
	amount, status, tx_hash, claim_token, claimed_at, failure_reason, verify_attempts,
	last_verify_error, created_at, updated_at`

// ==================== Inserts ====================

// InsertTransfer stores a new pending transfer. When transfer_id already
// exists the stored row is returned with inserted=false.
func (db *DB) InsertTransfer(ctx context.Context, transfer *models.Transfer) (*models.Transfer, bool, error) {
	var (
		stored   models.Transfer
		inserted bool
	)

	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO transfers (
				transfer_id, sender_address, sender_handle, recipient_handle,
				recipient_address, amount, status
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (transfer_id) DO NOTHING
			RETURNING ` + transferColumns
		err := tx.GetContext(
			ctx, &stored, query,
			transfer.TransferID,
			models.NormalizeAddress(transfer.SenderAddress),
			normalizeHandlePtr(transfer.SenderHandle),
			models.NormalizeHandle(transfer.RecipientHandle),
			models.NormalizeAddress(transfer.RecipientAddress),
			transfer.Amount,
			models.TransferStatusPending,
		)
		if err == nil {
			inserted = true
			return nil
		}
		if !isNoRows(err) {
			return err
		}

		// Conflict on transfer_id: hand back the existing record
		return tx.GetContext(ctx, &stored,
			`SELECT `+transferColumns+` FROM transfers WHERE transfer_id = $1`,
			transfer.TransferID)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transfer: %w", err)
	}

	return &stored, inserted, nil
}

// ==================== Lookups ====================

// GetTransferByID retrieves a transfer by transfer_id
func (db *DB) GetTransferByID(ctx context.Context, transferID string) (*models.Transfer, error) {
	return db.getTransfer(ctx, `transfer_id = $1`, transferID)
}

// GetTransferByClaimToken retrieves a transfer by claim token
func (db *DB) GetTransferByClaimToken(ctx context.Context, token string) (*models.Transfer, error) {
	return db.getTransfer(ctx, `claim_token = $1`, token)
}

func (db *DB) getTransfer(ctx context.Context, where string, arg interface{}) (*models.Transfer, error) {
	var transfer models.Transfer
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE ` + where
	err := db.GetContext(ctx, &transfer, query, arg)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// ListTransfersBySender returns confirmed and claimed transfers sent from address
func (db *DB) ListTransfersBySender(ctx context.Context, address string) ([]models.Transfer, error) {
	transfers := []models.Transfer{}
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE sender_address = $1 AND status IN ('confirmed', 'claimed')
		ORDER BY created_at DESC, id DESC
	`
	err := db.SelectContext(ctx, &transfers, query, models.NormalizeAddress(address))
	return transfers, err
}

// ListTransfersByHandle returns transfers where handle is sender or recipient
func (db *DB) ListTransfersByHandle(ctx context.Context, handle string) ([]models.Transfer, error) {
	transfers := []models.Transfer{}
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE sender_handle = $1 OR recipient_handle = $1
		ORDER BY created_at DESC, id DESC
	`
	err := db.SelectContext(ctx, &transfers, query, models.NormalizeHandle(handle))
	return transfers, err
}

// ListPendingClaims returns confirmed, unclaimed transfers for a recipient
func (db *DB) ListPendingClaims(ctx context.Context, handle string) ([]models.Transfer, error) {
	transfers := []models.Transfer{}
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE recipient_handle = $1 AND status = 'confirmed'
		ORDER BY created_at DESC, id DESC
	`
	err := db.SelectContext(ctx, &transfers, query, models.NormalizeHandle(handle))
	return transfers, err
}

// ListUnverifiedTransfers returns pending transfers that have an observed tx hash
// and were last touched before idleSince, least recently touched first.
// Attaching a hash or recording an attempt bumps updated_at.
func (db *DB) ListUnverifiedTransfers(ctx context.Context, idleSince time.Time, limit int) ([]models.Transfer, error) {
	transfers := []models.Transfer{}
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE status = 'pending' AND tx_hash IS NOT NULL AND updated_at < $1
		ORDER BY updated_at ASC, id ASC
		LIMIT $2
	`
	err := db.SelectContext(ctx, &transfers, query, idleSince, limit)
	return transfers, err
}

// ==================== Guarded transitions ====================
//
// Every transition is a single UPDATE guarded by the expected prior status.
// A guard miss returns (nil, false, nil); callers re-read to see the winner.

// AttachTxHash records the observed tx hash on a pending transfer.
// A different hash already attached makes the guard miss; a hash bound
// to another transfer is a conflict.
func (db *DB) AttachTxHash(ctx context.Context, transferID, txHash string) (*models.Transfer, bool, error) {
	query := `
		UPDATE transfers
		SET tx_hash = $2, updated_at = NOW()
		WHERE transfer_id = $1 AND status = 'pending' AND (tx_hash IS NULL OR tx_hash = $2)
		RETURNING ` + transferColumns
	t, ok, err := db.guardedUpdate(ctx, query, transferID, txHash)
	if isUniqueViolation(err, txHashIndex) {
		return nil, false, txHashInUse(txHash)
	}
	return t, ok, err
}

// ConfirmTransfer moves pending -> confirmed and assigns the claim token
func (db *DB) ConfirmTransfer(ctx context.Context, transferID, txHash, claimToken string) (*models.Transfer, bool, error) {
	query := `
		UPDATE transfers
		SET status = 'confirmed', tx_hash = $2, claim_token = $3, last_verify_error = NULL, updated_at = NOW()
		WHERE transfer_id = $1 AND status = 'pending' AND (tx_hash IS NULL OR tx_hash = $2)
		RETURNING ` + transferColumns
	t, ok, err := db.guardedUpdate(ctx, query, transferID, txHash, claimToken)
	if isUniqueViolation(err, txHashIndex) {
		return nil, false, txHashInUse(txHash)
	}
	return t, ok, err
}

// ClaimTransfer moves confirmed -> claimed and stamps claimed_at once
func (db *DB) ClaimTransfer(ctx context.Context, claimToken string, claimedAt time.Time) (*models.Transfer, bool, error) {
	query := `
		UPDATE transfers
		SET status = 'claimed', claimed_at = $2, updated_at = NOW()
		WHERE claim_token = $1 AND status = 'confirmed'
		RETURNING ` + transferColumns
	return db.guardedUpdate(ctx, query, claimToken, claimedAt)
}

// FailTransfer moves pending or confirmed -> failed and drops any claim token
func (db *DB) FailTransfer(ctx context.Context, transferID, reason string) (*models.Transfer, bool, error) {
	query := `
		UPDATE transfers
		SET status = 'failed', failure_reason = $2, claim_token = NULL, updated_at = NOW()
		WHERE transfer_id = $1 AND status IN ('pending', 'confirmed')
		RETURNING ` + transferColumns
	return db.guardedUpdate(ctx, query, transferID, reason)
}

// IncrementVerifyAttempts records an inconclusive verification on a pending transfer
func (db *DB) IncrementVerifyAttempts(ctx context.Context, transferID, lastError string) (int, error) {
	var attempts int
	query := `
		UPDATE transfers
		SET verify_attempts = verify_attempts + 1, last_verify_error = $2, updated_at = NOW()
		WHERE transfer_id = $1 AND status = 'pending'
		RETURNING verify_attempts
	`
	err := db.QueryRowContext(ctx, query, transferID, lastError).Scan(&attempts)
	if isNoRows(err) {
		return 0, nil
	}
	return attempts, err
}

func (db *DB) guardedUpdate(ctx context.Context, query string, args ...interface{}) (*models.Transfer, bool, error) {
	var transfer models.Transfer
	err := db.GetContext(ctx, &transfer, query, args...)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &transfer, true, nil
}

func normalizeHandlePtr(handle *string) *string {
	if handle == nil {
		return nil
	}
	return models.StringPtr(models.NormalizeHandle(*handle))
}

package database

import (
	"context"

	"pingpay/backend/internal/models"
)

const walletColumns = `handle, address, private_key, notification_channel, created_at, updated_at`

// upsertedWallet carries the xmax trick that tells inserts from existing rows
type upsertedWallet struct {
	models.Wallet
	Inserted bool `db:"inserted"`
}

// UpsertWallet inserts a wallet unless one already exists for the handle.
// The returned wallet is always the stored row, so a losing concurrent
// caller observes the winner's address and key.
func (db *DB) UpsertWallet(ctx context.Context, wallet *models.Wallet) (*models.Wallet, bool, error) {
	var row upsertedWallet
	query := `
		INSERT INTO wallets (handle, address, private_key, notification_channel)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (handle) DO UPDATE SET handle = EXCLUDED.handle
		RETURNING ` + walletColumns + `, (xmax = 0) AS inserted
	`
	err := db.GetContext(
		ctx, &row, query,
		models.NormalizeHandle(wallet.Handle),
		models.NormalizeAddress(wallet.Address),
		wallet.PrivateKey,
		wallet.NotificationChannel,
	)
	if err != nil {
		return nil, false, err
	}
	return &row.Wallet, row.Inserted, nil
}

// GetWalletByHandle retrieves a wallet by its normalized handle
func (db *DB) GetWalletByHandle(ctx context.Context, handle string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE handle = $1`
	err := db.GetContext(ctx, &wallet, query, models.NormalizeHandle(handle))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetWalletByAddress retrieves a wallet by its custodial address
func (db *DB) GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`
	err := db.GetContext(ctx, &wallet, query, models.NormalizeAddress(address))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// UpdateWalletChannel stores the notification channel for a handle.
// Returns nil, nil when no wallet exists for the handle.
func (db *DB) UpdateWalletChannel(ctx context.Context, handle, channel string) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `
		UPDATE wallets
		SET notification_channel = $2, updated_at = NOW()
		WHERE handle = $1
		RETURNING ` + walletColumns
	err := db.GetContext(ctx, &wallet, query, models.NormalizeHandle(handle), channel)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

package service

import (
	"context"
	"crypto/ecdsa"
	"time"

	"pingpay/backend/internal/blockchain/evm"
	"pingpay/backend/internal/models"
)

// WalletStore persists custodial wallets
type WalletStore interface {
	UpsertWallet(ctx context.Context, wallet *models.Wallet) (*models.Wallet, bool, error)
	GetWalletByHandle(ctx context.Context, handle string) (*models.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error)
	UpdateWalletChannel(ctx context.Context, handle, channel string) (*models.Wallet, error)
}

// TransferStore persists transfers. Transition methods are guarded by the
// expected prior status and report ok=false when the guard misses. Binding a
// tx hash already held by another transfer returns models.ErrConflict.
type TransferStore interface {
	InsertTransfer(ctx context.Context, transfer *models.Transfer) (*models.Transfer, bool, error)
	GetTransferByID(ctx context.Context, transferID string) (*models.Transfer, error)
	GetTransferByClaimToken(ctx context.Context, token string) (*models.Transfer, error)
	ListTransfersBySender(ctx context.Context, address string) ([]models.Transfer, error)
	ListTransfersByHandle(ctx context.Context, handle string) ([]models.Transfer, error)
	ListPendingClaims(ctx context.Context, handle string) ([]models.Transfer, error)
	ListUnverifiedTransfers(ctx context.Context, idleSince time.Time, limit int) ([]models.Transfer, error)
	AttachTxHash(ctx context.Context, transferID, txHash string) (*models.Transfer, bool, error)
	ConfirmTransfer(ctx context.Context, transferID, txHash, claimToken string) (*models.Transfer, bool, error)
	ClaimTransfer(ctx context.Context, claimToken string, claimedAt time.Time) (*models.Transfer, bool, error)
	FailTransfer(ctx context.Context, transferID, reason string) (*models.Transfer, bool, error)
	IncrementVerifyAttempts(ctx context.Context, transferID, lastError string) (int, error)
}

// Chain is the Chain Adapter surface the services depend on
type Chain interface {
	CreateKeypair() (*evm.Keypair, error)
	GetBalance(ctx context.Context, address string) (string, error)
	VerifyTransfer(ctx context.Context, txHash, expectedRecipient, expectedAmount string) (*evm.Verification, error)
	SendFixedAmount(ctx context.Context, key *ecdsa.PrivateKey, toAddress, amount string) (*evm.SendResult, error)
	SendMaxAvailable(ctx context.Context, key *ecdsa.PrivateKey, toAddress string) (*evm.SendResult, error)
	EstimateGas(ctx context.Context) *evm.GasEstimate
	ExplorerURL(txHash string) string
}

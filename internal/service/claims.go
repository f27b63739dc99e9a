package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pingpay/backend/internal/models"
)

// WalletView is the public part of a custodial wallet
type WalletView struct {
	Handle  string `json:"handle"`
	Address string `json:"address"`
	Balance string `json:"ethBalance,omitempty"`
}

// ClaimResult is the outcome of a claim verification
type ClaimResult struct {
	Claimed        bool             `json:"claimed"`
	AlreadyClaimed bool             `json:"alreadyClaimed"`
	Wallet         WalletView       `json:"wallet"`
	Transfer       *models.Transfer `json:"-"`
}

// ClaimWallet summarizes a recipient's wallet and what is waiting for them
type ClaimWallet struct {
	WalletView
	PendingClaims int    `json:"pendingClaims"`
	PendingAmount string `json:"pendingAmount"`
}

// ClaimVerifier binds confirmed transfers to the recipient who asserts their handle
type ClaimVerifier struct {
	ledger  *TransferLedger
	wallets *WalletRegistry
	chain   Chain
	logger  *zap.Logger
}

// NewClaimVerifier creates a new claim verifier
func NewClaimVerifier(ledger *TransferLedger, wallets *WalletRegistry, chain Chain, logger *zap.Logger) *ClaimVerifier {
	return &ClaimVerifier{
		ledger:  ledger,
		wallets: wallets,
		chain:   chain,
		logger:  logger.Named("claims"),
	}
}

// Verify claims the transfer behind token for handle. Re-verifying a claimed
// transfer reports AlreadyClaimed; a handle that is not the recipient is
// rejected without touching the transfer.
func (v *ClaimVerifier) Verify(ctx context.Context, token, handle string) (*ClaimResult, error) {
	transfer, err := v.ledger.GetByClaimToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if transfer.Status == models.TransferStatusClaimed {
		return v.alreadyClaimed(ctx, transfer)
	}

	asserted, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	if asserted != transfer.RecipientHandle {
		v.logger.Warn("Claim rejected, handle mismatch",
			zap.String("transfer_id", transfer.TransferID),
			zap.String("asserted_handle", asserted))
		return nil, fmt.Errorf("%w: @%s is not the recipient of this transfer", models.ErrAuthorization, asserted)
	}

	wallet, _, err := v.wallets.GetOrCreate(ctx, transfer.RecipientHandle)
	if err != nil {
		return nil, err
	}

	claimed, updated, err := v.ledger.claim(ctx, token)
	if err != nil {
		return nil, err
	}

	return &ClaimResult{
		Claimed:        updated,
		AlreadyClaimed: !updated,
		Wallet:         v.walletView(ctx, wallet),
		Transfer:       claimed,
	}, nil
}

func (v *ClaimVerifier) alreadyClaimed(ctx context.Context, transfer *models.Transfer) (*ClaimResult, error) {
	wallet, err := v.wallets.LookupByHandle(ctx, transfer.RecipientHandle)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		AlreadyClaimed: true,
		Wallet:         v.walletView(ctx, wallet),
		Transfer:       transfer,
	}, nil
}

// ClaimWallet returns the wallet for handle with its pending claims
func (v *ClaimVerifier) ClaimWallet(ctx context.Context, handle string) (*ClaimWallet, error) {
	wallet, err := v.wallets.LookupByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	pending, err := v.ledger.PendingClaims(ctx, wallet.Handle)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, t := range pending {
		amount, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("stored amount %q for transfer %s: %w", t.Amount, t.TransferID, err)
		}
		total = total.Add(amount)
	}

	return &ClaimWallet{
		WalletView:    v.walletView(ctx, wallet),
		PendingClaims: len(pending),
		PendingAmount: total.String(),
	}, nil
}

// walletView fetches the balance best-effort; RPC trouble leaves it empty
func (v *ClaimVerifier) walletView(ctx context.Context, wallet *models.Wallet) WalletView {
	view := WalletView{Handle: wallet.Handle, Address: wallet.Address}

	balance, err := v.chain.GetBalance(ctx, wallet.Address)
	if err != nil {
		v.logger.Warn("Balance unavailable", zap.String("address", wallet.Address), zap.Error(err))
		return view
	}
	view.Balance = balance
	return view
}

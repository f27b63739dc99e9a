package service

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"go.uber.org/zap"

	"pingpay/backend/internal/blockchain/evm"
)

// WithdrawRequest moves funds out of a custodial wallet
type WithdrawRequest struct {
	Handle      string
	ToAddress   string
	Amount      string
	WithdrawMax bool
}

// WithdrawResult describes a broadcast withdrawal
type WithdrawResult struct {
	TxHash      string `json:"txHash"`
	AmountSent  string `json:"amountSent"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Mined       bool   `json:"mined"`
	ExplorerURL string `json:"explorerUrl"`
}

// WithdrawalService sends funds from custodial wallets to user-controlled addresses
type WithdrawalService struct {
	wallets *WalletRegistry
	chain   Chain
	logger  *zap.Logger
}

// NewWithdrawalService creates a new withdrawal service
func NewWithdrawalService(wallets *WalletRegistry, chain Chain, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{
		wallets: wallets,
		chain:   chain,
		logger:  logger.Named("withdrawals"),
	}
}

// Withdraw sends a fixed amount, or the whole balance minus gas when WithdrawMax is set
func (s *WithdrawalService) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	handle, err := NormalizeHandle(req.Handle)
	if err != nil {
		return nil, err
	}

	to, err := CanonicalAddress(req.ToAddress)
	if err != nil {
		return nil, err
	}

	var amount string
	if !req.WithdrawMax {
		amount, err = evm.CanonicalAmount(strings.TrimSpace(req.Amount))
		if err != nil {
			return nil, err
		}
	}

	var sent *evm.SendResult
	err = s.wallets.WithSigningKey(ctx, handle, func(key *ecdsa.PrivateKey) error {
		var sendErr error
		if req.WithdrawMax {
			sent, sendErr = s.chain.SendMaxAvailable(ctx, key, to)
		} else {
			sent, sendErr = s.chain.SendFixedAmount(ctx, key, to, amount)
		}
		return sendErr
	})
	if err != nil {
		s.logger.Warn("Withdrawal failed",
			zap.String("handle", handle),
			zap.String("to", to),
			zap.Bool("withdraw_max", req.WithdrawMax),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Withdrawal sent",
		zap.String("handle", handle),
		zap.String("to", sent.To),
		zap.String("tx_hash", sent.TxHash),
		zap.String("amount", sent.Amount),
		zap.Bool("mined", sent.Mined))

	return &WithdrawResult{
		TxHash:      sent.TxHash,
		AmountSent:  sent.Amount,
		BlockNumber: sent.BlockNumber,
		Mined:       sent.Mined,
		ExplorerURL: s.chain.ExplorerURL(sent.TxHash),
	}, nil
}

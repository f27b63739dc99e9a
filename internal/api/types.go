package api

import (
	"time"

	"pingpay/backend/internal/models"
)

// ==================== Wallets ====================

// CreateWalletRequest represents request to get or create a handle's wallet
type CreateWalletRequest struct {
	Handle string `json:"handle"`
}

// WalletResponse represents a custodial wallet; keys are never included
type WalletResponse struct {
	Handle     string `json:"handle"`
	Address    string `json:"address"`
	ETHBalance string `json:"ethBalance,omitempty"`
	IsNew      *bool  `json:"isNew,omitempty"`
}

// BalanceResponse represents an address balance
type BalanceResponse struct {
	Address string `json:"address"`
	ETH     string `json:"eth"` // decimal ETH
}

// RecordChannelRequest represents the bot layer reporting where a handle can be reached
type RecordChannelRequest struct {
	Channel string `json:"channel"`
}

// RecordChannelResponse reports whether the channel was stored
type RecordChannelResponse struct {
	Handle   string `json:"handle"`
	Recorded bool   `json:"recorded"`
}

// ==================== Transfers ====================

// ParseCommandRequest represents a free-text payment command
type ParseCommandRequest struct {
	Text string `json:"text"`
}

// ParseCommandResponse represents the parsed command or why it was not understood
type ParseCommandResponse struct {
	Success   bool   `json:"success"`
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PrepareTransferRequest represents request to record a pending transfer
type PrepareTransferRequest struct {
	TransferID      string `json:"transferId,omitempty"` // optional idempotency key
	SenderAddress   string `json:"senderAddress"`
	SenderHandle    string `json:"senderHandle,omitempty"`
	RecipientHandle string `json:"recipientHandle"`
	Amount          string `json:"amount"` // decimal ETH
}

// ConfirmTransferRequest represents request to verify and confirm a transfer
type ConfirmTransferRequest struct {
	TransferID string `json:"transferId"`
	TxHash     string `json:"txHash"`
}

// ConfirmTransferResponse carries the claim link back to the sender
type ConfirmTransferResponse struct {
	Transfer TransferResponse `json:"transfer"`
	ClaimURL string           `json:"claimUrl"`
}

// EstimateGasRequest represents request to estimate transfer fees
type EstimateGasRequest struct {
	Amount string `json:"amount"`
}

// TransferResponse is the sender-side view of a transfer. The claim token is
// never part of it.
type TransferResponse struct {
	TransferID       string                `json:"transferId"`
	SenderAddress    string                `json:"senderAddress"`
	SenderHandle     *string               `json:"senderHandle"`
	RecipientHandle  string                `json:"recipientHandle"`
	RecipientAddress string                `json:"recipientAddress"`
	Amount           string                `json:"amount"`
	Status           models.TransferStatus `json:"status"`
	TxHash           *string               `json:"txHash"`
	ExplorerURL      string                `json:"explorerUrl,omitempty"`
	FailureReason    *string               `json:"failureReason,omitempty"`
	ClaimedAt        *time.Time            `json:"claimedAt"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// TransferListResponse represents a list of transfers
type TransferListResponse struct {
	Transfers []TransferResponse `json:"transfers"`
}

// ==================== Claims ====================

// ClaimResponse is the public view of a claim link: no sender address, no token
type ClaimResponse struct {
	TransferID      string                `json:"transferId"`
	SenderHandle    *string               `json:"senderHandle"`
	RecipientHandle string                `json:"recipientHandle"`
	Amount          string                `json:"amount"`
	Status          models.TransferStatus `json:"status"`
	TxHash          *string               `json:"txHash"`
	ExplorerURL     string                `json:"explorerUrl,omitempty"`
	ClaimedAt       *time.Time            `json:"claimedAt"`
	CreatedAt       time.Time             `json:"createdAt"`
}

// VerifyClaimRequest represents the recipient asserting their handle
type VerifyClaimRequest struct {
	Handle string `json:"handle"`
}

// WithdrawRequest represents request to move funds out of a custodial wallet
type WithdrawRequest struct {
	Handle      string `json:"handle"`
	ToAddress   string `json:"toAddress"`
	Amount      string `json:"amount,omitempty"`
	WithdrawMax bool   `json:"withdrawMax"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

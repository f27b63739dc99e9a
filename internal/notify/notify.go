// Package notify delivers "you received ETH" notices to recipients. Delivery
// is best-effort: callers log failures and never roll back a confirmation.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TransferConfirmedEvent is published once a transfer is verified on chain
type TransferConfirmedEvent struct {
	TransferID      string    `json:"transfer_id"`
	RecipientHandle string    `json:"recipient_handle"`
	Channel         string    `json:"channel"`
	SenderHandle    string    `json:"sender_handle,omitempty"`
	Amount          string    `json:"amount"`
	TxHash          string    `json:"tx_hash"`
	ClaimURL        string    `json:"claim_url"`
	ExplorerURL     string    `json:"explorer_url"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers transfer notifications
type Notifier interface {
	NotifyTransferConfirmed(ctx context.Context, event TransferConfirmedEvent) error
	Close()
}

// FormatMessage renders the recipient-facing notice text
func FormatMessage(amount, senderHandle string) string {
	from := ""
	if senderHandle != "" {
		from = " from @" + senderHandle
	}
	return fmt.Sprintf("You received %s ETH%s!\n\nGo to PingPay to claim and withdraw to your wallet.", amount, from)
}

// LogNotifier is the fallback used when no broker is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// NotifyTransferConfirmed implements Notifier
func (n *LogNotifier) NotifyTransferConfirmed(ctx context.Context, event TransferConfirmedEvent) error {
	n.logger.Warn("Notification publish skipped, no broker configured",
		zap.String("transfer_id", event.TransferID),
		zap.String("recipient_handle", event.RecipientHandle))
	return nil
}

// Close implements Notifier
func (n *LogNotifier) Close() {}

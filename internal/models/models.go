package models

import (
	"strings"
	"time"
)

// TransferStatus represents the state of a handle transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusClaimed   TransferStatus = "claimed"
	TransferStatusFailed    TransferStatus = "failed"
)

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// Only pending -> confirmed -> claimed and {pending, confirmed} -> failed are allowed.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	switch s {
	case TransferStatusPending:
		return next == TransferStatusConfirmed || next == TransferStatusFailed
	case TransferStatusConfirmed:
		return next == TransferStatusClaimed || next == TransferStatusFailed
	default:
		return false
	}
}

// Wallet is the custodial wallet held for a messaging handle
type Wallet struct {
	Handle              string    `db:"handle"`
	Address             string    `db:"address"`
	PrivateKey          string    `db:"private_key" json:"-"` // sealed by keystore.Vault, never returned
	NotificationChannel *string   `db:"notification_channel"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Transfer represents ETH sent to a handle through a custodial wallet
type Transfer struct {
	ID               int64          `db:"id"`
	TransferID       string         `db:"transfer_id"`
	SenderAddress    string         `db:"sender_address"`
	SenderHandle     *string        `db:"sender_handle"`
	RecipientHandle  string         `db:"recipient_handle"`
	RecipientAddress string         `db:"recipient_address"`
	Amount           string         `db:"amount"` // decimal ETH, never float
	Status           TransferStatus `db:"status"`
	TxHash           *string        `db:"tx_hash"`
	ClaimToken       *string        `db:"claim_token"`
	ClaimedAt        *time.Time     `db:"claimed_at"`
	FailureReason    *string        `db:"failure_reason"`
	VerifyAttempts   int            `db:"verify_attempts"`
	LastVerifyError  *string        `db:"last_verify_error"` // latest inconclusive verification, internal only
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// Clone returns a deep copy so callers never share pointer fields with a store
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	c.SenderHandle = cloneString(t.SenderHandle)
	c.TxHash = cloneString(t.TxHash)
	c.ClaimToken = cloneString(t.ClaimToken)
	c.FailureReason = cloneString(t.FailureReason)
	c.LastVerifyError = cloneString(t.LastVerifyError)
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		c.ClaimedAt = &at
	}
	return &c
}

// Clone returns a deep copy of the wallet
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	c := *w
	c.NotificationChannel = cloneString(w.NotificationChannel)
	return &c
}

// NormalizeHandle lowercases a handle and strips whitespace and a leading '@'
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimLeft(h, "@")
	return strings.ToLower(strings.TrimSpace(h))
}

// NormalizeAddress lowercases a hex address
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// StringPtr returns nil for empty strings
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

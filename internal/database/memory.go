package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"pingpay/backend/internal/models"
)

// MemoryStore is a process-local store with the same guarded-transition
// semantics as the PostgreSQL store. Used with DB_DRIVER=memory and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	wallets   map[string]*models.Wallet // handle -> wallet
	transfers map[string]*models.Transfer
	nextID    int64
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]*models.Wallet),
		transfers: make(map[string]*models.Transfer),
		now:       time.Now,
	}
}

// ==================== Wallets ====================

// UpsertWallet inserts a wallet unless one already exists for the handle
func (s *MemoryStore) UpsertWallet(ctx context.Context, wallet *models.Wallet) (*models.Wallet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := models.NormalizeHandle(wallet.Handle)
	if existing, ok := s.wallets[handle]; ok {
		return existing.Clone(), false, nil
	}

	now := s.now()
	stored := wallet.Clone()
	stored.Handle = handle
	stored.Address = models.NormalizeAddress(wallet.Address)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.wallets[handle] = stored

	return stored.Clone(), true, nil
}

// GetWalletByHandle retrieves a wallet by handle
func (s *MemoryStore) GetWalletByHandle(ctx context.Context, handle string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wallets[models.NormalizeHandle(handle)].Clone(), nil
}

// GetWalletByAddress retrieves a wallet by address
func (s *MemoryStore) GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	address = models.NormalizeAddress(address)
	for _, w := range s.wallets {
		if w.Address == address {
			return w.Clone(), nil
		}
	}
	return nil, nil
}

// UpdateWalletChannel stores the notification channel for a handle
func (s *MemoryStore) UpdateWalletChannel(ctx context.Context, handle, channel string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[models.NormalizeHandle(handle)]
	if !ok {
		return nil, nil
	}
	w.NotificationChannel = &channel
	w.UpdatedAt = s.now()
	return w.Clone(), nil
}

// ==================== Transfers ====================

// InsertTransfer stores a new pending transfer or returns the existing one
func (s *MemoryStore) InsertTransfer(ctx context.Context, transfer *models.Transfer) (*models.Transfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transfers[transfer.TransferID]; ok {
		return existing.Clone(), false, nil
	}

	s.nextID++
	now := s.now()
	stored := transfer.Clone()
	stored.ID = s.nextID
	stored.SenderAddress = models.NormalizeAddress(transfer.SenderAddress)
	stored.SenderHandle = normalizeHandlePtr(transfer.SenderHandle)
	stored.RecipientHandle = models.NormalizeHandle(transfer.RecipientHandle)
	stored.RecipientAddress = models.NormalizeAddress(transfer.RecipientAddress)
	stored.Status = models.TransferStatusPending
	stored.TxHash = nil
	stored.ClaimToken = nil
	stored.ClaimedAt = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.transfers[stored.TransferID] = stored

	return stored.Clone(), true, nil
}

// GetTransferByID retrieves a transfer by transfer_id
func (s *MemoryStore) GetTransferByID(ctx context.Context, transferID string) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transfers[transferID].Clone(), nil
}

// GetTransferByClaimToken retrieves a transfer by claim token
func (s *MemoryStore) GetTransferByClaimToken(ctx context.Context, token string) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findByToken(token).Clone(), nil
}

// ListTransfersBySender returns confirmed and claimed transfers sent from address
func (s *MemoryStore) ListTransfersBySender(ctx context.Context, address string) ([]models.Transfer, error) {
	address = models.NormalizeAddress(address)
	return s.list(func(t *models.Transfer) bool {
		return t.SenderAddress == address &&
			(t.Status == models.TransferStatusConfirmed || t.Status == models.TransferStatusClaimed)
	}, newestFirst), nil
}

// ListTransfersByHandle returns transfers where handle is sender or recipient
func (s *MemoryStore) ListTransfersByHandle(ctx context.Context, handle string) ([]models.Transfer, error) {
	handle = models.NormalizeHandle(handle)
	return s.list(func(t *models.Transfer) bool {
		return t.RecipientHandle == handle || models.StringValue(t.SenderHandle) == handle
	}, newestFirst), nil
}

// ListPendingClaims returns confirmed, unclaimed transfers for a recipient
func (s *MemoryStore) ListPendingClaims(ctx context.Context, handle string) ([]models.Transfer, error) {
	handle = models.NormalizeHandle(handle)
	return s.list(func(t *models.Transfer) bool {
		return t.RecipientHandle == handle && t.Status == models.TransferStatusConfirmed
	}, newestFirst), nil
}

// ListUnverifiedTransfers returns pending transfers with a tx hash that were
// last touched before idleSince, least recently touched first
func (s *MemoryStore) ListUnverifiedTransfers(ctx context.Context, idleSince time.Time, limit int) ([]models.Transfer, error) {
	out := s.list(func(t *models.Transfer) bool {
		return t.Status == models.TransferStatusPending && t.TxHash != nil && t.UpdatedAt.Before(idleSince)
	}, leastRecentlyUpdated)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AttachTxHash records the observed tx hash on a pending transfer
func (s *MemoryStore) AttachTxHash(ctx context.Context, transferID, txHash string) (*models.Transfer, bool, error) {
	return s.bindTxHash(transferID, txHash, func(t *models.Transfer) {})
}

// ConfirmTransfer moves pending -> confirmed and assigns the claim token
func (s *MemoryStore) ConfirmTransfer(ctx context.Context, transferID, txHash, claimToken string) (*models.Transfer, bool, error) {
	return s.bindTxHash(transferID, txHash, func(t *models.Transfer) {
		t.Status = models.TransferStatusConfirmed
		t.ClaimToken = &claimToken
		t.LastVerifyError = nil
	})
}

// ClaimTransfer moves confirmed -> claimed and stamps claimed_at once
func (s *MemoryStore) ClaimTransfer(ctx context.Context, claimToken string, claimedAt time.Time) (*models.Transfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findByToken(claimToken)
	if t == nil || t.Status != models.TransferStatusConfirmed {
		return nil, false, nil
	}
	t.Status = models.TransferStatusClaimed
	t.ClaimedAt = &claimedAt
	t.UpdatedAt = s.now()
	return t.Clone(), true, nil
}

// FailTransfer moves pending or confirmed -> failed and drops any claim token
func (s *MemoryStore) FailTransfer(ctx context.Context, transferID, reason string) (*models.Transfer, bool, error) {
	return s.update(transferID, func(t *models.Transfer) bool {
		if !t.Status.CanTransitionTo(models.TransferStatusFailed) {
			return false
		}
		t.Status = models.TransferStatusFailed
		t.FailureReason = &reason
		t.ClaimToken = nil
		return true
	})
}

// IncrementVerifyAttempts records an inconclusive verification on a pending transfer
func (s *MemoryStore) IncrementVerifyAttempts(ctx context.Context, transferID, lastError string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[transferID]
	if !ok || t.Status != models.TransferStatusPending {
		return 0, nil
	}
	t.VerifyAttempts++
	t.LastVerifyError = &lastError
	t.UpdatedAt = s.now()
	return t.VerifyAttempts, nil
}

// Close is a no-op; the store lives as long as the process
func (s *MemoryStore) Close() error {
	return nil
}

// ==================== Helpers ====================

func (s *MemoryStore) update(transferID string, apply func(t *models.Transfer) bool) (*models.Transfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[transferID]
	if !ok || !apply(t) {
		return nil, false, nil
	}
	t.UpdatedAt = s.now()
	return t.Clone(), true, nil
}

// bindTxHash sets tx_hash on a pending transfer whose guard passes. Like the
// unique index on transfers.tx_hash, a hash held by another transfer is a conflict.
func (s *MemoryStore) bindTxHash(transferID, txHash string, apply func(t *models.Transfer)) (*models.Transfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[transferID]
	if !ok || t.Status != models.TransferStatusPending || !hashCompatible(t, txHash) {
		return nil, false, nil
	}
	for id, other := range s.transfers {
		if id != transferID && other.TxHash != nil && *other.TxHash == txHash {
			return nil, false, txHashInUse(txHash)
		}
	}

	apply(t)
	t.TxHash = &txHash
	t.UpdatedAt = s.now()
	return t.Clone(), true, nil
}

func (s *MemoryStore) findByToken(token string) *models.Transfer {
	if token == "" {
		return nil
	}
	for _, t := range s.transfers {
		if t.ClaimToken != nil && *t.ClaimToken == token {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) list(match func(t *models.Transfer) bool, less func(a, b *models.Transfer) bool) []models.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*models.Transfer, 0)
	for _, t := range s.transfers {
		if match(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	out := make([]models.Transfer, 0, len(matched))
	for _, t := range matched {
		out = append(out, *t.Clone())
	}
	return out
}

func newestFirst(a, b *models.Transfer) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func leastRecentlyUpdated(a, b *models.Transfer) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func hashCompatible(t *models.Transfer, txHash string) bool {
	return t.TxHash == nil || *t.TxHash == txHash
}

package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pingpay/backend/internal/config"
	"pingpay/backend/internal/keystore"
	"pingpay/backend/internal/models"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// NormalizeHandle normalizes and validates a messaging handle
func NormalizeHandle(handle string) (string, error) {
	h := models.NormalizeHandle(handle)
	if h == "" {
		return "", models.Validationf("handle is required")
	}
	if !handlePattern.MatchString(h) {
		return "", models.Validationf("invalid handle %q", handle)
	}
	return h, nil
}

// CanonicalAddress validates a hex address and returns its lowercase 0x form
func CanonicalAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", models.Validationf("invalid address %q", address)
	}
	return models.NormalizeAddress(common.HexToAddress(address).Hex()), nil
}

// WalletRegistry maps handles to custodial wallets
type WalletRegistry struct {
	store  WalletStore
	chain  Chain
	vault  *keystore.Vault
	policy config.ContactPolicy
	group  singleflight.Group
	logger *zap.Logger
}

// NewWalletRegistry creates a new wallet registry
func NewWalletRegistry(
	store WalletStore,
	chain Chain,
	vault *keystore.Vault,
	policy config.ContactPolicy,
	logger *zap.Logger,
) *WalletRegistry {
	return &WalletRegistry{
		store:  store,
		chain:  chain,
		vault:  vault,
		policy: policy,
		logger: logger.Named("wallets"),
	}
}

type createdWallet struct {
	wallet   *models.Wallet
	inserted bool
}

// GetOrCreate returns the wallet for handle, creating it on first contact.
// Concurrent callers in this process share one creation; across processes the
// store's upsert makes the loser observe the winner's wallet.
func (r *WalletRegistry) GetOrCreate(ctx context.Context, handle string) (*models.Wallet, bool, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, false, err
	}

	existing, err := r.store.GetWalletByHandle(ctx, h)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get wallet: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	v, err, _ := r.group.Do(h, func() (interface{}, error) {
		return r.create(ctx, h)
	})
	if err != nil {
		return nil, false, err
	}

	created := v.(*createdWallet)
	return created.wallet.Clone(), created.inserted, nil
}

func (r *WalletRegistry) create(ctx context.Context, handle string) (*createdWallet, error) {
	keypair, err := r.chain.CreateKeypair()
	if err != nil {
		return nil, err
	}

	sealed, err := r.vault.Seal(keypair.PrivateKeyHex)
	keypair.PrivateKeyHex = ""
	if err != nil {
		return nil, fmt.Errorf("failed to seal key: %w", err)
	}

	wallet, inserted, err := r.store.UpsertWallet(ctx, &models.Wallet{
		Handle:     handle,
		Address:    keypair.Address,
		PrivateKey: sealed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert wallet: %w", err)
	}

	if inserted {
		r.logger.Info("Wallet created",
			zap.String("handle", wallet.Handle),
			zap.String("address", wallet.Address))
	}

	return &createdWallet{wallet: wallet, inserted: inserted}, nil
}

// LookupByHandle retrieves a wallet by handle
func (r *WalletRegistry) LookupByHandle(ctx context.Context, handle string) (*models.Wallet, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}

	wallet, err := r.store.GetWalletByHandle(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if wallet == nil {
		return nil, models.NotFoundf("wallet not found for handle @%s", h)
	}
	return wallet, nil
}

// LookupByAddress retrieves a wallet by custodial address
func (r *WalletRegistry) LookupByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	address, err := CanonicalAddress(address)
	if err != nil {
		return nil, err
	}

	wallet, err := r.store.GetWalletByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if wallet == nil {
		return nil, models.NotFoundf("wallet not found for address %s", address)
	}
	return wallet, nil
}

// RecordContactChannel stores where notifications for handle should go.
// With ContactPolicyCreate an unknown handle gets a wallet first; with
// ContactPolicyIgnore an unknown handle is a no-op returning nil.
func (r *WalletRegistry) RecordContactChannel(ctx context.Context, handle, channel string) (*models.Wallet, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, err
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, models.Validationf("channel is required")
	}

	if r.policy == config.ContactPolicyCreate {
		if _, _, err := r.GetOrCreate(ctx, h); err != nil {
			return nil, err
		}
	}

	wallet, err := r.store.UpdateWalletChannel(ctx, h, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to update channel: %w", err)
	}
	if wallet == nil {
		r.logger.Debug("Contact channel ignored for unknown handle", zap.String("handle", h))
		return nil, nil
	}

	r.logger.Info("Contact channel recorded", zap.String("handle", h))
	return wallet, nil
}

// WithSigningKey opens the custodial key for handle, passes it to fn and
// destroys it when fn returns. It is the only path that materializes keys.
func (r *WalletRegistry) WithSigningKey(ctx context.Context, handle string, fn func(key *ecdsa.PrivateKey) error) error {
	wallet, err := r.LookupByHandle(ctx, handle)
	if err != nil {
		return err
	}

	key, err := r.vault.Open(wallet.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to open custodial key for @%s: %w", wallet.Handle, err)
	}
	defer keystore.Destroy(key)

	if models.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex()) != wallet.Address {
		return fmt.Errorf("custodial key does not match wallet address for @%s", wallet.Handle)
	}

	return fn(key)
}

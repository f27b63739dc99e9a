package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pingpay/backend/internal/blockchain/evm"
	"pingpay/backend/internal/config"
	"pingpay/backend/internal/database"
	"pingpay/backend/internal/keystore"
	"pingpay/backend/internal/models"
	"pingpay/backend/internal/notify"
)

const (
	testSender = "0xABCDEF0000000000000000000000000000000001"
	testTxHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
	otherHash  = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type sendCall struct {
	from   string
	to     string
	amount string
	max    bool
}

// fakeChain generates real keys so signing paths can be checked end to end
type fakeChain struct {
	mu sync.Mutex

	keypairs    int
	balances    map[string]string
	balanceErr  error
	verifyErr   error
	verifyCalls int
	sendErr     error
	sends       []sendCall
	gasErr      bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: make(map[string]string)}
}

func (f *fakeChain) CreateKeypair() (*evm.Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.keypairs++
	f.mu.Unlock()
	return &evm.Keypair{
		Address:       models.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

func (f *fakeChain) GetBalance(ctx context.Context, address string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return "", f.balanceErr
	}
	if b, ok := f.balances[models.NormalizeAddress(address)]; ok {
		return b, nil
	}
	return "0", nil
}

func (f *fakeChain) VerifyTransfer(ctx context.Context, txHash, expectedRecipient, expectedAmount string) (*evm.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &evm.Verification{
		TxHash:      txHash,
		BlockNumber: 100,
		From:        strings.ToLower(testSender),
		To:          expectedRecipient,
		Amount:      expectedAmount,
	}, nil
}

func (f *fakeChain) SendFixedAmount(ctx context.Context, key *ecdsa.PrivateKey, toAddress, amount string) (*evm.SendResult, error) {
	return f.send(key, toAddress, amount, false)
}

func (f *fakeChain) SendMaxAvailable(ctx context.Context, key *ecdsa.PrivateKey, toAddress string) (*evm.SendResult, error) {
	return f.send(key, toAddress, "0.99", true)
}

func (f *fakeChain) send(key *ecdsa.PrivateKey, to, amount string, sendMax bool) (*evm.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	from := models.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex())
	f.sends = append(f.sends, sendCall{from: from, to: models.NormalizeAddress(to), amount: amount, max: sendMax})
	return &evm.SendResult{
		TxHash:      otherHash,
		From:        from,
		To:          models.NormalizeAddress(to),
		Amount:      amount,
		BlockNumber: 101,
		Mined:       true,
	}, nil
}

func (f *fakeChain) EstimateGas(ctx context.Context) *evm.GasEstimate {
	if f.gasErr {
		return &evm.GasEstimate{GasLimit: "21000", GasPriceGwei: "0.1", EstimatedCost: "0.00001", Fallback: true}
	}
	return &evm.GasEstimate{GasLimit: "21000", GasPriceGwei: "1", EstimatedCost: "0.000021"}
}

func (f *fakeChain) ExplorerURL(txHash string) string {
	return "https://sepolia.arbiscan.io/tx/" + txHash
}

func (f *fakeChain) setVerifyErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = err
}

func (f *fakeChain) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.TransferConfirmedEvent
	err    error
}

func (n *fakeNotifier) NotifyTransferConfirmed(ctx context.Context, event notify.TransferConfirmedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *fakeNotifier) Close() {}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type harness struct {
	cfg         *config.Config
	store       *database.MemoryStore
	chain       *fakeChain
	notifier    *fakeNotifier
	vault       *keystore.Vault
	wallets     *WalletRegistry
	ledger      *TransferLedger
	transfers   *TransferService
	claims      *ClaimVerifier
	withdrawals *WithdrawalService
	gas         *GasService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPolicy(t, config.ContactPolicyCreate)
}

func newHarnessWithPolicy(t *testing.T, policy config.ContactPolicy) *harness {
	t.Helper()

	logger := zap.NewNop()
	cfg := &config.Config{
		Custody:       config.CustodyConfig{ContactPolicy: policy},
		Notifications: config.NotificationConfig{FrontendURL: "http://localhost:5173"},
		Worker:        config.WorkerConfig{Enabled: true, PollInterval: time.Second, MaxRetries: 2, BatchSize: 10},
	}

	vault, err := keystore.NewVault(strings.Repeat("ab", 32))
	require.NoError(t, err)

	h := &harness{
		cfg:      cfg,
		store:    database.NewMemoryStore(),
		chain:    newFakeChain(),
		notifier: &fakeNotifier{},
		vault:    vault,
	}
	h.wallets = NewWalletRegistry(h.store, h.chain, vault, policy, logger)
	h.ledger = NewTransferLedger(h.store, h.wallets, logger)
	h.transfers = NewTransferService(h.ledger, h.wallets, h.chain, h.notifier, cfg, logger)
	h.claims = NewClaimVerifier(h.ledger, h.wallets, h.chain, logger)
	h.withdrawals = NewWithdrawalService(h.wallets, h.chain, logger)
	h.gas = NewGasService(h.chain, logger)
	return h
}

// prepare creates a pending 0.5 ETH transfer from alice to recipient
func (h *harness) prepare(t *testing.T, transferID, recipient string) *models.Transfer {
	t.Helper()
	transfer, err := h.transfers.Prepare(context.Background(), CreateTransferRequest{
		TransferID:      transferID,
		SenderAddress:   testSender,
		SenderHandle:    "alice",
		RecipientHandle: recipient,
		Amount:          "0.5",
	})
	require.NoError(t, err)
	return transfer
}

// confirmed creates a transfer and confirms it with txHashFor(transferID)
func (h *harness) confirmed(t *testing.T, transferID, recipient string) *models.Transfer {
	t.Helper()
	h.prepare(t, transferID, recipient)
	transfer, err := h.transfers.ConfirmTransfer(context.Background(), transferID, txHashFor(transferID))
	require.NoError(t, err)
	return transfer
}

var errRPCDown = errors.New("connection refused")

// txHashFor derives a distinct transaction hash per transfer
func txHashFor(transferID string) string {
	return crypto.Keccak256Hash([]byte(transferID)).Hex()
}

package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pingpay/backend/internal/config"
	"pingpay/backend/internal/models"
)

// backend is the subset of ethclient.Client the adapter uses
type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

const transferGasLimit = 21000

// Keypair is a freshly generated custodial key
type Keypair struct {
	Address       string
	PrivateKeyHex string
}

// Verification describes an on-chain transfer that satisfied the expected recipient and amount
type Verification struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
}

// SendResult describes an outgoing transfer signed by a custodial key
type SendResult struct {
	TxHash      string `json:"txHash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	BlockNumber uint64 `json:"blockNumber"`
	Mined       bool   `json:"mined"`
}

// GasEstimate is the cost of a plain ETH transfer
type GasEstimate struct {
	GasLimit      string `json:"gasLimit"`
	GasPriceGwei  string `json:"gasPrice"`
	EstimatedCost string `json:"estimatedCost"`
	Fallback      bool   `json:"fallback,omitempty"`
}

// Client wraps Ethereum client functionality for the custodial relay
type Client struct {
	eth         backend
	closer      func()
	chainConfig *config.ChainConfig
	tolerance   decimal.Decimal
	logger      *zap.Logger
}

// NewClient connects to the configured RPC endpoint
func NewClient(chainCfg *config.ChainConfig, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client, err := newClient(ethClient, chainCfg, logger)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	client.closer = ethClient.Close

	logger.Info("EVM client initialized",
		zap.String("chain_id", chainCfg.ChainID),
		zap.String("chain_name", chainCfg.Name))

	return client, nil
}

func newClient(eth backend, chainCfg *config.ChainConfig, logger *zap.Logger) (*Client, error) {
	tolerance, err := decimal.NewFromString(chainCfg.AmountTolerance)
	if err != nil {
		return nil, fmt.Errorf("invalid amount tolerance: %w", err)
	}

	return &Client{
		eth:         eth,
		chainConfig: chainCfg,
		tolerance:   tolerance,
		logger:      logger.Named("evm"),
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ExplorerURL returns the block explorer link for a transaction
func (c *Client) ExplorerURL(txHash string) string {
	return c.chainConfig.ExplorerURL + txHash
}

// CreateKeypair generates a new secp256k1 keypair
func (c *Client) CreateKeypair() (*Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	defer key.D.SetInt64(0)

	return &Keypair{
		Address:       models.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

// GetBalance returns the ETH balance of an address as a decimal string
func (c *Client) GetBalance(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", models.Validationf("invalid address %q", address)
	}

	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return "", models.ChainUnavailable("get balance", err)
	}
	return WeiToEther(balance), nil
}

// ==================== Verification ====================

// VerifyTransfer checks that txHash moved at least the expected amount (within
// the configured tolerance) to expectedRecipient and was mined successfully.
// Mismatches return *models.VerificationError; RPC trouble and exhausted
// retry budgets wrap models.ErrChainUnavailable.
func (c *Client) VerifyTransfer(ctx context.Context, txHash, expectedRecipient, expectedAmount string) (*Verification, error) {
	if !IsTxHash(txHash) {
		return nil, models.Validationf("invalid transaction hash %q", txHash)
	}
	if !common.IsHexAddress(expectedRecipient) {
		return nil, models.Validationf("invalid recipient address %q", expectedRecipient)
	}
	expectedWei, err := EtherToWei(expectedAmount)
	if err != nil {
		return nil, err
	}

	hash := common.HexToHash(txHash)
	logger := c.logger.With(zap.String("tx_hash", txHash))

	tx, err := c.findTransaction(ctx, hash, logger)
	if err != nil {
		return nil, err
	}

	receipt, err := c.waitForReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &models.VerificationError{TxHash: txHash, Reason: "transaction failed on chain"}
	}

	expectedTo := common.HexToAddress(expectedRecipient)
	if tx.To() == nil || *tx.To() != expectedTo {
		actual := "contract creation"
		if tx.To() != nil {
			actual = models.NormalizeAddress(tx.To().Hex())
		}
		return nil, &models.VerificationError{
			TxHash: txHash,
			Reason: fmt.Sprintf("wrong recipient: expected %s, got %s", models.NormalizeAddress(expectedRecipient), actual),
		}
	}

	minimum := decimal.NewFromBigInt(expectedWei, 0).Mul(c.tolerance)
	if decimal.NewFromBigInt(tx.Value(), 0).LessThan(minimum) {
		return nil, &models.VerificationError{
			TxHash: txHash,
			Reason: fmt.Sprintf("amount too low: expected %s, got %s", formatWeiForError(expectedWei), formatWeiForError(tx.Value())),
		}
	}

	verification := &Verification{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		From:        senderOf(tx),
		To:          models.NormalizeAddress(tx.To().Hex()),
		Amount:      WeiToEther(tx.Value()),
	}

	logger.Info("Transfer verified on chain",
		zap.Uint64("block_number", verification.BlockNumber),
		zap.String("from", verification.From),
		zap.String("amount", verification.Amount))

	return verification, nil
}

// findTransaction polls for a transaction that may not have propagated to the RPC node yet
func (c *Client) findTransaction(ctx context.Context, hash common.Hash, logger *zap.Logger) (*types.Transaction, error) {
	attempts := c.chainConfig.VerifyAttempts
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		tx, _, err := c.eth.TransactionByHash(ctx, hash)
		if err == nil && tx != nil {
			return tx, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}

		logger.Debug("Transaction not found, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, c.chainConfig.VerifyInterval); err != nil {
			return nil, models.ChainUnavailable("transaction lookup interrupted", err)
		}
	}

	return nil, models.ChainUnavailable(fmt.Sprintf("transaction not found after %d attempts", attempts), lastErr)
}

// waitForReceipt waits until the transaction is mined with enough confirmations
func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chainConfig.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.chainConfig.VerifyInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil && c.hasConfirmations(ctx, receipt) {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, models.ChainUnavailable(fmt.Sprintf("timeout waiting for transaction %s", hash.Hex()), ctx.Err())
		case <-ticker.C:
			// Transaction not yet mined, continue waiting
		}
	}
}

func (c *Client) hasConfirmations(ctx context.Context, receipt *types.Receipt) bool {
	if receipt.BlockNumber == nil {
		return false
	}
	if c.chainConfig.MinConfirmations <= 1 {
		return true
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return false
	}
	mined := receipt.BlockNumber.Uint64()
	return head >= mined && head-mined+1 >= c.chainConfig.MinConfirmations
}

// ==================== Outgoing transfers ====================

type feePlan struct {
	gasLimit uint64
	maxFee   *big.Int
	tipCap   *big.Int
}

func (p *feePlan) cost() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(p.gasLimit), p.maxFee)
}

// planFees sizes gas for a transfer with headroom for fee spikes between
// estimation and inclusion
func (c *Client) planFees(ctx context.Context, from, to common.Address, value *big.Int) (*feePlan, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, models.ChainUnavailable("suggest gas price", err)
	}
	maxFee := new(big.Int).Mul(gasPrice, big.NewInt(c.chainConfig.FeeMultiplier))

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = new(big.Int).Div(maxFee, big.NewInt(10))
	}
	if tipCap.Cmp(maxFee) > 0 {
		tipCap = new(big.Int).Set(maxFee)
	}

	estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
	})
	if err != nil {
		return nil, models.ChainUnavailable("estimate gas", err)
	}

	return &feePlan{
		gasLimit: estimate * (100 + c.chainConfig.GasBufferPercent) / 100,
		maxFee:   maxFee,
		tipCap:   tipCap,
	}, nil
}

// SendFixedAmount sends amount ETH from the key's address to toAddress
func (c *Client) SendFixedAmount(ctx context.Context, key *ecdsa.PrivateKey, toAddress, amount string) (*SendResult, error) {
	if !common.IsHexAddress(toAddress) {
		return nil, models.Validationf("invalid destination address %q", toAddress)
	}
	value, err := EtherToWei(amount)
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return nil, models.Validationf("amount must be positive: %s", amount)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress(toAddress)

	balance, err := c.eth.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, models.ChainUnavailable("get balance", err)
	}

	plan, err := c.planFees(ctx, from, to, value)
	if err != nil {
		return nil, err
	}

	required := new(big.Int).Add(value, plan.cost())
	if required.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: balance %s does not cover %s plus up to %s gas",
			models.ErrInsufficientFunds, formatWeiForError(balance), formatWeiForError(value), formatWeiForError(plan.cost()))
	}

	return c.signAndSend(ctx, key, from, to, value, plan)
}

// SendMaxAvailable sends the whole balance minus the worst-case gas cost
func (c *Client) SendMaxAvailable(ctx context.Context, key *ecdsa.PrivateKey, toAddress string) (*SendResult, error) {
	if !common.IsHexAddress(toAddress) {
		return nil, models.Validationf("invalid destination address %q", toAddress)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress(toAddress)

	balance, err := c.eth.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, models.ChainUnavailable("get balance", err)
	}

	// Placeholder value: the estimate only needs a non-zero transfer
	plan, err := c.planFees(ctx, from, to, big.NewInt(1))
	if err != nil {
		return nil, err
	}

	value := new(big.Int).Sub(balance, plan.cost())
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance %s is too low to cover gas of up to %s",
			models.ErrInsufficientFunds, formatWeiForError(balance), formatWeiForError(plan.cost()))
	}

	c.logger.Info("Sending max available",
		zap.String("from", models.NormalizeAddress(from.Hex())),
		zap.String("balance", WeiToEther(balance)),
		zap.Uint64("gas_limit", plan.gasLimit),
		zap.String("max_fee_gwei", WeiToGwei(plan.maxFee)),
		zap.String("amount", WeiToEther(value)))

	return c.signAndSend(ctx, key, from, to, value, plan)
}

// signAndSend creates, signs, and sends an EIP-1559 transfer, then waits for it to be mined
func (c *Client) signAndSend(
	ctx context.Context,
	key *ecdsa.PrivateKey,
	from common.Address,
	to common.Address,
	value *big.Int,
	plan *feePlan,
) (*SendResult, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, models.ChainUnavailable("get chain ID", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, models.ChainUnavailable("get nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: plan.tipCap,
		GasFeeCap: plan.maxFee,
		Gas:       plan.gasLimit,
		To:        &to,
		Value:     value,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return nil, models.ChainUnavailable("send transaction", err)
	}

	result := &SendResult{
		TxHash: signedTx.Hash().Hex(),
		From:   models.NormalizeAddress(from.Hex()),
		To:     models.NormalizeAddress(to.Hex()),
		Amount: WeiToEther(value),
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", result.TxHash),
		zap.String("to", result.To),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", plan.gasLimit))

	receipt, err := c.waitForReceipt(ctx, signedTx.Hash())
	if err != nil {
		// Broadcast succeeded; the caller still gets the hash to follow up on
		c.logger.Warn("Transaction not mined before timeout",
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
		return result, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted on chain", result.TxHash)
	}

	result.BlockNumber = receipt.BlockNumber.Uint64()
	result.Mined = true
	return result, nil
}

// ==================== Gas estimation ====================

// EstimateGas returns the cost of a plain transfer at the suggested gas price.
// RPC failures fall back to the configured static estimate.
func (c *Client) EstimateGas(ctx context.Context) *GasEstimate {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		c.logger.Warn("Gas price unavailable, using fallback estimate", zap.Error(err))
		return &GasEstimate{
			GasLimit:      fmt.Sprintf("%d", c.chainConfig.FallbackGasLimit),
			GasPriceGwei:  c.chainConfig.FallbackGasPriceGwei,
			EstimatedCost: c.chainConfig.FallbackCostETH,
			Fallback:      true,
		}
	}

	cost := new(big.Int).Mul(big.NewInt(transferGasLimit), gasPrice)
	return &GasEstimate{
		GasLimit:      fmt.Sprintf("%d", transferGasLimit),
		GasPriceGwei:  WeiToGwei(gasPrice),
		EstimatedCost: WeiToEther(cost),
	}
}

// ==================== Helpers ====================

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex hash
func IsTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

func senderOf(tx *types.Transaction) string {
	var signer types.Signer = types.HomesteadSigner{}
	if tx.Protected() {
		signer = types.LatestSignerForChainID(tx.ChainId())
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return ""
	}
	return models.NormalizeAddress(from.Hex())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

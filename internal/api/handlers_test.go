package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"pingpay/backend/internal/blockchain/evm"
	"pingpay/backend/internal/config"
	"pingpay/backend/internal/database"
	"pingpay/backend/internal/keystore"
	"pingpay/backend/internal/models"
	"pingpay/backend/internal/notify"
	"pingpay/backend/internal/parser"
	"pingpay/backend/internal/service"
)

const (
	senderAddress = "0xabcdef0000000000000000000000000000000001"
	txHash        = "0x3333333333333333333333333333333333333333333333333333333333333333"
)

type stubChain struct {
	verifyErr  error
	balanceErr error
}

func (c *stubChain) CreateKeypair() (*evm.Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &evm.Keypair{
		Address:       models.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

func (c *stubChain) GetBalance(ctx context.Context, address string) (string, error) {
	if c.balanceErr != nil {
		return "", c.balanceErr
	}
	return "1.25", nil
}

func (c *stubChain) VerifyTransfer(ctx context.Context, hash, recipient, amount string) (*evm.Verification, error) {
	if c.verifyErr != nil {
		return nil, c.verifyErr
	}
	return &evm.Verification{TxHash: hash, To: recipient, Amount: amount, BlockNumber: 7}, nil
}

func (c *stubChain) SendFixedAmount(ctx context.Context, key *ecdsa.PrivateKey, to, amount string) (*evm.SendResult, error) {
	return &evm.SendResult{TxHash: txHash, To: to, Amount: amount, Mined: true, BlockNumber: 8}, nil
}

func (c *stubChain) SendMaxAvailable(ctx context.Context, key *ecdsa.PrivateKey, to string) (*evm.SendResult, error) {
	return nil, models.ErrInsufficientFunds
}

func (c *stubChain) EstimateGas(ctx context.Context) *evm.GasEstimate {
	return &evm.GasEstimate{GasLimit: "21000", GasPriceGwei: "0.1", EstimatedCost: "0.0000021"}
}

func (c *stubChain) ExplorerURL(hash string) string {
	return "https://explorer.test/tx/" + hash
}

type testServer struct {
	router http.Handler
	chain  *stubChain
	store  *database.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := zap.NewNop()
	cfg := &config.Config{
		Notifications: config.NotificationConfig{FrontendURL: "https://pingpay.test"},
		Worker:        config.WorkerConfig{MaxRetries: 3},
	}
	vault, err := keystore.NewVault("")
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	chain := &stubChain{}
	store := database.NewMemoryStore()
	wallets := service.NewWalletRegistry(store, chain, vault, config.ContactPolicyCreate, logger)
	ledger := service.NewTransferLedger(store, wallets, logger)

	handler := NewHandler(Services{
		Chain:       chain,
		Wallets:     wallets,
		Ledger:      ledger,
		Transfers:   service.NewTransferService(ledger, wallets, chain, notify.NewLogNotifier(logger), cfg, logger),
		Claims:      service.NewClaimVerifier(ledger, wallets, chain, logger),
		Withdrawals: service.NewWithdrawalService(wallets, chain, logger),
		Gas:         service.NewGasService(chain, logger),
		Parser:      parser.NewChain(logger, parser.NewRegexParser()),
	}, logger)

	return &testServer{router: SetupRouter(handler, logger), chain: chain, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// prepareAndConfirm runs a transfer to bob through prepare and confirm
func (s *testServer) prepareAndConfirm(t *testing.T, transferID string) ConfirmTransferResponse {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", PrepareTransferRequest{
		TransferID:      transferID,
		SenderAddress:   senderAddress,
		SenderHandle:    "alice",
		RecipientHandle: "@bob",
		Amount:          "0.25",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("prepare: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/v1/transfers/confirm", ConfirmTransferRequest{TransferID: transferID, TxHash: txHash})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var confirmed ConfirmTransferResponse
	decodeBody(t, w, &confirmed)
	return confirmed
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	decodeBody(t, w, &response)

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", response.Version)
	}
}

func TestHandleCreateWallet(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/wallets/create", CreateWalletRequest{Handle: "@Carol"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var created WalletResponse
	decodeBody(t, w, &created)
	if created.Handle != "carol" {
		t.Errorf("expected handle 'carol', got '%s'", created.Handle)
	}
	if created.IsNew == nil || !*created.IsNew {
		t.Error("expected isNew=true for first contact")
	}
	if created.ETHBalance != "0" {
		t.Errorf("expected balance '0' for new wallet, got '%s'", created.ETHBalance)
	}
	if strings.Contains(w.Body.String(), "private") {
		t.Error("wallet response must not carry key material")
	}

	w = s.do(t, http.MethodPost, "/api/v1/wallets/create", CreateWalletRequest{Handle: "carol"})
	var again WalletResponse
	decodeBody(t, w, &again)
	if again.IsNew == nil || *again.IsNew {
		t.Error("expected isNew=false for existing wallet")
	}
	if again.Address != created.Address {
		t.Errorf("expected address %s, got %s", created.Address, again.Address)
	}
	if again.ETHBalance != "1.25" {
		t.Errorf("expected balance '1.25', got '%s'", again.ETHBalance)
	}
}

func TestHandleWallets_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{
			name:           "missing handle",
			method:         http.MethodPost,
			path:           "/api/v1/wallets/create",
			body:           CreateWalletRequest{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			method:         http.MethodPost,
			path:           "/api/v1/wallets/create",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid balance address",
			method:         http.MethodGet,
			path:           "/api/v1/wallets/balance/0x1234",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown handle",
			method:         http.MethodGet,
			path:           "/api/v1/wallets/handle/nobody",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "empty channel",
			method:         http.MethodPost,
			path:           "/api/v1/wallets/dave/channel",
			body:           RecordChannelRequest{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			var errResp ErrorResponse
			decodeBody(t, w, &errResp)
			if errResp.Error == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestHandleGetBalance(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/wallets/balance/"+strings.ToUpper(senderAddress[2:]), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response BalanceResponse
	decodeBody(t, w, &response)
	if response.ETH != "1.25" {
		t.Errorf("expected eth '1.25', got '%s'", response.ETH)
	}
	if response.Address != senderAddress {
		t.Errorf("expected canonical address %s, got %s", senderAddress, response.Address)
	}

	s.chain.balanceErr = models.ChainUnavailable("get balance", errors.New("dial tcp: refused"))
	w = s.do(t, http.MethodGet, "/api/v1/wallets/balance/"+senderAddress, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if strings.Contains(w.Body.String(), "dial tcp") {
		t.Error("internal error detail leaked to the response")
	}
}

func TestHandleRecordChannel(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/wallets/@Dave/channel", RecordChannelRequest{Channel: "chat-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response RecordChannelResponse
	decodeBody(t, w, &response)
	if !response.Recorded || response.Handle != "dave" {
		t.Errorf("expected channel recorded for dave, got %+v", response)
	}
}

func TestHandleParseCommand(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name              string
		text              string
		expectedStatus    int
		expectedSuccess   bool
		expectedAmount    string
		expectedRecipient string
	}{
		{
			name:              "verb amount recipient",
			text:              "send 0.01 eth to @Alice",
			expectedStatus:    http.StatusOK,
			expectedSuccess:   true,
			expectedAmount:    "0.01",
			expectedRecipient: "alice",
		},
		{
			name:           "not a command",
			text:           "hello there",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "empty text",
			text:           "  ",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/transfers/parse", ParseCommandRequest{Text: tt.text})
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			var response ParseCommandResponse
			decodeBody(t, w, &response)
			if response.Success != tt.expectedSuccess {
				t.Errorf("expected success=%v, got %v", tt.expectedSuccess, response.Success)
			}
			if !tt.expectedSuccess {
				if response.Error == "" {
					t.Error("expected error message when parsing fails")
				}
				return
			}
			if response.Amount != tt.expectedAmount || response.Recipient != tt.expectedRecipient {
				t.Errorf("expected %s to %s, got %s to %s",
					tt.expectedAmount, tt.expectedRecipient, response.Amount, response.Recipient)
			}
		})
	}
}

func TestHandleTransferLifecycle(t *testing.T) {
	s := newTestServer(t)

	confirmed := s.prepareAndConfirm(t, "tx-1")
	if confirmed.Transfer.Status != models.TransferStatusConfirmed {
		t.Errorf("expected status confirmed, got %s", confirmed.Transfer.Status)
	}
	if !strings.HasPrefix(confirmed.ClaimURL, "https://pingpay.test/claim/") {
		t.Errorf("unexpected claim url %s", confirmed.ClaimURL)
	}
	token := strings.TrimPrefix(confirmed.ClaimURL, "https://pingpay.test/claim/")

	w := s.do(t, http.MethodGet, "/api/v1/transfers/tx-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if strings.Contains(w.Body.String(), token) {
		t.Error("transfer response must not carry the claim token")
	}

	w = s.do(t, http.MethodGet, "/api/v1/claims/"+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, senderAddress) || strings.Contains(body, token) {
		t.Error("claim view must not expose the sender address or the token")
	}
	var claim ClaimResponse
	decodeBody(t, w, &claim)
	if claim.Amount != "0.25" || claim.RecipientHandle != "bob" {
		t.Errorf("unexpected claim view %+v", claim)
	}

	w = s.do(t, http.MethodGet, "/api/v1/claims/pending/bob", nil)
	var pending map[string][]ClaimResponse
	decodeBody(t, w, &pending)
	if len(pending["claims"]) != 1 {
		t.Errorf("expected 1 pending claim, got %d", len(pending["claims"]))
	}

	w = s.do(t, http.MethodPost, "/api/v1/claims/"+token+"/verify", VerifyClaimRequest{Handle: "mallory"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d for wrong handle, got %d", http.StatusForbidden, w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/claims/"+token+"/verify", VerifyClaimRequest{Handle: "bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var result service.ClaimResult
	decodeBody(t, w, &result)
	if !result.Claimed || result.Wallet.Handle != "bob" {
		t.Errorf("unexpected claim result %+v", result)
	}

	w = s.do(t, http.MethodPost, "/api/v1/claims/"+token+"/verify", VerifyClaimRequest{Handle: "bob"})
	decodeBody(t, w, &result)
	if result.Claimed || !result.AlreadyClaimed {
		t.Errorf("expected alreadyClaimed on repeat, got %+v", result)
	}

	w = s.do(t, http.MethodGet, "/api/v1/transfers/history/"+senderAddress, nil)
	var history TransferListResponse
	decodeBody(t, w, &history)
	if len(history.Transfers) != 1 || history.Transfers[0].Status != models.TransferStatusClaimed {
		t.Errorf("expected one claimed transfer in history, got %+v", history.Transfers)
	}

	w = s.do(t, http.MethodGet, "/api/v1/transfers/handle/alice", nil)
	decodeBody(t, w, &history)
	if len(history.Transfers) != 1 {
		t.Errorf("expected one transfer for alice, got %d", len(history.Transfers))
	}
}

func TestHandleConfirmTransfer_Errors(t *testing.T) {
	tests := []struct {
		name           string
		verifyErr      error
		transferID     string
		txHash         string
		expectedStatus int
	}{
		{
			name:           "unknown transfer",
			transferID:     "missing",
			txHash:         txHash,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "malformed hash",
			transferID:     "t1",
			txHash:         "0xabc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "transaction does not match",
			verifyErr:      &models.VerificationError{TxHash: txHash, Reason: "amount too low"},
			transferID:     "t1",
			txHash:         txHash,
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "rpc unavailable",
			verifyErr:      models.ChainUnavailable("get transaction", errors.New("timeout")),
			transferID:     "t1",
			txHash:         txHash,
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.chain.verifyErr = tt.verifyErr

			w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", PrepareTransferRequest{
				TransferID:      "t1",
				SenderAddress:   senderAddress,
				RecipientHandle: "bob",
				Amount:          "1",
			})
			if w.Code != http.StatusOK {
				t.Fatalf("prepare: expected status %d, got %d", http.StatusOK, w.Code)
			}

			w = s.do(t, http.MethodPost, "/api/v1/transfers/confirm", ConfirmTransferRequest{TransferID: tt.transferID, TxHash: tt.txHash})
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandlePrepareTransfer_Conflict(t *testing.T) {
	s := newTestServer(t)

	req := PrepareTransferRequest{TransferID: "t1", SenderAddress: senderAddress, RecipientHandle: "bob", Amount: "1"}
	if w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", req); w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", req); w.Code != http.StatusOK {
		t.Errorf("expected idempotent retry to succeed, got %d", w.Code)
	}

	req.Amount = "2"
	w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestHandleConfirmTransfer_ReusedTransaction(t *testing.T) {
	s := newTestServer(t)
	s.prepareAndConfirm(t, "t1")

	w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", PrepareTransferRequest{
		TransferID:      "t2",
		SenderAddress:   senderAddress,
		RecipientHandle: "bob",
		Amount:          "0.25",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("prepare: expected status %d, got %d", http.StatusOK, w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/v1/transfers/confirm", ConfirmTransferRequest{TransferID: "t2", TxHash: txHash})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/v1/claims/pending/bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if strings.Count(w.Body.String(), `"transferId"`) != 1 {
		t.Errorf("expected a single pending claim, got %s", w.Body.String())
	}
}

func TestHandlePrepareTransfer_RejectsNonDecimalAmounts(t *testing.T) {
	s := newTestServer(t)

	for _, amount := range []string{"1e3", "1E-2", "1e2000000000", "0x10", "Infinity", strings.Repeat("9", 100<<10)} {
		w := s.do(t, http.MethodPost, "/api/v1/transfers/prepare", PrepareTransferRequest{
			SenderAddress:   senderAddress,
			RecipientHandle: "bob",
			Amount:          amount,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("amount %.20q: expected status %d, got %d", amount, http.StatusBadRequest, w.Code)
		}
	}
}

func TestHandleWithdraw(t *testing.T) {
	s := newTestServer(t)
	s.prepareAndConfirm(t, "t1")

	tests := []struct {
		name           string
		request        WithdrawRequest
		expectedStatus int
	}{
		{
			name:           "fixed amount",
			request:        WithdrawRequest{Handle: "bob", ToAddress: senderAddress, Amount: "0.1"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "max with nothing left",
			request:        WithdrawRequest{Handle: "bob", ToAddress: senderAddress, WithdrawMax: true},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "missing amount",
			request:        WithdrawRequest{Handle: "bob", ToAddress: senderAddress},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown handle",
			request:        WithdrawRequest{Handle: "zed", ToAddress: senderAddress, Amount: "0.1"},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/claims/withdraw", tt.request)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleEstimateGas(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/transfers/estimate", EstimateGasRequest{Amount: "0.5"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var estimate evm.GasEstimate
	decodeBody(t, w, &estimate)
	if estimate.GasLimit != "21000" {
		t.Errorf("expected gas limit 21000, got %s", estimate.GasLimit)
	}

	w = s.do(t, http.MethodPost, "/api/v1/transfers/estimate", EstimateGasRequest{Amount: "abc"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()

	data := map[string]string{"key": "value"}
	respondJSON(w, http.StatusOK, data)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type 'application/json', got '%s'", ct)
	}

	var result map[string]string
	decodeBody(t, w, &result)

	if result["key"] != "value" {
		t.Errorf("expected key 'value', got '%s'", result["key"])
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name            string
		statusCode      int
		message         string
		details         string
		expectedDetails string
	}{
		{
			name:       "error without details",
			statusCode: http.StatusServiceUnavailable,
			message:    "Unavailable",
		},
		{
			name:            "error with details",
			statusCode:      http.StatusBadRequest,
			message:         "Invalid request",
			details:         "amount must be positive",
			expectedDetails: "amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondError(w, tt.statusCode, tt.message, tt.details)

			if w.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, w.Code)
			}

			var errResp ErrorResponse
			decodeBody(t, w, &errResp)

			if errResp.Error != tt.message {
				t.Errorf("expected error '%s', got '%s'", tt.message, errResp.Error)
			}
			if errResp.Details != tt.expectedDetails {
				t.Errorf("expected details '%s', got '%s'", tt.expectedDetails, errResp.Details)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

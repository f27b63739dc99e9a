package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pingpay/backend/internal/models"
	"pingpay/backend/internal/parser"
	"pingpay/backend/internal/service"
)

// Services groups the collaborators the HTTP layer dispatches to
type Services struct {
	Chain       service.Chain
	Wallets     *service.WalletRegistry
	Ledger      *service.TransferLedger
	Transfers   *service.TransferService
	Claims      *service.ClaimVerifier
	Withdrawals *service.WithdrawalService
	Gas         *service.GasService
	Parser      parser.Parser
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc Services, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Version:   "1.0.0",
		Timestamp: time.Now().UTC(),
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Wallets ====================

// HandleCreateWallet handles POST /api/v1/wallets/create
// Gets or creates the custodial wallet for a handle
func (h *Handler) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if !h.decode(w, r, &req) {
		return
	}

	wallet, isNew, err := h.svc.Wallets.GetOrCreate(r.Context(), req.Handle)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	response := h.walletResponse(r, wallet)
	response.IsNew = &isNew
	if isNew {
		response.ETHBalance = "0"
	}

	respondJSON(w, http.StatusOK, response)
}

// HandleGetBalance handles GET /api/v1/wallets/balance/{address}
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	address, err := service.CanonicalAddress(mux.Vars(r)["address"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	balance, err := h.svc.Chain.GetBalance(r.Context(), address)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, BalanceResponse{Address: address, ETH: balance})
}

// HandleGetWalletByHandle handles GET /api/v1/wallets/handle/{handle}
func (h *Handler) HandleGetWalletByHandle(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Wallets.LookupByHandle(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.walletResponse(r, wallet))
}

// HandleRecordChannel handles POST /api/v1/wallets/{handle}/channel
// Called by the bot layer when a handle first talks to it
func (h *Handler) HandleRecordChannel(w http.ResponseWriter, r *http.Request) {
	var req RecordChannelRequest
	if !h.decode(w, r, &req) {
		return
	}

	handle := mux.Vars(r)["handle"]
	wallet, err := h.svc.Wallets.RecordContactChannel(r.Context(), handle, req.Channel)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	response := RecordChannelResponse{Handle: models.NormalizeHandle(handle)}
	if wallet != nil {
		response.Handle = wallet.Handle
		response.Recorded = true
	}

	respondJSON(w, http.StatusOK, response)
}

// ==================== Transfers ====================

// HandleParseCommand handles POST /api/v1/transfers/parse
func (h *Handler) HandleParseCommand(w http.ResponseWriter, r *http.Request) {
	var req ParseCommandRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd, err := h.svc.Parser.Parse(r.Context(), req.Text)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, ParseCommandResponse{
			Success:   true,
			Amount:    cmd.Amount,
			Recipient: cmd.Recipient,
		})
	case errors.Is(err, parser.ErrUnrecognized):
		respondJSON(w, http.StatusOK, ParseCommandResponse{Error: err.Error()})
	case errors.Is(err, models.ErrValidation):
		respondJSON(w, http.StatusBadRequest, ParseCommandResponse{Error: err.Error()})
	default:
		h.respondServiceError(w, r, err)
	}
}

// HandlePrepareTransfer handles POST /api/v1/transfers/prepare
// Records a pending transfer to the recipient's custodial wallet
func (h *Handler) HandlePrepareTransfer(w http.ResponseWriter, r *http.Request) {
	var req PrepareTransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	transfer, err := h.svc.Transfers.Prepare(r.Context(), service.CreateTransferRequest{
		TransferID:      req.TransferID,
		SenderAddress:   req.SenderAddress,
		SenderHandle:    req.SenderHandle,
		RecipientHandle: req.RecipientHandle,
		Amount:          req.Amount,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.transferResponse(transfer))
}

// HandleConfirmTransfer handles POST /api/v1/transfers/confirm
// Verifies the sender's transaction on chain, confirms and notifies
func (h *Handler) HandleConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.TransferID == "" {
		respondError(w, http.StatusBadRequest, "transferId is required", "")
		return
	}

	transfer, err := h.svc.Transfers.ConfirmTransfer(r.Context(), req.TransferID, req.TxHash)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ConfirmTransferResponse{
		Transfer: h.transferResponse(transfer),
		ClaimURL: h.svc.Transfers.ClaimURL(models.StringValue(transfer.ClaimToken)),
	})
}

// HandleEstimateGas handles POST /api/v1/transfers/estimate
func (h *Handler) HandleEstimateGas(w http.ResponseWriter, r *http.Request) {
	var req EstimateGasRequest
	if !h.decode(w, r, &req) {
		return
	}

	estimate, err := h.svc.Gas.Estimate(r.Context(), req.Amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, estimate)
}

// HandleGetTransfer handles GET /api/v1/transfers/{transferId}
func (h *Handler) HandleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.svc.Ledger.Get(r.Context(), mux.Vars(r)["transferId"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.transferResponse(transfer))
}

// HandleHistoryByAddress handles GET /api/v1/transfers/history/{address}
// Lists confirmed and claimed transfers sent from an address
func (h *Handler) HandleHistoryByAddress(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.svc.Ledger.HistoryByAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.transferList(transfers))
}

// HandleHistoryByHandle handles GET /api/v1/transfers/handle/{handle}
// Lists transfers where the handle is sender or recipient
func (h *Handler) HandleHistoryByHandle(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.svc.Ledger.HistoryByHandle(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.transferList(transfers))
}

// ==================== Claims ====================

// HandlePendingClaims handles GET /api/v1/claims/pending/{handle}
func (h *Handler) HandlePendingClaims(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.svc.Ledger.PendingClaims(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	claims := make([]ClaimResponse, 0, len(transfers))
	for i := range transfers {
		claims = append(claims, h.claimResponse(&transfers[i]))
	}

	respondJSON(w, http.StatusOK, map[string][]ClaimResponse{"claims": claims})
}

// HandleClaimWallet handles GET /api/v1/claims/wallet/{handle}
func (h *Handler) HandleClaimWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Claims.ClaimWallet(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, wallet)
}

// HandleGetClaim handles GET /api/v1/claims/{token}
// Returns the public view of the transfer behind a claim link
func (h *Handler) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.svc.Ledger.GetByClaimToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, h.claimResponse(transfer))
}

// HandleVerifyClaim handles POST /api/v1/claims/{token}/verify
// Binds the transfer to the recipient asserting their handle
func (h *Handler) HandleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	var req VerifyClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.Claims.Verify(r.Context(), mux.Vars(r)["token"], req.Handle)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// HandleWithdraw handles POST /api/v1/claims/withdraw
// Sends funds from a custodial wallet to a user-controlled address
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !req.WithdrawMax && req.Amount == "" {
		respondError(w, http.StatusBadRequest, "amount is required unless withdrawMax is set", "")
		return
	}

	result, err := h.svc.Withdrawals.Withdraw(r.Context(), service.WithdrawRequest{
		Handle:      req.Handle,
		ToAddress:   req.ToAddress,
		Amount:      req.Amount,
		WithdrawMax: req.WithdrawMax,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ==================== Projections ====================

func (h *Handler) walletResponse(r *http.Request, wallet *models.Wallet) WalletResponse {
	response := WalletResponse{Handle: wallet.Handle, Address: wallet.Address}

	balance, err := h.svc.Chain.GetBalance(r.Context(), wallet.Address)
	if err != nil {
		h.logger.Warn("Balance unavailable",
			zap.String("address", wallet.Address),
			zap.Error(err))
		return response
	}
	response.ETHBalance = balance
	return response
}

func (h *Handler) transferResponse(t *models.Transfer) TransferResponse {
	return TransferResponse{
		TransferID:       t.TransferID,
		SenderAddress:    t.SenderAddress,
		SenderHandle:     t.SenderHandle,
		RecipientHandle:  t.RecipientHandle,
		RecipientAddress: t.RecipientAddress,
		Amount:           t.Amount,
		Status:           t.Status,
		TxHash:           t.TxHash,
		ExplorerURL:      h.explorerURL(t.TxHash),
		FailureReason:    t.FailureReason,
		ClaimedAt:        t.ClaimedAt,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func (h *Handler) transferList(transfers []models.Transfer) TransferListResponse {
	out := make([]TransferResponse, 0, len(transfers))
	for i := range transfers {
		out = append(out, h.transferResponse(&transfers[i]))
	}
	return TransferListResponse{Transfers: out}
}

func (h *Handler) claimResponse(t *models.Transfer) ClaimResponse {
	return ClaimResponse{
		TransferID:      t.TransferID,
		SenderHandle:    t.SenderHandle,
		RecipientHandle: t.RecipientHandle,
		Amount:          t.Amount,
		Status:          t.Status,
		TxHash:          t.TxHash,
		ExplorerURL:     h.explorerURL(t.TxHash),
		ClaimedAt:       t.ClaimedAt,
		CreatedAt:       t.CreatedAt,
	}
}

func (h *Handler) explorerURL(txHash *string) string {
	if txHash == nil {
		return ""
	}
	return h.svc.Chain.ExplorerURL(*txHash)
}

// ==================== Helper Functions ====================

// maxBodyBytes caps request bodies; every request type is a handful of short fields
const maxBodyBytes = 64 << 10

// decode reads a JSON body and reports a 400 when it is malformed or too large
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Debug("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

// respondServiceError maps the error taxonomy to a status code. Details are
// only returned for errors caused by the caller.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status  int
		message string
	)

	switch {
	case errors.Is(err, models.ErrValidation):
		status, message = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, models.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrAuthorization):
		status, message = http.StatusForbidden, "Handle does not match this claim"
	case errors.Is(err, models.ErrConflict):
		status, message = http.StatusConflict, "Conflict"
	case errors.Is(err, models.ErrVerification):
		status, message = http.StatusUnprocessableEntity, "Transaction verification failed"
	case errors.Is(err, models.ErrInsufficientFunds):
		status, message = http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, models.ErrChainUnavailable):
		h.logger.Warn("Chain unavailable",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "Blockchain temporarily unavailable, please retry", "")
		return
	default:
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	respondError(w, status, message, err.Error())
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message, details string) {
	respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Details: details,
	})
}

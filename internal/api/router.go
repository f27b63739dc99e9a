package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the HTTP router
func SetupRouter(handler *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Outermost first: the request ID reaches the access log, and a
	// recovered panic is logged with its 500.
	router.Use(requestIDMiddleware)
	router.Use(accessLogMiddleware(logger))
	router.Use(recoveryMiddleware(logger))
	router.Use(corsMiddleware)

	// Preflight for every path; corsMiddleware answers it
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Wallets
	api.HandleFunc("/wallets/create", handler.HandleCreateWallet).Methods(http.MethodPost)
	api.HandleFunc("/wallets/balance/{address}", handler.HandleGetBalance).Methods(http.MethodGet)
	api.HandleFunc("/wallets/handle/{handle}", handler.HandleGetWalletByHandle).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{handle}/channel", handler.HandleRecordChannel).Methods(http.MethodPost)

	// Transfers
	api.HandleFunc("/transfers/parse", handler.HandleParseCommand).Methods(http.MethodPost)
	api.HandleFunc("/transfers/prepare", handler.HandlePrepareTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/confirm", handler.HandleConfirmTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/estimate", handler.HandleEstimateGas).Methods(http.MethodPost)
	api.HandleFunc("/transfers/history/{address}", handler.HandleHistoryByAddress).Methods(http.MethodGet)
	api.HandleFunc("/transfers/handle/{handle}", handler.HandleHistoryByHandle).Methods(http.MethodGet)
	api.HandleFunc("/transfers/{transferId}", handler.HandleGetTransfer).Methods(http.MethodGet)

	// Claims
	api.HandleFunc("/claims/pending/{handle}", handler.HandlePendingClaims).Methods(http.MethodGet)
	api.HandleFunc("/claims/wallet/{handle}", handler.HandleClaimWallet).Methods(http.MethodGet)
	api.HandleFunc("/claims/withdraw", handler.HandleWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/claims/{token}", handler.HandleGetClaim).Methods(http.MethodGet)
	api.HandleFunc("/claims/{token}/verify", handler.HandleVerifyClaim).Methods(http.MethodPost)

	return router
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pingpay/backend/internal/api"
	"pingpay/backend/internal/blockchain/evm"
	"pingpay/backend/internal/config"
	"pingpay/backend/internal/database"
	"pingpay/backend/internal/keystore"
	"pingpay/backend/internal/notify"
	"pingpay/backend/internal/parser"
	"pingpay/backend/internal/service"
	"pingpay/backend/internal/worker"
)

func main() {
	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting PingPay backend")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("chain_id", cfg.Chain.ChainID),
		zap.String("chain_name", cfg.Chain.Name),
		zap.String("contact_policy", string(cfg.Custody.ContactPolicy)),
		zap.Bool("keys_encrypted", cfg.Custody.KeyEncryptionSecret != ""))

	store, err := database.Open(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing store", zap.Error(err))
		}
	}()

	// Chain adapter
	chain, err := evm.NewClient(&cfg.Chain, logger)
	if err != nil {
		logger.Fatal("Failed to connect to chain", zap.Error(err))
	}
	defer chain.Close()

	vault, err := keystore.NewVault(cfg.Custody.KeyEncryptionSecret)
	if err != nil {
		logger.Fatal("Failed to initialize key vault", zap.Error(err))
	}
	if !vault.Encrypted() {
		logger.Warn("KEY_ENCRYPTION_SECRET not set, custodial keys are stored unencrypted")
	}

	notifier := newNotifier(cfg, logger)
	defer notifier.Close()

	// Initialize services
	wallets := service.NewWalletRegistry(store, chain, vault, cfg.Custody.ContactPolicy, logger)
	ledger := service.NewTransferLedger(store, wallets, logger)
	transfers := service.NewTransferService(ledger, wallets, chain, notifier, cfg, logger)

	logger.Info("Services initialized")

	apiHandler := api.NewHandler(api.Services{
		Chain:       chain,
		Wallets:     wallets,
		Ledger:      ledger,
		Transfers:   transfers,
		Claims:      service.NewClaimVerifier(ledger, wallets, chain, logger),
		Withdrawals: service.NewWithdrawalService(wallets, chain, logger),
		Gas:         service.NewGasService(chain, logger),
		Parser:      parser.NewChain(logger, parser.NewRegexParser()),
	}, logger)
	router := api.SetupRouter(apiHandler, logger)

	// Create HTTP server. Confirm runs a full verification and withdraw waits
	// for a receipt, so the write timeout covers the verification budget.
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Chain.VerifyBudget() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	var workerManager *worker.WorkerManager
	if cfg.Worker.Enabled {
		workerManager = worker.NewWorkerManager(ledger, transfers, &cfg.Worker, logger)
		workerManager.Start()
		logger.Info("Workers started")
	}

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown workers first
	if workerManager != nil {
		if err := workerManager.Shutdown(10 * time.Second); err != nil {
			logger.Error("Worker shutdown error", zap.Error(err))
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

// newNotifier publishes to RabbitMQ when configured and logs otherwise
func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.Notifications.AMQPURL == "" {
		logger.Info("AMQP_URL not set, notifications are logged only")
		return notify.NewLogNotifier(logger)
	}

	publisher, err := notify.NewAMQPPublisher(&cfg.Notifications, logger)
	if err != nil {
		logger.Error("Failed to connect notification broker, falling back to log notifier", zap.Error(err))
		return notify.NewLogNotifier(logger)
	}
	return publisher
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

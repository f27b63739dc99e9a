package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"pingpay/backend/internal/blockchain/evm"
)

// GasService handles transfer fee estimates
type GasService struct {
	chain  Chain
	logger *zap.Logger
}

// NewGasService creates a new gas service
func NewGasService(chain Chain, logger *zap.Logger) *GasService {
	return &GasService{
		chain:  chain,
		logger: logger.Named("gas"),
	}
}

// Estimate returns the fee for sending amount. An empty amount estimates a
// plain transfer; the gas of an ETH transfer does not depend on its value.
func (s *GasService) Estimate(ctx context.Context, amount string) (*evm.GasEstimate, error) {
	if amount = strings.TrimSpace(amount); amount != "" {
		if _, err := evm.CanonicalAmount(amount); err != nil {
			return nil, err
		}
	}

	estimate := s.chain.EstimateGas(ctx)

	s.logger.Debug("Estimated transfer gas",
		zap.String("amount", amount),
		zap.String("gas_price_gwei", estimate.GasPriceGwei),
		zap.String("estimated_cost", estimate.EstimatedCost),
		zap.Bool("fallback", estimate.Fallback))

	return estimate, nil
}

package evm

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"

	"pingpay/backend/internal/models"
)

const (
	etherDecimals = 18
	// maxAmountLength bounds what is echoed back in validation errors
	maxAmountLength = 64
)

// Plain decimal notation only; no sign, exponent or more than 30 integer digits.
var amountPattern = regexp.MustCompile(`^[0-9]{1,30}(\.[0-9]+)?$`)

// ParseEther parses a decimal ETH string, rejecting more than 18 fractional digits
func ParseEther(amount string) (decimal.Decimal, error) {
	if len(amount) > maxAmountLength || !amountPattern.MatchString(amount) {
		return decimal.Zero, models.Validationf("invalid amount %q", truncate(amount))
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, models.Validationf("invalid amount %q", amount)
	}
	if d.Exponent() < -etherDecimals {
		return decimal.Zero, models.Validationf("amount %q has more than %d decimal places", amount, etherDecimals)
	}
	return d, nil
}

func truncate(s string) string {
	if len(s) <= maxAmountLength {
		return s
	}
	return s[:maxAmountLength] + "..."
}

// EtherToWei converts a decimal ETH string to wei
func EtherToWei(amount string) (*big.Int, error) {
	d, err := ParseEther(amount)
	if err != nil {
		return nil, err
	}
	return d.Shift(etherDecimals).BigInt(), nil
}

// WeiToEther formats wei as a canonical decimal ETH string
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// WeiToGwei formats wei as a decimal gwei string
func WeiToGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}

// CanonicalAmount normalizes a positive ETH amount ("0.50" -> "0.5")
func CanonicalAmount(amount string) (string, error) {
	d, err := ParseEther(amount)
	if err != nil {
		return "", err
	}
	if !d.IsPositive() {
		return "", models.Validationf("amount must be positive: %s", amount)
	}
	return d.String(), nil
}

func formatWeiForError(wei *big.Int) string {
	return fmt.Sprintf("%s ETH", WeiToEther(wei))
}

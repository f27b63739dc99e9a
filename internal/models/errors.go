package models

import (
	"errors"
	"fmt"
)

// Error classes shared by the store, chain adapter, services and HTTP layer.
var (
	// ErrValidation marks malformed or missing caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown id, token, handle or address.
	ErrNotFound = errors.New("not found")
	// ErrAuthorization marks a handle assertion that does not match the claim.
	ErrAuthorization = errors.New("authorization error")
	// ErrConflict marks a state-transition guard that failed.
	ErrConflict = errors.New("conflict")
	// ErrChainUnavailable marks transient RPC trouble; callers may retry.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrVerification marks on-chain facts that do not satisfy the transfer.
	ErrVerification = errors.New("verification failed")
	// ErrInsufficientFunds marks a wallet that cannot cover amount plus gas.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// VerificationError carries the reason an on-chain transaction was rejected
type VerificationError struct {
	TxHash string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s", e.TxHash, e.Reason)
}

// Unwrap lets errors.Is(err, ErrVerification) match
func (e *VerificationError) Unwrap() error {
	return ErrVerification
}

// Validationf builds an ErrValidation with a formatted detail
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound with a formatted detail
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf builds an ErrConflict with a formatted detail
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// ChainUnavailable wraps an RPC error as retryable
func ChainUnavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrChainUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrChainUnavailable, op, err)
}

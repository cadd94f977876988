package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors returned by WalletService.
var (
	ErrWalletFrozen      = errors.New("wallet: wallet is frozen")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidAmount     = errors.New("wallet: amount must be positive with at most 4 decimal places")
	ErrInvalidRequest    = errors.New("wallet: invalid request")
	ErrWalletNotFound    = errors.New("wallet: wallet not found")
	ErrPriceNotFound     = errors.New("wallet: service price not found")
	ErrReferenceConflict = errors.New("wallet: reference already used by another wallet")
	ErrReferenceMismatch = errors.New("wallet: reference already used with a different amount")
	ErrConcurrentUpdate  = errors.New("wallet: too many concurrent updates")
	ErrStorage           = errors.New("wallet: storage error")
)

// Error codes handed to callers.
const (
	CodeWalletFrozen      = "WALLET_FROZEN"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeStorageError      = "STORAGE_ERROR"
)

// InsufficientFundsError carries the amounts of a rejected debit. It matches
// ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	Required decimal.Decimal
	Current  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: required %s, available %s", ErrInsufficientFunds, e.Required, e.Current)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// Shortfall is how much is missing to cover Required.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	d := e.Required.Sub(e.Current)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func insufficient(required, current decimal.Decimal) error {
	return &InsufficientFundsError{Required: required, Current: current}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Code maps an error to its caller-facing code; "" for nil.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWalletFrozen):
		return CodeWalletFrozen
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrReferenceConflict),
		errors.Is(err, ErrReferenceMismatch):
		return CodeInvalidRequest
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrPriceNotFound):
		return CodeNotFound
	default:
		return CodeStorageError
	}
}

// classified reports whether err already carries one of the sentinels above.
func classified(err error) bool {
	for _, s := range []error{
		ErrWalletFrozen, ErrInsufficientFunds, ErrInvalidAmount, ErrInvalidRequest,
		ErrWalletNotFound, ErrPriceNotFound, ErrReferenceConflict, ErrReferenceMismatch, ErrConcurrentUpdate, ErrStorage,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

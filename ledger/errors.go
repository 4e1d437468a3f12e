/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place. The engine returns structured rejection
  errors that wrap sentinel errors, so callers can either errors.Is() on the
  sentinel or errors.As() on the struct to get the figures involved.

ERROR CATEGORIES:
  1. Validation errors    - Non-positive shares/price/amount; rejected before
                            any state is read
  2. Business rejections  - Insufficient buying power/shares/funds, missing
                            position; detected after reading state, before
                            any write; always leave state unchanged
  3. Storage failures     - Surfaced by stores and the account service;
                            ErrStatusUnknown marks a write whose outcome
                            could not be confirmed

SEE ALSO:
  - engine.go:       Produces validation and business rejection errors
  - account/service.go: Produces ErrStatusUnknown and retry handling
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned for non-positive shares.
	ErrInvalidQuantity = errors.New("shares must be positive")

	// ErrInvalidPrice is returned for a non-positive price.
	ErrInvalidPrice = errors.New("price must be positive")

	// ErrInvalidAmount is returned for a non-positive deposit/withdrawal amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidSymbol is returned for an empty symbol.
	ErrInvalidSymbol = errors.New("symbol is required")

	// ErrInsufficientBuyingPower rejects a buy whose total cost exceeds the
	// wallet's buying power.
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")

	// ErrInsufficientShares rejects a sell for more shares than held.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrNoSuchPosition rejects a sell for a symbol with no open position.
	ErrNoSuchPosition = errors.New("no position for symbol")

	// ErrInsufficientFunds rejects a withdrawal exceeding the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidDateRange is returned by history queries when start > end.
	ErrInvalidDateRange = errors.New("invalid date range: start after end")

	// ErrStatusUnknown marks an operation whose write outcome could not be
	// confirmed. The operation is safe to retry; it must never be reported
	// as a success or a clean failure.
	ErrStatusUnknown = errors.New("operation status unknown - retry safe")

	// ErrWriteRolledBack marks a storage write that definitely failed before
	// becoming durable. Nothing was applied, so there is no ambiguity for
	// the caller to retry around.
	ErrWriteRolledBack = errors.New("write rolled back, no state changed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the figures involved
// =============================================================================

// InsufficientBuyingPowerError reports a buy rejection with the amounts.
type InsufficientBuyingPowerError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBuyingPowerError) Error() string {
	return fmt.Sprintf("insufficient buying power: required %s, available %s",
		e.Required, e.Available)
}

func (e *InsufficientBuyingPowerError) Unwrap() error { return ErrInsufficientBuyingPower }

// InsufficientSharesError reports a sell rejection with the quantities.
type InsufficientSharesError struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s: requested %s, available %s",
		e.Symbol, e.Requested, e.Available)
}

func (e *InsufficientSharesError) Unwrap() error { return ErrInsufficientShares }

// NoSuchPositionError reports a sell against a symbol that is not held.
type NoSuchPositionError struct {
	Symbol string
}

func (e *NoSuchPositionError) Error() string {
	return fmt.Sprintf("no position found for %s", e.Symbol)
}

func (e *NoSuchPositionError) Unwrap() error { return ErrNoSuchPosition }

// InsufficientFundsError reports a withdrawal rejection with the amounts.
type InsufficientFundsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s",
		e.Requested, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for input errors rejected before reading state.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrInvalidDateRange)
}

// IsRejection returns true for business-rule rejections. These are terminal
// for the single operation and leave all state unchanged.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientBuyingPower) ||
		errors.Is(err, ErrInsufficientShares) ||
		errors.Is(err, ErrNoSuchPosition) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsClientError returns true if the error is the caller's fault.
func IsClientError(err error) bool {
	return IsValidation(err) || IsRejection(err)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStatusUnknown)
}

// Package errors defines the protocol-wide error taxonomy. Every operation
// entry point returns one of these sentinels (or wraps one with %w) so
// callers and tests can branch on errors.Is rather than string matching.
package errors

import "errors"

var (
	// ErrAnonymousCallerNotAllowed is returned when a mutating operation is
	// invoked by the anonymous principal.
	ErrAnonymousCallerNotAllowed = errors.New("icusd: anonymous caller not allowed")

	// ErrCallerNotOwner is returned when a caller attempts to operate on a
	// vault it does not own.
	ErrCallerNotOwner = errors.New("icusd: caller does not own this vault")

	// ErrAmountTooLow is returned when a requested amount is zero or falls
	// below a component's configured minimum.
	ErrAmountTooLow = errors.New("icusd: amount too low")

	// ErrAlreadyProcessing is returned when the per-owner reentrancy lock is
	// already held, or when a protocol-wide advisory lock (redemption,
	// liquidation) is contended.
	ErrAlreadyProcessing = errors.New("icusd: operation already in progress")

	// ErrTemporarilyUnavailable is returned when the protocol is in
	// read-only mode, or a dependency (price oracle) cannot currently
	// service the request.
	ErrTemporarilyUnavailable = errors.New("icusd: temporarily unavailable")

	// ErrTransfer is returned when an outbound ledger transfer fails.
	ErrTransfer = errors.New("icusd: transfer failed")

	// ErrTransferFrom is returned when a ledger transfer_from (pulling
	// collateral from the caller) fails, typically due to insufficient
	// allowance or balance.
	ErrTransferFrom = errors.New("icusd: transfer_from failed")

	// ErrVaultNotFound is returned when an operation names a vault id that
	// does not exist in the registry.
	ErrVaultNotFound = errors.New("icusd: vault not found")

	// ErrVaultNotEmpty is returned when close_vault is attempted on a vault
	// still holding debt or collateral.
	ErrVaultNotEmpty = errors.New("icusd: vault not empty")

	// ErrVaultBelowMinimumRatio is returned when an operation would leave a
	// vault below the minimum collateral ratio required by the active mode.
	ErrVaultBelowMinimumRatio = errors.New("icusd: vault would fall below minimum collateral ratio")

	// ErrVaultNotLiquidatable is returned when liquidation is attempted
	// against a vault whose collateral ratio is not below the liquidation
	// threshold.
	ErrVaultNotLiquidatable = errors.New("icusd: vault is not liquidatable")

	// ErrPoolAbsorptionRefused is returned when the stability pool cannot
	// absorb a liquidation because its total deposits equal the debt being
	// absorbed exactly (T == D), which the product-snapshot algorithm
	// cannot represent without dividing by zero.
	ErrPoolAbsorptionRefused = errors.New("icusd: stability pool absorption refused")

	// ErrNoRedeemableVaults is returned when a redemption request cannot be
	// routed to any vault (e.g. every vault is underwater).
	ErrNoRedeemableVaults = errors.New("icusd: no redeemable vaults")

	// ErrGeneric wraps unexpected internal failures (storage, codec) that
	// do not map to a more specific sentinel.
	ErrGeneric = errors.New("icusd: internal error")
)

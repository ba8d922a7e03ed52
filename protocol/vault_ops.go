package protocol

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/internal/pause"
	"icusdprotocol/mode"
	"icusdprotocol/numeric"
	"icusdprotocol/types"
	"icusdprotocol/vault"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// resolvePriceAndMode is the common first step of every vault/redemption
// mutation: read the price cache (failing with PriceStale rather than
// proceeding on a cold quote) and derive the currently active mode from
// it.
func (p *Protocol) resolvePriceAndMode(now time.Time) (numeric.Price, mode.Mode, error) {
	price, err := p.prices.Current(now)
	if err != nil {
		return numeric.Price{}, 0, numeric.ErrPriceStale
	}
	return price, p.observeMode(price), nil
}

// span opens an OpenTelemetry span around a public operation, recording
// the outcome and returning a function to close it.
func (p *Protocol) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, sp := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, err.Error())
		}
		sp.End()
	}
}

// OpenVault creates a vault from the caller's pulled collateral,
// optionally minting an initial debt against it.
func (p *Protocol) OpenVault(ctx context.Context, caller types.Account, collateralE8s, debtE8s uint64) (vault.Vault, uint64, error) {
	ctx, end := p.span(ctx, "protocol.OpenVault", attribute.Int64("collateral_e8s", int64(collateralE8s)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return vault.Vault{}, 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return vault.Vault{}, 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return vault.Vault{}, 0, err
	}

	supply := p.currentSupply(ctx)
	v, verr := p.ops.OpenVault(ctx, caller, collateralE8s, debtE8s, now, currentMode, supply)
	if verr != nil {
		err = verr
		return vault.Vault{}, 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return v, p.log.Len(), nil
}

// AddMarginToVault deposits additional collateral into a vault the caller
// owns.
func (p *Protocol) AddMarginToVault(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.AddMarginToVault", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	if _, verr := p.ops.AddMargin(ctx, caller, vaultID, amountE8s, now, currentMode); verr != nil {
		err = verr
		return 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return p.log.Len(), nil
}

// BorrowFromVault mints additional icUSD debt against a vault. It is
// refused outright in Recovery mode — Recovery only allows operations
// that improve a vault's collateral ratio.
func (p *Protocol) BorrowFromVault(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64) (vault.Vault, uint64, error) {
	ctx, end := p.span(ctx, "protocol.BorrowFromVault", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return vault.Vault{}, 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return vault.Vault{}, 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return vault.Vault{}, 0, err
	}
	if currentMode == mode.Recovery {
		err = protoerrors.ErrTemporarilyUnavailable
		return vault.Vault{}, 0, err
	}
	supply := p.currentSupply(ctx)
	updated, verr := p.ops.Borrow(ctx, caller, vaultID, amountE8s, now, currentMode, supply)
	if verr != nil {
		err = verr
		return vault.Vault{}, 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return updated, p.log.Len(), nil
}

// RepayToVault burns icUSD from the caller against a vault's debt.
func (p *Protocol) RepayToVault(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.RepayToVault", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	if _, verr := p.ops.Repay(ctx, caller, vaultID, amountE8s, now, currentMode); verr != nil {
		err = verr
		return 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return p.log.Len(), nil
}

// WithdrawCollateral releases vault collateral back to the caller, subject
// to the active mode's minimum collateral ratio.
func (p *Protocol) WithdrawCollateral(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.WithdrawCollateral", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	if _, verr := p.ops.WithdrawCollateral(ctx, caller, vaultID, amountE8s, now, currentMode); verr != nil {
		err = verr
		return 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return p.log.Len(), nil
}

// CloseVault removes a vault whose debt and collateral have both been
// drained to zero.
func (p *Protocol) CloseVault(ctx context.Context, caller types.Account, vaultID uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.CloseVault", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	if verr := p.ops.Close(ctx, caller, vaultID, now, currentMode); verr != nil {
		err = verr
		return 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return p.log.Len(), nil
}

// WithdrawAndCloseVault withdraws all of a debt-free vault's collateral
// and removes the vault in one call.
func (p *Protocol) WithdrawAndCloseVault(ctx context.Context, caller types.Account, vaultID uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.WithdrawAndCloseVault", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	amount, verr := p.ops.WithdrawAndClose(ctx, caller, vaultID, now, currentMode)
	if verr != nil {
		err = verr
		return 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return amount, nil
}

// MarginTransfer moves collateral between two vaults the same caller
// owns.
func (p *Protocol) MarginTransfer(ctx context.Context, caller types.Account, fromVaultID, toVaultID uint64, amountE8s uint64) error {
	ctx, end := p.span(ctx, "protocol.MarginTransfer")
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return err
	}
	if err = pause.Guard(p.pauses, pause.ModuleVault); err != nil {
		return err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return err
	}
	if verr := p.ops.MarginTransfer(ctx, caller, fromVaultID, toVaultID, amountE8s, now, currentMode); verr != nil {
		err = verr
		return err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return nil
}

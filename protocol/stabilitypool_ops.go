package protocol

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/core/events"
	"icusdprotocol/internal/pause"
	"icusdprotocol/ledger"
	"icusdprotocol/mode"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/types"

	"go.opentelemetry.io/otel/attribute"
)

// ProvideLiquidity pulls the caller's icUSD into the pool's custody and
// records it against their compounded share, queueing any collateral gain
// left over from a prior touch in the same call.
func (p *Protocol) ProvideLiquidity(ctx context.Context, caller types.Account, amountE8s uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.ProvideLiquidity", attribute.Int64("amount_e8s", int64(amountE8s)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleStabilityPool); err != nil {
		return 0, err
	}
	if caller.IsZero() {
		err = protoerrors.ErrAnonymousCallerNotAllowed
		return 0, err
	}
	if amountE8s == 0 {
		err = protoerrors.ErrAmountTooLow
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	if currentMode == mode.ReadOnly {
		err = protoerrors.ErrTemporarilyUnavailable
		return 0, err
	}

	if _, terr := p.icusd.TransferFrom(ctx, ledger.TransferFromArgs{
		Spender: p.accounts.Protocol, From: caller, To: p.accounts.Protocol, AmountE8s: amountE8s,
	}); terr != nil {
		err = protoerrors.ErrTransferFrom
		return 0, err
	}

	gainE8s, perr2 := p.pool.Provide(caller, amountE8s)
	if perr2 != nil {
		err = perr2
		return 0, err
	}

	if err = p.emit(ctx, events.ProvideLiquidity{Timestamp: now.UnixNano(), Provider: caller, AmountE8s: amountE8s}); err != nil {
		return 0, err
	}

	// The leftover gain payout is supplementary to the deposit itself: a
	// failed send leaves its intent in the queue for the retry worker, it
	// does not fail the provide.
	if gainE8s > 0 {
		p.pending.Enqueue(ctx, caller, pendingtransfer.AssetCollateral, gainE8s)
	}
	p.refreshObservability(currentMode)
	return p.log.Len(), nil
}

// WithdrawLiquidity pays out up to amountE8s of the caller's compounded
// icUSD principal plus any accrued collateral gain.
func (p *Protocol) WithdrawLiquidity(ctx context.Context, caller types.Account, amountE8s uint64) (uint64, uint64, error) {
	ctx, end := p.span(ctx, "protocol.WithdrawLiquidity", attribute.Int64("amount_e8s", int64(amountE8s)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleStabilityPool); err != nil {
		return 0, 0, err
	}
	if caller.IsZero() {
		err = protoerrors.ErrAnonymousCallerNotAllowed
		return 0, 0, err
	}
	if amountE8s == 0 {
		err = protoerrors.ErrAmountTooLow
		return 0, 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, 0, err
	}
	if currentMode == mode.ReadOnly {
		err = protoerrors.ErrTemporarilyUnavailable
		return 0, 0, err
	}

	withdrawnE8s, gainE8s, werr := p.pool.Withdraw(caller, amountE8s)
	if werr != nil {
		err = werr
		return 0, 0, err
	}

	// The event commits before the outbound legs: a failed payout is a
	// post-commit error against already-recorded state, not a silent
	// divergence between the pool and the log.
	if err = p.emit(ctx, events.WithdrawLiquidity{Timestamp: now.UnixNano(), Provider: caller, AmountE8s: withdrawnE8s}); err != nil {
		return 0, 0, err
	}

	if withdrawnE8s > 0 {
		if _, terr := p.pending.Enqueue(ctx, caller, pendingtransfer.AssetICUSD, withdrawnE8s); terr != nil {
			err = protoerrors.ErrTransfer
			return 0, 0, err
		}
	}
	if gainE8s > 0 {
		p.pending.Enqueue(ctx, caller, pendingtransfer.AssetCollateral, gainE8s)
	}
	p.refreshObservability(currentMode)
	return withdrawnE8s, gainE8s, nil
}

// ClaimLiquidityReturns pays out the caller's accrued collateral gain
// without touching principal.
func (p *Protocol) ClaimLiquidityReturns(ctx context.Context, caller types.Account) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.ClaimLiquidityReturns")
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleStabilityPool); err != nil {
		return 0, err
	}
	if caller.IsZero() {
		err = protoerrors.ErrAnonymousCallerNotAllowed
		return 0, err
	}
	now := time.Now()
	_, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}

	gainE8s, cerr := p.pool.Claim(caller)
	if cerr != nil {
		err = cerr
		return 0, err
	}

	if err = p.emit(ctx, events.ClaimLiquidityReturns{Timestamp: now.UnixNano(), Provider: caller, CollateralE8s: gainE8s}); err != nil {
		return 0, err
	}

	if gainE8s > 0 {
		if _, terr := p.pending.Enqueue(ctx, caller, pendingtransfer.AssetCollateral, gainE8s); terr != nil {
			err = protoerrors.ErrTransfer
			return 0, err
		}
	}
	p.refreshObservability(currentMode)
	return gainE8s, nil
}

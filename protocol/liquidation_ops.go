package protocol

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/internal/pause"
	"icusdprotocol/mode"

	"go.opentelemetry.io/otel/attribute"
)

// LiquidatableVaults lists the vaults currently below the active mode's
// liquidation threshold, ascending by collateral ratio. Callable by an
// authorized operator or a scheduled tick; it performs no mutation.
func (p *Protocol) LiquidatableVaults(ctx context.Context) ([]uint64, error) {
	ctx, end := p.span(ctx, "protocol.LiquidatableVaults")
	var err error
	defer func() { end(err) }()

	price, currentMode, perr := p.resolvePriceAndMode(time.Now())
	if perr != nil {
		err = perr
		return nil, err
	}
	ids, lerr := p.liq.Candidates(price, p.liquidationThreshold(currentMode))
	if lerr != nil {
		err = lerr
		return nil, err
	}
	return ids, nil
}

// LiquidateVault removes a single vault below the active mode's
// liquidation threshold, routing its debt to the stability pool or,
// failing that, redistributing it pro-rata across survivors.
func (p *Protocol) LiquidateVault(ctx context.Context, vaultID uint64) error {
	ctx, end := p.span(ctx, "protocol.LiquidateVault", attribute.Int64("vault_id", int64(vaultID)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return err
	}
	if err = pause.Guard(p.pauses, pause.ModuleLiquidation); err != nil {
		return err
	}
	now := time.Now()
	price, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return err
	}
	if currentMode == mode.ReadOnly {
		err = protoerrors.ErrTemporarilyUnavailable
		return err
	}

	if lerr := p.liq.LiquidateOne(ctx, vaultID, price, p.liquidationThreshold(currentMode), now, currentMode.String()); lerr != nil {
		err = lerr
		return err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return nil
}

package protocol

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/internal/pause"
	"icusdprotocol/mode"
	"icusdprotocol/types"

	"go.opentelemetry.io/otel/attribute"
)

// RedeemICP burns up to amountE8s of the caller's icUSD and pays out
// collateral at the current oracle price, net of the redemption fee.
func (p *Protocol) RedeemICP(ctx context.Context, caller types.Account, amountE8s uint64) (uint64, error) {
	ctx, end := p.span(ctx, "protocol.RedeemICP", attribute.Int64("amount_e8s", int64(amountE8s)))
	var err error
	defer func() { end(err) }()

	if err = p.requireNotHalted(); err != nil {
		return 0, err
	}
	if err = pause.Guard(p.pauses, pause.ModuleRedemption); err != nil {
		return 0, err
	}
	now := time.Now()
	price, currentMode, perr := p.resolvePriceAndMode(now)
	if perr != nil {
		err = perr
		return 0, err
	}
	if currentMode == mode.ReadOnly {
		err = protoerrors.ErrTemporarilyUnavailable
		return 0, err
	}

	supply := p.currentSupply(ctx)
	netCollateral, rerr := p.router.Redeem(ctx, caller, amountE8s, price, now, supply)
	if rerr != nil {
		err = rerr
		return 0, err
	}
	p.checkFatalInvariants(ctx)
	p.refreshObservability(currentMode)
	return netCollateral, nil
}

// Package redemption implements the redemption router: a caller burns
// icUSD and receives collateral at the oracle price, with the debt
// reduction applied to the riskiest vaults first — the registry is walked
// ascending by collateral ratio, skipping underwater vaults.
package redemption

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/core/events"
	"icusdprotocol/feeengine"
	"icusdprotocol/ledger"
	"icusdprotocol/numeric"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/types"
	"icusdprotocol/vault"
)

// underwaterThreshold is the collateral ratio below which a vault is
// skipped by redemption rather than drained, since redeeming against it
// would pay the redeemer more collateral value than the vault can back.
var underwaterThreshold = numeric.One()

// Params bundles the fee-curve configuration the router applies.
type Params struct {
	FeeCurve            feeengine.Curve
	MinRedeemE8s        uint64
	DeveloperFeeAccount types.Account
}

// Router implements the redemption operation.
type Router struct {
	registry *vault.Registry
	icusd    ledger.Minter
	pending  *pendingtransfer.Manager
	params   Params
	protocol types.Account
	emit     func(context.Context, events.Event) error

	mu          chan struct{} // advisory one-at-a-time lock, mirroring the protocol's single-threaded redemption/liquidation semantics
	lastBaseBps uint64
	lastTouched time.Time
}

// NewRouter constructs a Router. The collateral payouts (redeemer and
// developer fee) go out through pending, which records each intent before
// issuing the ledger call.
func NewRouter(registry *vault.Registry, icusd ledger.Minter, pending *pendingtransfer.Manager, params Params, protocolAccount types.Account, emit func(context.Context, events.Event) error) *Router {
	r := &Router{
		registry: registry, icusd: icusd, pending: pending,
		params: params, protocol: protocolAccount, emit: emit,
		mu: make(chan struct{}, 1),
	}
	r.mu <- struct{}{}
	return r
}

// Redeem burns up to amountE8s of the redeemer's icUSD, walking the
// registry ascending by collateral ratio and reducing each non-underwater
// vault's debt and collateral until the budget is exhausted, then pays the
// redeemer the resulting collateral net of the redemption fee.
func (r *Router) Redeem(ctx context.Context, redeemer types.Account, amountE8s uint64, price numeric.Price, now time.Time, circulatingSupplyE8s uint64) (uint64, error) {
	select {
	case <-r.mu:
		defer func() { r.mu <- struct{}{} }()
	default:
		return 0, protoerrors.ErrAlreadyProcessing
	}

	if redeemer.IsZero() {
		return 0, protoerrors.ErrAnonymousCallerNotAllowed
	}
	if amountE8s == 0 || amountE8s < r.params.MinRedeemE8s {
		return 0, protoerrors.ErrAmountTooLow
	}

	sorted, err := r.registry.SortedByRatio(price)
	if err != nil {
		return 0, err
	}

	// Plan the walk first without touching the registry: the burn below can
	// still fail, and a failed redemption must leave no state change behind
	// (no event would record one).
	remaining := amountE8s
	var touchedIDs []uint64
	var debtReduced []uint64
	var collReduced []uint64

	for _, id := range sorted {
		if remaining == 0 {
			break
		}
		v, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		ratio, hasDebt, err := v.CollateralRatio(price)
		if err != nil {
			return 0, err
		}
		if !hasDebt {
			continue
		}
		if ratio.LessThan(underwaterThreshold) {
			continue
		}

		debtTaken := remaining
		if debtTaken > v.DebtE8s {
			debtTaken = v.DebtE8s
		}
		collateralTaken, err := price.CollateralForValue(debtTaken)
		if err != nil {
			return 0, err
		}
		if collateralTaken > v.CollateralE8s {
			collateralTaken = v.CollateralE8s
		}

		touchedIDs = append(touchedIDs, id)
		debtReduced = append(debtReduced, debtTaken)
		collReduced = append(collReduced, collateralTaken)
		remaining -= debtTaken
	}

	burned := amountE8s - remaining
	if burned == 0 {
		return 0, protoerrors.ErrNoRedeemableVaults
	}

	if _, err := r.icusd.Burn(ctx, redeemer, burned); err != nil {
		return 0, protoerrors.ErrTransferFrom
	}

	for i, id := range touchedIDs {
		r.registry.ReduceDebtAndCollateral(id, debtReduced[i], collReduced[i])
	}

	var totalCollateral uint64
	for _, c := range collReduced {
		totalCollateral += c
	}

	feeRate, err := r.currentFeeRate(now, circulatingSupplyE8s)
	if err != nil {
		return 0, err
	}
	feeE8s, err := feeRate.MulInt(totalCollateral)
	if err != nil {
		return 0, err
	}
	netCollateral := totalCollateral - feeE8s

	nextBase, err := feeengine.NextRedemptionBase(r.params.FeeCurve, r.lastBaseBps, burned, circulatingSupplyE8s)
	if err != nil {
		return 0, err
	}
	r.lastBaseBps = nextBase
	r.lastTouched = now

	if err := r.emit(ctx, events.RedemptionOnVaults{
		Timestamp: now.UnixNano(), Redeemer: redeemer, ICUSDBurnedE8s: burned,
		VaultIDs: touchedIDs, DebtReducedE8s: debtReduced, CollReducedE8s: collReduced, FeeE8s: feeE8s,
		BaseBps: nextBase,
	}); err != nil {
		return 0, err
	}

	// A vault drained to zero debt and zero collateral does not survive the
	// walk; the close_vault record is the cleanup replay re-applies.
	for _, id := range touchedIDs {
		v, ok := r.registry.Get(id)
		if !ok || v.DebtE8s != 0 || v.CollateralE8s != 0 {
			continue
		}
		r.registry.Remove(id)
		if err := r.emit(ctx, events.CloseVault{Timestamp: now.UnixNano(), VaultID: id, Owner: v.Owner}); err != nil {
			return 0, err
		}
	}

	if feeE8s > 0 {
		if _, err := r.pending.Enqueue(ctx, r.params.DeveloperFeeAccount, pendingtransfer.AssetCollateral, feeE8s); err != nil {
			return 0, protoerrors.ErrTransfer
		}
	}
	if netCollateral > 0 {
		if _, err := r.pending.Enqueue(ctx, redeemer, pendingtransfer.AssetCollateral, netCollateral); err != nil {
			return 0, protoerrors.ErrTransfer
		}
	}

	if err := r.emit(ctx, events.RedemptionTransfered{
		Timestamp: now.UnixNano(), Redeemer: redeemer, CollateralE8s: netCollateral,
	}); err != nil {
		return 0, err
	}

	return netCollateral, nil
}

// RestoreFeeState reinstates the decaying redemption-fee base recorded on a
// replayed redemption event, so a restarted process decays from where the
// last redemption left it rather than from the floor.
func (r *Router) RestoreFeeState(baseBps uint64, touched time.Time) {
	r.lastBaseBps = baseBps
	r.lastTouched = touched
}

func (r *Router) currentFeeRate(now time.Time, circulatingSupplyE8s uint64) (numeric.Ratio, error) {
	elapsed := now.Sub(r.lastTouched)
	if r.lastTouched.IsZero() {
		elapsed = 0
	}
	return feeengine.RedemptionFeeRate(r.params.FeeCurve, r.lastBaseBps, elapsed, circulatingSupplyE8s)
}

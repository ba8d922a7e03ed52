// Package liquidation implements the liquidation engine: vaults falling
// below the active mode's liquidation threshold are absorbed by the
// stability pool when possible, with any shortfall redistributed pro-rata
// across surviving vaults. It generalizes native/lending.Engine.Liquidate's
// repay-then-seize-then-route-collateral shape from a single liquidator
// repaying one borrower's debt to the protocol's own pool-first,
// redistribute-fallback flow.
package liquidation

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/core/events"
	"icusdprotocol/ledger"
	"icusdprotocol/numeric"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/stabilitypool"
	"icusdprotocol/types"
	"icusdprotocol/vault"
)

// Params bundles the thresholds the liquidation engine enforces.
type Params struct {
	BonusBps uint64
}

// Engine selects and processes liquidatable vaults.
type Engine struct {
	registry *vault.Registry
	pool     *stabilitypool.Pool
	icusd    ledger.Minter
	pending  *pendingtransfer.Manager
	params   Params
	protocol types.Account
	emit     func(context.Context, events.Event) error
}

// NewEngine constructs a liquidation Engine. icusd is used to burn the
// debt a stability-pool absorption cancels out of the protocol's pooled
// icUSD custody balance — the pool's internal P/S scalars track shares,
// the actual tokens still have to be destroyed on the ledger. Any
// collateral surplus returned to the liquidated owner goes out through
// pending, which records the intent before issuing the transfer.
func NewEngine(registry *vault.Registry, pool *stabilitypool.Pool, icusd ledger.Minter, pending *pendingtransfer.Manager, params Params, protocolAccount types.Account, emit func(context.Context, events.Event) error) *Engine {
	return &Engine{registry: registry, pool: pool, icusd: icusd, pending: pending, params: params, protocol: protocolAccount, emit: emit}
}

// Candidates returns every vault id currently eligible for liquidation at
// price under threshold (1.33 in GeneralAvailability, 1.50 in Recovery),
// ascending by collateral ratio (most unhealthy first).
func (e *Engine) Candidates(price numeric.Price, threshold numeric.Ratio) ([]uint64, error) {
	sorted, err := e.registry.SortedByRatio(price)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for _, id := range sorted {
		v, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		ratio, hasDebt, err := v.CollateralRatio(price)
		if err != nil {
			return nil, err
		}
		if !hasDebt {
			break // sorted with infinite-ratio vaults last
		}
		if ratio.GreaterOrEqual(threshold) {
			break // ascending order: nothing further is liquidatable either
		}
		out = append(out, id)
	}
	return out, nil
}

// LiquidateOne processes a single liquidatable vault: it is removed from
// the registry, its debt value plus bonus in collateral is offered to the
// stability pool, any collateral surplus beyond that is returned to the
// owner, and any shortfall the pool cannot absorb is redistributed
// pro-rata across the remaining vaults. modeTag is recorded on the
// liquidate_vault event verbatim; threshold is the
// active mode's liquidation threshold (1.33 GeneralAvailability, 1.50
// Recovery).
func (e *Engine) LiquidateOne(ctx context.Context, vaultID uint64, price numeric.Price, threshold numeric.Ratio, now time.Time, modeTag string) error {
	v, ok := e.registry.Get(vaultID)
	if !ok {
		return protoerrors.ErrVaultNotFound
	}
	ratio, hasDebt, err := v.CollateralRatio(price)
	if err != nil {
		return err
	}
	if !hasDebt || ratio.GreaterOrEqual(threshold) {
		return protoerrors.ErrVaultNotLiquidatable
	}

	debtValueCollateralE8s, err := price.CollateralForValue(v.DebtE8s)
	if err != nil {
		return err
	}
	bonusRatio, err := numeric.RatioFromFraction(10_000+e.params.BonusBps, 10_000)
	if err != nil {
		return err
	}
	seizeE8s, err := bonusRatio.MulInt(debtValueCollateralE8s)
	if err != nil {
		return err
	}
	if seizeE8s > v.CollateralE8s {
		seizeE8s = v.CollateralE8s
	}
	surplusE8s := v.CollateralE8s - seizeE8s

	if _, ok := e.registry.Remove(vaultID); !ok {
		return protoerrors.ErrVaultNotFound
	}

	var bonusE8s uint64
	if seizeE8s > debtValueCollateralE8s {
		bonusE8s = seizeE8s - debtValueCollateralE8s
	}

	absorbed := e.pool.Absorb(v.DebtE8s, seizeE8s) == nil
	if !absorbed {
		if err := e.redistribute(v.DebtE8s, seizeE8s); err != nil {
			return err
		}
	}

	// liquidate_vault always records the removal regardless of which path
	// resolved the vault's debt; redistribute_vault is additional when
	// absorption fell through. Events commit before the outbound ledger
	// legs below, so a failed transfer is a post-commit error against
	// already-recorded state.
	if err := e.emit(ctx, events.LiquidateVault{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: v.Owner,
		Mode: modeTag, PriceE8s: price.Uint64(),
		DebtE8s: v.DebtE8s, CollateralE8s: seizeE8s, BonusE8s: bonusE8s, Absorbed: absorbed,
	}); err != nil {
		return err
	}
	if !absorbed {
		if err := e.emit(ctx, events.RedistributeVault{
			Timestamp: now.UnixNano(), VaultID: vaultID, Owner: v.Owner,
			DebtE8s: v.DebtE8s, CollateralE8s: seizeE8s,
		}); err != nil {
			return err
		}
	}

	if absorbed {
		if _, err := e.icusd.Burn(ctx, e.protocol, v.DebtE8s); err != nil {
			return protoerrors.ErrTransferFrom
		}
	}
	if surplusE8s > 0 {
		if _, err := e.pending.Enqueue(ctx, v.Owner, pendingtransfer.AssetCollateral, surplusE8s); err != nil {
			return protoerrors.ErrTransfer
		}
	}
	return nil
}

// Redistribute spreads debtE8s and collateralE8s across every surviving
// vault proportional to its share of total collateral. It is exported so
// event-log replay can re-run the exact same deterministic allocation a
// live redistribute_vault event recorded, without persisting every
// survivor's individual share in the event itself.
func (e *Engine) Redistribute(debtE8s, collateralE8s uint64) error {
	return e.redistribute(debtE8s, collateralE8s)
}

// redistribute spreads debtE8s and collateralE8s across every surviving
// vault proportional to its share of total collateral.
func (e *Engine) redistribute(debtE8s, collateralE8s uint64) error {
	survivors := e.registry.All()
	if len(survivors) == 0 {
		return protoerrors.ErrNoRedeemableVaults
	}
	totalCollateral, _ := e.registry.Totals()
	if totalCollateral == 0 {
		return protoerrors.ErrNoRedeemableVaults
	}

	var debtAllocated, collateralAllocated uint64
	for i, v := range survivors {
		last := i == len(survivors)-1
		var debtShare, collateralShare uint64
		if last {
			debtShare = debtE8s - debtAllocated
			collateralShare = collateralE8s - collateralAllocated
		} else {
			share, err := numeric.RatioFromFraction(v.CollateralE8s, totalCollateral)
			if err != nil {
				return err
			}
			debtShare, err = share.MulInt(debtE8s)
			if err != nil {
				return err
			}
			collateralShare, err = share.MulInt(collateralE8s)
			if err != nil {
				return err
			}
		}
		debtAllocated += debtShare
		collateralAllocated += collateralShare
		e.registry.AddDebtAndCollateral(v.ID, debtShare, collateralShare)
	}
	return nil
}

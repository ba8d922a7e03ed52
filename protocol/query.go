package protocol

import (
	"context"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/mode"
	"icusdprotocol/numeric"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/types"
	"icusdprotocol/vault"
)

// Totals is the query-surface view of the registry's aggregate collateral
// and debt, plus the mode they currently imply.
type Totals struct {
	CollateralE8s uint64
	DebtE8s       uint64
	Mode          mode.Mode
}

// GetVault returns a single vault by id. Queries are served even while the
// protocol is halted.
func (p *Protocol) GetVault(vaultID uint64) (vault.Vault, bool) {
	return p.registry.Get(vaultID)
}

// GetVaultsByOwner returns every vault id owned by owner.
func (p *Protocol) GetVaultsByOwner(owner types.Account) []uint64 {
	return p.registry.OwnedBy(owner)
}

// GetMode returns the mode the registry's current total collateral ratio
// and any operator override imply, feeding the observation through the
// same hysteresis every mutating operation advances.
func (p *Protocol) GetMode(ctx context.Context) (mode.Mode, error) {
	price, err := p.prices.Current(time.Now())
	if err != nil {
		return 0, err
	}
	return p.observeMode(price), nil
}

// GetTotals returns the registry's aggregate collateral/debt and the mode
// they currently imply.
func (p *Protocol) GetTotals() (Totals, error) {
	collateral, debt := p.registry.Totals()
	price, err := p.prices.Current(time.Now())
	if err != nil {
		return Totals{CollateralE8s: collateral, DebtE8s: debt}, nil
	}
	return Totals{CollateralE8s: collateral, DebtE8s: debt, Mode: p.observeMode(price)}, nil
}

// GetTotalCollateralRatio returns the registry-wide collateral ratio at the
// current cached price.
func (p *Protocol) GetTotalCollateralRatio() (numeric.Ratio, error) {
	collateral, debt := p.registry.Totals()
	price, err := p.prices.Current(time.Now())
	if err != nil {
		return numeric.Ratio{}, err
	}
	if debt == 0 {
		return numeric.Ratio{}, numeric.ErrDivisionByZero
	}
	return numeric.CollateralRatio(collateral, debt, price)
}

// GetMaxBorrowable returns the additional icUSD a vault could still borrow
// at the current price under the active mode's minimum collateral ratio.
func (p *Protocol) GetMaxBorrowable(vaultID uint64) (uint64, error) {
	v, ok := p.registry.Get(vaultID)
	if !ok {
		return 0, protoerrors.ErrVaultNotFound
	}
	price, err := p.prices.Current(time.Now())
	if err != nil {
		return 0, err
	}
	minCR := mode.MinCollateralRatio(p.observeMode(price), p.generalCR, p.recoveryCR)
	return numeric.MaxBorrowableE8s(v.CollateralE8s, v.DebtE8s, price, minCR)
}

// GetPendingTransfers returns every outbound transfer intent not yet
// successfully sent, for operator reconciliation after a permanent
// transfer failure.
func (p *Protocol) GetPendingTransfers() []*pendingtransfer.Intent {
	return p.pending.Pending()
}

// GetStabilityPoolBalance returns a depositor's current compounded icUSD
// stake, without mutating their snapshot.
func (p *Protocol) GetStabilityPoolBalance(owner types.Account) (uint64, error) {
	return p.pool.CompoundedBalance(owner)
}

// GetStabilityPoolTotal returns the pool's aggregate icUSD value.
func (p *Protocol) GetStabilityPoolTotal() uint64 {
	return p.pool.TotalDeposits()
}

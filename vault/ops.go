package vault

import (
	"context"
	"sync"
	"time"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/core/events"
	"icusdprotocol/feeengine"
	"icusdprotocol/ledger"
	"icusdprotocol/mode"
	"icusdprotocol/numeric"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/priceoracle"
	"icusdprotocol/types"
)

// Params bundles the operator-tunable parameters vault operations enforce.
type Params struct {
	MinCollateralRatioGeneral  numeric.Ratio
	MinCollateralRatioRecovery numeric.Ratio
	BorrowFeeCurve             feeengine.Curve
	MinVaultDebtE8s            uint64
	MinVaultCollateralE8s      uint64
	DeveloperFeeAccount        types.Account
}

// Ops wires the vault registry to its external collaborators (the icUSD
// and collateral ledgers, the price cache, and the mode selector) and
// implements every user-facing vault operation.
type Ops struct {
	registry   *Registry
	icusd      ledger.Minter
	collateral ledger.Ledger
	prices     *priceoracle.Cache
	modeSel    *mode.Selector
	params     Params
	pending    *pendingtransfer.Manager
	emit       func(context.Context, events.Event) error
	locks      sync.Map // types.Account -> *sync.Mutex
	protocol   types.Account
}

// NewOps constructs an Ops instance. Inbound pulls go straight through the
// collateral ledger; every outbound payout is mediated by pending, which
// records the intent before issuing the call. emit is called with each
// event a successful operation appends to the protocol's event log
// (WithdrawCollateral emits a second, CloseVault, when it drains a vault).
func NewOps(registry *Registry, icusd ledger.Minter, collateral ledger.Ledger, prices *priceoracle.Cache, modeSel *mode.Selector, params Params, protocolAccount types.Account, pending *pendingtransfer.Manager, emit func(context.Context, events.Event) error) *Ops {
	return &Ops{
		registry:   registry,
		icusd:      icusd,
		collateral: collateral,
		prices:     prices,
		modeSel:    modeSel,
		params:     params,
		pending:    pending,
		emit:       emit,
		protocol:   protocolAccount,
	}
}

func (o *Ops) ownerLock(owner types.Account) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(owner, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// guard implements the shared entry preamble every mutating operation
// runs first: reject the anonymous caller, reject while the protocol is in
// ReadOnly mode, and resolve the current price, returning the price
// staleness error rather than operating on a stale quote.
func (o *Ops) guard(caller types.Account, now time.Time, currentMode mode.Mode) (numeric.Price, error) {
	if caller.IsZero() {
		return numeric.Price{}, protoerrors.ErrAnonymousCallerNotAllowed
	}
	if currentMode == mode.ReadOnly {
		return numeric.Price{}, protoerrors.ErrTemporarilyUnavailable
	}
	price, err := o.prices.Current(now)
	if err != nil {
		return numeric.Price{}, numeric.ErrPriceStale
	}
	return price, nil
}

func (o *Ops) minCR(currentMode mode.Mode) numeric.Ratio {
	return mode.MinCollateralRatio(currentMode, o.params.MinCollateralRatioGeneral, o.params.MinCollateralRatioRecovery)
}

// OpenVault creates a new vault, pulling collateralE8s from the caller's
// approved collateral-ledger balance and minting debtE8s icUSD (net of the
// borrow fee) to the caller.
func (o *Ops) OpenVault(ctx context.Context, caller types.Account, collateralE8s, debtE8s uint64, now time.Time, currentMode mode.Mode, circulatingSupplyE8s uint64) (Vault, error) {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return Vault{}, protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	price, err := o.guard(caller, now, currentMode)
	if err != nil {
		return Vault{}, err
	}
	if collateralE8s < o.params.MinVaultCollateralE8s {
		return Vault{}, protoerrors.ErrAmountTooLow
	}
	if debtE8s > 0 && debtE8s < o.params.MinVaultDebtE8s {
		return Vault{}, protoerrors.ErrAmountTooLow
	}

	feeRate, err := feeengine.BorrowFeeRate(o.params.BorrowFeeCurve, circulatingSupplyE8s)
	if err != nil {
		return Vault{}, err
	}
	feeE8s, err := feeRate.MulIntCeil(debtE8s)
	if err != nil {
		return Vault{}, err
	}
	grossDebt := debtE8s + feeE8s

	if debtE8s > 0 {
		ratio, err := numeric.CollateralRatio(collateralE8s, grossDebt, price)
		if err != nil {
			return Vault{}, err
		}
		if ratio.LessThan(o.minCR(currentMode)) {
			return Vault{}, protoerrors.ErrVaultBelowMinimumRatio
		}
	}

	if _, err := o.collateral.TransferFrom(ctx, ledger.TransferFromArgs{
		Spender: o.protocol, From: caller, To: o.protocol, AmountE8s: collateralE8s,
	}); err != nil {
		return Vault{}, protoerrors.ErrTransferFrom
	}

	v := Vault{Owner: caller, CollateralE8s: collateralE8s, DebtE8s: grossDebt}
	id := o.registry.insert(v)
	v.ID = id

	if debtE8s > 0 {
		if _, err := o.icusd.Mint(ctx, caller, debtE8s); err != nil {
			return Vault{}, protoerrors.ErrTransfer
		}
		if feeE8s > 0 {
			if _, err := o.icusd.Mint(ctx, o.params.DeveloperFeeAccount, feeE8s); err != nil {
				return Vault{}, protoerrors.ErrTransfer
			}
		}
	}

	if err := o.emit(ctx, events.OpenVault{
		Timestamp: now.UnixNano(), VaultID: id, Owner: caller,
		CollateralE8s: collateralE8s, DebtE8s: grossDebt, FeeE8s: feeE8s,
	}); err != nil {
		return Vault{}, err
	}
	return v, nil
}

// AddMargin deposits additional collateral into an existing vault.
func (o *Ops) AddMargin(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64, now time.Time, currentMode mode.Mode) (Vault, error) {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return Vault{}, protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	if _, err := o.guard(caller, now, currentMode); err != nil {
		return Vault{}, err
	}
	if amountE8s == 0 {
		return Vault{}, protoerrors.ErrAmountTooLow
	}
	existing, ok := o.registry.Get(vaultID)
	if !ok {
		return Vault{}, protoerrors.ErrVaultNotFound
	}
	if !existing.Owner.Equal(caller) {
		return Vault{}, protoerrors.ErrCallerNotOwner
	}

	if _, err := o.collateral.TransferFrom(ctx, ledger.TransferFromArgs{
		Spender: o.protocol, From: caller, To: o.protocol, AmountE8s: amountE8s,
	}); err != nil {
		return Vault{}, protoerrors.ErrTransferFrom
	}

	updated, _ := o.registry.mutate(vaultID, func(v *Vault) {
		v.CollateralE8s += amountE8s
	})

	if err := o.emit(ctx, events.AddMarginToVault{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller, CollateralE8s: amountE8s,
	}); err != nil {
		return Vault{}, err
	}
	return updated, nil
}

// Borrow mints additional icUSD debt against an existing vault, subject to
// the active mode's minimum collateral ratio.
func (o *Ops) Borrow(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64, now time.Time, currentMode mode.Mode, circulatingSupplyE8s uint64) (Vault, error) {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return Vault{}, protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	price, err := o.guard(caller, now, currentMode)
	if err != nil {
		return Vault{}, err
	}
	if amountE8s == 0 {
		return Vault{}, protoerrors.ErrAmountTooLow
	}
	existing, ok := o.registry.Get(vaultID)
	if !ok {
		return Vault{}, protoerrors.ErrVaultNotFound
	}
	if !existing.Owner.Equal(caller) {
		return Vault{}, protoerrors.ErrCallerNotOwner
	}

	feeRate, err := feeengine.BorrowFeeRate(o.params.BorrowFeeCurve, circulatingSupplyE8s)
	if err != nil {
		return Vault{}, err
	}
	feeE8s, err := feeRate.MulIntCeil(amountE8s)
	if err != nil {
		return Vault{}, err
	}
	grossAmount := amountE8s + feeE8s
	newDebt := existing.DebtE8s + grossAmount
	if newDebt < o.params.MinVaultDebtE8s {
		return Vault{}, protoerrors.ErrAmountTooLow
	}

	ratio, err := numeric.CollateralRatio(existing.CollateralE8s, newDebt, price)
	if err != nil {
		return Vault{}, err
	}
	if ratio.LessThan(o.minCR(currentMode)) {
		return Vault{}, protoerrors.ErrVaultBelowMinimumRatio
	}

	if _, err := o.icusd.Mint(ctx, caller, amountE8s); err != nil {
		return Vault{}, protoerrors.ErrTransfer
	}
	if feeE8s > 0 {
		if _, err := o.icusd.Mint(ctx, o.params.DeveloperFeeAccount, feeE8s); err != nil {
			return Vault{}, protoerrors.ErrTransfer
		}
	}

	updated, _ := o.registry.mutate(vaultID, func(v *Vault) {
		v.DebtE8s = newDebt
	})

	if err := o.emit(ctx, events.BorrowFromVault{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller, DebtE8s: grossAmount, FeeE8s: feeE8s,
	}); err != nil {
		return Vault{}, err
	}
	return updated, nil
}

// Repay burns icUSD debt against a vault, capped at the vault's outstanding
// debt.
func (o *Ops) Repay(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64, now time.Time, currentMode mode.Mode) (Vault, error) {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return Vault{}, protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	if _, err := o.guard(caller, now, currentMode); err != nil {
		return Vault{}, err
	}
	if amountE8s == 0 {
		return Vault{}, protoerrors.ErrAmountTooLow
	}
	existing, ok := o.registry.Get(vaultID)
	if !ok {
		return Vault{}, protoerrors.ErrVaultNotFound
	}
	if !existing.Owner.Equal(caller) {
		return Vault{}, protoerrors.ErrCallerNotOwner
	}
	if existing.DebtE8s == 0 {
		return Vault{}, protoerrors.ErrAmountTooLow
	}

	repayAmount := amountE8s
	if repayAmount > existing.DebtE8s {
		repayAmount = existing.DebtE8s
	}
	remaining := existing.DebtE8s - repayAmount
	if remaining > 0 && remaining < o.params.MinVaultDebtE8s {
		return Vault{}, protoerrors.ErrAmountTooLow
	}

	if _, err := o.icusd.Burn(ctx, caller, repayAmount); err != nil {
		return Vault{}, protoerrors.ErrTransferFrom
	}

	updated, _ := o.registry.mutate(vaultID, func(v *Vault) {
		v.DebtE8s = remaining
	})

	if err := o.emit(ctx, events.RepayToVault{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller, DebtE8s: repayAmount,
	}); err != nil {
		return Vault{}, err
	}
	return updated, nil
}

// WithdrawCollateral releases collateral from a vault, subject to the
// resulting position remaining at or above the active mode's minimum
// collateral ratio.
func (o *Ops) WithdrawCollateral(ctx context.Context, caller types.Account, vaultID uint64, amountE8s uint64, now time.Time, currentMode mode.Mode) (Vault, error) {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return Vault{}, protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	price, err := o.guard(caller, now, currentMode)
	if err != nil {
		return Vault{}, err
	}
	if amountE8s == 0 {
		return Vault{}, protoerrors.ErrAmountTooLow
	}
	existing, ok := o.registry.Get(vaultID)
	if !ok {
		return Vault{}, protoerrors.ErrVaultNotFound
	}
	if !existing.Owner.Equal(caller) {
		return Vault{}, protoerrors.ErrCallerNotOwner
	}
	if amountE8s > existing.CollateralE8s {
		return Vault{}, protoerrors.ErrAmountTooLow
	}
	remainingCollateral := existing.CollateralE8s - amountE8s

	if existing.DebtE8s > 0 {
		ratio, err := numeric.CollateralRatio(remainingCollateral, existing.DebtE8s, price)
		if err != nil {
			return Vault{}, err
		}
		if ratio.LessThan(o.minCR(currentMode)) {
			return Vault{}, protoerrors.ErrVaultBelowMinimumRatio
		}
	}

	// State commits ahead of the payout: collateral is decremented and the
	// event recorded, then the transfer goes out through the pending queue.
	// A ledger failure leaves a retryable intent — the collateral is never
	// both kept in the vault and sent.
	updated, _ := o.registry.mutate(vaultID, func(v *Vault) {
		v.CollateralE8s = remainingCollateral
	})

	if err := o.emit(ctx, events.WithdrawCollateral{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller, CollateralE8s: amountE8s,
	}); err != nil {
		return Vault{}, err
	}

	// A vault left with neither debt nor collateral does not linger; the
	// close_vault record mirrors the removal for replay.
	if updated.DebtE8s == 0 && updated.CollateralE8s == 0 {
		o.registry.remove(vaultID)
		if err := o.emit(ctx, events.CloseVault{
			Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller,
		}); err != nil {
			return Vault{}, err
		}
	}

	if _, err := o.pending.Enqueue(ctx, caller, pendingtransfer.AssetCollateral, amountE8s); err != nil {
		return updated, protoerrors.ErrTransfer
	}
	return updated, nil
}

// Close removes a vault that has already been repaid and drained: both
// debt and collateral must be zero. Withdrawing the last of a vault's
// collateral closes it automatically, so this mostly serves callers
// re-issuing a close after a lost response.
func (o *Ops) Close(ctx context.Context, caller types.Account, vaultID uint64, now time.Time, currentMode mode.Mode) error {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	if _, err := o.guard(caller, now, currentMode); err != nil {
		return err
	}
	existing, ok := o.registry.Get(vaultID)
	if !ok {
		return protoerrors.ErrVaultNotFound
	}
	if !existing.Owner.Equal(caller) {
		return protoerrors.ErrCallerNotOwner
	}
	if existing.DebtE8s != 0 || existing.CollateralE8s != 0 {
		return protoerrors.ErrVaultNotEmpty
	}

	o.registry.remove(vaultID)

	return o.emit(ctx, events.CloseVault{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller,
	})
}

// WithdrawAndClose closes a debt-free vault, removing it from the registry
// before attempting the outbound collateral transfer. If the ledger
// transfer fails permanently, the vault stays removed and the caller's
// claim survives as a pending-transfer intent for the retry worker or an
// operator to re-drive: resurrecting the vault would let a retried close
// pay the same collateral out twice.
func (o *Ops) WithdrawAndClose(ctx context.Context, caller types.Account, vaultID uint64, now time.Time, currentMode mode.Mode) (uint64, error) {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return 0, protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	if _, err := o.guard(caller, now, currentMode); err != nil {
		return 0, err
	}
	existing, ok := o.registry.Get(vaultID)
	if !ok {
		return 0, protoerrors.ErrVaultNotFound
	}
	if !existing.Owner.Equal(caller) {
		return 0, protoerrors.ErrCallerNotOwner
	}
	if existing.DebtE8s != 0 {
		return 0, protoerrors.ErrAmountTooLow
	}

	o.registry.remove(vaultID)
	if err := o.emit(ctx, events.WithdrawAndCloseVault{
		Timestamp: now.UnixNano(), VaultID: vaultID, Owner: caller, CollateralE8s: existing.CollateralE8s,
	}); err != nil {
		return 0, err
	}

	if existing.CollateralE8s == 0 {
		return 0, nil
	}
	if _, err := o.pending.Enqueue(ctx, caller, pendingtransfer.AssetCollateral, existing.CollateralE8s); err != nil {
		// The vault record stays removed; the intent is retained in the
		// pending queue for re-drive.
		return 0, protoerrors.ErrTransfer
	}
	return existing.CollateralE8s, nil
}

// MarginTransfer moves collateral from one vault to another owned by the
// same caller, failing if the source vault would drop below the active
// minimum collateral ratio.
func (o *Ops) MarginTransfer(ctx context.Context, caller types.Account, fromID, toID uint64, amountE8s uint64, now time.Time, currentMode mode.Mode) error {
	lock := o.ownerLock(caller)
	if !lock.TryLock() {
		return protoerrors.ErrAlreadyProcessing
	}
	defer lock.Unlock()

	price, err := o.guard(caller, now, currentMode)
	if err != nil {
		return err
	}
	if amountE8s == 0 {
		return protoerrors.ErrAmountTooLow
	}
	from, ok := o.registry.Get(fromID)
	if !ok {
		return protoerrors.ErrVaultNotFound
	}
	to, ok := o.registry.Get(toID)
	if !ok {
		return protoerrors.ErrVaultNotFound
	}
	if !from.Owner.Equal(caller) || !to.Owner.Equal(caller) {
		return protoerrors.ErrCallerNotOwner
	}
	if amountE8s > from.CollateralE8s {
		return protoerrors.ErrAmountTooLow
	}

	remainingFrom := from.CollateralE8s - amountE8s
	if from.DebtE8s > 0 {
		ratio, err := numeric.CollateralRatio(remainingFrom, from.DebtE8s, price)
		if err != nil {
			return err
		}
		if ratio.LessThan(o.minCR(currentMode)) {
			return protoerrors.ErrVaultBelowMinimumRatio
		}
	}

	o.registry.mutate(fromID, func(v *Vault) { v.CollateralE8s = remainingFrom })
	o.registry.mutate(toID, func(v *Vault) { v.CollateralE8s += amountE8s })

	return o.emit(ctx, events.MarginTransfer{
		Timestamp: now.UnixNano(), Owner: caller, FromVaultID: fromID, ToVaultID: toID, CollateralE8s: amountE8s,
	})
}

package events

import "icusdprotocol/types"

// Every protocol mutation emits one or more of these records to the event
// log; the log is the sole source of truth and state is rebuilt by folding
// over them in order.

// Init marks the genesis record written when the protocol canister is first
// installed.
type Init struct {
	Timestamp      int64
	DeveloperFeeTo types.Account
}

func (Init) EventType() string { return "init" }

// Upgrade records an operator-issued configuration change (e.g. switching
// the mode override).
type Upgrade struct {
	Timestamp int64
	Caller    types.Account
	ModeForce string
}

func (Upgrade) EventType() string { return "upgrade" }

// OpenVault records the creation of a new vault with its initial collateral
// and borrowed debt.
type OpenVault struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	CollateralE8s uint64
	DebtE8s       uint64
	FeeE8s        uint64
}

func (OpenVault) EventType() string { return "open_vault" }

// AddMarginToVault records additional collateral deposited into an existing
// vault.
type AddMarginToVault struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	CollateralE8s uint64
}

func (AddMarginToVault) EventType() string { return "add_margin_to_vault" }

// BorrowFromVault records additional icUSD minted against a vault.
type BorrowFromVault struct {
	Timestamp int64
	VaultID   uint64
	Owner     types.Account
	DebtE8s   uint64
	FeeE8s    uint64
}

func (BorrowFromVault) EventType() string { return "borrow_from_vault" }

// RepayToVault records icUSD burned against a vault's debt.
type RepayToVault struct {
	Timestamp int64
	VaultID   uint64
	Owner     types.Account
	DebtE8s   uint64
}

func (RepayToVault) EventType() string { return "repay_to_vault" }

// CloseVault records the removal of a vault whose debt and collateral both
// reached zero, whether closed explicitly or drained by a withdrawal or
// redemption.
type CloseVault struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	CollateralE8s uint64
	DebtE8s       uint64
}

func (CloseVault) EventType() string { return "close_vault" }

// WithdrawCollateral records collateral released from a vault that keeps
// at least the active mode's minimum collateral ratio, without closing it.
type WithdrawCollateral struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	CollateralE8s uint64
}

func (WithdrawCollateral) EventType() string { return "withdraw_collateral" }

// WithdrawAndCloseVault records the two-phase close used when the vault has
// no outstanding debt: the vault record is removed before the outbound
// transfer is attempted.
type WithdrawAndCloseVault struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	CollateralE8s uint64
}

func (WithdrawAndCloseVault) EventType() string { return "withdraw_and_close_vault" }

// RedemptionOnVaults records a redemption walk across one or more vaults,
// reducing each vault's debt and collateral in turn.
type RedemptionOnVaults struct {
	Timestamp      int64
	Redeemer       types.Account
	ICUSDBurnedE8s uint64
	VaultIDs       []uint64
	DebtReducedE8s []uint64
	CollReducedE8s []uint64
	FeeE8s         uint64
	// BaseBps is the decaying redemption-fee base after this redemption
	// bumped it; replay restores the fee engine from it.
	BaseBps uint64
}

func (RedemptionOnVaults) EventType() string { return "redemption_on_vaults" }

// RedemptionTransfered records the net collateral payout to a redeemer once
// the ledger transfer succeeds.
type RedemptionTransfered struct {
	Timestamp     int64
	Redeemer      types.Account
	CollateralE8s uint64
}

func (RedemptionTransfered) EventType() string { return "redemption_transfered" }

// LiquidateVault records a vault removed by the liquidation engine,
// whether its debt was absorbed by the stability pool, redistributed
// across survivors, or some of both. Mode carries the protocol mode
// (general_availability/recovery) active at the moment of liquidation,
// and PriceE8s the oracle price the liquidation was evaluated at.
type LiquidateVault struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	Mode          string
	PriceE8s      uint64
	DebtE8s       uint64
	CollateralE8s uint64
	BonusE8s      uint64
	Absorbed      bool
}

func (LiquidateVault) EventType() string { return "liquidate_vault" }

// RedistributeVault records a vault's debt and collateral spread pro-rata
// across surviving vaults when the stability pool could not fully absorb
// it.
type RedistributeVault struct {
	Timestamp     int64
	VaultID       uint64
	Owner         types.Account
	DebtE8s       uint64
	CollateralE8s uint64
}

func (RedistributeVault) EventType() string { return "redistribute_vault" }

// ProvideLiquidity records an icUSD deposit into the stability pool.
type ProvideLiquidity struct {
	Timestamp int64
	Provider  types.Account
	AmountE8s uint64
}

func (ProvideLiquidity) EventType() string { return "provide_liquidity" }

// WithdrawLiquidity records an icUSD withdrawal from the stability pool.
type WithdrawLiquidity struct {
	Timestamp int64
	Provider  types.Account
	AmountE8s uint64
}

func (WithdrawLiquidity) EventType() string { return "withdraw_liquidity" }

// ClaimLiquidityReturns records a depositor claiming accumulated collateral
// gains from past liquidations without withdrawing principal.
type ClaimLiquidityReturns struct {
	Timestamp     int64
	Provider      types.Account
	CollateralE8s uint64
}

func (ClaimLiquidityReturns) EventType() string { return "claim_liquidity_returns" }

// MarginTransfer records collateral moved from one vault to another owned
// by the same caller.
type MarginTransfer struct {
	Timestamp     int64
	Owner         types.Account
	FromVaultID   uint64
	ToVaultID     uint64
	CollateralE8s uint64
}

func (MarginTransfer) EventType() string { return "margin_transfer" }

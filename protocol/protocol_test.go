package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"icusdprotocol/config"
	"icusdprotocol/core/eventlog"
	"icusdprotocol/internal/storage"
	"icusdprotocol/ledger"
	"icusdprotocol/mode"
	"icusdprotocol/numeric"
	"icusdprotocol/priceoracle"
	"icusdprotocol/types"
)

func account(b byte) types.Account {
	var principal [32]byte
	principal[0] = b
	return types.NewAccount(principal)
}

// harness bundles a Protocol with the collaborators a test needs to seed
// caller balances/allowances and move the oracle price around.
type harness struct {
	t          *testing.T
	db         storage.Database
	log        *eventlog.Log
	icusd      *ledger.MemLedger
	collateral *ledger.MemLedger
	protocolP  *Protocol
	protocolAc types.Account
	developer  types.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.MinVaultDebtE8s = 0 // the scenarios below use small, round debt amounts

	db := storage.NewMemDB()
	log, err := eventlog.Open(db)
	require.NoError(t, err)

	icusd := ledger.NewMemLedger()
	collateral := ledger.NewMemLedger()
	oracle := priceoracle.StaticOracle{}

	protocolAccount := account(0xAA)
	developer := account(0xDD)

	p, err := New(cfg, log, icusd, collateral, oracle, Accounts{Protocol: protocolAccount, Developer: developer}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background(), time.Now()))
	p.Prices().Set(numeric.PriceFromE8s(10*1_0000_0000), time.Now())

	return &harness{
		t:          t,
		db:         db,
		log:        log,
		icusd:      icusd,
		collateral: collateral,
		protocolP:  p,
		protocolAc: protocolAccount,
		developer:  developer,
	}
}

// fund credits caller with collateral and pre-approves the protocol account
// to pull it, matching the ICRC-2 approve/transfer-from flow.
func (h *harness) fund(caller types.Account, collateralE8s uint64) {
	h.collateral.Credit(caller, collateralE8s)
	h.collateral.Approve(caller, h.protocolAc, collateralE8s)
}

func (h *harness) approveICUSD(caller types.Account, amountE8s uint64) {
	h.icusd.Approve(caller, h.protocolAc, amountE8s)
}

func e8s(whole uint64) uint64 { return whole * 1_0000_0000 }

// TestBasicCycle: open, borrow, repay, withdraw,
// close restores starting balances modulo the borrowing fee paid to the
// developer account.
func TestBasicCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := account(1)

	h.fund(alice, e8s(10))
	v, _, err := h.protocolP.OpenVault(ctx, alice, e8s(10), 0)
	require.NoError(t, err)

	updated, _, err := h.protocolP.BorrowFromVault(ctx, alice, v.ID, e8s(50))
	require.NoError(t, err)
	// Fee at empty supply is the curve's floor, 0.5% of 50 = 0.25.
	require.Equal(t, e8s(50)+uint64(25_000_000), updated.DebtE8s)

	devBalance, err := h.icusd.BalanceOf(ctx, h.developer)
	require.NoError(t, err)
	require.Equal(t, uint64(25_000_000), devBalance)

	aliceBalance, err := h.icusd.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, e8s(50), aliceBalance)

	// Alice only received 50; the 0.25 fee portion of her debt has to come
	// from elsewhere (market-bought here) before she can repay in full.
	h.icusd.Credit(alice, uint64(25_000_000))
	h.approveICUSD(alice, updated.DebtE8s)
	_, err = h.protocolP.RepayToVault(ctx, alice, v.ID, updated.DebtE8s)
	require.NoError(t, err)

	afterRepay, ok := h.protocolP.GetVault(v.ID)
	require.True(t, ok)
	require.Equal(t, uint64(0), afterRepay.DebtE8s)

	_, err = h.protocolP.WithdrawAndCloseVault(ctx, alice, v.ID)
	require.NoError(t, err)

	_, ok = h.protocolP.GetVault(v.ID)
	require.False(t, ok, "vault should be removed after withdraw-and-close")

	collBalance, err := h.collateral.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, e8s(10), collBalance, "alice's collateral is fully restored")
}

// TestRecoveryModeTransition: a price crash
// drops the total collateral ratio below 1.50 and flips the mode to
// Recovery, which then blocks new borrowing.
func TestRecoveryModeTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := byte(1); i <= 4; i++ {
		owner := account(i)
		h.fund(owner, e8s(10))
		v, _, err := h.protocolP.OpenVault(ctx, owner, e8s(10), e8s(60))
		require.NoError(t, err)
		require.Greater(t, v.DebtE8s, uint64(0))
	}

	totals, err := h.protocolP.GetTotals()
	require.NoError(t, err)
	require.Equal(t, mode.GeneralAvailability, totals.Mode)

	h.protocolP.Prices().Set(numeric.PriceFromE8s(8*1_0000_0000), time.Now())

	totals, err = h.protocolP.GetTotals()
	require.NoError(t, err)
	require.Equal(t, mode.Recovery, totals.Mode, "TCR of 320/241 < 1.50 must force Recovery")

	_, _, err = h.protocolP.BorrowFromVault(ctx, account(1), 1, e8s(1))
	require.Error(t, err, "borrowing against an existing vault is disallowed while in Recovery")

	_, err = h.protocolP.WithdrawCollateral(ctx, account(1), 1, e8s(1))
	require.Error(t, err, "withdrawal requires CR >= 1.50 in Recovery, which a vault at CR 1.333 cannot satisfy")
}

// TestRedemptionOrdering: redemption walks
// vaults ascending by collateral ratio and only touches the lowest-CR
// vault when its debt alone covers the redemption budget.
func TestRedemptionOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v1Owner := account(1)
	h.fund(v1Owner, e8s(1))
	v1, _, err := h.protocolP.OpenVault(ctx, v1Owner, e8s(1), e8s(5))
	require.NoError(t, err)

	v2Owner := account(2)
	h.fund(v2Owner, e8s(2))
	v2, _, err := h.protocolP.OpenVault(ctx, v2Owner, e8s(2), e8s(6))
	require.NoError(t, err)

	redeemer := account(3)
	h.icusd.Credit(redeemer, e8s(5))
	h.approveICUSD(redeemer, e8s(5))

	// e8s(5) is the minimum redemption amount and covers all of V1's debt
	// except the 0.5% borrow fee it was opened with, so V1 is drained to
	// that residue while V2 (the higher-CR vault) is never touched.
	netCollateral, err := h.protocolP.RedeemICP(ctx, redeemer, e8s(5))
	require.NoError(t, err)
	require.Greater(t, netCollateral, uint64(0))

	afterV1, ok := h.protocolP.GetVault(v1.ID)
	require.True(t, ok)
	require.Equal(t, uint64(2_500_000), afterV1.DebtE8s, "V1's debt is reduced first, down to its borrow-fee residue")

	afterV2, ok := h.protocolP.GetVault(v2.ID)
	require.True(t, ok)
	require.Equal(t, v2.DebtE8s, afterV2.DebtE8s, "V2 is untouched while V1 alone covers the redemption")
}

// TestLiquidationStabilityPoolAbsorption: a
// vault dropping below the liquidation threshold is absorbed by a
// sufficiently funded stability pool, crediting depositors pro-rata by
// their deposit share.
func TestLiquidationStabilityPoolAbsorption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := account(1)
	h.icusd.Credit(alice, e8s(60))
	h.approveICUSD(alice, e8s(60))
	_, err := h.protocolP.ProvideLiquidity(ctx, alice, e8s(60))
	require.NoError(t, err)

	bob := account(2)
	h.icusd.Credit(bob, e8s(40))
	h.approveICUSD(bob, e8s(40))
	_, err = h.protocolP.ProvideLiquidity(ctx, bob, e8s(40))
	require.NoError(t, err)

	owner := account(3)
	h.fund(owner, e8s(7))
	v, _, err := h.protocolP.OpenVault(ctx, owner, e8s(7), e8s(50))
	require.NoError(t, err)

	h.protocolP.Prices().Set(numeric.PriceFromE8s(6*1_0000_0000), time.Now())

	require.NoError(t, h.protocolP.LiquidateVault(ctx, v.ID))

	_, ok := h.protocolP.GetVault(v.ID)
	require.False(t, ok, "the liquidated vault is removed")

	aliceBalance, err := h.protocolP.GetStabilityPoolBalance(alice)
	require.NoError(t, err)
	bobBalance, err := h.protocolP.GetStabilityPoolBalance(bob)
	require.NoError(t, err)
	require.InDelta(t, float64(e8s(30)), float64(aliceBalance), float64(e8s(1)))
	require.InDelta(t, float64(e8s(20)), float64(bobBalance), float64(e8s(1)))

	aliceGain, err := h.protocolP.ClaimLiquidityReturns(ctx, alice)
	require.NoError(t, err)
	bobGain, err := h.protocolP.ClaimLiquidityReturns(ctx, bob)
	require.NoError(t, err)
	require.InDelta(t, float64(e8s(42)/10), float64(aliceGain), float64(e8s(1)/10))
	require.InDelta(t, float64(e8s(28)/10), float64(bobGain), float64(e8s(1)/10))
}

// TestLiquidationRedistribution: with an empty
// stability pool, a liquidated vault's debt and collateral are spread
// pro-rata across surviving vaults by collateral share.
func TestLiquidationRedistribution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o1 := account(1)
	h.fund(o1, e8s(7))
	v1, _, err := h.protocolP.OpenVault(ctx, o1, e8s(7), e8s(50))
	require.NoError(t, err)

	o2 := account(2)
	h.fund(o2, e8s(10))
	v2, _, err := h.protocolP.OpenVault(ctx, o2, e8s(10), e8s(40))
	require.NoError(t, err)

	o3 := account(3)
	h.fund(o3, e8s(20))
	v3, _, err := h.protocolP.OpenVault(ctx, o3, e8s(20), e8s(80))
	require.NoError(t, err)

	h.protocolP.Prices().Set(numeric.PriceFromE8s(6*1_0000_0000), time.Now())

	require.NoError(t, h.protocolP.LiquidateVault(ctx, v1.ID))

	_, ok := h.protocolP.GetVault(v1.ID)
	require.False(t, ok)

	afterV2, ok := h.protocolP.GetVault(v2.ID)
	require.True(t, ok)
	afterV3, ok := h.protocolP.GetVault(v3.ID)
	require.True(t, ok)

	// Σ_other collateral = 30: V2 gets 10/30, V3 gets 20/30 of V1's gross
	// debt (50 plus its borrow fee) and 7 collateral.
	require.InDelta(t, float64(v2.DebtE8s)+float64(v1.DebtE8s)/3, float64(afterV2.DebtE8s), 2)
	require.InDelta(t, float64(v3.DebtE8s)+2*float64(v1.DebtE8s)/3, float64(afterV3.DebtE8s), 2)
	require.Greater(t, afterV2.CollateralE8s, e8s(10))
	require.Greater(t, afterV3.CollateralE8s, e8s(20))
}

// TestCrashAndReplay: folding the event log
// from scratch after a simulated restart reconstructs the exact registry
// state a fresh Protocol built over the same log arrives at.
func TestCrashAndReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := account(1)
	h.fund(alice, e8s(10))
	v, _, err := h.protocolP.OpenVault(ctx, alice, e8s(10), e8s(50))
	require.NoError(t, err)

	bob := account(2)
	h.fund(bob, e8s(5))
	_, _, err = h.protocolP.OpenVault(ctx, bob, e8s(5), e8s(20))
	require.NoError(t, err)

	wantTotals, err := h.protocolP.GetTotals()
	require.NoError(t, err)
	wantVault, ok := h.protocolP.GetVault(v.ID)
	require.True(t, ok)

	// Simulate a restart: a fresh Protocol wired to the same underlying
	// log database, replaying every event instead of being driven live.
	log2, err := eventlog.Open(h.db)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.MinVaultDebtE8s = 0
	p2, err := New(cfg, log2, ledger.NewMemLedger(), ledger.NewMemLedger(), priceoracle.StaticOracle{}, Accounts{Protocol: h.protocolAc, Developer: h.developer}, nil)
	require.NoError(t, err)
	require.NoError(t, p2.Restore(ctx))
	p2.Prices().Set(numeric.PriceFromE8s(10*1_0000_0000), time.Now())

	gotTotals, err := p2.GetTotals()
	require.NoError(t, err)
	require.Equal(t, wantTotals.CollateralE8s, gotTotals.CollateralE8s)
	require.Equal(t, wantTotals.DebtE8s, gotTotals.DebtE8s)

	gotVault, ok := p2.GetVault(v.ID)
	require.True(t, ok)
	require.Equal(t, wantVault, gotVault)

	// Folding the same log twice must be deterministic.
	p3, err := New(cfg, log2, ledger.NewMemLedger(), ledger.NewMemLedger(), priceoracle.StaticOracle{}, Accounts{Protocol: h.protocolAc, Developer: h.developer}, nil)
	require.NoError(t, err)
	require.NoError(t, p3.Restore(ctx))
	gotTotals2, err := p3.GetTotals()
	require.NoError(t, err)
	require.Equal(t, gotTotals.CollateralE8s, gotTotals2.CollateralE8s)
	require.Equal(t, gotTotals.DebtE8s, gotTotals2.DebtE8s)
}

// TestReadOnlyModeBlocksMutation verifies an operator ReadOnly override
// halts every mutating operation while queries keep serving.
func TestReadOnlyModeBlocksMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := account(1)
	h.fund(alice, e8s(10))
	v, _, err := h.protocolP.OpenVault(ctx, alice, e8s(10), 0)
	require.NoError(t, err)

	readOnly := mode.ReadOnly
	require.NoError(t, h.protocolP.Upgrade(ctx, h.developer, &readOnly, time.Now()))

	h.fund(alice, e8s(10))
	_, err = h.protocolP.AddMarginToVault(ctx, alice, v.ID, e8s(1))
	require.Error(t, err)

	// Queries remain available while halted by an operator override.
	_, ok := h.protocolP.GetVault(v.ID)
	require.True(t, ok)
}

package stabilitypool

import (
	"testing"

	"github.com/stretchr/testify/require"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/types"
)

func account(b byte) types.Account {
	var principal [32]byte
	principal[0] = b
	return types.NewAccount(principal)
}

func TestProvideAndCompoundedBalance(t *testing.T) {
	pool := NewPool()
	alice := account(1)

	gain, err := pool.Provide(alice, 100*1_0000_0000)
	require.NoError(t, err)
	require.Zero(t, gain)

	balance, err := pool.CompoundedBalance(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(100*1_0000_0000), balance)
	require.Equal(t, uint64(100*1_0000_0000), pool.TotalDeposits())
}

func TestWithdrawCapsAtCompoundedBalance(t *testing.T) {
	pool := NewPool()
	alice := account(1)
	_, err := pool.Provide(alice, 50*1_0000_0000)
	require.NoError(t, err)

	withdrawn, _, err := pool.Withdraw(alice, 1000*1_0000_0000)
	require.NoError(t, err)
	require.Equal(t, uint64(50*1_0000_0000), withdrawn)
	require.Zero(t, pool.TotalDeposits())
}

func TestAbsorbSharesDebtAndCollateralProportionally(t *testing.T) {
	pool := NewPool()
	alice := account(1)
	bob := account(2)
	_, err := pool.Provide(alice, 60*1_0000_0000)
	require.NoError(t, err)
	_, err = pool.Provide(bob, 40*1_0000_0000)
	require.NoError(t, err)

	// S4 from the quantified scenarios: 50 icUSD debt absorbed, 7 ICP
	// collateral credited, against a 100 icUSD pool split 60/40.
	err = pool.Absorb(50*1_0000_0000, 7*1_0000_0000)
	require.NoError(t, err)

	aliceBalance, err := pool.CompoundedBalance(alice)
	require.NoError(t, err)
	bobBalance, err := pool.CompoundedBalance(bob)
	require.NoError(t, err)

	// Remaining pool is 50/100 = 50% of prior size; Alice's 60 -> ~30,
	// Bob's 40 -> ~20.
	require.InDelta(t, 30*1_0000_0000, aliceBalance, float64(1_0000_0000)/100)
	require.InDelta(t, 20*1_0000_0000, bobBalance, float64(1_0000_0000)/100)

	aliceGain, err := pool.Claim(alice)
	require.NoError(t, err)
	bobGain, err := pool.Claim(bob)
	require.NoError(t, err)
	require.InDelta(t, 4_2000_0000, aliceGain, float64(1_0000_0000)/100) // 4.2 ICP
	require.InDelta(t, 2_8000_0000, bobGain, float64(1_0000_0000)/100)  // 2.8 ICP
}

func TestAbsorbRescalesPAcrossScaleBoundary(t *testing.T) {
	pool := NewPool()
	alice := account(1)
	_, err := pool.Provide(alice, 100*1_0000_0000)
	require.NoError(t, err)

	// First absorption at scale zero; the gain is claimed so Alice's
	// snapshot is current going into the boundary.
	require.NoError(t, pool.Absorb(50*1_0000_0000, 7*1_0000_0000))
	gain, err := pool.Claim(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(7*1_0000_0000), gain)

	// Draining the pool to a single e8 pushes P below 1e-9: it is
	// multiplied back up by RescaleFactor and the scale counter bumps.
	total := pool.TotalDeposits()
	require.NoError(t, pool.Absorb(total-1, 0))

	state := pool.ExportState()
	require.Equal(t, uint64(1), state.Scale)
	require.False(t, state.P.IsZero())

	// Alice's snapshot predates the boundary; reading it back through the
	// rescale correction shrinks her stake to the single e8 actually
	// left, rather than exploding it by the rescale factor.
	balance, err := pool.CompoundedBalance(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1), balance)
	require.Equal(t, uint64(1), pool.TotalDeposits())

	gain, err = pool.Claim(alice)
	require.NoError(t, err)
	require.Zero(t, gain, "no collateral was seized by the boundary-crossing absorption")
}

func TestAbsorbRefusesWhenDebtEqualsTotal(t *testing.T) {
	pool := NewPool()
	alice := account(1)
	_, err := pool.Provide(alice, 100*1_0000_0000)
	require.NoError(t, err)

	err = pool.Absorb(100*1_0000_0000, 10*1_0000_0000)
	require.ErrorIs(t, err, protoerrors.ErrPoolAbsorptionRefused)
}

func TestAbsorbRefusesWhenPoolEmpty(t *testing.T) {
	pool := NewPool()
	err := pool.Absorb(1, 1)
	require.ErrorIs(t, err, protoerrors.ErrPoolAbsorptionRefused)
}

func TestAbsorbZeroDebtIsNoOp(t *testing.T) {
	pool := NewPool()
	alice := account(1)
	_, err := pool.Provide(alice, 10)
	require.NoError(t, err)
	require.NoError(t, pool.Absorb(0, 0))
}

func TestClaimOnUnknownDepositorIsZero(t *testing.T) {
	pool := NewPool()
	gain, err := pool.Claim(account(9))
	require.NoError(t, err)
	require.Zero(t, gain)
}

func TestProvideAfterAbsorbAccumulatesOnNewPrincipal(t *testing.T) {
	pool := NewPool()
	alice := account(1)
	_, err := pool.Provide(alice, 100*1_0000_0000)
	require.NoError(t, err)
	require.NoError(t, pool.Absorb(50*1_0000_0000, 5*1_0000_0000))

	gain, err := pool.Provide(alice, 20*1_0000_0000)
	require.NoError(t, err)
	require.Greater(t, gain, uint64(0)) // the unclaimed gain surfaces at the next touch

	balance, err := pool.CompoundedBalance(alice)
	require.NoError(t, err)
	require.InDelta(t, 70*1_0000_0000, balance, float64(1_0000_0000)/10)
}

package numeric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollateralRatioZeroDebt(t *testing.T) {
	_, err := CollateralRatio(100, 0, PriceFromE8s(1_0000_0000))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestCollateralRatioHealthy(t *testing.T) {
	price := PriceFromE8s(10 * 1_0000_0000)
	ratio, err := CollateralRatio(10*1_0000_0000, 60*1_0000_0000, price)
	require.NoError(t, err)
	// 10 ICP * $10 = $100 value against $60 debt = 1.6667 ratio.
	want, _ := RatioFromFraction(100, 60)
	require.Equal(t, 0, ratio.Cmp(want))
}

func TestMaxBorrowableE8s(t *testing.T) {
	price := PriceFromE8s(10 * 1_0000_0000)
	minCR, err := RatioFromFraction(13300, 10000)
	require.NoError(t, err)
	collateralE8s := uint64(13*1_0000_0000 + 3_000_0000) // 13.3 ICP
	max, err := MaxBorrowableE8s(collateralE8s, 0, price, minCR)
	require.NoError(t, err)
	require.Greater(t, max, uint64(0))

	// Existing debt reduces the remaining headroom one-for-one, flooring
	// at zero once the vault is at capacity.
	lessHeadroom, err := MaxBorrowableE8s(collateralE8s, max/2, price, minCR)
	require.NoError(t, err)
	require.Equal(t, max-max/2, lessHeadroom)

	none, err := MaxBorrowableE8s(collateralE8s, max+1, price, minCR)
	require.NoError(t, err)
	require.Zero(t, none)
}

func TestMaxBorrowableE8sZeroMinCR(t *testing.T) {
	_, err := MaxBorrowableE8s(100, 0, PriceFromE8s(1), Zero())
	require.ErrorIs(t, err, ErrDivisionByZero)
}
